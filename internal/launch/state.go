package launch

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/classbridge/classbridge-tool/internal/keys"
)

// stateControllerValue marks a state token as minted by the launch flow,
// so it can never be replayed against another signed-JWT surface.
const stateControllerValue = "lti/launch"

// stateClaims is the payload of the self-issued state token. The issuer
// mirrors the platform issuer the login came from, the audience is the
// registered client_id, and the token id carries the launch nonce.
type stateClaims struct {
	OriginalIssuer string `json:"original_iss"`
	LoginHint      string `json:"login_hint,omitempty"`
	MessageHint    string `json:"lti_message_hint,omitempty"`
	TargetLinkURI  string `json:"target_link_uri"`
	ClientID       string `json:"client_id"`
	DeploymentID   string `json:"lti_deployment_id,omitempty"`
	Controller     string `json:"controller"`
	jwt.RegisteredClaims
}

// NewNonce returns a 128-bit random nonce, hex encoded.
func NewNonce() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("launch: nonce entropy: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// HashState is the lookup key for a state token: hex SHA-256 of the
// literal compact JWT string.
func HashState(state string) string {
	sum := sha256.Sum256([]byte(state))
	return hex.EncodeToString(sum[:])
}

func signStateToken(pair *keys.KeyPair, c stateClaims) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, c)
	tok.Header["kid"] = pair.KID
	signed, err := tok.SignedString(pair.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("launch: sign state token: %w", err)
	}
	return signed, nil
}

// verifyStateToken checks a stored state token against the tool's own
// public key and returns its claims. Failures come back as
// ErrInvalidState; the stored token should always verify unless key
// material rotated or the row was tampered with.
func verifyStateToken(pair *keys.KeyPair, token string, now func() time.Time) (*stateClaims, error) {
	claims := &stateClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (any, error) { return pair.PublicKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithTimeFunc(now),
	)
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: state token: %v", ErrInvalidState, err)
	}
	if claims.Controller != stateControllerValue {
		return nil, fmt.Errorf("%w: not a launch state token", ErrInvalidState)
	}
	return claims, nil
}
