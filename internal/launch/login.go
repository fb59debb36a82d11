package launch

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/classbridge/classbridge-tool/internal/keys"
	"github.com/classbridge/classbridge-tool/internal/noncestore"
	"github.com/classbridge/classbridge-tool/internal/registry"
)

// LoginRequest carries the parameters of a third-party-initiated login.
// Issuer, LoginHint and TargetLinkURI are required by the flow; the rest
// are optional hints the platform may send.
type LoginRequest struct {
	Issuer        string
	LoginHint     string
	TargetLinkURI string
	MessageHint   string
	ClientID      string
	DeploymentID  string

	// StorageTarget is the platform's postMessage storage frame hint for
	// browsers that block third-party cookies. Stored with the nonce so
	// the launch page can address the right frame.
	StorageTarget string
}

// LoginResult is what the HTTP layer needs to answer the login: the
// authorization redirect plus the state/nonce pair for cookie issuance.
type LoginResult struct {
	RedirectURL   string
	State         string
	Nonce         string
	StorageTarget string
	Registration  registry.Registration
}

// Initiator starts launches: it resolves the registration, mints the
// nonce and state token, persists the pair, and builds the platform
// authorization redirect.
type Initiator struct {
	Registry registry.Store
	Nonces   noncestore.Store
	Keys     *keys.Resolver

	// RedirectURI is the tool's launch endpoint registered with platforms.
	RedirectURI string
	StateTTL    time.Duration

	Log zerolog.Logger
	Now func() time.Time
}

func (i *Initiator) now() time.Time {
	if i.Now != nil {
		return i.Now()
	}
	return time.Now()
}

// Start handles one login initiation. Unknown platforms surface
// registry.ErrUnknownPlatform; everything else is an internal fault.
func (i *Initiator) Start(ctx context.Context, req LoginRequest) (LoginResult, error) {
	if req.Issuer == "" || req.LoginHint == "" {
		return LoginResult{}, fmt.Errorf("%w: missing iss or login_hint", ErrInvalidState)
	}

	var (
		reg registry.Registration
		err error
	)
	if req.DeploymentID != "" {
		reg, err = i.Registry.FindByIssuerClientDeployment(ctx, req.Issuer, req.ClientID, req.DeploymentID)
	} else {
		reg, err = i.Registry.FindByIssuerClient(ctx, req.Issuer, req.ClientID)
	}
	if err != nil {
		return LoginResult{}, err
	}

	nonce, err := NewNonce()
	if err != nil {
		return LoginResult{}, err
	}

	ttl := i.StateTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	now := i.now()
	state, err := signStateToken(i.Keys.OwnKeyPair(), stateClaims{
		OriginalIssuer: req.Issuer,
		LoginHint:      req.LoginHint,
		MessageHint:    req.MessageHint,
		TargetLinkURI:  req.TargetLinkURI,
		ClientID:       reg.ClientID,
		DeploymentID:   req.DeploymentID,
		Controller:     stateControllerValue,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    req.Issuer,
			Audience:  jwt.ClaimStrings{reg.ClientID},
			ID:        nonce,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	if err != nil {
		return LoginResult{}, err
	}

	err = i.Nonces.Put(ctx, noncestore.Record{
		Nonce:         nonce,
		StateHash:     HashState(state),
		StateToken:    state,
		StorageTarget: req.StorageTarget,
		CreatedAt:     now,
	})
	if err != nil {
		return LoginResult{}, fmt.Errorf("launch: persist nonce: %w", err)
	}

	q := url.Values{}
	q.Set("scope", "openid")
	q.Set("response_type", "id_token")
	q.Set("response_mode", "form_post")
	q.Set("prompt", "none")
	q.Set("client_id", reg.ClientID)
	q.Set("redirect_uri", i.RedirectURI)
	q.Set("login_hint", req.LoginHint)
	q.Set("state", state)
	q.Set("nonce", nonce)
	if req.MessageHint != "" {
		q.Set("lti_message_hint", req.MessageHint)
	}

	redirect, err := url.Parse(reg.AuthEndpoint)
	if err != nil {
		return LoginResult{}, fmt.Errorf("launch: bad auth endpoint %q: %w", reg.AuthEndpoint, err)
	}
	redirect.RawQuery = q.Encode()

	i.Log.Info().
		Str("issuer", req.Issuer).
		Str("client_id", reg.ClientID).
		Str("registration", reg.ID).
		Msg("login initiated")

	return LoginResult{
		RedirectURL:   redirect.String(),
		State:         state,
		Nonce:         nonce,
		StorageTarget: req.StorageTarget,
		Registration:  reg,
	}, nil
}
