package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/classbridge/classbridge-tool/internal/keys"
	"github.com/classbridge/classbridge-tool/internal/launch"
)

var (
	// ErrInvalidToken covers signature, issuer, audience and shape
	// failures on a presented session token.
	ErrInvalidToken = errors.New("session: invalid token")

	// ErrTokenExpired is the expiry case split out so handlers can tell
	// clients to refresh instead of relaunching.
	ErrTokenExpired = errors.New("session: token expired")

	// ErrTokenReplayed means a one-use token was presented a second time
	// (or was never issued by this process group).
	ErrTokenReplayed = errors.New("session: one-use token already consumed")

	// ErrCannotRefreshOneUseToken rejects refresh attempts with a
	// one-use token.
	ErrCannotRefreshOneUseToken = errors.New("session: one-use tokens cannot be refreshed")
)

// OneUseStore tracks issued one-use token ids. Consume must be atomic:
// exactly one caller for a given id sees consumed=true.
type OneUseStore interface {
	Add(ctx context.Context, id string, at time.Time) error
	Consume(ctx context.Context, id string) (bool, error)
	PurgeOlderThan(ctx context.Context, age time.Duration) (int64, error)
}

// Service mints, validates and refreshes session tokens. Tokens are
// RS256-signed with the tool key; Issuer is the fixed tool identifier
// and Audience the tool's public base URL.
type Service struct {
	Pair     *keys.KeyPair
	Issuer   string
	Audience string

	TTL       time.Duration
	OneUseTTL time.Duration

	OneUse OneUseStore

	Log zerolog.Logger
	Now func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) ttl(oneUse bool) time.Duration {
	if oneUse {
		if s.OneUseTTL > 0 {
			return s.OneUseTTL
		}
		return 5 * time.Minute
	}
	if s.TTL > 0 {
		return s.TTL
	}
	return time.Hour
}

// Mint issues a session token for a validated launch. One-use tokens get
// the short lifetime and are registered for single consumption.
func (s *Service) Mint(ctx context.Context, lc *launch.Context, oneUse bool) (string, *Claims, error) {
	c := claimsFromLaunch(lc)
	c.OneUse = oneUse
	return s.sign(ctx, c, lc.Subject)
}

// sign fills the registered claims and signs. Shared by Mint and Refresh.
func (s *Service) sign(ctx context.Context, c Claims, subject string) (string, *Claims, error) {
	now := s.now()
	c.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    s.Issuer,
		Audience:  jwt.ClaimStrings{s.Audience},
		Subject:   subject,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl(c.OneUse))),
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, c)
	tok.Header["kid"] = s.Pair.KID
	signed, err := tok.SignedString(s.Pair.PrivateKey)
	if err != nil {
		return "", nil, fmt.Errorf("session: sign: %w", err)
	}

	if c.OneUse {
		if err := s.OneUse.Add(ctx, c.ID, now); err != nil {
			return "", nil, fmt.Errorf("session: register one-use token: %w", err)
		}
	}
	return signed, &c, nil
}

// Validate verifies a presented token and, for one-use tokens, consumes
// it. The second presentation of a one-use token fails with
// ErrTokenReplayed no matter how far its expiry is.
func (s *Service) Validate(ctx context.Context, token string) (*Claims, error) {
	c, err := s.parse(token)
	if err != nil {
		return nil, err
	}
	if c.OneUse {
		consumed, err := s.OneUse.Consume(ctx, c.ID)
		if err != nil {
			return nil, fmt.Errorf("session: consume one-use token: %w", err)
		}
		if !consumed {
			return nil, ErrTokenReplayed
		}
	}
	return c, nil
}

// Promote turns already-validated one-use claims into a long-lived
// token. Called by the exchange endpoint right after Validate consumed
// the one-use token.
func (s *Service) Promote(ctx context.Context, c *Claims) (string, *Claims, error) {
	next := *c
	next.OneUse = false
	return s.sign(ctx, next, c.Subject)
}

// Refresh exchanges a valid long-lived token for a fresh one with the
// same claims and a new lifetime. One-use tokens are not refreshable.
func (s *Service) Refresh(ctx context.Context, token string) (string, *Claims, error) {
	c, err := s.parse(token)
	if err != nil {
		return "", nil, err
	}
	if c.OneUse {
		return "", nil, ErrCannotRefreshOneUseToken
	}
	next := *c
	return s.sign(ctx, next, c.Subject)
}

func (s *Service) parse(token string) (*Claims, error) {
	c := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, c,
		func(*jwt.Token) (any, error) { return s.Pair.PublicKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(s.Issuer),
		jwt.WithAudience(s.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return c, nil
}
