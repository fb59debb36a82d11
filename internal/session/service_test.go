package session_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/classbridge/classbridge-tool/internal/keys"
	"github.com/classbridge/classbridge-tool/internal/launch"
	"github.com/classbridge/classbridge-tool/internal/registry"
	"github.com/classbridge/classbridge-tool/internal/session"
)

var (
	testPairOnce sync.Once
	testPair     *keys.KeyPair
)

func pair(t *testing.T) *keys.KeyPair {
	t.Helper()
	testPairOnce.Do(func() {
		var err error
		testPair, err = keys.GenerateKeyPair()
		if err != nil {
			t.Fatalf("generate key pair: %v", err)
		}
	})
	return testPair
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newService(t *testing.T) (*session.Service, *clock) {
	t.Helper()
	clk := &clock{now: time.Now()}
	return &session.Service{
		Pair:      pair(t),
		Issuer:    "classbridge-tool",
		Audience:  "https://tool.example.com",
		TTL:       time.Hour,
		OneUseTTL: 5 * time.Minute,
		OneUse:    session.NewMemoryOneUseStore(),
		Now:       clk.Now,
	}, clk
}

func testLaunch() *launch.Context {
	return &launch.Context{
		Registration:   registry.Registration{ID: "reg-1", Issuer: "https://lms.example.com", ClientID: "client-1"},
		DeploymentID:   "dep-1",
		Subject:        "user-42",
		ContextID:      "course-9",
		ResourceLinkID: "link-3",
		Roles:          []string{"http://purl.imsglobal.org/vocab/lis/v2/membership#Instructor"},
		Nonce:          "nonce-abc",
		LineItemsURL:   "https://lms.example.com/courses/9/line_items",
		NRPSURL:        "https://lms.example.com/courses/9/names_and_roles",
		Custom:         map[string]string{"due_at": "2026-10-01T12:00:00Z"},
	}
}

func TestMintAndValidateRoundTrip(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	token, minted, err := svc.Mint(ctx, testLaunch(), false)
	require.NoError(t, err)
	require.False(t, minted.OneUse)

	got, err := svc.Validate(ctx, token)
	require.NoError(t, err)
	require.Equal(t, "user-42", got.Subject)
	require.Equal(t, "reg-1", got.RegistrationID)
	require.Equal(t, "dep-1", got.DeploymentID)
	require.Equal(t, "course-9", got.ContextID)
	require.Equal(t, "link-3", got.ResourceLinkID)
	require.Equal(t, "nonce-abc", got.Nonce)
	require.Equal(t, "https://lms.example.com/courses/9/line_items", got.LineItemsURL)
	require.NotNil(t, got.DueAt)
	require.Equal(t, time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC), got.DueAt.Time.UTC())
}

func TestValidateRepeatsForNormalTokens(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	token, _, err := svc.Mint(ctx, testLaunch(), false)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := svc.Validate(ctx, token)
		require.NoError(t, err)
	}
}

func TestOneUseTokenConsumedOnce(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	token, minted, err := svc.Mint(ctx, testLaunch(), true)
	require.NoError(t, err)
	require.True(t, minted.OneUse)

	first, err := svc.Validate(ctx, token)
	require.NoError(t, err)
	require.True(t, first.OneUse)

	_, err = svc.Validate(ctx, token)
	require.ErrorIs(t, err, session.ErrTokenReplayed)
}

func TestOneUseTokenGetsShortLifetime(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, oneUse, err := svc.Mint(ctx, testLaunch(), true)
	require.NoError(t, err)
	_, long, err := svc.Mint(ctx, testLaunch(), false)
	require.NoError(t, err)

	oneUseLife := oneUse.ExpiresAt.Sub(oneUse.IssuedAt.Time)
	longLife := long.ExpiresAt.Sub(long.IssuedAt.Time)
	require.Equal(t, 5*time.Minute, oneUseLife)
	require.Equal(t, time.Hour, longLife)
}

func TestExpiredTokenRejected(t *testing.T) {
	svc, clk := newService(t)
	ctx := context.Background()

	token, _, err := svc.Mint(ctx, testLaunch(), false)
	require.NoError(t, err)

	clk.Advance(2 * time.Hour)
	_, err = svc.Validate(ctx, token)
	require.ErrorIs(t, err, session.ErrTokenExpired)
}

func TestRefreshIssuesNewToken(t *testing.T) {
	svc, clk := newService(t)
	ctx := context.Background()

	token, _, err := svc.Mint(ctx, testLaunch(), false)
	require.NoError(t, err)

	clk.Advance(30 * time.Minute)
	next, nextClaims, err := svc.Refresh(ctx, token)
	require.NoError(t, err)
	require.NotEqual(t, token, next)
	require.Equal(t, "user-42", nextClaims.Subject)

	clk.Advance(45 * time.Minute) // original now expired, refreshed is not
	_, err = svc.Validate(ctx, token)
	require.ErrorIs(t, err, session.ErrTokenExpired)
	_, err = svc.Validate(ctx, next)
	require.NoError(t, err)
}

func TestRefreshRejectsOneUseToken(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	token, _, err := svc.Mint(ctx, testLaunch(), true)
	require.NoError(t, err)

	_, _, err = svc.Refresh(ctx, token)
	require.ErrorIs(t, err, session.ErrCannotRefreshOneUseToken)
}

func TestPromoteAfterOneUseExchange(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	oneUseToken, _, err := svc.Mint(ctx, testLaunch(), true)
	require.NoError(t, err)

	claims, err := svc.Validate(ctx, oneUseToken)
	require.NoError(t, err)

	long, longClaims, err := svc.Promote(ctx, claims)
	require.NoError(t, err)
	require.False(t, longClaims.OneUse)

	// The promoted token behaves like a regular session token.
	_, err = svc.Validate(ctx, long)
	require.NoError(t, err)
	_, _, err = svc.Refresh(ctx, long)
	require.NoError(t, err)
}

func TestForeignIssuerRejected(t *testing.T) {
	svc, _ := newService(t)
	other := &session.Service{
		Pair:     pair(t),
		Issuer:   "some-other-tool",
		Audience: "https://tool.example.com",
		TTL:      time.Hour,
		OneUse:   session.NewMemoryOneUseStore(),
	}
	ctx := context.Background()

	token, _, err := other.Mint(ctx, testLaunch(), false)
	require.NoError(t, err)

	_, err = svc.Validate(ctx, token)
	require.ErrorIs(t, err, session.ErrInvalidToken)
}

func TestOneUseTokenConcurrentValidation(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	token, _, err := svc.Mint(ctx, testLaunch(), true)
	require.NoError(t, err)

	const callers = 16
	var wg sync.WaitGroup
	var wins atomic.Int32
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Validate(ctx, token); err == nil {
				wins.Add(1)
			} else {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	// Consumption is atomic: one caller wins, every other sees a replay.
	require.EqualValues(t, 1, wins.Load())
	for err := range errs {
		require.ErrorIs(t, err, session.ErrTokenReplayed)
	}
}
