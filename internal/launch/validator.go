package launch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/classbridge/classbridge-tool/internal/keys"
	"github.com/classbridge/classbridge-tool/internal/noncestore"
	"github.com/classbridge/classbridge-tool/internal/registry"
)

// VersionLTI13 is the only message version this tool accepts.
const VersionLTI13 = "1.3.0"

// Step is how far a launch got through validation. Each step must
// succeed before the next runs; a failure pins the result at the step
// that rejected it.
type Step int

const (
	StepReceived Step = iota
	StepStateLookedUp
	StepStateVerified
	StepNonceReconciled
	StepJWTVerified
	StepContextBuilt
)

func (s Step) String() string {
	switch s {
	case StepReceived:
		return "received"
	case StepStateLookedUp:
		return "state_looked_up"
	case StepStateVerified:
		return "state_verified"
	case StepNonceReconciled:
		return "nonce_reconciled"
	case StepJWTVerified:
		return "jwt_verified"
	case StepContextBuilt:
		return "context_built"
	default:
		return "unknown"
	}
}

// Request is one posted launch. CookieStates holds the state values the
// browser sent back in launch cookies; when none arrived the client is
// on the cookie-less path and must echo the state and nonce it received
// at login time in ExpectedState/ExpectedNonce, alongside the posted
// State and Nonce parameters they are checked against.
type Request struct {
	IDToken string
	State   string
	Nonce   string

	CookieStates []string

	ExpectedState string
	ExpectedNonce string
}

// HasCookies reports whether the browser carried any launch cookie back.
func (r Request) HasCookies() bool { return len(r.CookieStates) > 0 }

// Result reports the furthest step reached and, on success, the built
// launch context.
type Result struct {
	Step    Step
	Context *Context
}

// Validator runs posted launches through the validation sequence:
// state lookup, state verification, nonce reconciliation, id_token
// verification, context construction, nonce consumption.
type Validator struct {
	Registry registry.Store
	Nonces   noncestore.Store
	Keys     *keys.Resolver

	Log zerolog.Logger
	Now func() time.Time
}

func (v *Validator) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}

// Validate checks one launch end to end. Trust failures return one of
// the package sentinels (handlers answer 401); infrastructure failures
// return wrapped internal errors (502/500 territory).
func (v *Validator) Validate(ctx context.Context, req Request) (Result, error) {
	res := Result{Step: StepReceived}

	if req.IDToken == "" || req.State == "" {
		return res, fmt.Errorf("%w: missing id_token or state", ErrInvalidState)
	}

	rec, err := v.Nonces.FindByStateHash(ctx, HashState(req.State))
	if errors.Is(err, noncestore.ErrNotFound) {
		return res, fmt.Errorf("%w: no record for presented state", ErrInvalidState)
	}
	if err != nil {
		return res, fmt.Errorf("launch: state lookup: %w", err)
	}
	res.Step = StepStateLookedUp

	// The stored token is verified, not the presented one: the hash lookup
	// already proved they are the same bytes.
	st, err := verifyStateToken(v.Keys.OwnKeyPair(), rec.StateToken, v.now)
	if err != nil {
		return res, err
	}
	res.Step = StepStateVerified

	if err := v.reconcileNonce(ctx, req, rec, st); err != nil {
		return res, err
	}
	res.Step = StepNonceReconciled

	reg, claims, err := v.verifyIDToken(ctx, req.IDToken, st, rec.Nonce)
	if err != nil {
		return res, err
	}
	res.Step = StepJWTVerified

	lc, err := buildContext(reg, rec.Nonce, claims)
	if err != nil {
		return res, err
	}

	// Consume the nonce only after the launch fully validated, so a
	// platform retry after a transient failure can still succeed. The
	// delete is the consumption point: when two validators race on the
	// same nonce, only the one that removes the record wins.
	deleted, err := v.Nonces.Delete(ctx, rec.Nonce)
	if err != nil {
		return res, fmt.Errorf("launch: consume nonce: %w", err)
	}
	if !deleted {
		return res, fmt.Errorf("%w: nonce already consumed", ErrUnknownNonce)
	}
	res.Step = StepContextBuilt

	v.Log.Info().
		Str("issuer", lc.Issuer).
		Str("registration", reg.ID).
		Str("message_type", lc.MessageType).
		Str("subject", lc.Subject).
		Msg("launch validated")

	res.Context = lc
	return res, nil
}

// reconcileNonce ties the posted state back to the nonce issued with it.
// With cookies the browser vouches for the state; without them the
// client must echo the exact state and nonce it was handed at login.
func (v *Validator) reconcileNonce(ctx context.Context, req Request, rec noncestore.Record, st *stateClaims) error {
	if st.ID != rec.Nonce {
		return fmt.Errorf("%w: state token and record disagree", ErrNonceMismatch)
	}

	if req.HasCookies() {
		for _, s := range req.CookieStates {
			if s == req.State {
				return nil
			}
		}
		return fmt.Errorf("%w: state not among issued cookies", ErrInvalidState)
	}

	if req.ExpectedState != req.State {
		return fmt.Errorf("%w: echoed state differs from posted state", ErrInvalidState)
	}
	if req.ExpectedNonce == "" || req.ExpectedNonce != req.Nonce {
		return fmt.Errorf("%w: echoed nonce differs from posted nonce", ErrNonceMismatch)
	}
	if req.ExpectedNonce != rec.Nonce {
		return fmt.Errorf("%w: echoed nonce differs from issued nonce", ErrNonceMismatch)
	}
	byNonce, err := v.Nonces.FindByNonce(ctx, req.ExpectedNonce)
	if errors.Is(err, noncestore.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrUnknownNonce, req.ExpectedNonce)
	}
	if err != nil {
		return fmt.Errorf("launch: nonce lookup: %w", err)
	}
	if byNonce.StateHash != HashState(req.State) {
		return fmt.Errorf("%w: nonce bound to a different state", ErrNonceMismatch)
	}
	return nil
}

// verifyIDToken runs the two-phase check: read issuer, audience,
// deployment and kid without trusting the signature, resolve the
// registration and key from them, then verify for real against the
// resolved key only.
func (v *Validator) verifyIDToken(ctx context.Context, raw string, st *stateClaims, nonce string) (registry.Registration, jwt.MapClaims, error) {
	unverified := jwt.MapClaims{}
	tok, _, err := jwt.NewParser().ParseUnverified(raw, unverified)
	if err != nil {
		return registry.Registration{}, nil, fmt.Errorf("%w: malformed id_token: %v", ErrSignatureInvalid, err)
	}
	kid, _ := tok.Header["kid"].(string)

	iss, err := unverified.GetIssuer()
	if err != nil || iss == "" {
		return registry.Registration{}, nil, fmt.Errorf("%w: id_token has no issuer", ErrIncompleteLaunch)
	}
	if iss != st.OriginalIssuer {
		return registry.Registration{}, nil, fmt.Errorf("%w: id_token issuer differs from login issuer", ErrInvalidState)
	}
	auds, err := unverified.GetAudience()
	if err != nil || len(auds) == 0 {
		return registry.Registration{}, nil, fmt.Errorf("%w: id_token has no audience", ErrIncompleteLaunch)
	}
	deployment := asString(unverified[ClaimDeploymentID])

	reg, err := v.Registry.FindByIssuerClientDeployment(ctx, iss, auds[0], deployment)
	if err != nil {
		return registry.Registration{}, nil, err
	}

	key, err := v.Keys.ResolvePlatformKey(ctx, reg, kid)
	if err != nil {
		return registry.Registration{}, nil, err
	}

	claims := jwt.MapClaims{}
	parsed, err := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(reg.Issuer),
		jwt.WithAudience(reg.ClientID),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	).ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) { return key, nil })
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return registry.Registration{}, nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return registry.Registration{}, nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	if !parsed.Valid {
		return registry.Registration{}, nil, ErrSignatureInvalid
	}

	if asString(claims["nonce"]) != nonce {
		return registry.Registration{}, nil, fmt.Errorf("%w: id_token nonce differs from issued nonce", ErrNonceMismatch)
	}
	return reg, claims, nil
}

// buildContext lifts verified claims into a Context and enforces the
// minimum claim set the tool needs to operate.
func buildContext(reg registry.Registration, nonce string, claims jwt.MapClaims) (*Context, error) {
	lc := &Context{
		Issuer:        asString(claims["iss"]),
		Audience:      reg.ClientID,
		DeploymentID:  asString(claims[ClaimDeploymentID]),
		MessageType:   asString(claims[ClaimMessageType]),
		Version:       asString(claims[ClaimVersion]),
		Registration:  reg,
		Nonce:         nonce,
		Subject:       asString(claims["sub"]),
		Roles:         asStringSlice(claims[ClaimRoles]),
		TargetLinkURI: asString(claims[ClaimTargetLinkURI]),
		Custom:        asStringMap(claims[ClaimCustom]),
		RawClaims:     claims,
	}

	if cc := asMap(claims[ClaimContext]); cc != nil {
		lc.ContextID = asString(cc["id"])
		lc.ContextLabel = asString(cc["label"])
		lc.ContextTitle = asString(cc["title"])
	}
	if rl := asMap(claims[ClaimResourceLink]); rl != nil {
		lc.ResourceLinkID = asString(rl["id"])
	}
	if ep := asMap(claims[ClaimAGSEndpoint]); ep != nil {
		lc.LineItemsURL = asString(ep["lineitems"])
		lc.AGSScopes = asStringSlice(ep["scope"])
	}
	if ms := asMap(claims[ClaimNRPS]); ms != nil {
		lc.NRPSURL = asString(ms["context_memberships_url"])
	}
	if dl := asMap(claims[ClaimDeepLinking]); dl != nil {
		lc.DeepLinkReturnURL = asString(dl["deep_link_return_url"])
		lc.DeepLinkData = asString(dl["data"])
	}

	switch {
	case lc.MessageType == "":
		return nil, fmt.Errorf("%w: no message type", ErrIncompleteLaunch)
	case lc.Version != VersionLTI13:
		return nil, fmt.Errorf("%w: unsupported version %q", ErrIncompleteLaunch, lc.Version)
	case lc.Subject == "":
		return nil, fmt.Errorf("%w: no subject", ErrIncompleteLaunch)
	case lc.ContextID == "":
		return nil, fmt.Errorf("%w: no context id", ErrIncompleteLaunch)
	}
	return lc, nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func asStringSlice(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, e := range raw {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func asStringMap(v any) map[string]string {
	raw, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, e := range raw {
		if s, ok := e.(string); ok {
			out[k] = s
		}
	}
	return out
}
