package http_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	api "github.com/classbridge/classbridge-tool/internal/api/http"
	"github.com/classbridge/classbridge-tool/internal/keys"
	"github.com/classbridge/classbridge-tool/internal/launch"
	"github.com/classbridge/classbridge-tool/internal/noncestore"
	"github.com/classbridge/classbridge-tool/internal/registry"
	"github.com/classbridge/classbridge-tool/internal/roles"
	"github.com/classbridge/classbridge-tool/internal/session"
)

const (
	platformIssuer = "https://lms.example.com"
	toolClientID   = "client-1"
	deploymentID   = "dep-1"
	platformKID    = "platform-key-1"
)

type harness struct {
	srv      *httptest.Server
	client   *http.Client
	platform *keys.KeyPair
}

// newHarness stands up the tool surface the way cmd/toold wires it, on
// in-memory stores with a locally stored platform key.
func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()

	tool, err := keys.GenerateKeyPair()
	require.NoError(t, err)
	platform, err := keys.GenerateKeyPair()
	require.NoError(t, err)
	platform.KID = platformKID

	regs := registry.NewMemoryStore()
	require.NoError(t, regs.Create(ctx, registry.Registration{
		ID:           "reg-1",
		Issuer:       platformIssuer,
		ClientID:     toolClientID,
		DeploymentID: deploymentID,
		AuthEndpoint: platformIssuer + "/auth",
	}))

	stored := keys.NewMemoryKeyStore()
	pem, err := platform.ExportPublicPEM()
	require.NoError(t, err)
	require.NoError(t, stored.PutPEM(ctx, platformKID, false, pem))

	nonces := noncestore.NewMemoryStore()
	resolver := keys.NewResolver(tool, stored, 0, 0)

	initiator := &launch.Initiator{
		Registry:    regs,
		Nonces:      nonces,
		Keys:        resolver,
		RedirectURI: "https://tool.example.com/lti/launch",
		Log:         zerolog.Nop(),
	}
	validator := &launch.Validator{
		Registry: regs,
		Nonces:   nonces,
		Keys:     resolver,
		Log:      zerolog.Nop(),
	}
	sessions := &session.Service{
		Pair:     tool,
		Issuer:   "classbridge-tool",
		Audience: "https://tool.example.com",
		TTL:      time.Hour,
		OneUse:   session.NewMemoryOneUseStore(),
	}

	r := chi.NewRouter()
	r.Route("/lti", func(lr chi.Router) {
		lr.Get("/login", api.LoginHandler(initiator, time.Hour))
		lr.Post("/login", api.LoginHandler(initiator, time.Hour))
		lr.Post("/launch", api.LaunchHandler(validator, sessions))
		lr.Post("/token/exchange", api.ExchangeHandler(sessions))
		lr.Post("/token/refresh", api.RefreshHandler(sessions))
	})
	r.Group(func(pr chi.Router) {
		pr.Use(session.Middleware(sessions))
		pr.Get("/api/me", api.MeHandler())
		pr.With(session.RequireRole((*roles.Resolver).IsInstructorOrHigher)).
			Get("/api/roster", api.RosterHandler(regs))
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	client := srv.Client()
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &harness{srv: srv, client: client, platform: platform}
}

// login runs the initiation leg and returns the state, nonce and the
// state cookie the handler set.
func (h *harness) login(t *testing.T) (state, nonce string, cookies []*http.Cookie) {
	t.Helper()
	q := url.Values{
		"iss":             {platformIssuer},
		"login_hint":      {"opaque-hint"},
		"client_id":       {toolClientID},
		"target_link_uri": {"https://tool.example.com/app"},
	}
	res, err := h.client.Get(h.srv.URL + "/lti/login?" + q.Encode())
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusFound, res.StatusCode)

	loc, err := url.Parse(res.Header.Get("Location"))
	require.NoError(t, err)
	require.Equal(t, platformIssuer+"/auth", loc.Scheme+"://"+loc.Host+loc.Path)
	return loc.Query().Get("state"), loc.Query().Get("nonce"), res.Cookies()
}

func (h *harness) signIDToken(t *testing.T, nonce string) string {
	t.Helper()
	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss":   platformIssuer,
		"aud":   toolClientID,
		"sub":   "user-42",
		"iat":   now.Unix(),
		"exp":   now.Add(5 * time.Minute).Unix(),
		"nonce": nonce,

		launch.ClaimMessageType:   launch.MessageTypeResourceLink,
		launch.ClaimVersion:       launch.VersionLTI13,
		launch.ClaimDeploymentID:  deploymentID,
		launch.ClaimTargetLinkURI: "https://tool.example.com/app",
		launch.ClaimContext:       map[string]any{"id": "course-9"},
		launch.ClaimResourceLink:  map[string]any{"id": "link-3"},
		launch.ClaimRoles: []any{
			"http://purl.imsglobal.org/vocab/lis/v2/membership#Instructor",
		},
	})
	tok.Header["kid"] = platformKID
	signed, err := tok.SignedString(h.platform.PrivateKey)
	require.NoError(t, err)
	return signed
}

func (h *harness) postForm(t *testing.T, path string, form url.Values, cookies []*http.Cookie) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, h.srv.URL+path, strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	res, err := h.client.Do(req)
	require.NoError(t, err)
	return res
}

func decodeJSON(t *testing.T, res *http.Response) map[string]any {
	t.Helper()
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	out := map[string]any{}
	require.NoError(t, json.Unmarshal(body, &out))
	return out
}

func TestBrowserLaunchFlow(t *testing.T) {
	h := newHarness(t)
	state, nonce, cookies := h.login(t)
	require.NotEmpty(t, state)
	require.NotEmpty(t, cookies)

	// form_post callback with the state cookie present.
	res := h.postForm(t, "/lti/launch", url.Values{
		"id_token": {h.signIDToken(t, nonce)},
		"state":    {state},
	}, cookies)
	res.Body.Close()
	require.Equal(t, http.StatusSeeOther, res.StatusCode)

	loc, err := url.Parse(res.Header.Get("Location"))
	require.NoError(t, err)
	launchToken := loc.Query().Get("launch_token")
	require.NotEmpty(t, launchToken)

	// Exchange the one-use launch token for a session token.
	exch := h.postForm(t, "/lti/token/exchange", url.Values{"launch_token": {launchToken}}, nil)
	require.Equal(t, http.StatusOK, exch.StatusCode)
	accessToken, _ := decodeJSON(t, exch)["access_token"].(string)
	require.NotEmpty(t, accessToken)

	// Replaying the exchange fails: the one-use token is spent.
	replay := h.postForm(t, "/lti/token/exchange", url.Values{"launch_token": {launchToken}}, nil)
	replay.Body.Close()
	require.Equal(t, http.StatusUnauthorized, replay.StatusCode)

	// The session token works against the API.
	req, err := http.NewRequest(http.MethodGet, h.srv.URL+"/api/me", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+accessToken)
	me, err := h.client.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, me.StatusCode)
	body := decodeJSON(t, me)
	require.Equal(t, "user-42", body["subject"])
	require.Equal(t, true, body["is_instructor"])

	// And it refreshes.
	refreshReq, err := http.NewRequest(http.MethodPost, h.srv.URL+"/lti/token/refresh", nil)
	require.NoError(t, err)
	refreshReq.Header.Set("Authorization", "Bearer "+accessToken)
	refresh, err := h.client.Do(refreshReq)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, refresh.StatusCode)
	next, _ := decodeJSON(t, refresh)["access_token"].(string)
	require.NotEmpty(t, next)
	require.NotEqual(t, accessToken, next)
}

func TestCookielessLaunchReturnsJSON(t *testing.T) {
	h := newHarness(t)
	state, nonce, _ := h.login(t)

	// No cookie arrives; the client echoes the state and nonce it was
	// handed at login time.
	form := url.Values{
		"id_token":       {h.signIDToken(t, nonce)},
		"state":          {state},
		"nonce":          {nonce},
		"expected_state": {state},
		"expected_nonce": {nonce},
		"cookies":        {"false"},
	}
	req, err := http.NewRequest(http.MethodPost, h.srv.URL+"/lti/launch", strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	res, err := h.client.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	body := decodeJSON(t, res)
	require.NotEmpty(t, body["access_token"])
	require.Equal(t, launch.MessageTypeResourceLink, body["message_type"])
}

func TestCookielessLaunchEchoMismatchRejected(t *testing.T) {
	h := newHarness(t)
	state, nonce, cookies := h.login(t)

	// A wrong echoed nonce must fail even when the id_token, state and
	// nonce are all valid, and cookies=false keeps any stray state
	// cookie from rescuing the launch.
	res := h.postForm(t, "/lti/launch", url.Values{
		"id_token":       {h.signIDToken(t, nonce)},
		"state":          {state},
		"nonce":          {nonce},
		"expected_state": {state},
		"expected_nonce": {"a-different-nonce"},
		"cookies":        {"false"},
	}, cookies)
	res.Body.Close()
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)

	// The echoed state is checked the same way.
	res = h.postForm(t, "/lti/launch", url.Values{
		"id_token":       {h.signIDToken(t, nonce)},
		"state":          {state},
		"nonce":          {nonce},
		"expected_state": {"a-different-state"},
		"expected_nonce": {nonce},
		"cookies":        {"false"},
	}, nil)
	res.Body.Close()
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestLaunchWithoutStateRejected(t *testing.T) {
	h := newHarness(t)
	_, nonce, _ := h.login(t)

	res := h.postForm(t, "/lti/launch", url.Values{
		"id_token": {h.signIDToken(t, nonce)},
	}, nil)
	res.Body.Close()
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestLaunchReplayRejected(t *testing.T) {
	h := newHarness(t)
	state, nonce, cookies := h.login(t)
	form := url.Values{
		"id_token": {h.signIDToken(t, nonce)},
		"state":    {state},
	}

	first := h.postForm(t, "/lti/launch", form, cookies)
	first.Body.Close()
	require.Equal(t, http.StatusSeeOther, first.StatusCode)

	second := h.postForm(t, "/lti/launch", form, cookies)
	second.Body.Close()
	require.Equal(t, http.StatusUnauthorized, second.StatusCode)
}

func TestAPIWithoutTokenRejected(t *testing.T) {
	h := newHarness(t)
	res, err := h.client.Get(h.srv.URL + "/api/me")
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
}
