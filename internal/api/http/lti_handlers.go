package http

import (
	"net/url"
	"strings"
	"time"

	nethttp "net/http"

	"github.com/classbridge/classbridge-tool/internal/launch"
	"github.com/classbridge/classbridge-tool/internal/session"
)

// stateCookiePrefix names the per-launch state cookies. Several launches
// can be in flight in one browser, so each state gets its own cookie.
const stateCookiePrefix = "lti_state_"

// LoginHandler answers the platform's third-party-initiated login. It
// accepts GET and POST (platforms use both), starts the launch, drops a
// state cookie for browsers that keep cookies in an iframe, and
// redirects to the platform's authorization endpoint.
func LoginHandler(init *launch.Initiator, stateTTL time.Duration) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		_ = r.ParseForm()
		req := launch.LoginRequest{
			Issuer:        formOrQuery(r, "iss"),
			LoginHint:     formOrQuery(r, "login_hint"),
			TargetLinkURI: formOrQuery(r, "target_link_uri"),
			MessageHint:   formOrQuery(r, "lti_message_hint"),
			ClientID:      formOrQuery(r, "client_id"),
			DeploymentID:  formOrQuery(r, "lti_deployment_id"),
			StorageTarget: formOrQuery(r, "lti_storage_target"),
		}

		res, err := init.Start(r.Context(), req)
		if err != nil {
			writeErr(w, launchStatus(err), "login initiation failed")
			return
		}

		ttl := stateTTL
		if ttl <= 0 {
			ttl = time.Hour
		}
		nethttp.SetCookie(w, &nethttp.Cookie{
			Name:     stateCookiePrefix + launch.HashState(res.State)[:8],
			Value:    res.State,
			Path:     "/lti/",
			MaxAge:   int(ttl.Seconds()),
			HttpOnly: true,
			Secure:   true,
			SameSite: nethttp.SameSiteNoneMode,
		})

		nethttp.Redirect(w, r, res.RedirectURL, nethttp.StatusFound)
	}
}

// LaunchHandler receives the platform's form_post callback. A validated
// launch mints a short one-use token and sends the browser on to the
// content; API clients asking for JSON get a regular session token
// directly.
func LaunchHandler(val *launch.Validator, sess *session.Service) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if err := r.ParseForm(); err != nil {
			writeErr(w, nethttp.StatusBadRequest, "bad form body")
			return
		}

		req := launch.Request{
			IDToken:       r.PostFormValue("id_token"),
			State:         r.PostFormValue("state"),
			Nonce:         r.PostFormValue("nonce"),
			ExpectedState: r.PostFormValue("expected_state"),
			ExpectedNonce: r.PostFormValue("expected_nonce"),
		}
		// cookies=false selects the cookie-less echo path; any state
		// cookies that still arrived are ignored on it.
		if r.PostFormValue("cookies") != "false" {
			for _, c := range r.Cookies() {
				if strings.HasPrefix(c.Name, stateCookiePrefix) {
					req.CookieStates = append(req.CookieStates, c.Value)
				}
			}
		}

		res, err := val.Validate(r.Context(), req)
		if err != nil {
			val.Log.Warn().Err(err).Stringer("step", res.Step).Msg("launch rejected")
			writeErr(w, launchStatus(err), "launch validation failed")
			return
		}
		lc := res.Context

		// Clear the consumed state cookie.
		nethttp.SetCookie(w, &nethttp.Cookie{
			Name:     stateCookiePrefix + launch.HashState(req.State)[:8],
			Value:    "",
			Path:     "/lti/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   true,
			SameSite: nethttp.SameSiteNoneMode,
		})

		if wantsJSON(r) {
			token, claims, err := sess.Mint(r.Context(), lc, false)
			if err != nil {
				writeErr(w, nethttp.StatusInternalServerError, "token mint failed")
				return
			}
			writeJSON(w, nethttp.StatusOK, map[string]any{
				"access_token": token,
				"token_type":   "Bearer",
				"expires_in":   int(time.Until(claims.ExpiresAt.Time).Seconds()),
				"message_type": lc.MessageType,
			})
			return
		}

		// Browser flow: a one-use token rides the redirect URL, where it
		// is exposed to history and logs; the frontend trades it for a
		// real session via /lti/token/exchange before it can leak usefully.
		token, _, err := sess.Mint(r.Context(), lc, true)
		if err != nil {
			writeErr(w, nethttp.StatusInternalServerError, "token mint failed")
			return
		}
		target := lc.TargetLinkURI
		if target == "" {
			writeErr(w, nethttp.StatusUnauthorized, "launch carried no target link")
			return
		}
		u, err := url.Parse(target)
		if err != nil {
			writeErr(w, nethttp.StatusUnauthorized, "bad target link")
			return
		}
		q := u.Query()
		q.Set("launch_token", token)
		u.RawQuery = q.Encode()
		nethttp.Redirect(w, r, u.String(), nethttp.StatusSeeOther)
	}
}

// ExchangeHandler trades a one-use launch token for a long-lived session
// token. The Validate call consumes the one-use token, so replaying the
// redirect URL fails here.
func ExchangeHandler(sess *session.Service) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		_ = r.ParseForm()
		token := r.PostFormValue("launch_token")
		if token == "" {
			token = session.BearerToken(r)
		}
		if token == "" {
			writeErr(w, nethttp.StatusBadRequest, "missing launch_token")
			return
		}
		claims, err := sess.Validate(r.Context(), token)
		if err != nil {
			writeErr(w, sessionStatus(err), "invalid launch token")
			return
		}
		if !claims.OneUse {
			writeErr(w, nethttp.StatusBadRequest, "not a one-use token")
			return
		}
		next, nextClaims, err := sess.Promote(r.Context(), claims)
		if err != nil {
			writeErr(w, nethttp.StatusInternalServerError, "token mint failed")
			return
		}
		writeJSON(w, nethttp.StatusOK, map[string]any{
			"access_token": next,
			"token_type":   "Bearer",
			"expires_in":   int(time.Until(nextClaims.ExpiresAt.Time).Seconds()),
		})
	}
}

// RefreshHandler extends a live session. One-use tokens are refused.
func RefreshHandler(sess *session.Service) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		token := session.BearerToken(r)
		if token == "" {
			writeErr(w, nethttp.StatusUnauthorized, "missing bearer token")
			return
		}
		next, claims, err := sess.Refresh(r.Context(), token)
		if err != nil {
			writeErr(w, sessionStatus(err), "refresh failed")
			return
		}
		writeJSON(w, nethttp.StatusOK, map[string]any{
			"access_token": next,
			"token_type":   "Bearer",
			"expires_in":   int(time.Until(claims.ExpiresAt.Time).Seconds()),
		})
	}
}

func formOrQuery(r *nethttp.Request, key string) string {
	if v := r.PostFormValue(key); v != "" {
		return v
	}
	return r.URL.Query().Get(key)
}

func wantsJSON(r *nethttp.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}
