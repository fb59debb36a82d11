package http

import (
	"crypto/subtle"
	"encoding/json"
	"strconv"
	"strings"

	nethttp "net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/classbridge/classbridge-tool/internal/keys"
	"github.com/classbridge/classbridge-tool/internal/registry"
)

// BasicAuth guards the admin surface with a single operator credential.
// The password is compared against a bcrypt hash from config.
func BasicAuth(user, passHash string) func(nethttp.Handler) nethttp.Handler {
	return func(next nethttp.Handler) nethttp.Handler {
		return nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
			u, p, ok := r.BasicAuth()
			if !ok ||
				subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 ||
				bcrypt.CompareHashAndPassword([]byte(passHash), []byte(p)) != nil {
				w.Header().Set("WWW-Authenticate", `Basic realm="classbridge admin"`)
				writeErr(w, nethttp.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// registrationJSON is the admin wire form of a registration. The client
// secret is accepted on create but never echoed back.
type registrationJSON struct {
	ID            string `json:"id,omitempty"`
	Issuer        string `json:"issuer"`
	ClientID      string `json:"client_id"`
	ClientSecret  string `json:"client_secret,omitempty"`
	DeploymentID  string `json:"deployment_id"`
	AuthEndpoint  string `json:"auth_endpoint"`
	JWKSEndpoint  string `json:"jwks_endpoint,omitempty"`
	TokenEndpoint string `json:"token_endpoint,omitempty"`
	TokenAudience string `json:"token_audience,omitempty"`
	TenantRef     string `json:"tenant_ref,omitempty"`
}

func toWire(r registry.Registration) registrationJSON {
	return registrationJSON{
		ID:            r.ID,
		Issuer:        r.Issuer,
		ClientID:      r.ClientID,
		DeploymentID:  r.DeploymentID,
		AuthEndpoint:  r.AuthEndpoint,
		JWKSEndpoint:  r.JWKSEndpoint,
		TokenEndpoint: r.TokenEndpoint,
		TokenAudience: r.TokenAudience,
		TenantRef:     r.TenantRef,
	}
}

func CreateRegistrationHandler(store registry.Store) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		var req registrationJSON
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, nethttp.StatusBadRequest, "bad json")
			return
		}
		if strings.TrimSpace(req.Issuer) == "" ||
			strings.TrimSpace(req.ClientID) == "" ||
			strings.TrimSpace(req.DeploymentID) == "" ||
			strings.TrimSpace(req.AuthEndpoint) == "" {
			writeErr(w, nethttp.StatusBadRequest, "issuer, client_id, deployment_id and auth_endpoint are required")
			return
		}
		if req.JWKSEndpoint == "" && req.TokenEndpoint == "" {
			// Stored-key platforms still need a key uploaded before launches
			// can verify; that is fine, but flag fully blank configs.
			writeErr(w, nethttp.StatusBadRequest, "need a jwks_endpoint or a stored platform key")
			return
		}
		reg := registry.Registration{
			ID:            uuid.NewString(),
			Issuer:        req.Issuer,
			ClientID:      req.ClientID,
			ClientSecret:  req.ClientSecret,
			DeploymentID:  req.DeploymentID,
			AuthEndpoint:  req.AuthEndpoint,
			JWKSEndpoint:  req.JWKSEndpoint,
			TokenEndpoint: req.TokenEndpoint,
			TokenAudience: req.TokenAudience,
			TenantRef:     req.TenantRef,
		}
		if err := store.Create(r.Context(), reg); err != nil {
			writeErr(w, nethttp.StatusInternalServerError, "db error")
			return
		}
		writeJSON(w, nethttp.StatusCreated, toWire(reg))
	}
}

func ListRegistrationsHandler(store registry.Store) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		offset, limit := pageParams(r, 100)
		regs, err := store.List(r.Context(), offset, limit)
		if err != nil {
			writeErr(w, nethttp.StatusInternalServerError, "db error")
			return
		}
		out := make([]registrationJSON, 0, len(regs))
		for _, reg := range regs {
			out = append(out, toWire(reg))
		}
		writeJSON(w, nethttp.StatusOK, out)
	}
}

func GetRegistrationHandler(store registry.Store) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		reg, err := store.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeErr(w, nethttp.StatusNotFound, "not found")
			return
		}
		writeJSON(w, nethttp.StatusOK, toWire(reg))
	}
}

func DeleteRegistrationHandler(store registry.Store) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if err := store.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeErr(w, nethttp.StatusInternalServerError, "db error")
			return
		}
		w.WriteHeader(nethttp.StatusNoContent)
	}
}

// PutPlatformKeyHandler uploads a platform public key for registrations
// that have no JWKS endpoint.
func PutPlatformKeyHandler(store keys.StoredKeyStore) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		kid := chi.URLParam(r, "kid")
		var req struct {
			PEM string `json:"pem"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.PEM) == "" {
			writeErr(w, nethttp.StatusBadRequest, "bad json")
			return
		}
		if _, err := keys.ParseRSAPublicPEM([]byte(req.PEM)); err != nil {
			writeErr(w, nethttp.StatusBadRequest, "not an RSA public key PEM")
			return
		}
		if err := store.PutPEM(r.Context(), kid, false, req.PEM); err != nil {
			writeErr(w, nethttp.StatusInternalServerError, "db error")
			return
		}
		writeJSON(w, nethttp.StatusOK, map[string]string{"kid": kid})
	}
}

func pageParams(r *nethttp.Request, maxLimit int) (offset, limit int) {
	limit = 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return offset, limit
}
