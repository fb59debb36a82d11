package keys

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

// JWKSHandler serves the tool's public key set at /.well-known/jwks.json
// so platforms can verify tool-signed JWTs (deep-linking responses,
// client assertions).
type JWKSHandler struct {
	Pair *KeyPair

	// Optional cache control for responses (default 10 minutes).
	CacheMaxAge time.Duration
}

func (h *JWKSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	set := JWKS{Keys: []JWK{RSAPublicJWK(h.Pair.PublicKey, h.Pair.KID)}}
	payload, err := json.Marshal(set)
	if err != nil {
		http.Error(w, "jwks: marshal error", http.StatusInternalServerError)
		return
	}

	maxAge := h.CacheMaxAge
	if maxAge <= 0 {
		maxAge = 10 * time.Minute
	}
	sum := sha256.Sum256(payload)
	etag := `W/"` + base64.RawURLEncoding.EncodeToString(sum[:]) + `"`

	w.Header().Set("Content-Type", "application/jwk-set+json")
	w.Header().Set("Cache-Control", "public, max-age="+strconv.Itoa(int(maxAge.Seconds())))
	w.Header().Set("ETag", etag)

	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}
