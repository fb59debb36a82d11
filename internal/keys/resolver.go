package keys

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/classbridge/classbridge-tool/internal/registry"
)

// ErrKeyResolution wraps every failure to obtain a platform public key:
// JWKS fetch errors, an absent kid, or missing local key material. The
// caller fails the launch closed; resolution is never retried inline.
var ErrKeyResolution = errors.New("keys: key resolution failed")

// StoredKeyStore looks up locally stored platform public keys by
// (kid, isTool). Platform keys are stored with isTool=false; the tool's
// own published key may be mirrored with isTool=true.
type StoredKeyStore interface {
	GetPEM(ctx context.Context, kid string, isTool bool) (string, error)
	PutPEM(ctx context.Context, kid string, isTool bool, pem string) error
}

// Resolver resolves signing keys. The tool pair is fixed for the process
// lifetime; platform keys come from a JWKS endpoint (cached per kid) or
// from the stored-key table.
type Resolver struct {
	ToolPair *KeyPair
	Stored   StoredKeyStore

	// HTTP client for JWKS fetches; must carry a bounded timeout.
	HTTP     *http.Client
	CacheTTL time.Duration

	mu    sync.Mutex
	cache map[string]cachedKey // endpoint + "|" + kid
}

type cachedKey struct {
	key     *rsa.PublicKey
	expires time.Time
}

func NewResolver(pair *KeyPair, stored StoredKeyStore, fetchTimeout, cacheTTL time.Duration) *Resolver {
	if fetchTimeout <= 0 {
		fetchTimeout = 10 * time.Second
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &Resolver{
		ToolPair: pair,
		Stored:   stored,
		HTTP:     &http.Client{Timeout: fetchTimeout},
		CacheTTL: cacheTTL,
		cache:    make(map[string]cachedKey),
	}
}

// OwnKeyPair returns the tool's long-lived pair.
func (r *Resolver) OwnKeyPair() *KeyPair { return r.ToolPair }

// ResolvePlatformKey returns the platform public key for kid. With a JWKS
// endpoint configured the set is fetched and the entry selected by kid;
// otherwise the stored-key table is consulted with isTool=false.
func (r *Resolver) ResolvePlatformKey(ctx context.Context, reg registry.Registration, kid string) (*rsa.PublicKey, error) {
	if reg.JWKSEndpoint != "" {
		return r.fromJWKS(ctx, reg.JWKSEndpoint, kid)
	}
	if r.Stored == nil {
		return nil, fmt.Errorf("%w: no JWKS endpoint and no stored-key store", ErrKeyResolution)
	}
	pemStr, err := r.Stored.GetPEM(ctx, kid, false)
	if err != nil {
		return nil, fmt.Errorf("%w: stored key %q: %v", ErrKeyResolution, kid, err)
	}
	pub, err := ParseRSAPublicPEM([]byte(pemStr))
	if err != nil {
		return nil, fmt.Errorf("%w: stored key %q: %v", ErrKeyResolution, kid, err)
	}
	return pub, nil
}

func (r *Resolver) fromJWKS(ctx context.Context, endpoint, kid string) (*rsa.PublicKey, error) {
	cacheKey := endpoint + "|" + kid

	r.mu.Lock()
	if c, ok := r.cache[cacheKey]; ok && time.Now().Before(c.expires) {
		r.mu.Unlock()
		return c.key, nil
	}
	r.mu.Unlock()

	set, err := r.fetchJWKS(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch %s: %v", ErrKeyResolution, endpoint, err)
	}
	jwk, ok := set.LookupKID(kid)
	if !ok {
		return nil, fmt.Errorf("%w: no key with kid %q at %s", ErrKeyResolution, kid, endpoint)
	}
	pub, err := RSAPublicKeyFromJWK(jwk)
	if err != nil {
		return nil, fmt.Errorf("%w: kid %q: %v", ErrKeyResolution, kid, err)
	}

	r.mu.Lock()
	r.cache[cacheKey] = cachedKey{key: pub, expires: time.Now().Add(r.CacheTTL)}
	r.mu.Unlock()
	return pub, nil
}

func (r *Resolver) fetchJWKS(ctx context.Context, endpoint string) (JWKS, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return JWKS{}, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := r.HTTP.Do(req)
	if err != nil {
		return JWKS{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return JWKS{}, fmt.Errorf("jwks endpoint returned %s", resp.Status)
	}
	var set JWKS
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return JWKS{}, err
	}
	return set, nil
}
