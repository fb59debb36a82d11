package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr  string
	PublicURL string // e.g. https://tool.classbridge.io

	DBDriver string
	DBDSN    string

	// Tool signing key. When the path is empty a fresh RSA key pair is
	// generated at startup (dev only; launches break across restarts).
	PrivateKeyPEMPath string

	// Token TTLs.
	SessionTokenTTL time.Duration
	OneUseTokenTTL  time.Duration
	StateTokenTTL   time.Duration

	// Retention windows and timer periods for background sweeps.
	NonceMaxAge      time.Duration
	OneUseRetention  time.Duration
	NoncePurgeEvery  time.Duration
	OneUsePurgeEvery time.Duration

	JWKSFetchTimeout time.Duration
	JWKSCacheTTL     time.Duration

	AdminUser     string
	AdminPassHash string // bcrypt

	CORSOrigins []string
}

func FromEnv() Config {
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	pub := strings.TrimSuffix(os.Getenv("PUBLIC_URL"), "/")
	if pub == "" {
		pub = "http://localhost:8080"
	}
	return Config{
		HTTPAddr:  addr,
		PublicURL: pub,

		DBDriver: envOr("DB_DRIVER", "sqlite"),
		DBDSN:    envOr("DB_DSN", ""),

		PrivateKeyPEMPath: os.Getenv("TOOL_PRIVATE_KEY_PEM"),

		SessionTokenTTL: envDur("SESSION_TOKEN_TTL", time.Hour),
		OneUseTokenTTL:  envDur("ONE_USE_TOKEN_TTL", 5*time.Minute),
		StateTokenTTL:   envDur("STATE_TOKEN_TTL", time.Hour),

		NonceMaxAge:      envDur("NONCE_MAX_AGE", time.Hour),
		OneUseRetention:  envDur("ONE_USE_RETENTION", 24*time.Hour),
		NoncePurgeEvery:  envDur("NONCE_PURGE_EVERY", 5*time.Minute),
		OneUsePurgeEvery: envDur("ONE_USE_PURGE_EVERY", time.Hour),

		JWKSFetchTimeout: envDur("JWKS_FETCH_TIMEOUT", 10*time.Second),
		JWKSCacheTTL:     envDur("JWKS_CACHE_TTL", 5*time.Minute),

		AdminUser:     envOr("ADMIN_USER", "admin"),
		AdminPassHash: envOr("ADMIN_PASS_HASH", "$2y$12$pyZAiWaTfVtM7UElIRStvOC3gNbnp70nmQU4eYopLGBfCJr1DOvji"),

		CORSOrigins: csvOr("CORS_ORIGINS", "http://localhost:3000"),
	}
}

func envOr(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func envDur(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	// bare integers are seconds
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return def
}

func csvOr(k, def string) []string {
	v := envOr(k, def)
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
