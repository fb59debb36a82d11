package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	api "github.com/classbridge/classbridge-tool/internal/api/http"
	"github.com/classbridge/classbridge-tool/internal/config"
	"github.com/classbridge/classbridge-tool/internal/db"
	"github.com/classbridge/classbridge-tool/internal/deeplink"
	"github.com/classbridge/classbridge-tool/internal/keys"
	"github.com/classbridge/classbridge-tool/internal/launch"
	"github.com/classbridge/classbridge-tool/internal/noncestore"
	"github.com/classbridge/classbridge-tool/internal/registry"
	"github.com/classbridge/classbridge-tool/internal/roles"
	"github.com/classbridge/classbridge-tool/internal/session"
)

// toolIssuer is the fixed iss value on self-issued session tokens.
const toolIssuer = "classbridge-tool"

func main() {
	cfg := config.FromEnv()
	log := newLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- DB ---
	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	dbh, err := db.Open(openCtx, db.Driver(cfg.DBDriver), cfg.DBDSN)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("db open failed")
	}
	defer dbh.Close()

	// --- Tool key ---
	pair, err := keys.LoadOrGenerate(cfg.PrivateKeyPEMPath)
	if err != nil {
		log.Fatal().Err(err).Msg("tool key load failed")
	}
	if cfg.PrivateKeyPEMPath == "" {
		log.Warn().Msg("no TOOL_PRIVATE_KEY_PEM set; using an ephemeral key, sessions break on restart")
	}

	// --- Stores and services ---
	regs := registry.NewSQLStore(dbh)
	nonces := noncestore.NewSQLStore(dbh)
	keyStore := keys.NewSQLKeyStore(dbh)
	oneUse := session.NewSQLOneUseStore(dbh)

	resolver := keys.NewResolver(pair, keyStore, cfg.JWKSFetchTimeout, cfg.JWKSCacheTTL)

	initiator := &launch.Initiator{
		Registry:    regs,
		Nonces:      nonces,
		Keys:        resolver,
		RedirectURI: cfg.PublicURL + "/lti/launch",
		StateTTL:    cfg.StateTokenTTL,
		Log:         log,
	}
	validator := &launch.Validator{
		Registry: regs,
		Nonces:   nonces,
		Keys:     resolver,
		Log:      log,
	}
	sessions := &session.Service{
		Pair:      pair,
		Issuer:    toolIssuer,
		Audience:  cfg.PublicURL,
		TTL:       cfg.SessionTokenTTL,
		OneUseTTL: cfg.OneUseTokenTTL,
		OneUse:    oneUse,
		Log:       log,
	}
	dlBuilder := &deeplink.Builder{Pair: pair}

	// --- Background sweeps ---
	go (&noncestore.Sweeper{
		Store:  nonces,
		MaxAge: cfg.NonceMaxAge,
		Every:  cfg.NoncePurgeEvery,
		Log:    log,
	}).Run(ctx)
	go (&session.Sweeper{
		Store:     oneUse,
		Retention: cfg.OneUseRetention,
		Every:     cfg.OneUsePurgeEvery,
		Log:       log,
	}).Run(ctx)

	// --- Router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Method(http.MethodGet, "/.well-known/jwks.json", &keys.JWKSHandler{Pair: pair})
	r.Method(http.MethodHead, "/.well-known/jwks.json", &keys.JWKSHandler{Pair: pair})

	r.Route("/lti", func(lr chi.Router) {
		lr.Get("/login", api.LoginHandler(initiator, cfg.StateTokenTTL))
		lr.Post("/login", api.LoginHandler(initiator, cfg.StateTokenTTL))
		lr.Post("/launch", api.LaunchHandler(validator, sessions))
		lr.Post("/token/exchange", api.ExchangeHandler(sessions))
		lr.Post("/token/refresh", api.RefreshHandler(sessions))
	})

	// Session-protected API. Roster, grades and deep link return are
	// instructor territory; /me answers for any valid session.
	r.Group(func(pr chi.Router) {
		pr.Use(session.Middleware(sessions))
		pr.Get("/api/me", api.MeHandler())

		pr.Group(func(ir chi.Router) {
			ir.Use(session.RequireRole((*roles.Resolver).IsInstructorOrHigher))
			ir.Get("/api/lineitems", api.ListLineItemsHandler(regs))
			ir.Post("/api/scores", api.PostScoreHandler(regs))
			ir.Get("/api/roster", api.RosterHandler(regs))
			ir.Post("/api/deeplink/return", api.DeepLinkReturnHandler(regs, dlBuilder))
		})
	})

	// Operator surface.
	r.Route("/admin", func(ar chi.Router) {
		ar.Use(api.BasicAuth(cfg.AdminUser, cfg.AdminPassHash))
		ar.Post("/registrations", api.CreateRegistrationHandler(regs))
		ar.Get("/registrations", api.ListRegistrationsHandler(regs))
		ar.Get("/registrations/{id}", api.GetRegistrationHandler(regs))
		ar.Delete("/registrations/{id}", api.DeleteRegistrationHandler(regs))
		ar.Put("/platform-keys/{kid}", api.PutPlatformKeyHandler(keyStore))
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", cfg.HTTPAddr).Str("public_url", cfg.PublicURL).Msg("toold listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server failed")
	}
	log.Info().Msg("toold stopped")
}

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		if parsed, err := zerolog.ParseLevel(v); err == nil {
			level = parsed
		}
	}
	return zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
}
