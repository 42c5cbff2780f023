package main

import (
	"context"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"linkvault/cfg"
	"linkvault/metrics"
	"linkvault/pkg/secrets"
	"linkvault/svc/api"
	"linkvault/svc/auth"
	"linkvault/svc/blob"
	"linkvault/svc/db"
	"linkvault/svc/lim"
	"linkvault/svc/mail"
	"linkvault/svc/svc"
	"linkvault/svc/util"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "-health" {
		healthProbe()
		return
	}

	_ = godotenv.Load()

	c, err := cfg.Load()
	if err != nil {
		util.Fatal().Err(err).Msg("failed to load configuration")
		os.Exit(1)
	}
	util.InitLog(c.LogLevel, c.Environment == "development")
	util.Info().Msg("starting linkvault API")
	metrics.Init()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// PEPPER and JWT_SECRET prefer the external secrets provider; the source
	// falls back to the environment when no provider is reachable.
	source, err := secrets.NewSource(ctx)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to initialize secrets source")
		os.Exit(1)
	}
	if v, err := source.GetSecret(ctx, "PEPPER"); err == nil && v != "" {
		c.Pepper = cfg.NewSecret(v)
	}
	if v, err := source.GetSecret(ctx, "JWT_SECRET"); err == nil && v != "" {
		c.JWTSecret = cfg.NewSecret(v)
	}
	if err := cfg.Validate(c); err != nil {
		util.Fatal().Err(err).Msg("invalid configuration")
		os.Exit(1)
	}
	defer c.Wipe()

	sqlDB, err := db.NewSQLiteWithConfig(c.DatabasePath, c.DBMaxOpenConns, c.DBMaxIdleConns, c.DBQueryTimeout)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to initialize database")
		os.Exit(1)
	}
	defer sqlDB.Close()
	util.Info().Str("path", c.DatabasePath).Msg("database initialized")

	var rdb *db.Redis
	if c.RedisURL != "" {
		rdb, err = db.NewRedis(c.RedisURL, c)
		if err != nil {
			if c.Environment == "production" {
				util.Fatal().Err(err).Msg("redis required in production")
				os.Exit(1)
			}
			util.Warn().Err(err).Msg("redis unavailable (dev mode)")
		} else {
			util.Info().Msg("redis connected")
		}
	}
	if rdb != nil {
		defer rdb.Close()
	}

	blobs, err := blob.NewMinIO(c)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to initialize blob store")
		os.Exit(1)
	}
	util.Info().Str("bucket", c.MinioBucket).Msg("blob store initialized")

	hasher, err := auth.NewHasher(c.Argon2Time, c.Argon2Memory, c.Argon2Parallelism, []byte(c.Pepper.Value()))
	if err != nil {
		util.Fatal().Err(err).Msg("failed to initialize hasher")
		os.Exit(1)
	}
	defer hasher.Close()

	sessions, err := auth.NewSessions([]byte(c.JWTSecret.Value()), c.SessionTTL)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to initialize sessions")
		os.Exit(1)
	}

	var mailer mail.Mailer = mail.LogOnly{}
	if c.SMTPHost != "" {
		mailer = mail.NewSMTP(c)
		util.Info().Str("host", c.SMTPHost).Msg("smtp mailer initialized")
	}

	var google svc.GoogleVerifier
	googleCfg := auth.GoogleConfig{
		ClientID:     c.GoogleClientID,
		ClientSecret: c.GoogleClientSecret.Value(),
		RedirectURL:  c.GoogleRedirectURL,
	}
	if googleCfg.Enabled() {
		google = auth.NewGoogleExchanger(googleCfg)
		util.Info().Msg("google login enabled")
	}

	pasteSvc := svc.NewPaste(sqlDB, blobs, hasher, c)
	accountSvc := svc.NewAccount(sqlDB, pasteSvc, hasher, sessions, mailer, google)

	limiter := lim.New(c.RateLimit.RPM, c.RateLimit.ConservativeLimit, rdb, c.TrustedProxies)
	defer limiter.Stop()
	util.Info().
		Int("rpm", c.RateLimit.RPM).
		Strs("trusted_proxies", c.TrustedProxies).
		Msg("rate limiter initialized")

	server := api.NewServer(c, pasteSvc, accountSvc, sessions, limiter, sqlDB, rdb)

	quitWAL := make(chan struct{})
	go db.StartWALMaintenance(sqlDB.DB(), quitWAL)
	util.Info().Msg("WAL maintenance worker started")

	if err := pasteSvc.StartSweeper(ctx, c.SweepInterval); err != nil {
		util.Error().Err(err).Msg("failed to start sweeper")
	} else {
		util.Info().Dur("interval", c.SweepInterval).Msg("expiry sweep worker started")
	}

	if c.Environment == "development" {
		go func() {
			util.Info().Msg("starting pprof server on :6060")
			if err := http.ListenAndServe(":6060", nil); err != nil {
				util.Warn().Err(err).Msg("pprof server failed")
			}
		}()
	}

	util.Info().Str("port", c.Port).Str("environment", c.Environment).Msg("server starting")
	go func() {
		if err := server.Start(); err != nil {
			util.Fatal().Err(err).Msg("server failed")
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	util.Info().Msg("shutting down gracefully...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		util.Error().Err(err).Msg("server shutdown error")
	}
	close(quitWAL)
	cancel()
	pasteSvc.Shutdown()
	util.Info().Msg("shutdown complete")
}

// healthProbe is the container healthcheck entrypoint: open the database,
// ping it, exit 0 on success.
func healthProbe() {
	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		dbPath = "linkvault.db"
	}
	sqlDB, err := db.NewSQLite(dbPath)
	if err != nil {
		os.Exit(1)
	}
	defer sqlDB.Close()
	pingCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := sqlDB.DB().PingContext(pingCtx); err != nil {
		os.Exit(1)
	}
	os.Exit(0)
}
