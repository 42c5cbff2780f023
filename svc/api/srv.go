package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/hlog"

	"linkvault/cfg"
	"linkvault/svc/auth"
	"linkvault/svc/db"
	"linkvault/svc/lim"
	"linkvault/svc/svc"
	"linkvault/svc/util"
)

type Server struct {
	router     *chi.Mux
	cfg        *cfg.Cfg
	db         *db.SQLite
	rdb        *db.Redis
	httpServer *http.Server
}

func NewServer(c *cfg.Cfg, p *svc.Paste, a *svc.Account, sessions *auth.Sessions, l *lim.Limiter, sqlDB *db.SQLite, rdb *db.Redis) *Server {
	r := chi.NewRouter()
	mw := NewMw(l, c, sessions, rdb)
	s := &Server{
		router: r,
		cfg:    c,
		db:     sqlDB,
		rdb:    rdb,
		httpServer: &http.Server{
			Addr:           ":" + c.Port,
			Handler:        r,
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   15 * time.Second,
			IdleTimeout:    60 * time.Second,
			MaxHeaderBytes: 256 * 1024,
		},
	}
	r.Group(func(r chi.Router) {
		r.Use(mw.Recoverer)
		r.Get("/health", s.Health)
		r.Get("/ready", s.Ready)
	})
	r.Group(func(r chi.Router) {
		r.Use(mw.Recoverer)
		r.Handle("/metrics", mw.BasicAuthMetrics(promhttp.Handler()))
	})
	r.Mount("/debug", middleware.Profiler())

	r.Route("/api", func(r chi.Router) {
		r.Use(mw.Recoverer)
		r.Use(mw.RequestID)
		r.Use(hlog.NewHandler(util.GetLogger()))
		r.Use(hlog.AccessHandler(func(req *http.Request, status, size int, dur time.Duration) {
			hlog.FromRequest(req).Info().
				Str("method", req.Method).
				Str("url", req.URL.String()).
				Int("status", status).
				Int("size", size).
				Dur("duration", dur).
				Str("request_id", util.GetRequestID(req.Context())).
				Msg("http request")
		}))
		if len(c.TrustedProxies) > 0 {
			r.Use(middleware.RealIP)
		}
		r.Use(mw.ContextTimeout)
		r.Use(mw.SecurityHeaders)
		r.Use(mw.CORS)
		r.Use(mw.JSONContentType)
		r.Use(mw.Observe)

		hdl := &Hdl{paste: p, cfg: c}
		r.Route("/pastes", func(r chi.Router) {
			r.With(mw.RateLimit("create"), mw.OptionalAuth).Post("/", hdl.CreatePaste)
			r.With(mw.RateLimit("read")).Post("/bulk", hdl.BulkMeta)
			r.With(mw.RateLimit("read")).Get("/{id}", hdl.GetPaste)
			r.With(mw.RateLimit("read")).Get("/{id}/file", hdl.DownloadPaste)
			r.With(mw.RateLimit("delete"), mw.OptionalAuth).Delete("/{id}", hdl.DeletePaste)
		})

		acct := &AccountHdl{account: a, cfg: c, rdb: rdb}
		r.Route("/auth", func(r chi.Router) {
			r.Use(mw.RateLimit("auth"))
			r.Post("/register", acct.Register)
			r.Post("/login", acct.Login)
			r.Get("/verify-email", acct.VerifyEmail)
			r.Post("/forgot-password", acct.ForgotPassword)
			r.Post("/reset-password", acct.ResetPassword)
			r.Post("/google", acct.GoogleLogin)
			r.With(mw.Authenticate).Post("/logout", acct.Logout)
		})
		r.Route("/users/me", func(r chi.Router) {
			r.Use(mw.Authenticate)
			r.Get("/", acct.Me)
			r.Patch("/", acct.UpdateMe)
			r.Put("/password", acct.ChangePassword)
			r.Delete("/", acct.DeleteMe)
			r.Get("/pastes", acct.MyPastes)
		})
	})
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) SetTimeouts(read, write, idle time.Duration) {
	s.httpServer.ReadTimeout = read
	s.httpServer.WriteTimeout = write
	s.httpServer.IdleTimeout = idle
}

func (s *Server) Start() error {
	util.Info().Str("port", s.cfg.Port).Msg("starting server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		util.Error().Err(err).Str("port", s.cfg.Port).Msg("server failed to start")
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
