// Package server exposes the gateway over HTTP: the forward-auth endpoint
// for the reverse proxy plus health, readiness, metrics and key set
// administration for operators.
package server

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	fwdauthfiber "github.com/keksclan/goFwdAuth/adapters/fiber"
	"github.com/keksclan/goFwdAuth/fwdauth"
	"github.com/keksclan/goFwdAuth/internal/basic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

const (
	DefaultListen          = ":8080"
	DefaultReadTimeout     = 5 * time.Second
	DefaultShutdownTimeout = 10 * time.Second

	// CheckPath is the forward-auth endpoint.
	CheckPath = "/v1/auth/check"

	requestIDHeader = "X-Request-Id"
	requestIDLocal  = "request_id"
)

type Config struct {
	Listen          string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// Admin guards the /admin routes. Without it they are not mounted.
	Admin *basic.Verifier
}

func (c *Config) setDefaults() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = c.ReadTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
}

type Server struct {
	cfg Config
	gw  *fwdauth.Gateway
	app *fiber.App
	log zerolog.Logger
}

// New builds the server. gatherer backs /metrics.
func New(cfg Config, gw *fwdauth.Gateway, gatherer prometheus.Gatherer, log zerolog.Logger) *Server {
	cfg.setDefaults()
	s := &Server{
		cfg: cfg,
		gw:  gw,
		log: log.With().Str("component", "server").Logger(),
	}
	s.app = fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		ErrorHandler:          s.handleError,
	})

	s.app.Use(s.requestID)
	s.app.All(CheckPath, fwdauthfiber.Handler(gw))
	s.app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	s.app.Get("/readyz", s.ready)

	metrics := fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	s.app.Get("/metrics", func(c *fiber.Ctx) error {
		metrics(c.Context())
		return nil
	})

	if cfg.Admin != nil {
		admin := s.app.Group("/admin", s.requireAdmin)
		admin.Get("/keys", s.keySet)
		admin.Post("/keys/refresh", s.refreshKeys)
	}
	return s
}

// App returns the fiber application, for tests and embedding.
func (s *Server) App() *fiber.App { return s.app }

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("listen", s.cfg.Listen).Msg("server listening")
		errCh <- s.app.Listen(s.cfg.Listen)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info().Msg("shutting down")
	if err := s.app.ShutdownWithTimeout(s.cfg.ShutdownTimeout); err != nil {
		return err
	}
	return <-errCh
}

// requestID propagates or assigns X-Request-Id and logs the outcome of
// every request. Authorization values are never logged.
func (s *Server) requestID(c *fiber.Ctx) error {
	id := c.Get(requestIDHeader)
	if id == "" {
		id = uuid.New().String()
	}
	c.Locals(requestIDLocal, id)
	c.Set(requestIDHeader, id)

	start := time.Now()
	err := c.Next()
	s.log.Debug().
		Str("request_id", id).
		Str("method", c.Method()).
		Str("path", c.Path()).
		Int("status", c.Response().StatusCode()).
		Dur("elapsed", time.Since(start)).
		Msg("request")
	return err
}

func (s *Server) ready(c *fiber.Ctx) error {
	if !s.gw.Ready() {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "not ready"})
	}
	return c.JSON(fiber.Map{"status": "ready"})
}

func (s *Server) requireAdmin(c *fiber.Ctx) error {
	user, err := s.cfg.Admin.VerifyHeader(c.Get(fiber.HeaderAuthorization))
	if err != nil {
		c.Set(fiber.HeaderWWWAuthenticate, s.cfg.Admin.Challenge())
		return fiber.NewError(fiber.StatusUnauthorized, "admin credentials required")
	}
	c.Locals("admin_user", user)
	return c.Next()
}

func (s *Server) keySet(c *fiber.Ctx) error {
	svc, err := s.gw.Service(c.UserContext())
	if err != nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "service unavailable")
	}
	return c.JSON(svc.KeySet())
}

func (s *Server) refreshKeys(c *fiber.Ctx) error {
	svc, err := s.gw.Service(c.UserContext())
	if err != nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "service unavailable")
	}
	info, err := svc.RefreshKeys(c.UserContext())
	if err != nil {
		s.log.Warn().Err(err).Str("request_id", requestIDOf(c)).Msg("manual key set refresh failed")
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error":  "key set refresh failed",
			"keyset": info,
		})
	}
	s.log.Info().
		Str("request_id", requestIDOf(c)).
		Interface("admin_user", c.Locals("admin_user")).
		Strs("kids", info.KeyIDs).
		Msg("key set refreshed by operator")
	return c.JSON(info)
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	} else {
		s.log.Error().Err(err).Str("request_id", requestIDOf(c)).Msg("unhandled error")
	}
	msg := fiber.ErrInternalServerError.Message
	if fe != nil {
		msg = fe.Message
	}
	return c.Status(code).JSON(fiber.Map{"error": msg})
}

func requestIDOf(c *fiber.Ctx) string {
	id, _ := c.Locals(requestIDLocal).(string)
	return id
}
