// Package fwdauth authenticates reverse-proxy subrequests. A Gateway checks
// the bearer token of each request against the identity provider's cached
// signing keys, without calling the provider on the hot path, and answers
// with a status and the identity header contract.
package fwdauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/keksclan/goFwdAuth/internal/locator"
	"github.com/rs/zerolog"
)

// Gateway is safe for concurrent use. Each check runs independently; the
// only shared waits are service resolution and key set refreshes.
type Gateway struct {
	cfg     Config
	opts    options
	locator *locator.Locator[*Service]
	log     zerolog.Logger
}

// NewGateway validates cfg and prepares a gateway. The Service is resolved
// lazily on the first check, or eagerly through Service.
func NewGateway(cfg Config, opts ...Option) (*Gateway, error) {
	cfg.setDefaults()
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.validate(o.keySource != nil); err != nil {
		return nil, err
	}

	g := &Gateway{
		cfg:  cfg,
		opts: o,
		log:  o.log.With().Str("component", "gateway").Logger(),
	}
	lcfg := locator.Config[*Service]{
		Name:       cfg.ServiceName,
		RetryAfter: cfg.RetryAfter,
		Logger:     &g.log,
		Now:        o.now,
		Bootstrap: func(ctx context.Context) (*Service, error) {
			return newService(ctx, cfg, o)
		},
	}
	if o.registry != nil {
		lcfg.Registry = o.registry
	}
	loc, err := locator.New(lcfg)
	if err != nil {
		return nil, err
	}
	g.locator = loc
	return g, nil
}

// Check authenticates one request given its Authorization header value.
//
// A missing or non-Bearer header is answered with 401 without touching the
// service. Rejected tokens get 401 with an invalid_token challenge. When the
// token cannot be judged, because the service or the key set is unavailable
// or the check deadline passes, the answer is 503 with Retry-After.
func (g *Gateway) Check(ctx context.Context, authorization string) (d Decision) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			g.log.Error().Interface("panic", r).Msg("auth check panicked")
			d = unavailable(g.cfg.RetryAfter)
		}
		g.opts.metrics.CheckCompleted(d.Status, time.Since(start))
	}()

	token, ok := BearerToken(authorization)
	if !ok {
		return unauthorized(ReasonMissingToken, false)
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.CheckDeadline)
	defer cancel()

	svc, err := g.locator.Locate(ctx)
	if err != nil {
		g.log.Warn().Err(err).Msg("auth service unavailable")
		return unavailable(g.cfg.RetryAfter)
	}

	sc, err := svc.Validate(ctx, token)
	if err != nil {
		return g.deny(err)
	}
	return allow(sc)
}

func (g *Gateway) deny(err error) Decision {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return unauthorized(ReasonInvalidToken, true)
	}
	g.log.Warn().Err(err).Msg("token could not be judged")
	return unavailable(g.cfg.RetryAfter)
}

// Service resolves the gateway's Service, bootstrapping it if needed.
func (g *Gateway) Service(ctx context.Context) (*Service, error) {
	svc, err := g.locator.Locate(ctx)
	if err != nil {
		return nil, fmt.Errorf("locate service: %w", err)
	}
	return svc, nil
}

// Ready reports whether the service is resolved and holds an unexpired key
// set. It never triggers resolution or a fetch.
func (g *Gateway) Ready() bool {
	if g.locator.State() != locator.StateResolved {
		return false
	}
	svc, err := g.locator.Locate(context.Background())
	return err == nil && svc.Ready()
}
