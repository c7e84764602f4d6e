// Package fwdauthfasthttp serves gateway checks with fasthttp.
//
// On success, Middleware stores the *fwdauth.SecurityContext in the request
// context's user value under SecurityContextKey. On failure, a JSON error is
// returned with 401 or 503.
//
// Concurrency: All exported functions are safe for concurrent use.
package fwdauthfasthttp

import (
	"encoding/json"

	"github.com/keksclan/goFwdAuth/adapters/common"
	"github.com/keksclan/goFwdAuth/fwdauth"
	"github.com/valyala/fasthttp"
)

// SecurityContextKey is the user value key holding the identity.
const SecurityContextKey = "fwdauth"

// Option configures the fasthttp handlers.
type Option func(*options)

type options struct {
	required common.RequiredMetadata
}

// WithRequiredMetadata specifies header keys that must be present in
// incoming HTTP requests before authentication proceeds.
func WithRequiredMetadata(keys ...string) Option {
	return func(o *options) {
		o.required.Keys = keys
	}
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// fasthttpMetadataExtractor adapts fasthttp request headers to the MetadataExtractor interface.
type fasthttpMetadataExtractor struct {
	ctx *fasthttp.RequestCtx
}

func (e *fasthttpMetadataExtractor) Get(key string) (string, bool) {
	val := e.ctx.Request.Header.Peek(key)
	if len(val) == 0 {
		return "", false
	}
	return string(val), true
}

func check(ctx *fasthttp.RequestCtx, checker common.Checker, o *options) fwdauth.Decision {
	if err := o.required.Validate(&fasthttpMetadataExtractor{ctx: ctx}); err != nil {
		return common.Rejection(err)
	}
	// RequestCtx is itself a context.Context.
	return checker.Check(ctx, string(ctx.Request.Header.Peek(fasthttp.HeaderAuthorization)))
}

func respond(ctx *fasthttp.RequestCtx, d fwdauth.Decision) {
	for k, vals := range d.Header {
		for _, v := range vals {
			ctx.Response.Header.Set(k, v)
		}
	}
	ctx.SetStatusCode(d.Status)
	if d.Allowed() {
		return
	}
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(common.ErrorBody{Error: d.Reason})
	ctx.SetBody(body)
}

// Handler returns the forward-auth endpoint.
func Handler(checker common.Checker, opts ...Option) fasthttp.RequestHandler {
	o := buildOptions(opts)
	return func(ctx *fasthttp.RequestCtx) {
		respond(ctx, check(ctx, checker, &o))
	}
}

// Middleware wraps next so that it only runs for authenticated requests,
// with the identity headers on the request replaced.
func Middleware(checker common.Checker, next fasthttp.RequestHandler, opts ...Option) fasthttp.RequestHandler {
	o := buildOptions(opts)
	return func(ctx *fasthttp.RequestCtx) {
		d := check(ctx, checker, &o)
		if !d.Allowed() {
			respond(ctx, d)
			return
		}
		common.CopyIdentity(d, ctx.Request.Header.Set)
		ctx.SetUserValue(SecurityContextKey, d.Identity)
		next(ctx)
	}
}

// SecurityContextFromCtx retrieves the identity stored by Middleware.
// Returns nil if no identity is present.
func SecurityContextFromCtx(ctx *fasthttp.RequestCtx) *fwdauth.SecurityContext {
	v, _ := ctx.UserValue(SecurityContextKey).(*fwdauth.SecurityContext)
	return v
}
