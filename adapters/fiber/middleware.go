// Package fwdauthfiber serves gateway checks with Fiber.
//
// Handler is the forward-auth endpoint a reverse proxy calls before
// forwarding a request. Middleware authenticates requests in-process and
// overwrites the identity headers on the request itself.
//
// On success, the *fwdauth.SecurityContext is stored in c.Locals("fwdauth")
// and in the request's user context. On failure, a JSON error is returned
// with 401 or 503.
//
// Concurrency: All exported functions are safe for concurrent use.
package fwdauthfiber

import (
	"github.com/gofiber/fiber/v2"
	"github.com/keksclan/goFwdAuth/adapters/common"
	"github.com/keksclan/goFwdAuth/fwdauth"
)

// LocalsKey is the c.Locals key holding the *fwdauth.SecurityContext.
const LocalsKey = "fwdauth"

// Option configures the Fiber handlers.
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

// fiberMetadataExtractor adapts Fiber request headers to the MetadataExtractor interface.
type fiberMetadataExtractor struct {
	c *fiber.Ctx
}

func (e *fiberMetadataExtractor) Get(key string) (string, bool) {
	// Fiber's c.Get is case-insensitive for HTTP headers.
	val := e.c.Get(key)
	if val == "" {
		return "", false
	}
	return val, true
}

func check(c *fiber.Ctx, checker common.Checker, o *options) fwdauth.Decision {
	if err := o.required.Validate(&fiberMetadataExtractor{c: c}); err != nil {
		return common.Rejection(err)
	}
	return checker.Check(c.UserContext(), c.Get(fiber.HeaderAuthorization))
}

func respond(c *fiber.Ctx, d fwdauth.Decision) error {
	for k, vals := range d.Header {
		for _, v := range vals {
			c.Set(k, v)
		}
	}
	if d.Allowed() {
		return c.SendStatus(fiber.StatusOK)
	}
	return c.Status(d.Status).JSON(common.ErrorBody{Error: d.Reason})
}

// Handler returns the forward-auth endpoint. It answers 200 with the
// identity headers, 401 or 503, and never calls the next handler.
func Handler(checker common.Checker, opts ...Option) fiber.Handler {
	o := buildOptions(opts)
	return func(c *fiber.Ctx) error {
		return respond(c, check(c, checker, &o))
	}
}

// Middleware authenticates the request and, on success, replaces the
// identity headers on the request before calling the next handler.
func Middleware(checker common.Checker, opts ...Option) fiber.Handler {
	o := buildOptions(opts)
	return func(c *fiber.Ctx) error {
		d := check(c, checker, &o)
		if !d.Allowed() {
			return respond(c, d)
		}
		common.CopyIdentity(d, c.Request().Header.Set)
		c.Locals(LocalsKey, d.Identity)
		c.SetUserContext(fwdauth.WithSecurityContext(c.UserContext(), d.Identity))
		return c.Next()
	}
}

// SecurityContextFromLocals retrieves the identity stored by Middleware.
// Returns nil if no identity is present.
func SecurityContextFromLocals(c *fiber.Ctx) *fwdauth.SecurityContext {
	v, _ := c.Locals(LocalsKey).(*fwdauth.SecurityContext)
	return v
}
