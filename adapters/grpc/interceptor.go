// Package fwdauthgrpc provides gRPC interceptors backed by a gateway check.
//
// The interceptors read the "authorization" metadata key and ask the checker
// for a decision. On success, the *fwdauth.SecurityContext is injected into
// the context and can be retrieved with fwdauth.FromContext. A 401 decision
// becomes codes.Unauthenticated and a 503 decision codes.Unavailable.
//
// Concurrency: All exported functions are safe for concurrent use.
package fwdauthgrpc

import (
	"context"
	"net/http"
	"strings"

	"github.com/keksclan/goFwdAuth/adapters/common"
	"github.com/keksclan/goFwdAuth/fwdauth"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// Option configures the gRPC interceptors.
type Option func(*options)

type options struct {
	required common.RequiredMetadata
	skip     map[string]bool
}

// WithRequiredMetadata specifies metadata keys that must be present in
// incoming gRPC metadata before authentication proceeds.
func WithRequiredMetadata(keys ...string) Option {
	return func(o *options) {
		o.required.Keys = keys
	}
}

// WithSkipMethods leaves the named full methods, such as
// "/grpc.health.v1.Health/Check", unauthenticated.
func WithSkipMethods(methods ...string) Option {
	return func(o *options) {
		for _, m := range methods {
			o.skip[m] = true
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{skip: make(map[string]bool)}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// UnaryServerInterceptor returns a gRPC unary server interceptor that
// authenticates requests through checker.
func UnaryServerInterceptor(checker common.Checker, opts ...Option) grpc.UnaryServerInterceptor {
	o := buildOptions(opts)
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		if o.skip[info.FullMethod] {
			return handler(ctx, req)
		}
		newCtx, err := authenticate(ctx, checker, &o)
		if err != nil {
			return nil, err
		}
		return handler(newCtx, req)
	}
}

// StreamServerInterceptor returns a gRPC stream server interceptor that
// authenticates requests through checker.
//
// Behavior is identical to UnaryServerInterceptor but for streaming RPCs.
func StreamServerInterceptor(checker common.Checker, opts ...Option) grpc.StreamServerInterceptor {
	o := buildOptions(opts)
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		if o.skip[info.FullMethod] {
			return handler(srv, ss)
		}
		newCtx, err := authenticate(ss.Context(), checker, &o)
		if err != nil {
			return err
		}
		return handler(srv, &wrappedStream{ServerStream: ss, ctx: newCtx})
	}
}

// wrappedStream overrides the context of a grpc.ServerStream.
type wrappedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedStream) Context() context.Context { return w.ctx }

// grpcMetadataExtractor adapts gRPC incoming metadata to the MetadataExtractor interface.
type grpcMetadataExtractor struct {
	md metadata.MD
}

func (e *grpcMetadataExtractor) Get(key string) (string, bool) {
	// gRPC metadata keys are always lower-case.
	vals := e.md.Get(strings.ToLower(key))
	if len(vals) == 0 {
		return "", false
	}
	return vals[0], true
}

func authenticate(ctx context.Context, checker common.Checker, o *options) (context.Context, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	if err := o.required.Validate(&grpcMetadataExtractor{md: md}); err != nil {
		return ctx, status.Error(codes.Unauthenticated, err.Error())
	}

	var authorization string
	if vals := md.Get("authorization"); len(vals) > 0 {
		authorization = vals[0]
	}
	d := checker.Check(ctx, authorization)
	switch d.Status {
	case http.StatusOK:
		return fwdauth.WithSecurityContext(ctx, d.Identity), nil
	case http.StatusUnauthorized:
		return ctx, status.Error(codes.Unauthenticated, d.Reason)
	default:
		return ctx, status.Error(codes.Unavailable, d.Reason)
	}
}
