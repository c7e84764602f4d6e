package fwdauthfasthttp

import (
	"context"
	"net"
	"net/http"
	"testing"

	"github.com/keksclan/goFwdAuth/fwdauth"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

type fakeChecker struct {
	decision fwdauth.Decision
	lastAuth string
}

func (f *fakeChecker) Check(_ context.Context, authorization string) fwdauth.Decision {
	f.lastAuth = authorization
	return f.decision
}

func allowed(t *testing.T) fwdauth.Decision {
	t.Helper()
	sc, err := fwdauth.DefaultClaimMapping().Identify(fwdauth.OriginLocalVerification, map[string]any{
		"sub":       "user-1",
		"tenant_id": "tenant-1",
	})
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	return fwdauth.Decision{Status: http.StatusOK, Header: fwdauth.EncodeIdentity(sc), Identity: sc}
}

// serve runs h on an in-memory listener and performs one request.
func serve(t *testing.T, h fasthttp.RequestHandler, prepare func(*fasthttp.Request)) *fasthttp.Response {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{Handler: h}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Shutdown() })

	client := &fasthttp.Client{Dial: func(string) (net.Conn, error) { return ln.Dial() }}
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	req.SetRequestURI("http://gateway/check")
	prepare(req)

	resp := &fasthttp.Response{}
	if err := client.Do(req, resp); err != nil {
		t.Fatalf("request: %v", err)
	}
	return resp
}

func TestHandler(t *testing.T) {
	checker := &fakeChecker{decision: allowed(t)}
	resp := serve(t, Handler(checker), func(r *fasthttp.Request) {
		r.Header.Set("Authorization", "Bearer abc")
	})

	if resp.StatusCode() != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode())
	}
	if checker.lastAuth != "Bearer abc" {
		t.Errorf("checker saw %q", checker.lastAuth)
	}
	if got := string(resp.Header.Peek(fwdauth.HeaderTenantID)); got != "tenant-1" {
		t.Errorf("tenant header = %q", got)
	}
}

func TestHandlerUnavailable(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "2")
	checker := &fakeChecker{decision: fwdauth.Decision{Status: 503, Reason: fwdauth.ReasonUnavailable, Header: h}}
	resp := serve(t, Handler(checker), func(*fasthttp.Request) {})

	if resp.StatusCode() != http.StatusServiceUnavailable {
		t.Fatalf("status %d", resp.StatusCode())
	}
	if got := string(resp.Header.Peek("Retry-After")); got != "2" {
		t.Errorf("Retry-After = %q", got)
	}
	if got := string(resp.Body()); got != `{"error":"authentication temporarily unavailable"}` {
		t.Errorf("body = %s", got)
	}
}

func TestMiddleware(t *testing.T) {
	var seenUser, seenTenant string
	var sc *fwdauth.SecurityContext
	next := func(ctx *fasthttp.RequestCtx) {
		seenUser = string(ctx.Request.Header.Peek(fwdauth.HeaderUserID))
		seenTenant = string(ctx.Request.Header.Peek(fwdauth.HeaderTenantID))
		sc = SecurityContextFromCtx(ctx)
	}
	resp := serve(t, Middleware(&fakeChecker{decision: allowed(t)}, next), func(r *fasthttp.Request) {
		r.Header.Set("Authorization", "Bearer abc")
		r.Header.Set(fwdauth.HeaderUserID, "attacker")
	})

	if resp.StatusCode() != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode())
	}
	if seenUser != "user-1" || seenTenant != "tenant-1" {
		t.Fatalf("next saw user %q tenant %q", seenUser, seenTenant)
	}
	if sc == nil || sc.UserID() != "user-1" {
		t.Fatalf("security context = %v", sc)
	}
}

func TestMiddlewareRequiredMetadata(t *testing.T) {
	reached := false
	next := func(*fasthttp.RequestCtx) { reached = true }
	checker := &fakeChecker{decision: allowed(t)}
	resp := serve(t, Middleware(checker, next, WithRequiredMetadata("X-Tenant-Hint")), func(r *fasthttp.Request) {
		r.Header.Set("Authorization", "Bearer abc")
	})

	if resp.StatusCode() != http.StatusUnauthorized || reached {
		t.Fatalf("status %d reached %v", resp.StatusCode(), reached)
	}
	if checker.lastAuth != "" {
		t.Fatal("checker called despite missing metadata")
	}
}
