package fwdauthfiber

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/keksclan/goFwdAuth/fwdauth"
)

type fakeChecker struct {
	decision fwdauth.Decision
	calls    int
	lastAuth string
}

func (f *fakeChecker) Check(_ context.Context, authorization string) fwdauth.Decision {
	f.calls++
	f.lastAuth = authorization
	return f.decision
}

func allowed(t *testing.T) fwdauth.Decision {
	t.Helper()
	sc, err := fwdauth.DefaultClaimMapping().Identify(fwdauth.OriginLocalVerification, map[string]any{
		"sub":   "user-1",
		"roles": []any{"viewer", "admin"},
	})
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	return fwdauth.Decision{Status: http.StatusOK, Header: fwdauth.EncodeIdentity(sc), Identity: sc}
}

func denied(status int, reason, header, value string) fwdauth.Decision {
	h := http.Header{}
	h.Set(header, value)
	return fwdauth.Decision{Status: status, Reason: reason, Header: h}
}

func TestHandlerAllowed(t *testing.T) {
	checker := &fakeChecker{decision: allowed(t)}
	app := fiber.New()
	app.All("/v1/auth/check", Handler(checker))

	req := httptest.NewRequest(http.MethodGet, "/v1/auth/check", nil)
	req.Header.Set("Authorization", "Bearer abc")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if checker.lastAuth != "Bearer abc" {
		t.Errorf("checker saw %q", checker.lastAuth)
	}
	if got := resp.Header.Get(fwdauth.HeaderUserID); got != "user-1" {
		t.Errorf("user header = %q", got)
	}
	if got := resp.Header.Get(fwdauth.HeaderRoles); got != "admin,viewer" {
		t.Errorf("roles header = %q", got)
	}
	if got := resp.Header.Get(fwdauth.HeaderContract); got != fwdauth.ContractVersion {
		t.Errorf("contract header = %q", got)
	}
}

func TestHandlerDenied(t *testing.T) {
	tests := []struct {
		name     string
		decision fwdauth.Decision
		header   string
		value    string
	}{
		{"unauthorized", denied(401, fwdauth.ReasonInvalidToken, "WWW-Authenticate", `Bearer error="invalid_token"`), "WWW-Authenticate", `Bearer error="invalid_token"`},
		{"unavailable", denied(503, fwdauth.ReasonUnavailable, "Retry-After", "1"), "Retry-After", "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Get("/check", Handler(&fakeChecker{decision: tt.decision}))

			resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/check", nil))
			if err != nil {
				t.Fatalf("app.Test: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.decision.Status {
				t.Fatalf("status %d", resp.StatusCode)
			}
			if got := resp.Header.Get(tt.header); got != tt.value {
				t.Errorf("%s = %q", tt.header, got)
			}
			var body map[string]string
			raw, _ := io.ReadAll(resp.Body)
			if err := json.Unmarshal(raw, &body); err != nil {
				t.Fatalf("decode body %q: %v", raw, err)
			}
			if body["error"] != tt.decision.Reason {
				t.Errorf("error = %q", body["error"])
			}
		})
	}
}

func TestMiddlewareOverwritesSpoofedHeaders(t *testing.T) {
	app := fiber.New()
	app.Use(Middleware(&fakeChecker{decision: allowed(t)}))
	app.Get("/api", func(c *fiber.Ctx) error {
		sc := SecurityContextFromLocals(c)
		fromCtx, ok := fwdauth.FromContext(c.UserContext())
		if sc == nil || !ok || fromCtx.UserID() != sc.UserID() {
			return c.SendStatus(fiber.StatusInternalServerError)
		}
		return c.JSON(fiber.Map{
			"user":   c.Get(fwdauth.HeaderUserID),
			"tenant": c.Get(fwdauth.HeaderTenantID),
		})
	})

	req := httptest.NewRequest(http.MethodGet, "/api", nil)
	req.Header.Set("Authorization", "Bearer abc")
	req.Header.Set(fwdauth.HeaderUserID, "attacker")
	req.Header.Set(fwdauth.HeaderTenantID, "someone-elses-tenant")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["user"] != "user-1" || body["tenant"] != "" {
		t.Fatalf("spoofed identity reached handler: %v", body)
	}
}

func TestMiddlewareDeniedSkipsHandler(t *testing.T) {
	reached := false
	app := fiber.New()
	app.Use(Middleware(&fakeChecker{decision: denied(401, fwdauth.ReasonMissingToken, "WWW-Authenticate", "Bearer")}))
	app.Get("/api", func(c *fiber.Ctx) error {
		reached = true
		return nil
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized || reached {
		t.Fatalf("status %d reached %v", resp.StatusCode, reached)
	}
}

func TestRequiredMetadata(t *testing.T) {
	checker := &fakeChecker{decision: allowed(t)}
	app := fiber.New()
	app.Get("/check", Handler(checker, WithRequiredMetadata("X-Request-Id")))

	req := httptest.NewRequest(http.MethodGet, "/check", nil)
	req.Header.Set("Authorization", "Bearer abc")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized || checker.calls != 0 {
		t.Fatalf("status %d, checker calls %d", resp.StatusCode, checker.calls)
	}

	req = httptest.NewRequest(http.MethodGet, "/check", nil)
	req.Header.Set("Authorization", "Bearer abc")
	req.Header.Set("x-request-id", "req-1")
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
}
