package keyset

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestDiscoverURL(t *testing.T) {
	var srv *httptest.Server
	var withJWKS atomic.Bool
	withJWKS.Store(true)
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/openid-configuration" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		jwks := ""
		if withJWKS.Load() {
			jwks = srv.URL + "/.well-known/jwks.json"
		}
		fmt.Fprintf(w, `{"issuer":%q,"jwks_uri":%q,"authorization_endpoint":%q}`, srv.URL, jwks, srv.URL+"/authorize")
	}))
	defer srv.Close()

	got, err := DiscoverURL(t.Context(), srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("DiscoverURL: %v", err)
	}
	if got != srv.URL+"/.well-known/jwks.json" {
		t.Fatalf("jwks uri = %q", got)
	}

	withJWKS.Store(false)
	if _, err := DiscoverURL(t.Context(), srv.URL, srv.Client()); err == nil {
		t.Fatal("expected error for missing jwks_uri")
	}
	if _, err := DiscoverURL(t.Context(), "", nil); err == nil {
		t.Fatal("expected error without issuer")
	}
}
