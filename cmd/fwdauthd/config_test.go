package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fwdauthd.yaml")
	if err := os.WriteFile(path, []byte(`
server:
  listen: ":9090"
  read_timeout_ms: 2000
admin:
  users:
    ops: "$2a$10$CwTycUXWue0Thq9StjUM0uJ8.qIUDz5vZLjhLBkwlh0OhBIrTMkhG"
log:
  level: debug
  format: console
auth:
  issuer: https://idp.example.com
  jwks:
    discover_from_issuer: true
`), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FWDAUTH_AUTH_CHECK_DEADLINE_MS", "750")

	d, err := loadConfig(path, filepath.Join(dir, "missing.env"))
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if d.server.Listen != ":9090" || d.server.ReadTimeout != 2*time.Second {
		t.Errorf("server = %+v", d.server)
	}
	if d.server.Admin == nil {
		t.Error("admin verifier not configured")
	}
	if d.log.Level != "debug" || d.log.Output != "stdout" {
		t.Errorf("log = %+v", d.log)
	}
	if !d.auth.JWKS.DiscoverFromIssuer || d.auth.CheckDeadline != 750*time.Millisecond {
		t.Errorf("auth = %+v", d.auth)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
		return p
	}
	for name, path := range map[string]string{
		"missing file": filepath.Join(dir, "absent.yaml"),
		"no key set":   write("empty.yaml", "server:\n  listen: \":1\"\n"),
		"bad log":      write("log.yaml", "log:\n  level: loud\nauth:\n  jwks:\n    url: https://idp.example.com/jwks\n"),
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := loadConfig(path, ""); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
