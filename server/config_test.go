package server

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"oidcrp/profile"
	"oidcrp/rp"
)

func validConfig() Config {
	cfg := DefaultConfig()
	cfg.Client.Issuer = "https://op.example.com"
	cfg.Client.ClientID = "web"
	return cfg
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigAppliesEnvOverrides(t *testing.T) {
	path := writeConfig(t, `server:
  public_url: http://localhost:8080
  dev_mode: true
  session_ttl: 2h
# provider registration
client:
  issuer: https://op.example.com
  client_id: web
  client_secret: s3cret
  scopes: ["openid", "profile"]
  roles_claim: groups
proxy:
  routes:
    - prefix: /app
      target: http://127.0.0.1:3002
      required_roles: ["admin"]
`)

	t.Setenv("OIDCRP_SERVER_PUBLIC_URL", "https://rp.example.com")
	t.Setenv("OIDCRP_CLIENT_LOGOUT_VALIDATION", "off")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}

	if cfg.Server.PublicURL != "https://rp.example.com" {
		t.Fatalf("PublicURL override mismatch, got %q", cfg.Server.PublicURL)
	}
	if cfg.Server.SessionTTL != 2*time.Hour {
		t.Fatalf("expected session ttl 2h, got %s", cfg.Server.SessionTTL)
	}
	if cfg.Client.LogoutValidation {
		t.Fatal("expected logout validation to be disabled by env")
	}
	if !cfg.Client.WithState {
		t.Fatal("expected state validation to keep its default")
	}
	if cfg.Client.RolesClaim != "groups" || cfg.Client.Name != DefaultClientName {
		t.Fatalf("unexpected client section: %+v", cfg.Client)
	}
	if len(cfg.Proxy.Routes) != 1 || cfg.Proxy.Routes[0].RequiredRoles[0] != "admin" {
		t.Fatalf("unexpected proxy section: %+v", cfg.Proxy)
	}
}

func TestLoadConfigRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `server:
  public_url: http://localhost:8080
  unknown_field: value
client:
  issuer: https://op.example.com
  client_id: web
`)

	_, err := LoadConfig(path)
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
	if !strings.Contains(err.Error(), "invalid config") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMergeAttributesDefault(t *testing.T) {
	tests := []struct {
		name string
		body string
		want profile.Mode
	}{
		{name: "unset merges", body: "", want: profile.Merge},
		{name: "explicit false replaces", body: "  merge_attributes: false\n", want: profile.Replace},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "client:\n  issuer: https://op.example.com\n  client_id: web\n"+tt.body)
			cfg, err := LoadConfig(path)
			if err != nil {
				t.Fatalf("LoadConfig returned error: %v", err)
			}
			creator := NewProfileCreator(cfg.Client, cfg.RPConfig(), nil, nil, discardLogger())
			p, err := creator.build(map[string]any{"sub": "alice"}, "id-token", nil)
			if err != nil {
				t.Fatalf("build returned error: %v", err)
			}
			if p.Mode() != tt.want {
				t.Fatalf("expected mode %v, got %v", tt.want, p.Mode())
			}
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing public url", mutate: func(c *Config) { c.Server.PublicURL = "" }, wantErr: "server.public_url is required"},
		{name: "bad public url", mutate: func(c *Config) { c.Server.PublicURL = "rp.example.com" }, wantErr: "must start with http"},
		{name: "prod without domains", mutate: func(c *Config) {
			c.Server.DevMode = false
			c.Server.TLS.Domains = nil
		}, wantErr: "server.tls.domains"},
		{name: "prod with short session key", mutate: func(c *Config) {
			c.Server.DevMode = false
			c.Server.SessionKey = "short"
		}, wantErr: "server.session_key"},
		{name: "non-positive ttl", mutate: func(c *Config) { c.Server.SessionTTL = 0 }, wantErr: "server.session_ttl"},
		{name: "cookie domain mismatch", mutate: func(c *Config) {
			c.Server.PublicURL = "https://rp.example.com"
			c.Server.CookieDomain = ".other.com"
		}, wantErr: "server.cookie_domain"},
		{name: "cookie domain suffix", mutate: func(c *Config) {
			c.Server.PublicURL = "https://rp.example.com:8443"
			c.Server.CookieDomain = ".example.com"
		}},
		{name: "blank client name", mutate: func(c *Config) { c.Client.Name = " " }, wantErr: "client.name"},
		{name: "missing issuer", mutate: func(c *Config) { c.Client.Issuer = "" }, wantErr: "client.issuer is required"},
		{name: "bad issuer", mutate: func(c *Config) { c.Client.Issuer = "op.example.com" }, wantErr: "client.issuer must start"},
		{name: "missing client id", mutate: func(c *Config) { c.Client.ClientID = "" }, wantErr: "client.client_id"},
		{name: "relative callback path", mutate: func(c *Config) { c.Client.CallbackPath = "callback" }, wantErr: "client.callback_path"},
		{name: "proxy route", mutate: func(c *Config) {
			c.Proxy.Routes = []ProxyRoute{{Prefix: "/app/", Target: "http://127.0.0.1:3002", Timeout: "5s"}}
		}},
		{name: "proxy root prefix", mutate: func(c *Config) {
			c.Proxy.Routes = []ProxyRoute{{Prefix: "/", Target: "http://127.0.0.1:3002"}}
		}, wantErr: "prefix must be an absolute path"},
		{name: "proxy shadows callback", mutate: func(c *Config) {
			c.Proxy.Routes = []ProxyRoute{{Prefix: "/callback", Target: "http://127.0.0.1:3002"}}
		}, wantErr: "collides with a built-in path"},
		{name: "proxy duplicate prefix", mutate: func(c *Config) {
			c.Proxy.Routes = []ProxyRoute{
				{Prefix: "/app", Target: "http://127.0.0.1:3002"},
				{Prefix: "/app/", Target: "http://127.0.0.1:3003"},
			}
		}, wantErr: "duplicate prefix"},
		{name: "proxy bad target", mutate: func(c *Config) {
			c.Proxy.Routes = []ProxyRoute{{Prefix: "/app", Target: "127.0.0.1:3002"}}
		}, wantErr: "target must start with http"},
		{name: "proxy bad timeout", mutate: func(c *Config) {
			c.Proxy.Routes = []ProxyRoute{{Prefix: "/app", Target: "http://127.0.0.1:3002", Timeout: "soon"}}
		}, wantErr: "invalid timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestRPConfigInvertsFlags(t *testing.T) {
	cfg := validConfig()
	cfg.Server.PublicURL = "https://rp.example.com/"
	cfg.Client.WithState = false
	cfg.Client.LogoutValidation = false

	want := rp.Config{
		ClientName:                  DefaultClientName,
		CallbackURL:                 "https://rp.example.com/callback",
		SkipStateCheck:              true,
		TrustUnverifiedLogoutTokens: true,
	}
	if diff := cmp.Diff(want, cfg.RPConfig()); diff != "" {
		t.Fatalf("rp config mismatch (-want +got):\n%s", diff)
	}

	if strict := validConfig().RPConfig(); strict.SkipStateCheck || strict.TrustUnverifiedLogoutTokens {
		t.Fatalf("defaults must be strict, got %+v", strict)
	}
}

func TestSplitAndTrimRemovesEmpty(t *testing.T) {
	got := splitAndTrim(" openid, ,profile ,email,")
	if diff := cmp.Diff([]string{"openid", "profile", "email"}, got); diff != "" {
		t.Fatalf("splitAndTrim mismatch (-want +got):\n%s", diff)
	}
}

func TestParseBoolFallback(t *testing.T) {
	tests := []struct {
		in       string
		fallback bool
		want     bool
	}{
		{"yes", false, true},
		{"OFF", true, false},
		{"maybe", true, true},
		{"", false, false},
	}
	for _, tt := range tests {
		if got := parseBool(tt.in, tt.fallback); got != tt.want {
			t.Fatalf("parseBool(%q, %v) = %v, want %v", tt.in, tt.fallback, got, tt.want)
		}
	}
}

func TestParseDurationFallback(t *testing.T) {
	if got := parseDuration("bogus", time.Minute); got != time.Minute {
		t.Fatalf("expected fallback, got %s", got)
	}
	if got := parseDuration("90s", time.Minute); got != 90*time.Second {
		t.Fatalf("expected 90s, got %s", got)
	}
}
