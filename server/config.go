package server

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"oidcrp/rp"
)

const (
	DefaultSessionTTL   = 12 * time.Hour
	DefaultCallbackPath = "/callback"
	DefaultClientName   = "OidcClient"
)

// Config captures the full application configuration loaded from YAML and environment variables.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Client ClientConfig `yaml:"client"`
	Proxy  ProxyConfig  `yaml:"proxy"`
}

// ServerConfig controls listener, TLS, and session cookie concerns.
type ServerConfig struct {
	PublicURL       string        `yaml:"public_url"`
	DevListenAddr   string        `yaml:"dev_listen_addr"`
	HTTPListenAddr  string        `yaml:"http_listen_addr"`
	HTTPSListenAddr string        `yaml:"https_listen_addr"`
	DevMode         bool          `yaml:"dev_mode"`
	CookieDomain    string        `yaml:"cookie_domain"`
	SessionKey      string        `yaml:"session_key"`
	SessionTTL      time.Duration `yaml:"session_ttl"`
	TLS             TLSConfig     `yaml:"tls"`
}

// TLSConfig defines autocert behaviour.
type TLSConfig struct {
	Domains  []string `yaml:"domains"`
	Email    string   `yaml:"email"`
	CacheDir string   `yaml:"cache_dir"`
}

// ClientConfig describes the relying-party registration at the OpenID Provider.
type ClientConfig struct {
	Name             string   `yaml:"name"`
	Issuer           string   `yaml:"issuer"`
	ClientID         string   `yaml:"client_id"`
	ClientSecret     string   `yaml:"client_secret"`
	CallbackPath     string   `yaml:"callback_path"`
	Scopes           []string `yaml:"scopes"`
	WithState        bool     `yaml:"with_state"`
	LogoutValidation bool     `yaml:"logout_validation"`
	MergeAttributes  bool     `yaml:"merge_attributes"`
	RolesClaim       string   `yaml:"roles_claim"`
	PermissionsClaim string   `yaml:"permissions_claim"`
}

// ProxyConfig defines upstream services reachable behind the login.
type ProxyConfig struct {
	Routes []ProxyRoute `yaml:"routes"`
}

// ProxyRoute maps a path prefix to a backend target.
type ProxyRoute struct {
	Prefix             string   `yaml:"prefix"`
	Target             string   `yaml:"target"`
	StripPrefix        bool     `yaml:"strip_prefix"`
	PreserveHost       bool     `yaml:"preserve_host"`
	Timeout            string   `yaml:"timeout"`
	InsecureSkipVerify bool     `yaml:"insecure_skip_verify"`
	RequiredRoles      []string `yaml:"required_roles"`
	InjectAccessToken  bool     `yaml:"inject_access_token"`
}

// LoadConfig reads the YAML config file and merges environment overrides.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}

		decoder := yaml.NewDecoder(bytes.NewReader(stripYAMLComments(b)))
		decoder.KnownFields(true)

		if err := decoder.Decode(&cfg); err != nil {
			if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
				slog.Error("Configuration contains unknown keys", "error", err, "file", path)
				return Config{}, fmt.Errorf("invalid config: %w (check for typos or deprecated fields)", err)
			}
			slog.Error("Failed to parse configuration", "error", err, "file", path)
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		slog.Error("Configuration validation failed", "error", err)
		return Config{}, err
	}

	return cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			PublicURL:       "http://127.0.0.1:8080",
			DevListenAddr:   "127.0.0.1:8080",
			HTTPListenAddr:  ":80",
			HTTPSListenAddr: ":443",
			DevMode:         true,
			SessionTTL:      DefaultSessionTTL,
			TLS: TLSConfig{
				Domains:  []string{"localhost"},
				CacheDir: ".secrets/tls",
			},
		},
		Client: ClientConfig{
			Name:             DefaultClientName,
			CallbackPath:     DefaultCallbackPath,
			Scopes:           []string{"openid", "profile", "email"},
			WithState:        true,
			LogoutValidation: true,
			MergeAttributes:  true,
		},
	}
}

// DefaultConfig returns the default configuration template.
func DefaultConfig() Config {
	return defaultConfig()
}

func stripYAMLComments(in []byte) []byte {
	lines := bytes.Split(in, []byte("\n"))
	out := make([][]byte, 0, len(lines))
	for _, line := range lines {
		trim := bytes.TrimLeft(line, " \t")
		if len(trim) > 0 && trim[0] == '#' {
			continue
		}
		out = append(out, line)
	}
	return bytes.Join(out, []byte("\n"))
}

func applyEnvOverrides(cfg *Config) {
	overrides := map[string]func(string){
		"OIDCRP_SERVER_PUBLIC_URL":        func(v string) { cfg.Server.PublicURL = v },
		"OIDCRP_SERVER_DEV_LISTEN_ADDR":   func(v string) { cfg.Server.DevListenAddr = v },
		"OIDCRP_SERVER_HTTP_LISTEN_ADDR":  func(v string) { cfg.Server.HTTPListenAddr = v },
		"OIDCRP_SERVER_HTTPS_LISTEN_ADDR": func(v string) { cfg.Server.HTTPSListenAddr = v },
		"OIDCRP_SERVER_DEV_MODE":          func(v string) { cfg.Server.DevMode = parseBool(v, cfg.Server.DevMode) },
		"OIDCRP_SERVER_SESSION_KEY":       func(v string) { cfg.Server.SessionKey = v },
		"OIDCRP_SERVER_SESSION_TTL":       func(v string) { cfg.Server.SessionTTL = parseDuration(v, cfg.Server.SessionTTL) },
		"OIDCRP_SERVER_TLS_DOMAINS":       func(v string) { cfg.Server.TLS.Domains = splitAndTrim(v) },
		"OIDCRP_SERVER_TLS_EMAIL":         func(v string) { cfg.Server.TLS.Email = v },
		"OIDCRP_CLIENT_ISSUER":            func(v string) { cfg.Client.Issuer = v },
		"OIDCRP_CLIENT_ID":                func(v string) { cfg.Client.ClientID = v },
		"OIDCRP_CLIENT_SECRET":            func(v string) { cfg.Client.ClientSecret = v },
		"OIDCRP_CLIENT_SCOPES":            func(v string) { cfg.Client.Scopes = splitAndTrim(v) },
		"OIDCRP_CLIENT_WITH_STATE":        func(v string) { cfg.Client.WithState = parseBool(v, cfg.Client.WithState) },
		"OIDCRP_CLIENT_LOGOUT_VALIDATION": func(v string) { cfg.Client.LogoutValidation = parseBool(v, cfg.Client.LogoutValidation) },
	}

	for key, fn := range overrides {
		if val, ok := os.LookupEnv(key); ok {
			fn(val)
		}
	}
}

func parseDuration(val string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return d
}

func parseBool(val string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate performs sanity checks on the config.
func (c Config) Validate() error {
	if c.Server.PublicURL == "" {
		slog.Error("Missing required configuration", "field", "server.public_url")
		return errors.New("server.public_url is required")
	}
	if !strings.HasPrefix(c.Server.PublicURL, "http://") && !strings.HasPrefix(c.Server.PublicURL, "https://") {
		slog.Error("Invalid configuration value", "field", "server.public_url", "value", c.Server.PublicURL, "reason", "must start with http:// or https://")
		return fmt.Errorf("server.public_url must start with http:// or https://, got: %s", c.Server.PublicURL)
	}

	if !c.Server.DevMode {
		if len(c.Server.TLS.Domains) == 0 {
			slog.Error("Missing required configuration for production mode", "field", "server.tls.domains")
			return errors.New("server.tls.domains must be provided in production")
		}
		if len(c.Server.SessionKey) < 32 {
			slog.Error("Missing required configuration for production mode", "field", "server.session_key", "reason", "at least 32 bytes")
			return errors.New("server.session_key must be at least 32 bytes in production")
		}
	}

	if c.Server.SessionTTL <= 0 {
		slog.Error("Invalid configuration value", "field", "server.session_ttl", "value", c.Server.SessionTTL)
		return fmt.Errorf("server.session_ttl must be positive, got: %s", c.Server.SessionTTL)
	}

	if c.Server.CookieDomain != "" {
		u, err := url.Parse(c.Server.PublicURL)
		if err != nil {
			return fmt.Errorf("server.public_url: %w", err)
		}
		host := u.Hostname()
		cookieDomain := strings.TrimPrefix(c.Server.CookieDomain, ".")
		if !strings.HasSuffix(host, cookieDomain) {
			slog.Error("Cookie domain mismatch",
				"field", "server.cookie_domain",
				"cookie_domain", c.Server.CookieDomain,
				"public_url_domain", host,
				"reason", "cookie_domain must be a suffix of public_url domain")
			return fmt.Errorf("server.cookie_domain '%s' does not match server.public_url domain '%s'", c.Server.CookieDomain, host)
		}
	}

	if strings.TrimSpace(c.Client.Name) == "" {
		slog.Error("Missing required configuration", "field", "client.name")
		return errors.New("client.name is required")
	}
	if c.Client.Issuer == "" {
		slog.Error("Missing required configuration", "field", "client.issuer")
		return errors.New("client.issuer is required")
	}
	if !strings.HasPrefix(c.Client.Issuer, "http://") && !strings.HasPrefix(c.Client.Issuer, "https://") {
		slog.Error("Invalid configuration value", "field", "client.issuer", "value", c.Client.Issuer)
		return fmt.Errorf("client.issuer must start with http:// or https://, got: %s", c.Client.Issuer)
	}
	if c.Client.ClientID == "" {
		slog.Error("Missing required configuration", "field", "client.client_id")
		return errors.New("client.client_id is required")
	}
	if !strings.HasPrefix(c.Client.CallbackPath, "/") {
		slog.Error("Invalid configuration value", "field", "client.callback_path", "value", c.Client.CallbackPath)
		return fmt.Errorf("client.callback_path must start with /, got: %q", c.Client.CallbackPath)
	}

	seen := make(map[string]bool)
	for i, route := range c.Proxy.Routes {
		prefix := strings.TrimSuffix(route.Prefix, "/")
		if prefix == "" || !strings.HasPrefix(prefix, "/") {
			slog.Error("Proxy route missing prefix", "index", i, "prefix", route.Prefix)
			return fmt.Errorf("proxy.routes[%d]: prefix must be an absolute path other than /", i)
		}
		if reservedPath(prefix, c.Client.CallbackPath) {
			slog.Error("Proxy route shadows a built-in path", "prefix", prefix, "index", i)
			return fmt.Errorf("proxy.routes[%d] (%s): prefix collides with a built-in path", i, prefix)
		}
		if seen[prefix] {
			return fmt.Errorf("proxy.routes[%d] (%s): duplicate prefix", i, prefix)
		}
		seen[prefix] = true
		if !strings.HasPrefix(route.Target, "http://") && !strings.HasPrefix(route.Target, "https://") {
			slog.Error("Invalid proxy target URL", "prefix", prefix, "target", route.Target, "reason", "must be a valid HTTP(S) URL")
			return fmt.Errorf("proxy.routes[%d] (%s): target must start with http:// or https://, got: %s", i, prefix, route.Target)
		}
		if route.Timeout != "" {
			if _, err := time.ParseDuration(route.Timeout); err != nil {
				slog.Error("Invalid proxy route timeout", "prefix", prefix, "timeout", route.Timeout, "error", err)
				return fmt.Errorf("proxy.routes[%d] (%s): invalid timeout duration '%s': %w", i, prefix, route.Timeout, err)
			}
		}
	}

	return nil
}

func reservedPath(prefix, callbackPath string) bool {
	for _, p := range []string{callbackPath, "/login", "/me", "/logout", "/healthz", "/metrics", "/dev"} {
		if prefix == p || strings.HasPrefix(p, prefix+"/") {
			return true
		}
	}
	return false
}

// CallbackURL is the absolute redirect URI registered with the provider.
func (c Config) CallbackURL() string {
	return strings.TrimSuffix(c.Server.PublicURL, "/") + c.Client.CallbackPath
}

// RPConfig threads the client section into the callback extractor.
func (c Config) RPConfig() rp.Config {
	return rp.Config{
		ClientName:                  c.Client.Name,
		CallbackURL:                 c.CallbackURL(),
		SkipStateCheck:              !c.Client.WithState,
		TrustUnverifiedLogoutTokens: !c.Client.LogoutValidation,
	}
}
