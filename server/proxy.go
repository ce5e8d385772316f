package server

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sort"
	"strings"
	"time"

	"oidcrp/profile"
)

// Headers injected into upstream requests. Inbound copies are always removed.
const (
	HeaderAuthSubject     = "X-Auth-Subject"
	HeaderAuthProfile     = "X-Auth-Profile"
	HeaderAuthClient      = "X-Auth-Client"
	HeaderAuthEmail       = "X-Auth-Email"
	HeaderAuthName        = "X-Auth-Name"
	HeaderAuthRoles       = "X-Auth-Roles"
	HeaderAuthPermissions = "X-Auth-Permissions"
)

var authHeaders = []string{
	HeaderAuthSubject,
	HeaderAuthProfile,
	HeaderAuthClient,
	HeaderAuthEmail,
	HeaderAuthName,
	HeaderAuthRoles,
	HeaderAuthPermissions,
}

// ProxyManager forwards requests under configured path prefixes to upstream
// services once the caller holds a logged-in profile.
type ProxyManager struct {
	routes   []*proxyRoute
	sessions *SessionManager
	store    *InMemoryStore
	logger   *slog.Logger
}

type proxyRoute struct {
	prefix            string
	target            string
	proxy             *httputil.ReverseProxy
	requiredRoles     []string
	injectAccessToken bool
}

// NewProxyManager creates a proxy manager from configuration.
func NewProxyManager(cfg ProxyConfig, sessions *SessionManager, store *InMemoryStore, logger *slog.Logger) (*ProxyManager, error) {
	pm := &ProxyManager{
		sessions: sessions,
		store:    store,
		logger:   logger,
	}

	for _, routeCfg := range cfg.Routes {
		if err := pm.addRoute(routeCfg); err != nil {
			return nil, fmt.Errorf("invalid proxy route for %s: %w", routeCfg.Prefix, err)
		}
	}

	// longest prefix first
	sort.Slice(pm.routes, func(i, j int) bool { return len(pm.routes[i].prefix) > len(pm.routes[j].prefix) })
	return pm, nil
}

func (pm *ProxyManager) addRoute(cfg ProxyRoute) error {
	prefix := strings.TrimSuffix(cfg.Prefix, "/")
	if prefix == "" || !strings.HasPrefix(prefix, "/") {
		return fmt.Errorf("prefix must be a non-root absolute path")
	}
	if cfg.Target == "" {
		return fmt.Errorf("target is required")
	}

	targetURL, err := url.Parse(cfg.Target)
	if err != nil {
		return fmt.Errorf("invalid target URL: %w", err)
	}

	timeout := 30 * time.Second
	if cfg.Timeout != "" {
		parsed, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return fmt.Errorf("invalid timeout: %w", err)
		}
		timeout = parsed
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	proxy := httputil.NewSingleHostReverseProxy(targetURL)
	proxy.Transport = transport

	originalDirector := proxy.Director
	proxy.Director = func(req *http.Request) {
		if cfg.StripPrefix {
			req.URL.Path = strings.TrimPrefix(req.URL.Path, prefix)
			if req.URL.Path == "" {
				req.URL.Path = "/"
			}
			req.URL.RawPath = ""
		}

		originalDirector(req)

		if !cfg.PreserveHost {
			req.Host = targetURL.Host
		}
		req.Header.Set("X-Forwarded-Proto", schemeFromRequest(req))
		req.Header.Set("X-Forwarded-Prefix", prefix)
	}

	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		pm.logger.Error("proxy error",
			"prefix", prefix,
			"target", cfg.Target,
			"error", err,
			"path", r.URL.Path,
		)
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
	}

	pm.routes = append(pm.routes, &proxyRoute{
		prefix:            prefix,
		target:            cfg.Target,
		proxy:             proxy,
		requiredRoles:     cfg.RequiredRoles,
		injectAccessToken: cfg.InjectAccessToken,
	})
	pm.logger.Info("proxy route added",
		"prefix", prefix,
		"target", cfg.Target,
		"roles", cfg.RequiredRoles,
	)

	return nil
}

// Prefixes lists the mounted path prefixes.
func (pm *ProxyManager) Prefixes() []string {
	out := make([]string, 0, len(pm.routes))
	for _, r := range pm.routes {
		out = append(out, r.prefix)
	}
	return out
}

func (pm *ProxyManager) match(path string) *proxyRoute {
	for _, r := range pm.routes {
		if path == r.prefix || strings.HasPrefix(path, r.prefix+"/") {
			return r
		}
	}
	return nil
}

// ServeHTTP authorizes the caller against its stored profile and forwards the
// request with the profile projected into X-Auth-* headers.
func (pm *ProxyManager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	route := pm.match(r.URL.Path)
	if route == nil {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	sess := pm.sessions.Open(r)
	p, ok, err := pm.store.LoadProfile(sess.ID())
	if err != nil {
		pm.logger.Error("profile decode failed", "error", err)
		http.Error(w, "session failure", http.StatusInternalServerError)
		return
	}
	if !ok {
		pm.logger.Debug("no profile for proxied request", "prefix", route.prefix, "path", r.URL.Path)
		if r.Method == http.MethodGet {
			http.Redirect(w, r, "/login?"+url.Values{returnToKey: {r.URL.RequestURI()}}.Encode(), http.StatusFound)
			return
		}
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if !hasRequiredRoles(p.Roles(), route.requiredRoles) {
		pm.logger.Debug("insufficient roles",
			"prefix", route.prefix,
			"profile", p.TypedID(),
			"required", route.requiredRoles,
		)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	out := r.Clone(r.Context())
	injectProfileHeaders(out.Header, p)
	if route.injectAccessToken {
		if at, ok := p.AuthenticationAttribute(AuthAttrAccessToken); ok {
			if s, _ := at.(string); s != "" {
				out.Header.Set("Authorization", "Bearer "+s)
			}
		}
	}

	pm.logger.Debug("proxying request",
		"prefix", route.prefix,
		"path", r.URL.Path,
		"method", r.Method,
	)
	route.proxy.ServeHTTP(w, out)
}

func injectProfileHeaders(h http.Header, p *profile.Profile) {
	for _, name := range authHeaders {
		h.Del(name)
	}
	// the session cookie stays on the RP
	h.Del("Cookie")

	h.Set(HeaderAuthSubject, p.ID())
	h.Set(HeaderAuthProfile, p.TypedID())
	if v := p.ClientName(); v != "" {
		h.Set(HeaderAuthClient, v)
	}
	if v := p.Email(); v != "" {
		h.Set(HeaderAuthEmail, v)
	}
	if v := p.DisplayName(); v != "" {
		h.Set(HeaderAuthName, v)
	}
	if roles := p.Roles().Values(); len(roles) > 0 {
		h.Set(HeaderAuthRoles, strings.Join(roles, ","))
	}
	if perms := p.Permissions().Values(); len(perms) > 0 {
		h.Set(HeaderAuthPermissions, strings.Join(perms, ","))
	}
}

func hasRequiredRoles(granted profile.Set, required []string) bool {
	for _, role := range required {
		if !granted.Contains(role) {
			return false
		}
	}
	return true
}

func schemeFromRequest(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		return proto
	}
	return "http"
}
