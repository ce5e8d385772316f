package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes constructs the HTTP router.
func (a *App) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(a.Logger))
	r.Use(RecoveryMiddleware(a.Logger))
	if !a.Config.Server.DevMode {
		r.Use(SecurityHeadersMiddleware(63072000))
	}

	callback := a.Metrics.instrument("callback", a.handleCallback)
	r.Get(a.Config.Client.CallbackPath, callback)
	r.Post(a.Config.Client.CallbackPath, callback)

	r.Get("/login", a.Metrics.instrument("login", a.handleLogin))
	r.Get("/me", a.Metrics.instrument("me", a.handleMe))
	r.Get("/logout", a.Metrics.instrument("logout", a.handleLogout))
	r.Get("/healthz", a.handleHealth)
	r.Method(http.MethodGet, "/metrics", a.Metrics.Handler())

	if a.Config.Server.DevMode {
		r.Get("/dev/callbacks", a.handleDevCallbacks)
	}

	proxy := a.Metrics.instrument("proxy", a.Proxy.ServeHTTP)
	for _, prefix := range a.Proxy.Prefixes() {
		r.Handle(prefix, proxy)
		r.Handle(prefix+"/*", proxy)
	}

	return r
}
