package server

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"oidcrp/client"
	"oidcrp/profile"
	"oidcrp/rp"
)

const returnToKey = "return_to"

// App bundles runtime dependencies for the HTTP service.
type App struct {
	Config    Config
	Logger    *slog.Logger
	Store     *InMemoryStore
	Sessions  *SessionManager
	Provider  *Provider
	Extractor *rp.Extractor
	Profiles  *ProfileCreator
	Registry  *SessionRegistry
	Metrics   *Metrics
	Proxy     *ProxyManager
	Debug     *DebugCallbackRecorder
	rpConfig  rp.Config
}

// NewApp discovers the provider and wires the callback pipeline.
func NewApp(ctx context.Context, cfg Config, logger *slog.Logger) (*App, error) {
	store := NewInMemoryStore()

	provider, err := DiscoverProvider(ctx, cfg.Client, cfg.CallbackURL(), logger)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(store.Count)
	if err != nil {
		return nil, err
	}

	validator := client.NewValidator(client.ValidatorConfig{
		Issuer:   provider.Issuer(),
		ClientID: cfg.Client.ClientID,
		JWKSURL:  provider.JWKSURL(),
	})

	rpCfg := cfg.RPConfig()
	registry := NewSessionRegistry(store, metrics, logger)
	logout, err := rp.NewLogoutCoordinator(rpCfg, validator, registry, logger)
	if err != nil {
		return nil, err
	}
	extractor, err := rp.NewExtractor(rpCfg, provider, logout, logger)
	if err != nil {
		return nil, err
	}

	if rpCfg.SkipStateCheck {
		logger.Warn("state validation disabled", "client", rpCfg.ClientName)
	}
	if rpCfg.TrustUnverifiedLogoutTokens {
		logger.Warn("logout token validation disabled", "client", rpCfg.ClientName)
	}

	sessions := NewSessionManager(cfg, store, logger)
	proxy, err := NewProxyManager(cfg.Proxy, sessions, store, logger)
	if err != nil {
		return nil, fmt.Errorf("init proxy: %w", err)
	}

	app := &App{
		Config:    cfg,
		Logger:    logger,
		Store:     store,
		Sessions:  sessions,
		Provider:  provider,
		Extractor: extractor,
		Profiles:  NewProfileCreator(cfg.Client, rpCfg, provider, validator, logger),
		Registry:  registry,
		Metrics:   metrics,
		Proxy:     proxy,
		rpConfig:  rpCfg,
	}
	if cfg.Server.DevMode {
		app.Debug = NewDebugCallbackRecorder()
	}
	return app, nil
}

func (a *App) handleLogin(w http.ResponseWriter, r *http.Request) {
	sess := a.Sessions.Open(r)

	state := randomToken()
	nonce := randomToken()
	sess.Set(a.rpConfig.StateAttributeName(), state)
	sess.Set(a.rpConfig.NonceAttributeName(), nonce)
	if target := r.URL.Query().Get(returnToKey); isSafeReturnPath(target) {
		sess.Set(returnToKey, target)
	}

	if err := sess.Save(r, w); err != nil {
		a.Logger.Error("session save", "error", err)
		http.Error(w, "session failure", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, a.Provider.AuthCodeURL(state, nonce), http.StatusFound)
}

func (a *App) handleCallback(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid callback", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	sess := a.Sessions.Open(r)
	web := newWebContext(w, r, a.Config.Server.PublicURL)

	result, err := a.Extractor.Extract(ctx, web, sess)
	if err != nil {
		code := rp.TextCode(err)
		a.Logger.Error("callback failed", "error", err, "code", code, "request_id", RequestIDFromContext(ctx))
		a.Metrics.callback(outcomeFailed, code)
		a.Debug.Record(r, outcomeFailed, code, "")
		a.saveSession(sess, w, r)
		status := rp.HTTPStatus(err)
		http.Error(w, http.StatusText(status), status)
		return
	}

	switch res := result.(type) {
	case rp.Respond:
		a.Metrics.callback(outcomeLogout, rp.TextCode(res.Cause))
		a.Metrics.logoutRequest(res.Status)
		a.Debug.Record(r, outcomeLogout, rp.TextCode(res.Cause), "")
		a.saveSession(sess, w, r)
		w.WriteHeader(res.Status)
		if res.Body != "" {
			_, _ = w.Write([]byte(res.Body))
		}
	case rp.Unauthenticated:
		a.Metrics.callback(outcomeUnauthenticated, "PROVIDER_ERROR")
		a.Debug.Record(r, outcomeUnauthenticated, res.Error.Code, "")
		a.saveSession(sess, w, r)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error":             res.Error.Code,
			"error_description": res.Error.Description,
		})
	case rp.Authenticated:
		a.completeLogin(w, r, sess, res.Credentials)
	default:
		a.Logger.Error("unexpected callback result", "type", fmt.Sprintf("%T", result))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func (a *App) completeLogin(w http.ResponseWriter, r *http.Request, sess *SessionHandle, creds rp.Credentials) {
	p, sid, err := a.Profiles.Create(r.Context(), creds, sess)
	if err != nil {
		a.Logger.Error("profile creation failed", "error", err)
		a.Metrics.callback(outcomeFailed, "PROFILE_CREATION")
		a.Debug.Record(r, outcomeFailed, "PROFILE_CREATION", "")
		http.Error(w, "login failed", http.StatusUnauthorized)
		return
	}

	sess.Remove(a.rpConfig.StateAttributeName())
	sess.Remove(a.rpConfig.NonceAttributeName())
	target := "/me"
	if v, ok := sess.Get(returnToKey); ok {
		if s, _ := v.(string); isSafeReturnPath(s) {
			target = s
		}
		sess.Remove(returnToKey)
	}

	// fresh local id on login
	a.Store.DeleteSession(sess.ID())
	sess.Set(localSessionKey, a.Store.NewID())
	if err := a.Store.SaveProfile(sess.ID(), sid, p, a.Config.Server.SessionTTL); err != nil {
		a.Logger.Error("profile store failed", "error", err)
		http.Error(w, "session failure", http.StatusInternalServerError)
		return
	}
	if err := sess.Save(r, w); err != nil {
		a.Logger.Error("session save", "error", err)
		http.Error(w, "session failure", http.StatusInternalServerError)
		return
	}

	a.Metrics.callback(outcomeAuthenticated, "")
	a.Debug.Record(r, outcomeAuthenticated, "", p.TypedID())
	a.Logger.Info("login", "profile", p.TypedID(), "sid", sid)
	http.Redirect(w, r, target, http.StatusFound)
}

// profileView is the JSON rendering of the logged-in profile.
type profileView struct {
	ID          string         `json:"id"`
	TypedID     string         `json:"typed_id"`
	Client      string         `json:"client"`
	Email       string         `json:"email,omitempty"`
	DisplayName string         `json:"display_name,omitempty"`
	Username    string         `json:"username,omitempty"`
	Locale      string         `json:"locale,omitempty"`
	Roles       []string       `json:"roles"`
	Permissions []string       `json:"permissions"`
	Attributes  map[string]any `json:"attributes"`
}

func newProfileView(p *profile.Profile) profileView {
	v := profileView{
		ID:          p.ID(),
		TypedID:     p.TypedID(),
		Client:      p.ClientName(),
		Email:       p.Email(),
		DisplayName: p.DisplayName(),
		Username:    p.Username(),
		Roles:       p.Roles().Values(),
		Permissions: p.Permissions().Values(),
		Attributes:  p.Attributes().ToMap(),
	}
	if tag, ok := p.Locale(); ok {
		v.Locale = tag.String()
	}
	return v
}

func (a *App) handleMe(w http.ResponseWriter, r *http.Request) {
	sess := a.Sessions.Open(r)
	p, ok, err := a.Store.LoadProfile(sess.ID())
	if err != nil {
		a.Logger.Error("profile decode failed", "error", err)
		http.Error(w, "session failure", http.StatusInternalServerError)
		return
	}
	if !ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "not_authenticated"})
		return
	}
	writeJSON(w, newProfileView(p))
}

func (a *App) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := a.Sessions.Open(r)
	if err := sess.Destroy(); err != nil {
		a.Logger.Error("session destroy", "error", err)
	}
	a.saveSession(sess, w, r)
	writeJSON(w, map[string]string{"status": "logged_out"})
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"status": "ok", "sessions": a.Store.Count()})
}

func (a *App) saveSession(sess *SessionHandle, w http.ResponseWriter, r *http.Request) {
	if err := sess.Save(r, w); err != nil {
		a.Logger.Error("session save", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// isSafeReturnPath accepts only local absolute paths.
func isSafeReturnPath(p string) bool {
	if p == "" || !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") || strings.Contains(p, "\\") {
		return false
	}
	u, err := url.Parse(p)
	return err == nil && u.Scheme == "" && u.Host == ""
}

func randomToken() string {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}
