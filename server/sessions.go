package server

import (
	"crypto/rand"
	"log/slog"
	"net/http"

	"github.com/gorilla/sessions"

	"oidcrp/rp"
)

const (
	sessionCookieName = "rp_session"
	localSessionKey   = "local_session_id"
)

// SessionManager hands out per-request session handles backed by a signed
// cookie. Profiles live server-side in the InMemoryStore under the local id.
type SessionManager struct {
	cookies *sessions.CookieStore
	store   *InMemoryStore
	logger  *slog.Logger
}

func NewSessionManager(cfg Config, store *InMemoryStore, logger *slog.Logger) *SessionManager {
	key := []byte(cfg.Server.SessionKey)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			panic(err)
		}
		logger.Warn("no session key configured, using an ephemeral one")
	}

	cookies := sessions.NewCookieStore(key)
	cookies.Options = &sessions.Options{
		Path:     "/",
		Domain:   cfg.Server.CookieDomain,
		MaxAge:   int(cfg.Server.SessionTTL.Seconds()),
		Secure:   !cfg.Server.DevMode,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	return &SessionManager{cookies: cookies, store: store, logger: logger}
}

// Open returns the caller's session, establishing a local id when it has none.
// A cookie that fails to decode yields a fresh session.
func (sm *SessionManager) Open(r *http.Request) *SessionHandle {
	sess, err := sm.cookies.Get(r, sessionCookieName)
	if err != nil {
		sm.logger.Info("session decoding failed, a new empty session will be used", "error", err)
	}
	h := &SessionHandle{sess: sess, store: sm.store}
	if h.ID() == "" {
		h.Set(localSessionKey, sm.store.NewID())
	}
	return h
}

// SessionHandle implements rp.SessionStore over one request's cookie session.
type SessionHandle struct {
	sess  *sessions.Session
	store *InMemoryStore
	dirty bool
}

var _ rp.SessionStore = (*SessionHandle)(nil)

func (h *SessionHandle) Get(key string) (any, bool) {
	v, ok := h.sess.Values[key]
	return v, ok
}

func (h *SessionHandle) Set(key string, value any) {
	h.sess.Values[key] = value
	h.dirty = true
}

// Remove deletes a key, reporting whether it was present.
func (h *SessionHandle) Remove(key string) bool {
	if _, ok := h.sess.Values[key]; !ok {
		return false
	}
	delete(h.sess.Values, key)
	h.dirty = true
	return true
}

func (h *SessionHandle) ID() string {
	id, _ := h.sess.Values[localSessionKey].(string)
	return id
}

// Destroy drops the server-side session and expires the cookie.
func (h *SessionHandle) Destroy() error {
	if id := h.ID(); id != "" {
		h.store.DeleteSession(id)
	}
	for k := range h.sess.Values {
		delete(h.sess.Values, k)
	}
	h.sess.Options.MaxAge = -1
	h.dirty = true
	return nil
}

// Save writes the cookie when the session changed. Call before the body.
func (h *SessionHandle) Save(r *http.Request, w http.ResponseWriter) error {
	if !h.dirty {
		return nil
	}
	h.dirty = false
	return h.sess.Save(r, w)
}
