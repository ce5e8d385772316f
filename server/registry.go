package server

import (
	"context"
	"log/slog"

	"oidcrp/rp"
)

// Logout channels.
const (
	channelFront = "front"
	channelBack  = "back"
)

// SessionRegistry binds local sessions to provider session ids and destroys
// them on provider-initiated logout.
type SessionRegistry struct {
	store   *InMemoryStore
	metrics *Metrics
	logger  *slog.Logger
}

var _ rp.LogoutHandler = (*SessionRegistry)(nil)

func NewSessionRegistry(store *InMemoryStore, metrics *Metrics, logger *slog.Logger) *SessionRegistry {
	return &SessionRegistry{store: store, metrics: metrics, logger: logger}
}

// DestroySessionBack removes every local session bound to sid. The request
// comes from the provider, so the caller's own session is left alone.
func (r *SessionRegistry) DestroySessionBack(_ context.Context, _ rp.WebContext, _ rp.SessionStore, sid string) {
	removed := r.store.DeleteBySID(sid)
	r.record(channelBack, sid, len(removed))
}

// DestroySessionFront removes the sessions bound to sid, if given, and the
// caller's own session.
func (r *SessionRegistry) DestroySessionFront(_ context.Context, _ rp.WebContext, store rp.SessionStore, sid string) {
	n := 0
	if sid != "" {
		n = len(r.store.DeleteBySID(sid))
	}
	if id := store.ID(); id != "" {
		if _, ok := r.store.GetSession(id); ok {
			n++
		}
	}
	if err := store.Destroy(); err != nil {
		r.logger.Error("cannot destroy session", "error", err)
	}
	r.record(channelFront, sid, n)
}

func (r *SessionRegistry) record(channel, sid string, n int) {
	r.logger.Info("provider logout", "channel", channel, "sid", sid, "destroyed", n)
	if r.metrics != nil {
		r.metrics.sessionsDestroyed(channel, n)
	}
}
