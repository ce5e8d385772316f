package rp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	jose "github.com/go-jose/go-jose/v3"
	"github.com/go-jose/go-jose/v3/jwt"
)

// LogoutCoordinator handles provider-initiated logout requests arriving on the
// callback endpoint.
type LogoutCoordinator struct {
	cfg       Config
	validator TokenValidator
	handler   LogoutHandler
	logger    *slog.Logger
}

// NewLogoutCoordinator wires a coordinator. validator may be nil only when
// cfg.TrustUnverifiedLogoutTokens is set.
func NewLogoutCoordinator(cfg Config, validator TokenValidator, handler LogoutHandler, logger *slog.Logger) (*LogoutCoordinator, error) {
	if handler == nil {
		return nil, fmt.Errorf("rp: logout handler is required")
	}
	if validator == nil && !cfg.TrustUnverifiedLogoutTokens {
		return nil, fmt.Errorf("rp: token validator is required to verify logout tokens")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LogoutCoordinator{
		cfg:       cfg,
		validator: validator,
		handler:   handler,
		logger:    logger.With("component", "logout", "client", cfg.ClientName),
	}, nil
}

// HandleLogout dispatches a logout request to the back channel when it carries
// a logout token and to the front channel otherwise.
func (c *LogoutCoordinator) HandleLogout(ctx context.Context, web WebContext, store SessionStore) Respond {
	if token, ok := web.RequestParameter(LogoutTokenParameter); ok {
		sid, err := c.backChannelSessionID(ctx, token)
		if err != nil {
			c.logger.Error("rejected back-channel logout", "error", err)
			return Respond{Status: http.StatusBadRequest, Cause: err}
		}
		c.logger.Debug("back-channel logout", "sid", sid)
		c.handler.DestroySessionBack(ctx, web, store, sid)
	} else {
		sid, _ := web.RequestParameter(SessionIDParameter)
		c.logger.Debug("front-channel logout", "sid", sid)
		c.handler.DestroySessionFront(ctx, web, store, sid)
	}

	web.SetResponseHeader("Cache-Control", CacheControlNoStore)
	web.SetResponseHeader("Pragma", PragmaNoCache)
	return Respond{Status: http.StatusOK}
}

func (c *LogoutCoordinator) backChannelSessionID(ctx context.Context, token string) (string, error) {
	if _, err := jose.ParseEncrypted(token); err == nil {
		return "", logoutRejected(nil, "encrypted logout tokens are not accepted")
	}
	parsed, err := jwt.ParseSigned(token)
	if err != nil {
		return "", logoutRejected(err, "cannot parse logout token")
	}

	if c.cfg.TrustUnverifiedLogoutTokens {
		var claims map[string]any
		if err := parsed.UnsafeClaimsWithoutVerification(&claims); err != nil {
			return "", logoutRejected(err, "cannot read logout token claims")
		}
		sid, _ := claims[ClaimSessionID].(string)
		return sid, nil
	}

	claims, err := c.validator.Validate(ctx, token, "")
	if err != nil {
		return "", logoutRejected(err, "invalid logout token")
	}
	if nonce, ok := claims[ClaimNonce]; ok && nonce != nil {
		return "", logoutRejected(nil, "logout token must not carry a nonce claim")
	}
	events, ok := claims[ClaimEvents].(map[string]any)
	if !ok {
		return "", logoutRejected(nil, "logout token has no events claim")
	}
	if _, ok := events[BackChannelLogoutEvent]; !ok {
		return "", logoutRejected(nil, "logout token events claim lacks the back-channel logout event")
	}
	sid, _ := claims[ClaimSessionID].(string)
	if strings.TrimSpace(sid) == "" {
		return "", logoutRejected(nil, "logout token has no sid claim")
	}
	return sid, nil
}
