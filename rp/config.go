package rp

import (
	"fmt"
	"net/url"
	"strings"
)

// Request parameters and claims read by the extractor.
const (
	LogoutEndpointParameter = "logoutendpoint"
	LogoutTokenParameter    = "logout_token"
	SessionIDParameter      = "sid"

	ClaimSessionID = "sid"
	ClaimNonce     = "nonce"
	ClaimEvents    = "events"

	BackChannelLogoutEvent = "http://schemas.openid.net/event/backchannel-logout"
)

// Response header values sent with every handled logout request.
const (
	CacheControlNoStore = "no-cache, no-store"
	PragmaNoCache       = "no-cache"
)

// Config describes one relying-party client. The zero value of every flag is
// the strict behaviour.
type Config struct {
	// ClientName scopes the session attributes of this client.
	ClientName string
	// CallbackURL is the redirect URI registered with the provider. Relative
	// values are resolved against the inbound request URL.
	CallbackURL string
	// SkipStateCheck disables CSRF state validation on callback.
	SkipStateCheck bool
	// TrustUnverifiedLogoutTokens reads the sid claim of a back-channel logout
	// token without verifying its signature or its claims. This is a weaker
	// mode for deployments whose logout channel is otherwise authenticated.
	TrustUnverifiedLogoutTokens bool
}

// Validate checks the fields every component relies on.
func (c Config) Validate() error {
	if strings.TrimSpace(c.ClientName) == "" {
		return fmt.Errorf("rp: client name is required")
	}
	if strings.TrimSpace(c.CallbackURL) == "" {
		return fmt.Errorf("rp: callback url is required")
	}
	if _, err := url.Parse(c.CallbackURL); err != nil {
		return fmt.Errorf("rp: invalid callback url: %w", err)
	}
	return nil
}

// StateAttributeName is the session key holding the expected state value.
func (c Config) StateAttributeName() string {
	return c.ClientName + "$stateSessionParameter"
}

// NonceAttributeName is the session key holding the expected nonce value.
func (c Config) NonceAttributeName() string {
	return c.ClientName + "$nonceSessionParameter"
}

// ResolveCallbackURL returns the absolute callback URL for a request.
func (c Config) ResolveCallbackURL(requestURL string) (string, error) {
	cb, err := url.Parse(c.CallbackURL)
	if err != nil {
		return "", err
	}
	if cb.IsAbs() {
		return cb.String(), nil
	}
	base, err := url.Parse(requestURL)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(cb).String(), nil
}
