package rp

import "context"

// WebContext is the slice of the inbound HTTP exchange the extractor needs.
type WebContext interface {
	// RequestParameter returns the first value of a query or form parameter.
	RequestParameter(name string) (string, bool)
	// RequestParameters returns every parameter with all of its values in
	// request order.
	RequestParameters() map[string][]string
	SetResponseHeader(name, value string)
	// RequestURL is the absolute URL of the inbound request.
	RequestURL() string
}

// SessionStore is key-value storage scoped to the caller's session.
type SessionStore interface {
	Get(key string) (any, bool)
	Set(key string, value any)
	// ID returns the session identifier, or "" when none is established.
	ID() string
	Destroy() error
}

// TokenValidator verifies a signed token and returns its claims. A non-empty
// expectedNonce must match the token's nonce claim.
type TokenValidator interface {
	Validate(ctx context.Context, token, expectedNonce string) (map[string]any, error)
}

// LogoutHandler destroys local sessions bound to an OpenID Provider session id.
// sid may be empty for front-channel requests that carry none.
type LogoutHandler interface {
	DestroySessionFront(ctx context.Context, web WebContext, store SessionStore, sid string)
	DestroySessionBack(ctx context.Context, web WebContext, store SessionStore, sid string)
}

// ProviderMetadata is the subset of discovery metadata used on callback.
type ProviderMetadata interface {
	Issuer() string
	SupportsAuthorizationResponseIssuerParam() bool
}
