// Package rp turns an OpenID Connect callback request into credentials, or
// into a logout answer when the provider calls back to end a session.
package rp

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Extractor reads the callback of one relying-party client.
type Extractor struct {
	cfg      Config
	metadata ProviderMetadata
	logout   *LogoutCoordinator
	logger   *slog.Logger
	now      func() time.Time
}

func NewExtractor(cfg Config, metadata ProviderMetadata, logout *LogoutCoordinator, logger *slog.Logger) (*Extractor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if metadata == nil {
		return nil, fmt.Errorf("rp: provider metadata is required")
	}
	if logout == nil {
		return nil, fmt.Errorf("rp: logout coordinator is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		cfg:      cfg,
		metadata: metadata,
		logout:   logout,
		logger:   logger.With("component", "callback", "client", cfg.ClientName),
		now:      time.Now,
	}, nil
}

// Extract classifies one callback request. A returned error is a technical
// failure the host reports as an authentication error; every other outcome is
// carried by the Result.
func (e *Extractor) Extract(ctx context.Context, web WebContext, store SessionStore) (Result, error) {
	if _, ok := web.RequestParameter(LogoutEndpointParameter); ok {
		return e.logout.HandleLogout(ctx, web, store), nil
	}

	callbackURL, err := e.cfg.ResolveCallbackURL(web.RequestURL())
	if err != nil {
		return nil, wrapTechnical(err, TextCodeResponseInvalid, "cannot compute callback url")
	}
	params := make(map[string][]string)
	for name, values := range web.RequestParameters() {
		params[name] = append([]string(nil), values...)
	}
	e.logger.Debug("authentication response", "url", callbackURL, "params", len(params))

	resp, err := ParseAuthenticationResponse(callbackURL, params, e.now())
	if err != nil {
		return nil, wrapTechnical(err, TextCodeResponseInvalid, "cannot parse authentication response")
	}

	switch r := resp.(type) {
	case *ErrorResponse:
		e.logger.Error("bad authentication response", "error", r.Error.String())
		return Unauthenticated{Error: r.Error}, nil
	case *SuccessResponse:
		creds, err := e.accept(store, r)
		if err != nil {
			return nil, err
		}
		return Authenticated{Credentials: creds}, nil
	default:
		return nil, technicalError(TextCodeResponseInvalid, fmt.Sprintf("unexpected response type %T", resp))
	}
}

func (e *Extractor) accept(store SessionStore, resp *SuccessResponse) (Credentials, error) {
	if e.metadata.SupportsAuthorizationResponseIssuerParam() && e.metadata.Issuer() != resp.Issuer {
		e.logger.Error("issuer mismatch", "expected", e.metadata.Issuer(), "got", resp.Issuer)
		return Credentials{}, technicalError(TextCodeIssuerMismatch, "issuer mismatch, possible mix-up attack")
	}

	if !e.cfg.SkipStateCheck {
		expected, _ := store.Get(e.cfg.StateAttributeName())
		state, _ := expected.(string)
		if state == "" {
			e.logger.Error("missing state parameter in session", "key", e.cfg.StateAttributeName())
			return Credentials{}, technicalError(TextCodeStateUnknown, "state cannot be determined")
		}
		e.logger.Debug("checking state", "expected", state, "received", resp.State)
		if resp.State == "" {
			return Credentials{}, technicalError(TextCodeStateMissing, "missing state parameter")
		}
		if resp.State != state {
			return Credentials{}, technicalError(TextCodeStateMismatch, "state parameter is different from the one sent in authentication request")
		}
	}

	creds := Credentials{Code: resp.Code, IDToken: resp.IDToken, AccessToken: resp.AccessToken}
	if creds.IsEmpty() {
		return Credentials{}, technicalError(TextCodeEmptyCredentials, "no credentials found")
	}
	return creds, nil
}
