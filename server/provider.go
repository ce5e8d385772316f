package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"oidcrp/rp"
)

// Provider is the discovered OpenID Provider plus the oauth2 client for it.
type Provider struct {
	issuer      string
	issParam    bool
	jwksURL     string
	oauthConfig *oauth2.Config
	logger      *slog.Logger
}

var _ rp.ProviderMetadata = (*Provider)(nil)

type discoveryExtras struct {
	JWKSURI                 string `json:"jwks_uri"`
	IssParameterSupported   bool   `json:"authorization_response_iss_parameter_supported"`
	EndSessionEndpoint      string `json:"end_session_endpoint"`
	BackchannelLogout       bool   `json:"backchannel_logout_supported"`
	FrontchannelLogout      bool   `json:"frontchannel_logout_supported"`
	BackchannelLogoutSessID bool   `json:"backchannel_logout_session_supported"`
}

// DiscoverProvider loads the provider's metadata from its discovery document.
func DiscoverProvider(ctx context.Context, client ClientConfig, redirect string, logger *slog.Logger) (*Provider, error) {
	if client.Issuer == "" {
		return nil, fmt.Errorf("issuer required for client %s", client.Name)
	}

	op, err := oidc.NewProvider(ctx, client.Issuer)
	if err != nil {
		return nil, fmt.Errorf("discover provider %s: %w", client.Issuer, err)
	}

	var extras discoveryExtras
	if err := op.Claims(&extras); err != nil {
		return nil, fmt.Errorf("read discovery metadata: %w", err)
	}

	endpoint := op.Endpoint()
	if client.ClientSecret == "" {
		endpoint.AuthStyle = oauth2.AuthStyleInParams
	}

	scopes := client.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID}
	}

	logger.Info("discovered provider",
		"issuer", client.Issuer,
		"iss_parameter", extras.IssParameterSupported,
		"backchannel_logout", extras.BackchannelLogout,
		"frontchannel_logout", extras.FrontchannelLogout)

	return &Provider{
		issuer:   client.Issuer,
		issParam: extras.IssParameterSupported,
		jwksURL:  extras.JWKSURI,
		oauthConfig: &oauth2.Config{
			ClientID:     client.ClientID,
			ClientSecret: client.ClientSecret,
			RedirectURL:  redirect,
			Endpoint:     endpoint,
			Scopes:       scopes,
		},
		logger: logger,
	}, nil
}

func (p *Provider) Issuer() string { return p.issuer }

func (p *Provider) SupportsAuthorizationResponseIssuerParam() bool { return p.issParam }

func (p *Provider) JWKSURL() string { return p.jwksURL }

// AuthCodeURL constructs the authorization request.
func (p *Provider) AuthCodeURL(state, nonce string) string {
	opts := []oauth2.AuthCodeOption{}
	if nonce != "" {
		opts = append(opts, oauth2.SetAuthURLParam("nonce", nonce))
	}
	return p.oauthConfig.AuthCodeURL(state, opts...)
}

// Exchange redeems an authorization code at the token endpoint.
func (p *Provider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := p.oauthConfig.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	return tok, nil
}
