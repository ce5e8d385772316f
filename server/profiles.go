package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/oauth2"

	"oidcrp/profile"
	"oidcrp/rp"
)

// Authentication attribute names recorded on every OIDC profile.
const (
	AuthAttrIDToken      = "id_token"
	AuthAttrAccessToken  = "access_token"
	AuthAttrRefreshToken = "refresh_token"
	AuthAttrTokenType    = "token_type"
	AuthAttrExpiration   = "expiration"
)

var errNoIDToken = errors.New("no id_token in credentials")

// codeExchanger redeems authorization codes.
type codeExchanger interface {
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
}

// ProfileCreator turns callback credentials into an OIDC profile.
type ProfileCreator struct {
	client    ClientConfig
	rpConfig  rp.Config
	exchanger codeExchanger
	validator rp.TokenValidator
	logger    *slog.Logger
}

func NewProfileCreator(client ClientConfig, rpConfig rp.Config, exchanger codeExchanger, validator rp.TokenValidator, logger *slog.Logger) *ProfileCreator {
	return &ProfileCreator{
		client:    client,
		rpConfig:  rpConfig,
		exchanger: exchanger,
		validator: validator,
		logger:    logger,
	}
}

// Create redeems the code when present, validates the ID token against the
// nonce stashed at login and builds the profile. It returns the provider
// session id bound to the login, if any.
func (c *ProfileCreator) Create(ctx context.Context, creds rp.Credentials, store rp.SessionStore) (*profile.Profile, string, error) {
	tok := creds.Token()
	if creds.Code != "" {
		exchanged, err := c.exchanger.Exchange(ctx, creds.Code)
		if err != nil {
			return nil, "", err
		}
		tok = exchanged
	}

	idToken := creds.IDToken
	if tok != nil {
		if raw, ok := tok.Extra("id_token").(string); ok && raw != "" {
			idToken = raw
		}
	}
	if idToken == "" {
		return nil, "", errNoIDToken
	}

	nonceAttr, _ := store.Get(c.rpConfig.NonceAttributeName())
	nonce, _ := nonceAttr.(string)
	claims, err := c.validator.Validate(ctx, idToken, nonce)
	if err != nil {
		return nil, "", fmt.Errorf("validate id_token: %w", err)
	}

	p, err := c.build(claims, idToken, tok)
	if err != nil {
		return nil, "", err
	}
	sid, _ := claims[rp.ClaimSessionID].(string)
	c.logger.Debug("profile created", "id", p.TypedID(), "sid", sid)
	return p, sid, nil
}

func (c *ProfileCreator) build(claims map[string]any, idToken string, tok *oauth2.Token) (*profile.Profile, error) {
	mode := profile.Replace
	if c.client.MergeAttributes {
		mode = profile.Merge
	}
	p := profile.New(profile.KindOIDC, mode)
	p.SetClientName(c.client.Name)

	sub, _ := claims["sub"].(string)
	if err := p.SetID(sub); err != nil {
		return nil, err
	}

	attrs := make(map[string]any, len(claims))
	for k, v := range claims {
		if k == rp.ClaimNonce {
			continue
		}
		attrs[k] = v
	}
	if err := p.AddAttributes(attrs); err != nil {
		return nil, err
	}

	authAttrs := map[string]any{AuthAttrIDToken: idToken}
	if tok != nil {
		if tok.AccessToken != "" {
			authAttrs[AuthAttrAccessToken] = tok.AccessToken
			authAttrs[AuthAttrTokenType] = tok.TokenType
		}
		if tok.RefreshToken != "" {
			authAttrs[AuthAttrRefreshToken] = tok.RefreshToken
		}
		if !tok.Expiry.IsZero() {
			authAttrs[AuthAttrExpiration] = tok.Expiry.Unix()
		}
	}
	if err := p.AddAuthenticationAttributes(authAttrs); err != nil {
		return nil, err
	}

	if roles := claimStrings(claims, c.client.RolesClaim); len(roles) > 0 {
		if err := p.AddRoles(roles); err != nil {
			return nil, err
		}
	}
	if perms := claimStrings(claims, c.client.PermissionsClaim); len(perms) > 0 {
		if err := p.AddPermissions(perms); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// claimStrings reads a claim holding a list of strings or a space separated string.
func claimStrings(claims map[string]any, name string) []string {
	if name == "" {
		return nil
	}
	switch v := claims[name].(type) {
	case string:
		return strings.Fields(v)
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
