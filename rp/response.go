package rp

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v3/jwt"
	"golang.org/x/oauth2"
)

// Authorization response parameters.
const (
	ParamCode             = "code"
	ParamState            = "state"
	ParamIDToken          = "id_token"
	ParamAccessToken      = "access_token"
	ParamTokenType        = "token_type"
	ParamExpiresIn        = "expires_in"
	ParamScope            = "scope"
	ParamIssuer           = "iss"
	ParamSessionState     = "session_state"
	ParamError            = "error"
	ParamErrorDescription = "error_description"
	ParamErrorURI         = "error_uri"
)

var singleValued = []string{
	ParamCode, ParamState, ParamIDToken, ParamAccessToken, ParamTokenType,
	ParamExpiresIn, ParamScope, ParamIssuer, ParamSessionState,
	ParamError, ParamErrorDescription, ParamErrorURI,
}

// AuthenticationResponse is either a *SuccessResponse or an *ErrorResponse.
type AuthenticationResponse interface {
	authenticationResponse()
}

// SuccessResponse is a positive authorization response.
type SuccessResponse struct {
	RedirectURI  *url.URL
	Issuer       string
	State        string
	Code         string
	IDToken      string
	AccessToken  *oauth2.Token
	SessionState string
}

// ErrorObject is the error triple sent by the provider.
type ErrorObject struct {
	Code        string
	Description string
	URI         string
}

func (e ErrorObject) String() string {
	var b strings.Builder
	b.WriteString(e.Code)
	if e.Description != "" {
		b.WriteString(": ")
		b.WriteString(e.Description)
	}
	if e.URI != "" {
		b.WriteString(" (")
		b.WriteString(e.URI)
		b.WriteString(")")
	}
	return b.String()
}

// ErrorResponse is a negative authorization response.
type ErrorResponse struct {
	RedirectURI *url.URL
	Issuer      string
	State       string
	Error       ErrorObject
}

func (*SuccessResponse) authenticationResponse() {}
func (*ErrorResponse) authenticationResponse()   {}

// ParseAuthenticationResponse interprets callback parameters as an
// authorization response addressed to redirectURI. now anchors the expiry of
// an implicit-flow access token.
func ParseAuthenticationResponse(redirectURI string, params map[string][]string, now time.Time) (AuthenticationResponse, error) {
	redirect, err := url.Parse(redirectURI)
	if err != nil {
		return nil, fmt.Errorf("invalid redirect uri: %w", err)
	}
	if !redirect.IsAbs() || redirect.Host == "" {
		return nil, fmt.Errorf("redirect uri %q is not absolute", redirectURI)
	}
	for _, name := range singleValued {
		if len(params[name]) > 1 {
			return nil, fmt.Errorf("parameter %q must not be repeated", name)
		}
	}
	get := func(name string) string {
		if v := params[name]; len(v) > 0 {
			return v[0]
		}
		return ""
	}

	if code := get(ParamError); code != "" {
		return &ErrorResponse{
			RedirectURI: redirect,
			Issuer:      get(ParamIssuer),
			State:       get(ParamState),
			Error: ErrorObject{
				Code:        code,
				Description: get(ParamErrorDescription),
				URI:         get(ParamErrorURI),
			},
		}, nil
	}

	resp := &SuccessResponse{
		RedirectURI:  redirect,
		Issuer:       get(ParamIssuer),
		State:        get(ParamState),
		Code:         get(ParamCode),
		IDToken:      get(ParamIDToken),
		SessionState: get(ParamSessionState),
	}
	if resp.IDToken != "" {
		if err := checkJWT(resp.IDToken); err != nil {
			return nil, fmt.Errorf("invalid id_token: %w", err)
		}
	}
	if access := get(ParamAccessToken); access != "" {
		tok, err := parseAccessToken(access, get(ParamTokenType), get(ParamExpiresIn), now)
		if err != nil {
			return nil, err
		}
		resp.AccessToken = tok
	}
	return resp, nil
}

// checkJWT accepts a compact signed or encrypted JWT.
func checkJWT(raw string) error {
	if _, err := jwt.ParseSigned(raw); err == nil {
		return nil
	}
	if _, err := jwt.ParseEncrypted(raw); err == nil {
		return nil
	}
	return fmt.Errorf("not a compact JWT")
}

func parseAccessToken(access, tokenType, expiresIn string, now time.Time) (*oauth2.Token, error) {
	if tokenType == "" {
		return nil, fmt.Errorf("access_token without token_type")
	}
	tok := &oauth2.Token{AccessToken: access, TokenType: tokenType}
	if expiresIn != "" {
		secs, err := strconv.ParseInt(expiresIn, 10, 64)
		if err != nil || secs < 0 {
			return nil, fmt.Errorf("invalid expires_in %q", expiresIn)
		}
		if secs > 0 {
			tok.Expiry = now.Add(time.Duration(secs) * time.Second)
		}
	}
	return tok, nil
}
