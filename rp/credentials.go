package rp

import "golang.org/x/oauth2"

// Credentials is what one successful callback hands to profile creation. At
// least one field is always set.
type Credentials struct {
	Code        string
	IDToken     string
	AccessToken *oauth2.Token
}

func (c Credentials) IsEmpty() bool {
	return c.Code == "" && c.IDToken == "" && (c.AccessToken == nil || c.AccessToken.AccessToken == "")
}

// Token returns the implicit-flow tokens as an oauth2 token, with the ID token
// under the "id_token" extra. It is nil when the callback carried only a code.
func (c Credentials) Token() *oauth2.Token {
	if c.AccessToken == nil && c.IDToken == "" {
		return nil
	}
	tok := &oauth2.Token{}
	if c.AccessToken != nil {
		cp := *c.AccessToken
		tok = &cp
	}
	if c.IDToken != "" {
		tok = tok.WithExtra(map[string]any{"id_token": c.IDToken})
	}
	return tok
}
