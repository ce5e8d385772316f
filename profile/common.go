package profile

import (
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/text/language"
)

// Standard attribute names, aligned with the OpenID Connect standard claims.
const (
	AttrEmail             = "email"
	AttrFirstName         = "given_name"
	AttrFamilyName        = "family_name"
	AttrDisplayName       = "name"
	AttrUsername          = "username"
	AttrPreferredUsername = "preferred_username"
	AttrGender            = "gender"
	AttrLocale            = "locale"
	AttrPictureURL        = "picture"
	AttrProfileURL        = "profile"
	AttrLocation          = "location"
)

// Gender of the principal.
type Gender string

const (
	GenderMale        Gender = "male"
	GenderFemale      Gender = "female"
	GenderUnspecified Gender = "unspecified"
)

func (p *Profile) Email() string       { return p.stringAttribute(AttrEmail) }
func (p *Profile) FirstName() string   { return p.stringAttribute(AttrFirstName) }
func (p *Profile) FamilyName() string  { return p.stringAttribute(AttrFamilyName) }
func (p *Profile) DisplayName() string { return p.stringAttribute(AttrDisplayName) }
func (p *Profile) Location() string    { return p.stringAttribute(AttrLocation) }

// Username prefers "username" and falls back to "preferred_username".
// Non-string values are formatted.
func (p *Profile) Username() string {
	for _, key := range []string{AttrUsername, AttrPreferredUsername} {
		if v, ok := p.attributes[key]; ok && v != nil {
			if s, ok := v.(string); ok {
				return s
			}
			return fmt.Sprint(v)
		}
	}
	return ""
}

// Gender reports GenderUnspecified for missing or unrecognized values.
func (p *Profile) Gender() Gender {
	switch v := p.attributes[AttrGender].(type) {
	case Gender:
		return normalizeGender(string(v))
	case string:
		return normalizeGender(v)
	default:
		return GenderUnspecified
	}
}

func normalizeGender(s string) Gender {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "male", "m":
		return GenderMale
	case "female", "f":
		return GenderFemale
	default:
		return GenderUnspecified
	}
}

// Locale parses the locale attribute as a BCP 47 tag.
func (p *Profile) Locale() (language.Tag, bool) {
	switch v := p.attributes[AttrLocale].(type) {
	case language.Tag:
		return v, true
	case string:
		tag, err := language.Parse(strings.ReplaceAll(v, "_", "-"))
		if err != nil {
			return language.Und, false
		}
		return tag, true
	default:
		return language.Und, false
	}
}

func (p *Profile) PictureURL() *url.URL { return p.urlAttribute(AttrPictureURL) }
func (p *Profile) ProfileURL() *url.URL { return p.urlAttribute(AttrProfileURL) }

func (p *Profile) stringAttribute(key string) string {
	s, _ := p.attributes[key].(string)
	return s
}

// urlAttribute accepts *url.URL values and absolute URL strings.
func (p *Profile) urlAttribute(key string) *url.URL {
	switch v := p.attributes[key].(type) {
	case *url.URL:
		return v
	case string:
		u, err := url.Parse(v)
		if err != nil || !u.IsAbs() || u.Host == "" {
			return nil
		}
		return u
	default:
		return nil
	}
}
