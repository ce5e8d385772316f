package profile

import (
	"fmt"
	"math"

	"github.com/vmihailenco/msgpack/v5"
)

// wireProfile is the portable shape written by Marshal.
type wireProfile struct {
	Kind                     string         `msgpack:"kind"`
	Mode                     Mode           `msgpack:"mode"`
	ID                       string         `msgpack:"id"`
	LinkedID                 string         `msgpack:"linked_id,omitempty"`
	ClientName               string         `msgpack:"client_name,omitempty"`
	Remembered               bool           `msgpack:"remembered"`
	Attributes               map[string]any `msgpack:"attributes"`
	AuthenticationAttributes map[string]any `msgpack:"authentication_attributes"`
	Roles                    []string       `msgpack:"roles"`
	Permissions              []string       `msgpack:"permissions"`
}

// Marshal encodes the profile in msgpack form.
func Marshal(p *Profile) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("profile: marshal nil profile")
	}
	w := wireProfile{
		Kind:                     p.kind,
		Mode:                     p.mode,
		ID:                       p.id,
		LinkedID:                 p.linkedID,
		ClientName:               p.clientName,
		Remembered:               p.remembered,
		Attributes:               p.attributes,
		AuthenticationAttributes: p.authAttributes,
		Roles:                    p.roles.values(),
		Permissions:              p.permissions.values(),
	}
	b, err := msgpack.Marshal(&w)
	if err != nil {
		return nil, fmt.Errorf("profile: marshal: %w", err)
	}
	return b, nil
}

// Unmarshal rebuilds a profile written by Marshal. Stored entries go through
// the same validation as live mutations. Integer values of any width come back
// as int64, so an attribute stored as int 42 is restored as int64(42).
func Unmarshal(data []byte) (*Profile, error) {
	var w wireProfile
	if err := msgpack.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("profile: unmarshal: %w", err)
	}

	p := New(w.Kind, w.Mode)
	if w.ID != "" {
		if err := p.SetID(w.ID); err != nil {
			return nil, err
		}
	}
	p.linkedID = w.LinkedID
	p.clientName = w.ClientName
	p.remembered = w.Remembered

	// Stored values are restored as written, not re-merged.
	for key, value := range w.Attributes {
		if err := checkKey(key); err != nil {
			return nil, err
		}
		p.attributes[key] = normalizeDecoded(value)
	}
	for key, value := range w.AuthenticationAttributes {
		if err := checkKey(key); err != nil {
			return nil, err
		}
		p.authAttributes[key] = normalizeDecoded(value)
	}
	if w.Roles != nil {
		if err := p.AddRoles(w.Roles); err != nil {
			return nil, err
		}
	}
	if w.Permissions != nil {
		if err := p.AddPermissions(w.Permissions); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// normalizeDecoded turns decoded all-string sequences back into []string, the
// shape accumulate produces, and widens every integer to int64.
func normalizeDecoded(v any) any {
	seq, ok := v.([]any)
	if !ok {
		return widenInt(v)
	}
	allStrings := true
	for i, item := range seq {
		seq[i] = widenInt(item)
		if _, ok := item.(string); !ok {
			allStrings = false
		}
	}
	if !allStrings {
		return seq
	}
	strs := make([]string, len(seq))
	for i, item := range seq {
		strs[i] = item.(string)
	}
	return strs
}

func widenInt(v any) any {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int8:
		return int64(n)
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	case uint:
		return uintToInt(uint64(n))
	case uint8:
		return int64(n)
	case uint16:
		return int64(n)
	case uint32:
		return int64(n)
	case uint64:
		return uintToInt(n)
	}
	return v
}

func uintToInt(n uint64) any {
	if n > math.MaxInt64 {
		return n
	}
	return int64(n)
}
