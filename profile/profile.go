// Package profile holds the normalized identity facts accumulated for one
// authenticated principal.
//
// A Profile is not safe for concurrent mutation. Confine it to the request
// that is building it or guard it externally.
package profile

import (
	"fmt"
	"net/http"
	"reflect"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// Kinds of profile. The kind is part of the typed id.
const (
	KindCommon = "CommonProfile"
	KindOIDC   = "OidcProfile"
)

// TypedIDSeparator joins the kind and the id in TypedID.
const TypedIDSeparator = "#"

// TextCodeInvalid tags every validation failure raised by this package.
const TextCodeInvalid = "PROFILE_INVALID"

// Mode controls how a sequence value is combined with an existing value
// under the same attribute key.
type Mode int

const (
	// Merge appends the not-yet-present elements of the new sequence.
	Merge Mode = iota
	// Replace overwrites the previous value.
	Replace
)

func (m Mode) String() string {
	switch m {
	case Merge:
		return "merge"
	case Replace:
		return "replace"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Profile is a mutable bag of attributes, authentication attributes, roles and
// permissions for one principal.
type Profile struct {
	kind       string
	mode       Mode
	id         string
	linkedID   string
	clientName string
	remembered bool

	attributes     map[string]any
	authAttributes map[string]any
	roles          *stringSet
	permissions    *stringSet
}

// New returns an empty profile of the given kind. The merge mode is fixed for
// the lifetime of the profile.
func New(kind string, mode Mode) *Profile {
	if strings.TrimSpace(kind) == "" {
		kind = KindCommon
	}
	return &Profile{
		kind:           kind,
		mode:           mode,
		attributes:     make(map[string]any),
		authAttributes: make(map[string]any),
		roles:          newStringSet(),
		permissions:    newStringSet(),
	}
}

// NewCommon returns a CommonProfile in merge mode.
func NewCommon() *Profile {
	return New(KindCommon, Merge)
}

func (p *Profile) Kind() string { return p.kind }
func (p *Profile) Mode() Mode   { return p.mode }
func (p *Profile) ID() string   { return p.id }

// SetID sets the principal id. Blank ids are rejected.
func (p *Profile) SetID(id string) error {
	if strings.TrimSpace(id) == "" {
		return validationError("id", "id cannot be blank")
	}
	p.id = id
	return nil
}

// TypedID combines the kind and the id, e.g. "OidcProfile#248289761001".
func (p *Profile) TypedID() string {
	return p.kind + TypedIDSeparator + p.id
}

// ParseTypedID splits a value produced by TypedID.
func ParseTypedID(typedID string) (kind, id string, err error) {
	kind, id, ok := strings.Cut(typedID, TypedIDSeparator)
	if !ok || strings.TrimSpace(kind) == "" || strings.TrimSpace(id) == "" {
		return "", "", validationError("typed_id", fmt.Sprintf("malformed typed id %q", typedID))
	}
	return kind, id, nil
}

// LinkedID is an optional secondary id; empty clears it.
func (p *Profile) LinkedID() string          { return p.linkedID }
func (p *Profile) SetLinkedID(linked string) { p.linkedID = linked }

func (p *Profile) ClientName() string        { return p.clientName }
func (p *Profile) SetClientName(name string) { p.clientName = name }

func (p *Profile) IsRemembered() bool     { return p.remembered }
func (p *Profile) SetRemembered(rme bool) { p.remembered = rme }

// AddAttribute stores value under key following the profile mode. Nil values
// are ignored.
func (p *Profile) AddAttribute(key string, value any) error {
	if err := checkKey(key); err != nil {
		return err
	}
	accumulate(p.attributes, p.mode, key, value)
	return nil
}

// AddAttributes adds every entry of attrs. All keys are checked before any
// entry is stored.
func (p *Profile) AddAttributes(attrs map[string]any) error {
	for key := range attrs {
		if err := checkKey(key); err != nil {
			return err
		}
	}
	for key, value := range attrs {
		accumulate(p.attributes, p.mode, key, value)
	}
	return nil
}

func (p *Profile) RemoveAttribute(key string) {
	delete(p.attributes, key)
}

func (p *Profile) ContainsAttribute(key string) bool {
	_, ok := p.attributes[key]
	return ok
}

// Attribute returns the stored value for key.
func (p *Profile) Attribute(key string) (any, bool) {
	v, ok := p.attributes[key]
	return copyValue(v), ok
}

// Attributes returns a read-only view of the general attributes.
func (p *Profile) Attributes() Attributes {
	return Attributes{m: p.attributes}
}

func (p *Profile) AddAuthenticationAttribute(key string, value any) error {
	if err := checkKey(key); err != nil {
		return err
	}
	accumulate(p.authAttributes, p.mode, key, value)
	return nil
}

func (p *Profile) AddAuthenticationAttributes(attrs map[string]any) error {
	for key := range attrs {
		if err := checkKey(key); err != nil {
			return err
		}
	}
	for key, value := range attrs {
		accumulate(p.authAttributes, p.mode, key, value)
	}
	return nil
}

func (p *Profile) RemoveAuthenticationAttribute(key string) {
	delete(p.authAttributes, key)
}

// AuthenticationAttribute returns the stored authentication value for key.
func (p *Profile) AuthenticationAttribute(key string) (any, bool) {
	v, ok := p.authAttributes[key]
	return copyValue(v), ok
}

// AuthenticationAttributes returns a read-only view of the authentication
// context attributes.
func (p *Profile) AuthenticationAttributes() Attributes {
	return Attributes{m: p.authAttributes}
}

// AddRole adds a single role. Blank roles are rejected.
func (p *Profile) AddRole(role string) error {
	if strings.TrimSpace(role) == "" {
		return validationError("role", "role cannot be blank")
	}
	p.roles.add(role)
	return nil
}

// AddRoles adds every role of a non-nil collection. A blank entry rejects the
// whole collection and leaves the role set untouched.
func (p *Profile) AddRoles(roles []string) error {
	if roles == nil {
		return validationError("roles", "roles cannot be nil")
	}
	for _, role := range roles {
		if strings.TrimSpace(role) == "" {
			return validationError("roles", "role cannot be blank")
		}
	}
	for _, role := range roles {
		p.roles.add(role)
	}
	return nil
}

func (p *Profile) Roles() Set {
	return Set{s: p.roles}
}

// AddPermission adds a single permission. Blank permissions are rejected.
func (p *Profile) AddPermission(permission string) error {
	if strings.TrimSpace(permission) == "" {
		return validationError("permission", "permission cannot be blank")
	}
	p.permissions.add(permission)
	return nil
}

// AddPermissions follows the same rules as AddRoles.
func (p *Profile) AddPermissions(permissions []string) error {
	if permissions == nil {
		return validationError("permissions", "permissions cannot be nil")
	}
	for _, permission := range permissions {
		if strings.TrimSpace(permission) == "" {
			return validationError("permissions", "permission cannot be blank")
		}
	}
	for _, permission := range permissions {
		p.permissions.add(permission)
	}
	return nil
}

func (p *Profile) Permissions() Set {
	return Set{s: p.permissions}
}

func (p *Profile) String() string {
	return fmt.Sprintf("#%s# | id: %s | attributes: %v | roles: %v | permissions: %v | isRemembered: %t | clientName: %s | linkedId: %s |",
		p.kind, p.id, p.attributes, p.roles.values(), p.permissions.values(), p.remembered, p.clientName, p.linkedID)
}

func checkKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return validationError("key", "attribute key cannot be blank")
	}
	return nil
}

func accumulate(store map[string]any, mode Mode, key string, value any) {
	if value == nil {
		return
	}
	incoming, isSeq := asSequence(value)
	if !isSeq {
		store[key] = value
		return
	}
	if mode == Replace {
		store[key] = copySequence(value)
		return
	}
	existing, _ := asSequence(store[key])
	store[key] = dedupe(existing, incoming)
}

// asSequence reports whether v is a slice or array (other than []byte) and
// returns its elements.
func asSequence(v any) ([]any, bool) {
	switch t := v.(type) {
	case nil:
		return nil, false
	case []byte:
		return nil, false
	case []any:
		return t, true
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// copySequence returns a shallow copy of a slice or array as a slice of the
// same element type, leaving order and duplicates untouched.
func copySequence(v any) any {
	rv := reflect.ValueOf(v)
	out := reflect.MakeSlice(reflect.SliceOf(rv.Type().Elem()), rv.Len(), rv.Len())
	reflect.Copy(out, rv)
	return out.Interface()
}

// dedupe appends the elements of add that are not yet in base, keeping
// first-seen order. All-string results are returned as []string.
func dedupe(base, add []any) any {
	out := make([]any, 0, len(base)+len(add))
	for _, v := range base {
		if !containsValue(out, v) {
			out = append(out, v)
		}
	}
	for _, v := range add {
		if !containsValue(out, v) {
			out = append(out, v)
		}
	}
	strs := make([]string, 0, len(out))
	for _, v := range out {
		s, ok := v.(string)
		if !ok {
			return out
		}
		strs = append(strs, s)
	}
	return strs
}

func containsValue(values []any, v any) bool {
	for _, existing := range values {
		if reflect.DeepEqual(existing, v) {
			return true
		}
	}
	return false
}

func validationError(field, message string) error {
	return goerrors.NewValidation("profile: "+message, goerrors.FieldError{
		Field:   field,
		Message: message,
	}).
		WithCode(http.StatusBadRequest).
		WithTextCode(TextCodeInvalid)
}
