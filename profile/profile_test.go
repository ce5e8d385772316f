package profile

import (
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/go-cmp/cmp"
)

const (
	testID         = "id"
	testKey        = "key"
	testValue      = "value"
	testRole       = "role1"
	testPermission = "onePermission"
)

func requireValidationError(t *testing.T, err error, wantMessage string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected validation error %q", wantMessage)
	}
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors error, got %T: %v", err, err)
	}
	if rich.Category != goerrors.CategoryValidation {
		t.Fatalf("expected validation category, got %q", rich.Category)
	}
	if rich.TextCode != TextCodeInvalid {
		t.Fatalf("expected text code %s, got %q", TextCodeInvalid, rich.TextCode)
	}
}

func TestSetID(t *testing.T) {
	p := NewCommon()
	if p.ID() != "" {
		t.Fatalf("expected empty id, got %q", p.ID())
	}
	if err := p.SetID(testID); err != nil {
		t.Fatalf("SetID: %v", err)
	}
	if p.ID() != testID {
		t.Fatalf("id mismatch: got %q", p.ID())
	}
}

func TestSetBlankIDRejected(t *testing.T) {
	p := NewCommon()
	requireValidationError(t, p.SetID(""), "id cannot be blank")
	requireValidationError(t, p.SetID("   "), "id cannot be blank")
	if p.ID() != "" {
		t.Fatalf("id should remain unset, got %q", p.ID())
	}
}

func TestAddAttribute(t *testing.T) {
	p := NewCommon()
	if p.Attributes().Len() != 0 {
		t.Fatalf("expected no attributes")
	}
	if err := p.AddAttribute(testKey, testValue); err != nil {
		t.Fatalf("AddAttribute: %v", err)
	}
	if p.Attributes().Len() != 1 {
		t.Fatalf("expected 1 attribute, got %d", p.Attributes().Len())
	}
	if v, _ := p.Attributes().Get(testKey); v != testValue {
		t.Fatalf("attribute mismatch: got %v", v)
	}
}

func TestAddAttributeRejectsBlankKey(t *testing.T) {
	p := NewCommon()
	requireValidationError(t, p.AddAttribute(" ", testValue), "attribute key cannot be blank")
	requireValidationError(t, p.AddAttributes(map[string]any{"ok": 1, "": 2}), "attribute key cannot be blank")
	if p.Attributes().Len() != 0 {
		t.Fatalf("no attribute should be stored after a rejected batch, got %v", p.Attributes().Keys())
	}
}

func TestAddAttributeIgnoresNil(t *testing.T) {
	p := NewCommon()
	if err := p.AddAttribute(testKey, nil); err != nil {
		t.Fatalf("AddAttribute: %v", err)
	}
	if p.ContainsAttribute(testKey) {
		t.Fatalf("nil value should not be stored")
	}
}

func TestAttributeMergeMode(t *testing.T) {
	tests := []struct {
		name   string
		mode   Mode
		first  any
		second any
		want   any
	}{
		{
			name:   "merge appends new values",
			mode:   Merge,
			first:  []string{"Value1"},
			second: []string{"Value2", "Value3"},
			want:   []string{"Value1", "Value2", "Value3"},
		},
		{
			name:   "merge keeps first seen order without duplicates",
			mode:   Merge,
			first:  []string{"A"},
			second: []string{"A", "B"},
			want:   []string{"A", "B"},
		},
		{
			name:   "merge same value twice",
			mode:   Merge,
			first:  []string{testValue},
			second: []string{testValue},
			want:   []string{testValue},
		},
		{
			name:   "merge deduplicates overlapping sequences",
			mode:   Merge,
			first:  []string{testValue, "Value2"},
			second: []string{testValue, "Value3"},
			want:   []string{testValue, "Value2", "Value3"},
		},
		{
			name:   "merge with mixed elements",
			mode:   Merge,
			first:  []any{1, "a"},
			second: []any{"a", 2},
			want:   []any{1, "a", 2},
		},
		{
			name:   "replace overwrites",
			mode:   Replace,
			first:  []string{"Value1"},
			second: []string{"Value2", "Value3"},
			want:   []string{"Value2", "Value3"},
		},
		{
			name:   "replace with superset",
			mode:   Replace,
			first:  []string{"A"},
			second: []string{"A", "B"},
			want:   []string{"A", "B"},
		},
		{
			name:   "replace stores the sequence as given",
			mode:   Replace,
			first:  []string{"A"},
			second: []string{"B", "A", "B"},
			want:   []string{"B", "A", "B"},
		},
		{
			name:   "replace keeps element type",
			mode:   Replace,
			first:  []int{1},
			second: []int{2, 2},
			want:   []int{2, 2},
		},
		{
			name:   "scalar replaces sequence",
			mode:   Merge,
			first:  []string{"A"},
			second: "B",
			want:   "B",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(KindCommon, tt.mode)
			if err := p.AddAttribute(testKey, tt.first); err != nil {
				t.Fatalf("first AddAttribute: %v", err)
			}
			if err := p.AddAttribute(testKey, tt.second); err != nil {
				t.Fatalf("second AddAttribute: %v", err)
			}
			if p.Attributes().Len() != 1 {
				t.Fatalf("expected 1 attribute, got %d", p.Attributes().Len())
			}
			got, _ := p.Attribute(testKey)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("attribute mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestAttributesViewIsDetached(t *testing.T) {
	p := NewCommon()
	if err := p.AddAttribute(testKey, []string{"A"}); err != nil {
		t.Fatalf("AddAttribute: %v", err)
	}

	copied := p.Attributes().ToMap()
	copied["other"] = "x"
	copied[testKey].([]string)[0] = "tampered"

	got, _ := p.Attributes().Get(testKey)
	got.([]string)[0] = "tampered again"

	if p.ContainsAttribute("other") {
		t.Fatalf("writes to a copied map must not reach the profile")
	}
	if v, _ := p.Attribute(testKey); v.([]string)[0] != "A" {
		t.Fatalf("internal sequence was modified: %v", v)
	}
}

func TestAddAuthenticationAttributes(t *testing.T) {
	p := NewCommon()
	if err := p.AddAuthenticationAttribute(testKey, testValue); err != nil {
		t.Fatalf("AddAuthenticationAttribute: %v", err)
	}
	if err := p.AddAuthenticationAttributes(map[string]any{"other": 1}); err != nil {
		t.Fatalf("AddAuthenticationAttributes: %v", err)
	}
	if p.AuthenticationAttributes().Len() != 2 {
		t.Fatalf("expected 2 authentication attributes, got %d", p.AuthenticationAttributes().Len())
	}
	if p.Attributes().Len() != 0 {
		t.Fatalf("authentication attributes leaked into general attributes")
	}
	if v, _ := p.AuthenticationAttribute(testKey); v != testValue {
		t.Fatalf("authentication attribute mismatch: %v", v)
	}
	p.RemoveAuthenticationAttribute(testKey)
	if p.AuthenticationAttributes().Has(testKey) {
		t.Fatalf("expected authentication attribute to be removed")
	}
}

func TestRolesAndPermissions(t *testing.T) {
	p := NewCommon()
	if err := p.AddRole(testRole); err != nil {
		t.Fatalf("AddRole: %v", err)
	}
	if err := p.AddRoles([]string{"role2", testRole}); err != nil {
		t.Fatalf("AddRoles: %v", err)
	}
	if err := p.AddPermission(testPermission); err != nil {
		t.Fatalf("AddPermission: %v", err)
	}

	if diff := cmp.Diff([]string{testRole, "role2"}, p.Roles().Values()); diff != "" {
		t.Fatalf("roles mismatch (-want +got):\n%s", diff)
	}
	if !p.Permissions().Contains(testPermission) || p.Permissions().Len() != 1 {
		t.Fatalf("permissions mismatch: %v", p.Permissions().Values())
	}

	values := p.Roles().Values()
	values[0] = "admin"
	if p.Roles().Contains("admin") {
		t.Fatalf("role view copy must not write through")
	}
}

func TestRoleAndPermissionValidation(t *testing.T) {
	p := NewCommon()
	if err := p.AddRole(testRole); err != nil {
		t.Fatalf("AddRole: %v", err)
	}

	requireValidationError(t, p.AddRole(""), "role cannot be blank")
	requireValidationError(t, p.AddRoles(nil), "roles cannot be nil")
	requireValidationError(t, p.AddRoles([]string{"role2", " "}), "role cannot be blank")
	requireValidationError(t, p.AddPermission(""), "permission cannot be blank")
	requireValidationError(t, p.AddPermissions(nil), "permissions cannot be nil")
	requireValidationError(t, p.AddPermissions([]string{"p1", ""}), "permission cannot be blank")

	if diff := cmp.Diff([]string{testRole}, p.Roles().Values()); diff != "" {
		t.Fatalf("roles mutated by rejected calls (-want +got):\n%s", diff)
	}
	if p.Permissions().Len() != 0 {
		t.Fatalf("permissions mutated by rejected calls: %v", p.Permissions().Values())
	}
}

func TestRemembered(t *testing.T) {
	p := NewCommon()
	if p.IsRemembered() {
		t.Fatalf("expected not remembered by default")
	}
	p.SetRemembered(true)
	if !p.IsRemembered() {
		t.Fatalf("expected remembered")
	}
}

func TestTypedID(t *testing.T) {
	p := NewCommon()
	if err := p.SetID(testID); err != nil {
		t.Fatalf("SetID: %v", err)
	}
	want := "CommonProfile#id"
	if p.TypedID() != want {
		t.Fatalf("typed id mismatch: got %q want %q", p.TypedID(), want)
	}
	if p.TypedID() != p.TypedID() {
		t.Fatalf("typed id must be stable")
	}

	kind, id, err := ParseTypedID(p.TypedID())
	if err != nil {
		t.Fatalf("ParseTypedID: %v", err)
	}
	if kind != KindCommon || id != testID {
		t.Fatalf("ParseTypedID mismatch: kind=%q id=%q", kind, id)
	}

	if _, _, err := ParseTypedID("no-separator"); err == nil {
		t.Fatalf("expected error for malformed typed id")
	}
}

func TestLinkedID(t *testing.T) {
	p := NewCommon()
	p.SetLinkedID("dummyLinkedId")
	p.SetLinkedID("")
	if p.LinkedID() != "" {
		t.Fatalf("expected linked id to be cleared")
	}
}

func TestCommonGetters(t *testing.T) {
	p := NewCommon()
	attrs := map[string]any{
		AttrEmail:             "jane@example.com",
		AttrFirstName:         "Jane",
		AttrFamilyName:        "Doe",
		AttrDisplayName:       "Jane Doe",
		AttrPreferredUsername: "jdoe",
		AttrGender:            "female",
		AttrLocale:            "en_US",
		AttrPictureURL:        "https://example.com/picture",
		AttrProfileURL:        "invalid",
	}
	if err := p.AddAttributes(attrs); err != nil {
		t.Fatalf("AddAttributes: %v", err)
	}

	if p.Email() != "jane@example.com" || p.FirstName() != "Jane" || p.FamilyName() != "Doe" || p.DisplayName() != "Jane Doe" {
		t.Fatalf("unexpected names: %s", p)
	}
	if p.Username() != "jdoe" {
		t.Fatalf("expected preferred_username fallback, got %q", p.Username())
	}
	if p.Gender() != GenderFemale {
		t.Fatalf("gender mismatch: %q", p.Gender())
	}
	tag, ok := p.Locale()
	if !ok || tag.String() != "en-US" {
		t.Fatalf("locale mismatch: %v ok=%v", tag, ok)
	}
	if u := p.PictureURL(); u == nil || u.String() != "https://example.com/picture" {
		t.Fatalf("picture url mismatch: %v", u)
	}
	if u := p.ProfileURL(); u != nil {
		t.Fatalf("expected nil profile url for invalid value, got %v", u)
	}
}

func TestInvalidCommonAttributes(t *testing.T) {
	p := NewCommon()
	if err := p.AddAttributes(map[string]any{
		AttrGender:   "invalid",
		AttrLocale:   "not a locale!",
		AttrUsername: 1,
	}); err != nil {
		t.Fatalf("AddAttributes: %v", err)
	}
	if p.Gender() != GenderUnspecified {
		t.Fatalf("expected unspecified gender, got %q", p.Gender())
	}
	if _, ok := p.Locale(); ok {
		t.Fatalf("expected invalid locale")
	}
	if p.Username() != "1" {
		t.Fatalf("expected formatted username, got %q", p.Username())
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	p := New(KindOIDC, Replace)
	if err := p.SetID(testID); err != nil {
		t.Fatalf("SetID: %v", err)
	}
	if err := p.AddAttribute(testKey, testValue); err != nil {
		t.Fatalf("AddAttribute: %v", err)
	}
	if err := p.AddAttribute("groups", []string{"a", "b"}); err != nil {
		t.Fatalf("AddAttribute: %v", err)
	}
	if err := p.AddAuthenticationAttribute("access_token", "at"); err != nil {
		t.Fatalf("AddAuthenticationAttribute: %v", err)
	}
	if err := p.AddRole(testRole); err != nil {
		t.Fatalf("AddRole: %v", err)
	}
	if err := p.AddPermission(testPermission); err != nil {
		t.Fatalf("AddPermission: %v", err)
	}
	p.SetRemembered(true)
	p.SetClientName("OidcClient")
	p.SetLinkedID("linked")

	data, err := Marshal(p)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	restored, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if restored == nil {
		t.Fatalf("expected non-nil profile")
	}

	opts := cmp.AllowUnexported(Profile{}, stringSet{})
	if diff := cmp.Diff(p, restored, opts); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
	if restored.TypedID() != "OidcProfile#id" {
		t.Fatalf("typed id mismatch after round trip: %q", restored.TypedID())
	}
}

func TestMarshalRoundTripWidensIntegers(t *testing.T) {
	p := New(KindCommon, Merge)
	if err := p.AddAttribute("age", 42); err != nil {
		t.Fatalf("AddAttribute: %v", err)
	}
	if err := p.AddAttribute("levels", []int{1, 300}); err != nil {
		t.Fatalf("AddAttribute: %v", err)
	}
	if err := p.AddAttribute("ratio", 0.5); err != nil {
		t.Fatalf("AddAttribute: %v", err)
	}

	data, err := Marshal(p)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	restored, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	want := map[string]any{
		"age":    int64(42),
		"levels": []any{int64(1), int64(300)},
		"ratio":  0.5,
	}
	for key, w := range want {
		got, _ := restored.Attribute(key)
		if diff := cmp.Diff(w, got); diff != "" {
			t.Fatalf("%s mismatch (-want +got):\n%s", key, diff)
		}
	}
}

func TestMarshalEmptyProfile(t *testing.T) {
	data, err := Marshal(NewCommon())
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	restored, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if restored == nil || restored.Kind() != KindCommon {
		t.Fatalf("unexpected restored profile: %v", restored)
	}
}

func TestUnmarshalGarbage(t *testing.T) {
	if _, err := Unmarshal([]byte{0xc1}); err == nil {
		t.Fatalf("expected error for invalid payload")
	}
}
