package profile

import "sort"

// Attributes is a read-only view over one of the attribute stores of a
// Profile. It exposes no mutators; ToMap returns a detached copy.
type Attributes struct {
	m map[string]any
}

func (a Attributes) Len() int { return len(a.m) }

func (a Attributes) Get(key string) (any, bool) {
	v, ok := a.m[key]
	return copyValue(v), ok
}

func (a Attributes) Has(key string) bool {
	_, ok := a.m[key]
	return ok
}

// Keys returns the attribute names in sorted order.
func (a Attributes) Keys() []string {
	keys := make([]string, 0, len(a.m))
	for k := range a.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ToMap copies the view. Writing to the result never reaches the profile.
func (a Attributes) ToMap() map[string]any {
	out := make(map[string]any, len(a.m))
	for k, v := range a.m {
		out[k] = copyValue(v)
	}
	return out
}

// Set is a read-only, insertion-ordered view over roles or permissions.
type Set struct {
	s *stringSet
}

func (s Set) Len() int {
	if s.s == nil {
		return 0
	}
	return len(s.s.items)
}

func (s Set) Contains(v string) bool {
	if s.s == nil {
		return false
	}
	_, ok := s.s.index[v]
	return ok
}

// Values copies the members in insertion order.
func (s Set) Values() []string {
	if s.s == nil {
		return []string{}
	}
	return s.s.values()
}

type stringSet struct {
	items []string
	index map[string]struct{}
}

func newStringSet() *stringSet {
	return &stringSet{
		items: []string{},
		index: make(map[string]struct{}),
	}
}

func (s *stringSet) add(v string) {
	if _, ok := s.index[v]; ok {
		return
	}
	s.index[v] = struct{}{}
	s.items = append(s.items, v)
}

func (s *stringSet) values() []string {
	out := make([]string, len(s.items))
	copy(out, s.items)
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out
	case []any:
		out := make([]any, len(t))
		copy(out, t)
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = copyValue(val)
		}
		return out
	default:
		return v
	}
}
