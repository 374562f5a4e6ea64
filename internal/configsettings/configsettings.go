// Package configsettings implements the ordered key/value map used to
// forward PEP 517 build-backend configuration. Key insertion order is
// preserved; a key observed twice is promoted from a bare string to an
// ordered list.
package configsettings

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Value is either a single string or an ordered list of strings.
type Value struct {
	list []string
}

// String reports the value rendered as a single string (for a one-element
// value) or panics-free joined form used only for display.
func (v Value) String() string {
	if len(v.list) == 1 {
		return v.list[0]
	}
	return fmt.Sprintf("%v", v.list)
}

// IsList reports whether the value has been promoted to a list (i.e. the key
// was observed more than once).
func (v Value) IsList() bool { return len(v.list) != 1 }

// Strings returns the value's entries in arrival order.
func (v Value) Strings() []string { return append([]string(nil), v.list...) }

type entry struct {
	key   string
	value Value
}

// Settings is an ordered mapping of key to Value. The zero value is ready to
// use.
type Settings struct {
	entries []entry
	index   map[string]int
}

// New builds a Settings from a sequence of (key, value) pairs in arrival
// order. The first observation of a key inserts a string; later
// observations promote it to a list, preserving the order entries arrived
// in.
func New(pairs [][2]string) *Settings {
	s := &Settings{index: map[string]int{}}
	for _, p := range pairs {
		s.Add(p[0], p[1])
	}
	return s
}

// Add appends value to key, promoting key to a list if it already has a
// value.
func (s *Settings) Add(key, value string) {
	if s.index == nil {
		s.index = map[string]int{}
	}
	if i, ok := s.index[key]; ok {
		s.entries[i].value.list = append(s.entries[i].value.list, value)
		return
	}
	s.index[key] = len(s.entries)
	s.entries = append(s.entries, entry{key: key, value: Value{list: []string{value}}})
}

// Get returns the value for key and whether it was present.
func (s *Settings) Get(key string) (Value, bool) {
	i, ok := s.index[key]
	if !ok {
		return Value{}, false
	}
	return s.entries[i].value, true
}

// Keys returns keys in insertion order.
func (s *Settings) Keys() []string {
	keys := make([]string, len(s.entries))
	for i, e := range s.entries {
		keys[i] = e.key
	}
	return keys
}

// Len reports the number of distinct keys.
func (s *Settings) Len() int { return len(s.entries) }

// Merge combines s (left) with other (right): left's key order is preserved,
// followed by any new keys from other in their own order. A key present in
// both has other's values appended after s's values, extending s toward a
// list.
func (s *Settings) Merge(other *Settings) *Settings {
	merged := &Settings{index: map[string]int{}}
	for _, e := range s.entries {
		for _, v := range e.value.list {
			merged.Add(e.key, v)
		}
	}
	if other == nil {
		return merged
	}
	for _, e := range other.entries {
		for _, v := range e.value.list {
			merged.Add(e.key, v)
		}
	}
	return merged
}

// Serialize renders Settings as deterministic, compact JSON: keys sorted,
// values emitted as a bare string or a JSON array depending on IsList.
func (s *Settings) Serialize() (string, error) {
	keys := append([]string(nil), s.Keys()...)
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return "", err
		}
		buf.Write(kb)
		buf.WriteByte(':')

		v, _ := s.Get(k)
		if v.IsList() {
			vb, err := json.Marshal(v.list)
			if err != nil {
				return "", err
			}
			buf.Write(vb)
		} else {
			vb, err := json.Marshal(v.list[0])
			if err != nil {
				return "", err
			}
			buf.Write(vb)
		}
	}
	buf.WriteByte('}')
	return buf.String(), nil
}

// Parse reconstructs a Settings from a JSON object previously produced by
// Serialize. Round-tripping through Serialize/Parse is a no-op on key order
// and value shape, satisfying the invariant Parse(Serialize(x)) == x.
func Parse(s string) (*Settings, error) {
	var raw map[string]json.RawMessage
	// Use an ordered decode so key order from the source text is preserved.
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("configsettings: expected JSON object")
	}

	settings := &Settings{index: map[string]int{}}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("configsettings: expected string key")
		}

		var rawValue json.RawMessage
		if err := dec.Decode(&rawValue); err != nil {
			return nil, err
		}

		var asList []string
		if err := json.Unmarshal(rawValue, &asList); err == nil {
			for _, v := range asList {
				settings.Add(key, v)
			}
			continue
		}

		var asString string
		if err := json.Unmarshal(rawValue, &asString); err != nil {
			return nil, fmt.Errorf("configsettings: value for %q is neither string nor array", key)
		}
		settings.Add(key, asString)
	}
	_ = raw
	return settings, nil
}

// PerPackage maps a normalized package name to its own Settings, the
// per-package config-settings variant referenced in spec.md §4.3.
type PerPackage map[string]*Settings

// Lookup returns the Settings for name, or nil if none were configured.
func (p PerPackage) Lookup(name string) *Settings { return p[name] }
