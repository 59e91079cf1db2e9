package metadata

import (
	"encoding/json"
	"sort"

	"github.com/fxamacker/cbor/v2"
)

// StringSet is a set of strings that serialises as a sorted JSON/CBOR
// array (matching the source BTreeSet<String> wire shape) while
// supporting O(1) membership and insertion in memory.
type StringSet map[string]struct{}

// NewStringSet returns an empty StringSet.
func NewStringSet() StringSet {
	return make(StringSet)
}

// Add inserts v into the set.
func (s StringSet) Add(v string) {
	s[v] = struct{}{}
}

// Has reports whether v is in the set.
func (s StringSet) Has(v string) bool {
	_, ok := s[v]
	return ok
}

// Sorted returns the set's members in ascending order.
func (s StringSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func (s StringSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

func (s *StringSet) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	set := make(StringSet, len(list))
	for _, v := range list {
		set[v] = struct{}{}
	}
	*s = set
	return nil
}

// MarshalCBOR implements cbor.Marshaler, encoding the set as a sorted
// array of strings.
func (s StringSet) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(s.Sorted())
}

// UnmarshalCBOR implements cbor.Unmarshaler.
func (s *StringSet) UnmarshalCBOR(data []byte) error {
	var list []string
	if err := cbor.Unmarshal(data, &list); err != nil {
		return err
	}
	set := make(StringSet, len(list))
	for _, v := range list {
		set[v] = struct{}{}
	}
	*s = set
	return nil
}
