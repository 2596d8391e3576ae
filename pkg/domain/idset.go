package domain

import (
	"encoding/json"
	"sort"
)

// IDSet is an immutable set of record identifiers. Membership arrays are
// stored as sets internally and serialised as sorted JSON arrays; duplicate
// and empty identifiers found on decode are dropped.
type IDSet struct {
	ids map[string]struct{}
}

// NewIDSet builds a set from the supplied identifiers.
func NewIDSet(ids ...string) IDSet {
	s := IDSet{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		if id == "" {
			continue
		}
		s.ids[id] = struct{}{}
	}
	return s
}

// Has reports whether id is in the set.
func (s IDSet) Has(id string) bool {
	_, ok := s.ids[id]
	return ok
}

// Len returns the number of identifiers.
func (s IDSet) Len() int { return len(s.ids) }

// With returns a copy of the set including id.
func (s IDSet) With(id string) IDSet {
	out := s.clone()
	if id != "" {
		out.ids[id] = struct{}{}
	}
	return out
}

// Without returns a copy of the set excluding id.
func (s IDSet) Without(id string) IDSet {
	out := s.clone()
	delete(out.ids, id)
	return out
}

// Equal reports set equality; order and duplicates never matter.
func (s IDSet) Equal(other IDSet) bool {
	if len(s.ids) != len(other.ids) {
		return false
	}
	for id := range s.ids {
		if _, ok := other.ids[id]; !ok {
			return false
		}
	}
	return true
}

// Intersection returns the identifiers present in both sets, sorted.
func (s IDSet) Intersection(other IDSet) []string {
	var out []string
	for id := range s.ids {
		if _, ok := other.ids[id]; ok {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Diff returns the identifiers that must be added to and removed from s to
// obtain target.
func (s IDSet) Diff(target IDSet) (added, removed []string) {
	for id := range target.ids {
		if _, ok := s.ids[id]; !ok {
			added = append(added, id)
		}
	}
	for id := range s.ids {
		if _, ok := target.ids[id]; !ok {
			removed = append(removed, id)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}

// Slice returns the identifiers in ascending order. The result is never nil.
func (s IDSet) Slice() []string {
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s IDSet) clone() IDSet {
	out := IDSet{ids: make(map[string]struct{}, len(s.ids)+1)}
	for id := range s.ids {
		out.ids[id] = struct{}{}
	}
	return out
}

// MarshalJSON encodes the set as a sorted array.
func (s IDSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Slice())
}

// UnmarshalJSON decodes an array, collapsing duplicates.
func (s *IDSet) UnmarshalJSON(data []byte) error {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*s = NewIDSet(ids...)
	return nil
}
