package domain

import (
	"sort"
	"strings"
)

// FeatureSet is a set of server feature names. Names compare case-insensitively.
type FeatureSet map[string]struct{}

// NewFeatureSet builds a set from names, ignoring blanks.
func NewFeatureSet(names ...string) FeatureSet {
	s := make(FeatureSet, len(names))
	for _, n := range names {
		s.Add(n)
	}
	return s
}

// Add inserts a feature name.
func (s FeatureSet) Add(name string) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return
	}
	s[name] = struct{}{}
}

// Has reports whether the set contains name.
func (s FeatureSet) Has(name string) bool {
	_, ok := s[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

// Missing returns the features of s not present in installed, sorted.
func (s FeatureSet) Missing(installed FeatureSet) []string {
	var out []string
	for name := range s {
		if _, ok := installed[name]; !ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Sorted returns the feature names in order.
func (s FeatureSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for name := range s {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
