// Package metadata holds the caller-supplied labels archived alongside
// measurement results.
package metadata

import (
	"fmt"
	"strings"
)

// NameValue is a BigQuery-compatible type for metadata "name"/"value" pairs.
type NameValue struct {
	Name  string
	Value string
}

// FromLabels parses "name=value" labels, as given on the command line,
// into NameValue pairs. The value may contain further '=' characters;
// the name may not be empty.
func FromLabels(labels []string) ([]NameValue, error) {
	var pairs []NameValue
	for _, label := range labels {
		name, value, found := strings.Cut(label, "=")
		if !found || name == "" {
			return nil, fmt.Errorf("malformed label %q: expected name=value", label)
		}
		pairs = append(pairs, NameValue{Name: name, Value: value})
	}
	return pairs, nil
}
