package mesh

import (
	"fmt"
	"regexp"
	"strings"
)

// Label keys recognized for canonical identity, most specific first.
const (
	KeyCanonicalName     = "service.istio.io/canonical-name"
	KeyAppName           = "app.kubernetes.io/name"
	KeyApp               = "app"
	KeyCanonicalRevision = "service.istio.io/canonical-revision"
	KeyAppVersion        = "app.kubernetes.io/version"
	KeyVersion           = "version"

	// DefaultRevision is used when no revision-bearing label is present.
	DefaultRevision = "latest"
)

// Label is a single key=value pair.
type Label struct {
	Key   string
	Value string
}

// LabelSet is an ordered sequence of labels. Keys need not be unique;
// consumers resolve duplicates with last-wins semantics.
type LabelSet []Label

var labelEntryPattern = regexp.MustCompile(`^[^=,\s]+=[^=,\s]+$`)

// ParseLabels parses a comma-separated key=value,key=value string into an
// ordered LabelSet. An empty input yields an empty set.
func ParseLabels(s string) (LabelSet, error) {
	if s == "" {
		return nil, nil
	}

	parts := strings.Split(s, ",")
	set := make(LabelSet, 0, len(parts))
	for _, part := range parts {
		if !labelEntryPattern.MatchString(part) {
			return nil, fmt.Errorf("invalid label entry %q: expected key=value", part)
		}
		key, value, _ := strings.Cut(part, "=")
		set = append(set, Label{Key: key, Value: value})
	}
	return set, nil
}

// Map flattens the set into a map. Later entries overwrite earlier ones
// sharing a key.
func (ls LabelSet) Map() map[string]string {
	m := make(map[string]string, len(ls))
	for _, l := range ls {
		m[l.Key] = l.Value
	}
	return m
}

// Identity is the normalized (service, revision) pair used to tag a workload
// for mesh-wide correlation. Immutable after derivation.
type Identity struct {
	Service  string
	Revision string
}

// DeriveIdentity resolves the canonical identity from a label set and a
// fallback workload name.
//
// Service resolution order: canonical-name label, app.kubernetes.io/name,
// app, then fallbackName. Revision resolution order: canonical-revision
// label, app.kubernetes.io/version, version, then "latest". Duplicate keys
// resolve to the last occurrence in a single left-to-right scan.
func DeriveIdentity(labels LabelSet, fallbackName string) Identity {
	seen := labels.Map()
	return Identity{
		Service:  firstNonEmpty(seen[KeyCanonicalName], seen[KeyAppName], seen[KeyApp], fallbackName),
		Revision: firstNonEmpty(seen[KeyCanonicalRevision], seen[KeyAppVersion], seen[KeyVersion], DefaultRevision),
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
