package resolve

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/c360studio/autobrancher/storage"
)

// MatchPolicy selects how a profile URI is compared with the root URI.
type MatchPolicy string

const (
	// MatchContains selects profiles whose URI contains the root URI.
	MatchContains MatchPolicy = "contains"
	// MatchContained selects profiles whose URI is contained in the root URI.
	MatchContained MatchPolicy = "contained"
	// MatchEither accepts both directions.
	MatchEither MatchPolicy = "either"
)

// ParseMatchPolicy maps a configuration value to a MatchPolicy. An empty
// value selects MatchEither.
func ParseMatchPolicy(s string) (MatchPolicy, error) {
	switch p := MatchPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return MatchEither, nil
	case MatchContains, MatchContained, MatchEither:
		return p, nil
	default:
		return "", fmt.Errorf("unknown profile match policy %q", s)
	}
}

// Matches reports whether profileURI selects rootURI. Empty URIs never match.
func (p MatchPolicy) Matches(profileURI, rootURI string) bool {
	if profileURI == "" || rootURI == "" {
		return false
	}
	switch p {
	case MatchContains:
		return strings.Contains(profileURI, rootURI)
	case MatchContained:
		return strings.Contains(rootURI, profileURI)
	default:
		return strings.Contains(profileURI, rootURI) || strings.Contains(rootURI, profileURI)
	}
}

// ProfileMatcher scans a profile collection for documents whose URI matches
// a protocol URL.
type ProfileMatcher struct {
	store      storage.Store
	collection string
	policy     MatchPolicy
	logger     *slog.Logger
}

// NewProfileMatcher creates a matcher over collection.
func NewProfileMatcher(store storage.Store, collection string, policy MatchPolicy, logger *slog.Logger) *ProfileMatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if policy == "" {
		policy = MatchEither
	}
	return &ProfileMatcher{
		store:      store,
		collection: collection,
		policy:     policy,
		logger:     logger,
	}
}

// ProfileName returns the entry name of a profile document:
// <resource>_<authenNode>-<authenType>.
func ProfileName(resource, authenNode, authenType string) string {
	return fmt.Sprintf("%s_%s-%s", resource, authenNode, authenType)
}

// Match returns a profile entry for every document in the collection whose
// uri field matches rootURI, in listing order. Profile contents are not
// walked for further references.
func (m *ProfileMatcher) Match(ctx context.Context, rootURI string) []Entry {
	if rootURI == "" || m.collection == "" {
		return nil
	}

	names, err := m.store.List(ctx, m.collection)
	if err != nil {
		if storage.IsNotFound(err) {
			m.logger.Debug("No resource profile collection", "collection", m.collection)
		} else {
			m.logger.Warn("Failed to list resource profiles",
				"collection", m.collection,
				"error", err)
		}
		return nil
	}

	var matched []Entry
	for _, name := range names {
		if ctx.Err() != nil {
			break
		}
		content, err := m.store.Load(ctx, m.collection, name)
		if err != nil {
			m.logger.Warn("Failed to load resource profile", "document", name, "error", err)
			continue
		}
		doc, err := NewEntry(m.collection, name, KindProfile, content)
		if err != nil {
			m.logger.Warn("Malformed resource profile", "document", name, "error", err)
			continue
		}
		obj, ok := doc.Object()
		if !ok {
			continue
		}
		if !m.policy.Matches(stringField(obj, "uri"), rootURI) {
			continue
		}

		doc.Name = ProfileName(
			stringField(obj, "resource"),
			stringField(obj, "authenNode"),
			stringField(obj, "authenType"))
		matched = append(matched, doc)
	}
	return matched
}
