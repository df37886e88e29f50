// Package reference extracts @TABLE.<collection>.<document> tokens from
// document content. Extraction is a pure function of its input: no I/O and no
// state carried between calls.
package reference

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Marker prefixes every reference token.
const Marker = "@TABLE"

// ErrNoToken is returned by Parse when the input holds no reference token.
var ErrNoToken = errors.New("no reference token")

// Mode selects how much of a token is captured after the document identifier.
type Mode int

const (
	// ModeStrict captures bare identifiers. Dotted segments that follow the
	// document identifier are kept in Ref.Trailing.
	ModeStrict Mode = iota

	// ModeLoose captures everything after the collection identifier up to the
	// end of the string. The document is the leading identifier of that
	// capture; the remainder (including any later tokens in the same string)
	// lands in Ref.Trailing.
	ModeLoose
)

var (
	strictPattern = regexp.MustCompile(`@TABLE\.(\w+)\.(\w+)((?:\.\w+)*)`)
	loosePattern  = regexp.MustCompile(`@TABLE\.(\w+)\.(\w.+)`)
	identPattern  = regexp.MustCompile(`^\w+`)
)

// String returns the configuration name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeLoose:
		return "loose"
	default:
		return "strict"
	}
}

// ParseMode maps a configuration value to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "strict":
		return ModeStrict, nil
	case "loose":
		return ModeLoose, nil
	default:
		return ModeStrict, fmt.Errorf("unknown reference mode %q (want strict or loose)", s)
	}
}

func (m Mode) pattern() *regexp.Regexp {
	if m == ModeLoose {
		return loosePattern
	}
	return strictPattern
}

// Ref is one reference token found in a document.
type Ref struct {
	Collection string `json:"collection" yaml:"collection"`
	Document   string `json:"document" yaml:"document"`

	// Trailing holds whatever the pattern captured after the document
	// identifier. It never takes part in identity.
	Trailing string `json:"trailing,omitempty" yaml:"trailing,omitempty"`
}

// Key identifies the referenced document as "collection.document".
func (r Ref) Key() string {
	return r.Collection + "." + r.Document
}

// String renders the token form of the reference.
func (r Ref) String() string {
	return Marker + "." + r.Key()
}

// Extract scans raw text for reference tokens. Duplicates are preserved.
func Extract(text string, mode Mode) []Ref {
	pattern := mode.pattern()
	var refs []Ref
	for _, m := range pattern.FindAllStringSubmatch(text, -1) {
		if ref, ok := fromMatch(m, mode); ok {
			refs = append(refs, ref)
		}
	}
	return refs
}

func fromMatch(m []string, mode Mode) (Ref, bool) {
	if len(m) < 3 {
		return Ref{}, false
	}
	ref := Ref{Collection: m[1]}
	if mode == ModeLoose {
		ref.Document = identPattern.FindString(m[2])
		ref.Trailing = m[2][len(ref.Document):]
	} else {
		ref.Document = m[2]
		if len(m) > 3 {
			ref.Trailing = m[3]
		}
	}
	if ref.Document == "" {
		return Ref{}, false
	}
	return ref, true
}

// ExtractValue walks a decoded JSON value and scans every string leaf. Object
// keys are visited in sorted order so the result is deterministic.
func ExtractValue(v any, mode Mode) []Ref {
	var refs []Ref
	walk(v, mode, &refs)
	return refs
}

func walk(v any, mode Mode, refs *[]Ref) {
	switch val := v.(type) {
	case string:
		*refs = append(*refs, Extract(val, mode)...)
	case []any:
		for _, item := range val {
			walk(item, mode, refs)
		}
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			walk(val[k], mode, refs)
		}
	}
}

// ExtractDocument decodes content as JSON and walks it. When decoding fails
// the raw text is scanned instead; the refs found that way are returned
// together with the decode error so the caller can report it.
func ExtractDocument(content []byte, mode Mode) ([]Ref, error) {
	var v any
	if err := json.Unmarshal(content, &v); err != nil {
		return Extract(string(content), mode), fmt.Errorf("decode document: %w", err)
	}
	return ExtractValue(v, mode), nil
}

// Dedupe collapses refs by Key, keeping the first occurrence.
func Dedupe(refs []Ref) []Ref {
	if len(refs) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(refs))
	out := make([]Ref, 0, len(refs))
	for _, r := range refs {
		if _, ok := seen[r.Key()]; ok {
			continue
		}
		seen[r.Key()] = struct{}{}
		out = append(out, r)
	}
	return out
}

// Parse reads the first reference token in s using strict capture.
func Parse(s string) (Ref, error) {
	m := strictPattern.FindStringSubmatch(strings.TrimSpace(s))
	ref, ok := fromMatch(m, ModeStrict)
	if !ok {
		return Ref{}, fmt.Errorf("%w in %q", ErrNoToken, s)
	}
	return ref, nil
}
