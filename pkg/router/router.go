// Package router implements CK3Raven's deterministic file-to-envelope
// routing table (spec.md §4.4): a pure function from a relative path to the
// ordered list of steps a build-queue worker must run for it. The table
// itself is data (routing.json), not code, following the teacher's
// IngestionConfig.ExcludeGlobs pattern-matching shape — but expressed as
// ordered first-match-wins rules rather than arbitrary globs, since the
// router must be total and deterministic over a small enumerable rule set.
package router

import (
	"embed"
	"encoding/json"
	"fmt"
	"path"
	"strings"
)

//go:embed routing.json
var embeddedFS embed.FS

// Envelope is the ordered list of named steps a worker runs for one file.
type Envelope struct {
	Name  string   `json:"name"`
	Steps []string `json:"steps"`
}

type matchRule struct {
	PathPrefixes []string `json:"path_prefixes"`
	Extensions   []string `json:"extensions"`
}

type fileType struct {
	Envelope string    `json:"envelope"`
	Notes    string    `json:"notes"`
	Match    matchRule `json:"match"`
}

type pathRule struct {
	PathPrefix string `json:"path_prefix"`
	Envelope   string `json:"envelope"`
}

// Table is a parsed routing table. The zero value is not usable; construct
// with New or Load. StepOrder, ExtensionToType, and TypeToEnvelope are part
// of the documented external JSON shape (spec.md §6) but redundant with
// Envelopes/FileTypes for Route's own purposes: Route never consults them,
// they're carried through for tooling that inspects routing.json directly
// rather than going through this package.
type Table struct {
	Version         int                 `json:"version"`
	Envelopes       map[string][]string `json:"envelopes"`
	MatchOrder      []string            `json:"match_order"`
	FileTypes       map[string]fileType `json:"file_types"`
	PathRules       []pathRule          `json:"path_rules"`
	SkipExtensions  []string            `json:"skip_extensions"`
	StepOrder       map[string]int      `json:"steps"`
	ExtensionToType map[string]string   `json:"extension_to_type"`
	TypeToEnvelope  map[string]string   `json:"type_to_envelope"`
}

// New loads the routing table shipped embedded in the binary.
func New() (*Table, error) {
	data, err := embeddedFS.ReadFile("routing.json")
	if err != nil {
		return nil, fmt.Errorf("router: read embedded routing.json: %w", err)
	}
	return Load(data)
}

// Load parses a routing table from raw JSON, for tests and for operators
// who want to override the shipped table.
func Load(data []byte) (*Table, error) {
	var t Table
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("router: parse routing table: %w", err)
	}
	for _, name := range t.MatchOrder {
		if _, ok := t.FileTypes[name]; !ok {
			return nil, fmt.Errorf("router: match_order names unknown file_type %q", name)
		}
	}
	return &t, nil
}

func (t *Table) envelope(name string) Envelope {
	return Envelope{Name: name, Steps: t.Envelopes[name]}
}

// Steps returns the ordered step list for a named envelope, as used by a
// build-queue worker that already has an envelope name from a queued task
// and doesn't need to re-route a path to get it.
func (t *Table) Steps(envelopeName string) []string {
	return t.Envelopes[envelopeName]
}

// Route maps relpath to its envelope. Deterministic, side-effect-free
// (spec invariant 10: "route(path) has no side effects and depends only on
// its input and the routing table"). Evaluation order: path_rules (exact
// overrides), skip_extensions, then match_order's file_types, first match
// wins; anything left unmatched falls through to E_SKIP.
func (t *Table) Route(relpath string) Envelope {
	relpath = filepathToSlash(relpath)

	for _, rule := range t.PathRules {
		if strings.HasPrefix(relpath, rule.PathPrefix) {
			return t.envelope(rule.Envelope)
		}
	}

	ext := strings.ToLower(path.Ext(relpath))
	for _, skipExt := range t.SkipExtensions {
		if ext == skipExt {
			return t.envelope("E_SKIP")
		}
	}

	for _, name := range t.MatchOrder {
		ft := t.FileTypes[name]
		if matches(relpath, ext, ft.Match) {
			return t.envelope(ft.Envelope)
		}
	}

	return t.envelope("E_SKIP")
}

func matches(relpath, ext string, m matchRule) bool {
	pathOK := len(m.PathPrefixes) == 0
	for _, p := range m.PathPrefixes {
		if strings.HasPrefix(relpath, p) {
			pathOK = true
			break
		}
	}
	if !pathOK {
		return false
	}

	extOK := len(m.Extensions) == 0
	for _, e := range m.Extensions {
		if ext == e {
			extOK = true
			break
		}
	}
	return extOK
}

func filepathToSlash(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}
