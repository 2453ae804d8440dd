// Package extract implements CK3Raven's symbol/ref extraction (spec.md
// §4.5): mapping a file's relative path to a symbol kind, mapping an
// assignment key to a referenced symbol kind, and walking a parsed AST to
// produce the symbol/ref rows a build-queue worker writes.
//
// The rule tables (symbol_kinds.json, reference_keys.json,
// script_reference_keys.json, effect_trigger_keys.json) are embedded JSON,
// following the same embedded-data-over-code shape as pkg/router's routing
// table — both are total deterministic lookups over a small enumerable set,
// not behavior that belongs in Go source.
package extract

import (
	"embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

//go:embed symbol_kinds.json reference_keys.json script_reference_keys.json effect_trigger_keys.json
var embeddedFS embed.FS

// Tables bundles the four rule tables extraction consults.
type Tables struct {
	// SymbolKinds maps a path prefix (longest match wins) to the symbol
	// kind assigned to top-level blocks found under it.
	SymbolKinds map[string]string
	// ReferenceKeys maps an assignment key to the symbol kind its value
	// names.
	ReferenceKeys map[string]string
	// ScriptReferenceKeys maps an assignment key to the symbol kind its
	// value names: "scripted_effect", "scripted_trigger", "event" or
	// "scripted_value".
	ScriptReferenceKeys map[string]string
	// EffectTriggerKeys names keys that open a contextual scope (effect,
	// limit, ai_will_do, ...), used to populate a ref's context string.
	EffectTriggerKeys map[string]bool

	sortedPrefixes []string
}

// Load builds a Tables from the four embedded JSON documents.
func Load() (*Tables, error) {
	t := &Tables{}

	if err := readJSON("symbol_kinds.json", &t.SymbolKinds); err != nil {
		return nil, err
	}
	if err := readJSON("reference_keys.json", &t.ReferenceKeys); err != nil {
		return nil, err
	}
	if err := readJSON("script_reference_keys.json", &t.ScriptReferenceKeys); err != nil {
		return nil, err
	}

	var triggerList []string
	if err := readJSON("effect_trigger_keys.json", &triggerList); err != nil {
		return nil, err
	}
	t.EffectTriggerKeys = make(map[string]bool, len(triggerList))
	for _, k := range triggerList {
		t.EffectTriggerKeys[k] = true
	}

	t.sortedPrefixes = make([]string, 0, len(t.SymbolKinds))
	for prefix := range t.SymbolKinds {
		t.sortedPrefixes = append(t.sortedPrefixes, prefix)
	}
	sort.Slice(t.sortedPrefixes, func(i, j int) bool {
		return len(t.sortedPrefixes[i]) > len(t.sortedPrefixes[j])
	})

	return t, nil
}

func readJSON(name string, dst any) error {
	data, err := embeddedFS.ReadFile(name)
	if err != nil {
		return fmt.Errorf("extract: read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("extract: parse %s: %w", name, err)
	}
	return nil
}

// SymbolKindOf maps relpath to a symbol kind via longest-prefix match.
// Flagged here, in this doc comment, for product-owner review
// (Open Question 1): the table is the union of every plausible path the
// source material names, and overlapping prefixes resolve to the longest
// (most specific) one.
func (t *Tables) SymbolKindOf(relpath string) (string, bool) {
	relpath = strings.ReplaceAll(relpath, "\\", "/")
	for _, prefix := range t.sortedPrefixes {
		if strings.HasPrefix(relpath, prefix) {
			return t.SymbolKinds[prefix], true
		}
	}
	return "", false
}

// ReferenceKindOf maps an assignment key to the symbol kind it references,
// and reports whether the match came from the script-reference table
// (scripted effects/triggers) as opposed to the plain reference table. Per
// Open Question 1, when a key appears in both tables the result is taken
// from ReferenceKeys first — the two tables are documented as overlapping,
// not as mutually exclusive partitions.
func (t *Tables) ReferenceKindOf(key string) (kind string, isScriptRef bool, ok bool) {
	if kind, ok := t.ReferenceKeys[key]; ok {
		return kind, false, true
	}
	if kind, ok := t.ScriptReferenceKeys[key]; ok {
		return kind, true, true
	}
	return "", false, false
}

// IsEffectTriggerKey reports whether key opens a contextual scope whose
// nested refs should be tagged with it (spec.md §4.5 "context string").
func (t *Tables) IsEffectTriggerKey(key string) bool {
	return t.EffectTriggerKeys[key]
}
