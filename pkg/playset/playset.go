// Package playset reads the playset manifest file the daemon consumes to
// seed discovery: one vanilla content version plus one per enabled mod, in
// load order (spec.md §6 "Playset file (consumed, not owned)"). The format
// is specified by an external tool, not chosen by this package, so decoding
// is stdlib encoding/json rather than any schema-validation library.
package playset

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// Mod is one entry in the playset's mods array.
type Mod struct {
	Name       string `json:"name"`
	Path       string `json:"path"`
	WorkshopID string `json:"workshop_id"`
	SteamID    string `json:"steam_id"`
	Enabled    bool   `json:"enabled"`
	LoadOrder  int    `json:"load_order"`
}

// Playset is the decoded manifest: a name, the vanilla install path, and an
// ordered list of mods.
type Playset struct {
	Name        string `json:"playset_name"`
	VanillaPath string `json:"-"`
	Mods        []Mod  `json:"mods"`
}

// rawPlayset mirrors the on-disk JSON shape before vanilla-path resolution.
// vanilla is the new form (an object with a "path" field); vanilla_path is
// the legacy flat string form. Both may be present; the new form wins
// (spec.md §9 Open Question: "prefer new form when both are present").
type rawPlayset struct {
	Name    string `json:"playset_name"`
	Vanilla *struct {
		Path string `json:"path"`
	} `json:"vanilla"`
	VanillaPathLegacy string `json:"vanilla_path"`
	Mods              []Mod  `json:"mods"`
}

// Load reads and decodes a playset manifest from path.
func Load(path string) (*Playset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("playset: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a playset manifest from raw JSON bytes.
func Parse(data []byte) (*Playset, error) {
	var raw rawPlayset
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("playset: decode: %w", err)
	}

	vanillaPath := raw.VanillaPathLegacy
	if raw.Vanilla != nil && raw.Vanilla.Path != "" {
		vanillaPath = raw.Vanilla.Path
	}
	if vanillaPath == "" {
		return nil, fmt.Errorf("playset: missing vanilla path (checked vanilla.path and vanilla_path)")
	}

	return &Playset{
		Name:        raw.Name,
		VanillaPath: vanillaPath,
		Mods:        raw.Mods,
	}, nil
}

// EnabledMods returns the enabled mods sorted by load_order ascending —
// the order content versions must be walked in for later-loaded mods to
// correctly override earlier ones downstream.
func (p *Playset) EnabledMods() []Mod {
	var out []Mod
	for _, m := range p.Mods {
		if m.Enabled {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].LoadOrder < out[j].LoadOrder })
	return out
}
