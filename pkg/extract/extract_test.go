package extract

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ck3user75233/ck3raven/pkg/script"
)

func TestSymbolKindOf_MatchesPathPrefix(t *testing.T) {
	tbl, err := Load()
	require.NoError(t, err)

	kind, ok := tbl.SymbolKindOf("common/traits/00_traits.txt")
	require.True(t, ok)
	require.Equal(t, "trait", kind)

	_, ok = tbl.SymbolKindOf("gfx/icons/whatever.dds")
	require.False(t, ok)
}

func TestReferenceKindOf_ChecksBothTables(t *testing.T) {
	tbl, err := Load()
	require.NoError(t, err)

	kind, isScript, ok := tbl.ReferenceKindOf("has_trait")
	require.True(t, ok)
	require.False(t, isScript)
	require.Equal(t, "trait", kind)

	kind, isScript, ok = tbl.ReferenceKindOf("run_scripted_effect")
	require.True(t, ok)
	require.True(t, isScript)
	require.Equal(t, "scripted_effect", kind)

	_, _, ok = tbl.ReferenceKindOf("not_a_real_key")
	require.False(t, ok)
}

func TestSymbols_OneBlockPerTopLevelChild(t *testing.T) {
	tbl, err := Load()
	require.NoError(t, err)

	root, err := script.Parse("00_traits.txt", `
brave = {
	desc = "trait_brave_desc"
}
craven = {
}
`)
	require.NoError(t, err)

	syms := tbl.Symbols(root, "common/traits/00_traits.txt", 1, 2, 3)
	require.Len(t, syms, 2)
	require.Equal(t, "brave", syms[0].Name)
	require.Equal(t, "trait", syms[0].Kind)
	require.Equal(t, "trait_brave_desc", syms[0].Signature)
	require.Equal(t, "craven", syms[1].Name)
	require.Empty(t, syms[1].Signature)
}

func TestSymbols_UnroutedPathYieldsNoSymbols(t *testing.T) {
	tbl, err := Load()
	require.NoError(t, err)

	root, err := script.Parse("x.txt", `a = { b = c }`)
	require.NoError(t, err)

	syms := tbl.Symbols(root, "gfx/whatever.txt", 1, 2, 3)
	require.Empty(t, syms)
}

func TestRefs_ExtractsLiteralReferencesWithContext(t *testing.T) {
	tbl, err := Load()
	require.NoError(t, err)

	root, err := script.Parse("00_decisions.txt", `
my_decision = {
	is_shown = {
		has_trait = brave
	}
	effect = {
		add_trait = craven
		run_scripted_effect = my_effect
	}
}
`)
	require.NoError(t, err)

	refs := tbl.Refs(root, 10, 20)
	require.Len(t, refs, 3)

	byName := map[string]store_ref{}
	for _, r := range refs {
		byName[r.Name] = store_ref{Kind: r.Kind, Context: r.Context}
	}
	require.Equal(t, "trait", byName["brave"].Kind)
	require.Equal(t, "is_shown", byName["brave"].Context)
	require.Equal(t, "trait", byName["craven"].Kind)
	require.Equal(t, "effect", byName["craven"].Context)
	require.Equal(t, "scripted_effect", byName["my_effect"].Kind)
}

func TestRefs_IgnoresParameterValues(t *testing.T) {
	tbl, err := Load()
	require.NoError(t, err)

	root, err := script.Parse("x.txt", `has_trait = $TRAIT$`)
	require.NoError(t, err)

	refs := tbl.Refs(root, 1, 2)
	require.Empty(t, refs)
}

// store_ref is a tiny local mirror used only to keep this test file free of
// a direct dependency on pkg/store's exported field names beyond what's
// under test.
type store_ref struct {
	Kind    string
	Context string
}
