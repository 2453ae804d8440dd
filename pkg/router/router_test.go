package router

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoute_CanonicalEnvelopes(t *testing.T) {
	rt, err := New()
	require.NoError(t, err)

	cases := []struct {
		relpath string
		want    string
	}{
		{"common/traits/00_traits.txt", "E_SCRIPT"},
		{"localization/english/traits_l_english.yml", "E_LOC"},
		{"history/characters/germany.txt", "E_CHARACTERS"},
		{"common/landed_titles/00_landed_titles.txt", "E_TITLES"},
		{"common/dynasties/00_dynasties.txt", "E_DYNASTIES"},
		{"common/religion/holy_sites/00_holy_sites.txt", "E_HOLY_SITES"},
		{"common/culture/name_lists/00_name_lists.txt", "E_NAMES"},
		{"gfx/interface/icon.dds", "E_SKIP"},
		{"music/theme.ogg", "E_SKIP"},
		{"gfx/models/unit.mesh", "E_SKIP"},
	}

	for _, tc := range cases {
		got := rt.Route(tc.relpath)
		require.Equalf(t, tc.want, got.Name, "relpath=%s", tc.relpath)
	}
}

func TestRoute_E_SCRIPTStepsMatchSpec(t *testing.T) {
	rt, err := New()
	require.NoError(t, err)

	env := rt.Route("common/traits/00_traits.txt")
	require.Equal(t, []string{"parse", "extract_symbols", "extract_refs"}, env.Steps)
}

func TestRoute_E_LOCStepsMatchSpec(t *testing.T) {
	rt, err := New()
	require.NoError(t, err)

	env := rt.Route("localization/english/x_l_english.yml")
	require.Equal(t, []string{"parse_loc", "extract_loc_entries"}, env.Steps)
}

func TestRoute_IsDeterministic(t *testing.T) {
	rt, err := New()
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		env := rt.Route("common/scripted_effects/00_effects.txt")
		require.Equal(t, "E_SCRIPT", env.Name)
	}
}

func TestRoute_PathRuleOverridesExtensionMatch(t *testing.T) {
	rt, err := New()
	require.NoError(t, err)

	// A .txt under gfx/ would otherwise fall into script_generic; the
	// path_rules override must win since it is evaluated first.
	env := rt.Route("gfx/models/readme.txt")
	require.Equal(t, "E_SKIP", env.Name)
}

func TestRoute_UnknownExtensionFallsThroughToSkip(t *testing.T) {
	rt, err := New()
	require.NoError(t, err)

	env := rt.Route("some/random/file.unknownext")
	require.Equal(t, "E_SKIP", env.Name)
}

func TestLoad_RejectsUnknownFileTypeInMatchOrder(t *testing.T) {
	_, err := Load([]byte(`{"version":1,"envelopes":{},"match_order":["nope"],"file_types":{}}`))
	require.Error(t, err)
}

func TestNew_CarriesDocumentedAncillaryKeys(t *testing.T) {
	rt, err := New()
	require.NoError(t, err)

	require.Equal(t, 0, rt.StepOrder["parse"])
	require.Equal(t, 2, rt.StepOrder["extract_refs"])
	require.Equal(t, "script_generic", rt.ExtensionToType[".txt"])
	require.Equal(t, "E_LOC", rt.TypeToEnvelope["localization"])
}

func TestLoad_WindowsStylePathsAreNormalized(t *testing.T) {
	rt, err := New()
	require.NoError(t, err)

	env := rt.Route(`common\traits\00_traits.txt`)
	require.Equal(t, "E_SCRIPT", env.Name)
}
