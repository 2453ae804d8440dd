package script

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRootJSON_RoundTripsThroughMarshalUnmarshal(t *testing.T) {
	src := `
brave = {
	icon = trait_brave
	opposites = { craven }
	compatible = { zealous }
	ai_will_do = {
		base = 10
		modifier = {
			add = 5
			has_trait = zealous
		}
	}
}
`
	root, err := Parse("00_traits.txt", src)
	require.NoError(t, err)

	data, err := json.Marshal(root)
	require.NoError(t, err)

	var got Root
	require.NoError(t, json.Unmarshal(data, &got))

	require.Equal(t, root.Filename, got.Filename)
	require.Len(t, got.Children, 1)

	block, ok := got.Children[0].(*Block)
	require.True(t, ok)
	require.Equal(t, "brave", block.Name)
	require.Equal(t, "=", block.Op)
	require.Len(t, block.Children, 4)

	data2, err := json.Marshal(&got)
	require.NoError(t, err)
	require.JSONEq(t, string(data), string(data2))
}
