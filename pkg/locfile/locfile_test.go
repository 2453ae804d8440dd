package locfile

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse_HeaderAndEntries(t *testing.T) {
	src := "l_english:\n" +
		` trait_brave: "Brave"` + "\n" +
		` trait_brave_desc:1 "A brave [Character.GetTitledFirstName] fears nothing."` + "\n"

	f, err := Parse("traits_l_english.yml", src)
	require.NoError(t, err)
	require.Equal(t, "l_english", f.Language)
	require.Len(t, f.Entries, 2)

	require.Equal(t, "trait_brave", f.Entries[0].Key)
	require.Equal(t, 0, f.Entries[0].Version)
	require.Equal(t, "Brave", f.Entries[0].PlainValue)

	require.Equal(t, "trait_brave_desc", f.Entries[1].Key)
	require.Equal(t, 1, f.Entries[1].Version)
	require.Equal(t, "A brave  fears nothing.", f.Entries[1].PlainValue)
}

func TestParse_SkipsCommentsAndBlankLines(t *testing.T) {
	src := "l_english:\n\n# a comment\n key1:0 \"value one\"\n\n"
	f, err := Parse("x.yml", src)
	require.NoError(t, err)
	require.Len(t, f.Entries, 1)
	require.Equal(t, "key1", f.Entries[0].Key)
}

func TestParse_MissingHeaderErrors(t *testing.T) {
	_, err := Parse("x.yml", ` key1:0 "value"` + "\n")
	require.Error(t, err)
}

func TestParse_EscapedQuotesAndNewlines(t *testing.T) {
	src := "l_english:\n" + ` key1:0 "line one\nline two with \"quotes\""` + "\n"
	f, err := Parse("x.yml", src)
	require.NoError(t, err)
	require.Equal(t, "line one\nline two with \"quotes\"", f.Entries[0].PlainValue)
}

func TestParse_MalformedLineIsSkippedNotFatal(t *testing.T) {
	src := "l_english:\n" +
		" not_a_valid_entry_no_colon\n" +
		` good_key:0 "ok"` + "\n"
	f, err := Parse("x.yml", src)
	require.NoError(t, err)
	require.Len(t, f.Entries, 1)
	require.Equal(t, "good_key", f.Entries[0].Key)
}
