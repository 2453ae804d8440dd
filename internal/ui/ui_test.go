package ui

import (
	"bytes"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/require"
)

func TestFprintLabeled_FormatsPrefixAndMessage(t *testing.T) {
	prevNoColor := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prevNoColor })

	var buf bytes.Buffer
	fprintLabeled(&buf, successColor, "ok", "completed %d tasks", 3)

	require.Equal(t, "[ok] completed 3 tasks\n", buf.String())
}

func TestFprintLabeled_AppliesColorWhenEnabled(t *testing.T) {
	prevNoColor := color.NoColor
	color.NoColor = false
	t.Cleanup(func() { color.NoColor = prevNoColor })

	var buf bytes.Buffer
	fprintLabeled(&buf, errorColor, "error", "boom")

	require.Contains(t, buf.String(), "boom")
	require.Contains(t, buf.String(), "\x1b[")
}
