package worker

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ck3user75233/ck3raven/pkg/ck3err"
	"github.com/ck3user75233/ck3raven/pkg/extract"
	"github.com/ck3user75233/ck3raven/pkg/router"
	"github.com/ck3user75233/ck3raven/pkg/script"
	"github.com/ck3user75233/ck3raven/pkg/store"
)

func newTestPool(t *testing.T) (*Pool, *store.Store) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "ck3raven.db")
	s, err := store.Open(dbPath, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	tables, err := extract.Load()
	require.NoError(t, err)
	rt, err := router.New()
	require.NoError(t, err)

	return New(s, tables, rt, nil, slog.Default(), "test-worker"), s
}

func seedBuildTask(t *testing.T, s *store.Store, relpath, content, envelope string) int64 {
	t.Helper()
	ctx := context.Background()
	cvID, err := s.EnsureContentVersion(ctx, "vanilla", nil, "/vanilla", "roothash-"+relpath)
	require.NoError(t, err)

	blob := []byte(content)
	hash := store.HashContent(blob)
	require.NoError(t, s.StoreFileContent(ctx, hash, blob, content, false, "utf-8"))
	fileID, err := s.UpsertFile(ctx, cvID, relpath, hash, 1, int64(len(blob)), hash)
	require.NoError(t, err)

	buildID, err := s.EnqueueBuildTask(ctx, store.BuildTask{
		FileID: fileID, Envelope: envelope, MTime: 1, Size: int64(len(blob)),
	})
	require.NoError(t, err)
	return buildID
}

func TestExecute_FullScriptPipelineStoresSymbolsAndRefs(t *testing.T) {
	p, s := newTestPool(t)
	ctx := context.Background()

	seedBuildTask(t, s, "common/traits/00_traits.txt", `
brave = {
	opposites = { craven }
	ai_will_do = {
		modifier = {
			has_trait = zealous
		}
	}
}
`, "E_SCRIPT")

	completed, errored, err := p.RunBounded(ctx, 1, 1)
	require.NoError(t, err)
	require.Equal(t, 0, errored)
	require.Equal(t, 1, completed)

	sym, err := s.FindSymbol(ctx, 1, "trait", "brave")
	require.NoError(t, err)
	require.Equal(t, "brave", sym.Name)
}

func TestExecute_ParseIsIdempotentAcrossRerun(t *testing.T) {
	p, s := newTestPool(t)
	ctx := context.Background()

	buildID := seedBuildTask(t, s, "common/traits/00_traits.txt", "brave = { }", "E_SCRIPT")

	completed, errored, err := p.RunBounded(ctx, 1, 1)
	require.NoError(t, err)
	require.Equal(t, 1, completed)
	require.Equal(t, 0, errored)

	fc, err := s.ResolveFileContext(ctx, 1)
	require.NoError(t, err)
	astID1, err := s.GetASTID(ctx, fc.ContentHash, ParserVersion)
	require.NoError(t, err)

	// Re-enqueue the same fingerprint (which puts the completed row back to
	// pending under the same build id) and run again; the AST row must not
	// be duplicated.
	_, err = s.EnqueueBuildTask(ctx, store.BuildTask{
		FileID: fc.FileID, Envelope: "E_SCRIPT", MTime: 1, Size: 11,
	})
	require.NoError(t, err)
	_ = buildID

	completed, errored, err = p.RunBounded(ctx, 1, 1)
	require.NoError(t, err)
	require.Equal(t, 1, completed)
	require.Equal(t, 0, errored)

	astID2, err := s.GetASTID(ctx, fc.ContentHash, ParserVersion)
	require.NoError(t, err)
	require.Equal(t, astID1, astID2)
}

func TestExecute_LocalizationPipelineStoresEntries(t *testing.T) {
	p, s := newTestPool(t)
	ctx := context.Background()

	content := "l_english:\n trait_brave:0 \"Brave\"\n"
	seedBuildTask(t, s, "localization/english/traits_l_english.yml", content, "E_LOC")

	completed, errored, err := p.RunBounded(ctx, 1, 1)
	require.NoError(t, err)
	require.Equal(t, 1, completed)
	require.Equal(t, 0, errored)

	entry, err := s.GetLocEntry(ctx, "l_english", "trait_brave")
	require.NoError(t, err)
	require.Equal(t, "Brave", entry.PlainValue)
}

func TestExecute_ParseErrorIsRecordedAsPermanentFailure(t *testing.T) {
	p, s := newTestPool(t)
	ctx := context.Background()

	buildID := seedBuildTask(t, s, "common/traits/00_traits.txt", "brave = { unterminated", "E_SCRIPT")

	completed, errored, err := p.RunBounded(ctx, 1, 1)
	require.NoError(t, err)
	require.Equal(t, 0, completed)
	require.Equal(t, 1, errored)

	var status string
	require.NoError(t, s.DB().QueryRowContext(ctx, `SELECT status FROM build_tasks WHERE build_id = ?`, buildID).Scan(&status))
	require.Equal(t, "error", status)
}

func TestExecute_ParseTimeoutClassifiesAsParseStep(t *testing.T) {
	p, s := newTestPool(t)
	ctx := context.Background()

	buildID := seedBuildTask(t, s, "common/traits/00_traits.txt", "brave = { }", "E_SCRIPT")

	origParse, origTimeout := parseScript, parseTimeout
	parseTimeout = 10 * time.Millisecond
	parseScript = func(filename, src string) (*script.Root, error) {
		time.Sleep(50 * time.Millisecond)
		return origParse(filename, src)
	}
	t.Cleanup(func() { parseScript, parseTimeout = origParse, origTimeout })

	_, errored, err := p.RunBounded(ctx, 1, 1)
	require.NoError(t, err)
	require.Equal(t, 1, errored)

	_, _, qerr := s.QueueCounts(ctx)
	require.NoError(t, qerr)

	var step string
	require.NoError(t, s.DB().QueryRowContext(ctx, `SELECT error_step FROM build_tasks WHERE build_id = ?`, buildID).Scan(&step))
	require.Equal(t, "parse", step)
}

func TestClassifyError_MapsKnownTypedErrors(t *testing.T) {
	step, _, permanent := classifyError(&ck3err.ParseTimeoutError{Budget: "10s"})
	require.Equal(t, "parse", step)
	require.True(t, permanent)

	step, _, permanent = classifyError(&ck3err.ExtractionError{Step: "extract_refs", Err: ck3err.ErrNotFound})
	require.Equal(t, "extract_refs", step)
	require.False(t, permanent)
}
