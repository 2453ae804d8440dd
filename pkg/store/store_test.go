package store

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "ck3raven.db")
	s, err := Open(dbPath, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_RunsMigrationsToCurrentVersion(t *testing.T) {
	s := newTestStore(t)
	v, err := s.SchemaVersion()
	require.NoError(t, err)
	require.Equal(t, schemaVersion, v)
}

func TestOpen_IsIdempotentAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ck3raven.db")
	s1, err := Open(dbPath, slog.Default())
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(dbPath, slog.Default())
	require.NoError(t, err)
	defer s2.Close()

	v, err := s2.SchemaVersion()
	require.NoError(t, err)
	require.Equal(t, schemaVersion, v)
}

func TestContentVersion_EnsureIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id1, err := s.EnsureContentVersion(ctx, "vanilla", nil, "/test/vanilla", "roothash123")
	require.NoError(t, err)

	id2, err := s.EnsureContentVersion(ctx, "vanilla", nil, "/test/vanilla", "roothash123")
	require.NoError(t, err)
	require.Equal(t, id1, id2)

	cv, err := s.GetContentVersion(ctx, id1)
	require.NoError(t, err)
	require.Equal(t, "vanilla", cv.Kind)
	require.Equal(t, "roothash123", cv.ContentRootHash)
}

func TestFileContent_StoreAndGetRoundTrips(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	blob := []byte("owner = { tier = emperor }")
	hash := HashContent(blob)

	require.NoError(t, s.StoreFileContent(ctx, hash, blob, string(blob), false, "utf-8"))
	// Storing the same hash again must not error (content-addressed dedup).
	require.NoError(t, s.StoreFileContent(ctx, hash, blob, string(blob), false, "utf-8"))

	got, err := s.GetFileContent(ctx, hash)
	require.NoError(t, err)
	require.Equal(t, blob, got)
}

func TestFileContent_GetMissingReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetFileContent(context.Background(), "deadbeef")
	require.ErrorIs(t, err, errNotFound)
}

func TestUpsertFile_ChangesFingerprintOnUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cvID, err := s.EnsureContentVersion(ctx, "vanilla", nil, "/test/vanilla", "root1")
	require.NoError(t, err)

	blob1 := []byte("a = b")
	h1 := HashContent(blob1)
	require.NoError(t, s.StoreFileContent(ctx, h1, blob1, string(blob1), false, "utf-8"))

	fileID, err := s.UpsertFile(ctx, cvID, "common/foo.txt", h1, 100, int64(len(blob1)), h1)
	require.NoError(t, err)
	require.NotZero(t, fileID)

	blob2 := []byte("a = c")
	h2 := HashContent(blob2)
	require.NoError(t, s.StoreFileContent(ctx, h2, blob2, string(blob2), false, "utf-8"))

	fileID2, err := s.UpsertFile(ctx, cvID, "common/foo.txt", h2, 200, int64(len(blob2)), h2)
	require.NoError(t, err)
	require.Equal(t, fileID, fileID2)
}

func TestASTStore_StoreAndGetPartitionedByParserVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	blob := []byte("a = b")
	hash := HashContent(blob)
	require.NoError(t, s.StoreFileContent(ctx, hash, blob, string(blob), false, "utf-8"))

	_, err := s.StoreAST(ctx, hash, "v1", []byte(`{"_type":"root"}`), true, 1, "")
	require.NoError(t, err)
	_, err = s.StoreAST(ctx, hash, "v2", []byte(`{"_type":"root","extra":true}`), true, 1, "")
	require.NoError(t, err)

	got1, err := s.GetAST(ctx, hash, "v1")
	require.NoError(t, err)
	require.JSONEq(t, `{"_type":"root"}`, string(got1))

	got2, err := s.GetAST(ctx, hash, "v2")
	require.NoError(t, err)
	require.JSONEq(t, `{"_type":"root","extra":true}`, string(got2))
}

func TestSymbolsAndRefs_ReplaceIsDeleteThenInsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cvID, err := s.EnsureContentVersion(ctx, "vanilla", nil, "/test/vanilla", "root1")
	require.NoError(t, err)
	blob := []byte("a = b")
	hash := HashContent(blob)
	require.NoError(t, s.StoreFileContent(ctx, hash, blob, string(blob), false, "utf-8"))
	fileID, err := s.UpsertFile(ctx, cvID, "common/traits/00_traits.txt", hash, 1, int64(len(blob)), hash)
	require.NoError(t, err)
	astID, err := s.StoreAST(ctx, hash, "v1", []byte(`{"_type":"root"}`), true, 1, "")
	require.NoError(t, err)

	err = s.ReplaceFileSymbolsAndRefs(ctx, fileID,
		[]Symbol{{Kind: "trait", Name: "brave", CVID: cvID, ASTID: astID, Line: 1}},
		[]Ref{{Kind: "trait", Name: "craven", FileID: fileID, ASTID: astID, Line: 2}},
	)
	require.NoError(t, err)

	sym, err := s.FindSymbol(ctx, cvID, "trait", "brave")
	require.NoError(t, err)
	require.Equal(t, "brave", sym.Name)

	// Reparse with a different symbol set: the old one must be gone.
	err = s.ReplaceFileSymbolsAndRefs(ctx, fileID,
		[]Symbol{{Kind: "trait", Name: "craven", CVID: cvID, ASTID: astID, Line: 1}},
		nil,
	)
	require.NoError(t, err)

	_, err = s.FindSymbol(ctx, cvID, "trait", "brave")
	require.ErrorIs(t, err, errNotFound)
	sym2, err := s.FindSymbol(ctx, cvID, "trait", "craven")
	require.NoError(t, err)
	require.Equal(t, "craven", sym2.Name)
}

func TestBuildQueue_EnqueueClaimCompleteLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cvID, err := s.EnsureContentVersion(ctx, "vanilla", nil, "/test/vanilla", "root1")
	require.NoError(t, err)
	blob := []byte("a = b")
	hash := HashContent(blob)
	require.NoError(t, s.StoreFileContent(ctx, hash, blob, string(blob), false, "utf-8"))
	fileID, err := s.UpsertFile(ctx, cvID, "f.txt", hash, 1, int64(len(blob)), hash)
	require.NoError(t, err)

	buildID, err := s.EnqueueBuildTask(ctx, BuildTask{
		FileID: fileID, Envelope: "E_SCRIPT", MTime: 1, Size: int64(len(blob)), Hash: hash, Priority: 0,
	})
	require.NoError(t, err)
	require.NotZero(t, buildID)

	pending, processing, err := s.QueueCounts(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), pending)
	require.Equal(t, int64(0), processing)

	claimed, err := s.ClaimBuildTask(ctx, "worker-1", 30)
	require.NoError(t, err)
	require.Equal(t, buildID, claimed.BuildID)
	require.Equal(t, "processing", claimed.Status)

	_, _, err = s.QueueCounts(ctx)
	require.NoError(t, err)

	require.NoError(t, s.CompleteBuildTask(ctx, buildID))

	_, err = s.ClaimBuildTask(ctx, "worker-1", 30)
	require.ErrorIs(t, err, errNotFound)
}

func TestBuildQueue_ClaimOrdersByPriorityThenFIFO(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cvID, err := s.EnsureContentVersion(ctx, "vanilla", nil, "/test/vanilla", "root1")
	require.NoError(t, err)
	blob := []byte("a = b")
	hash := HashContent(blob)
	require.NoError(t, s.StoreFileContent(ctx, hash, blob, string(blob), false, "utf-8"))
	fileID, err := s.UpsertFile(ctx, cvID, "f.txt", hash, 1, int64(len(blob)), hash)
	require.NoError(t, err)

	lowID, err := s.EnqueueBuildTask(ctx, BuildTask{FileID: fileID, Envelope: "E_SCRIPT", MTime: 1, Size: 1, Priority: 0})
	require.NoError(t, err)
	highID, err := s.EnqueueBuildTask(ctx, BuildTask{FileID: fileID, Envelope: "E_SCRIPT", MTime: 2, Size: 2, Priority: 10})
	require.NoError(t, err)

	claimed, err := s.ClaimBuildTask(ctx, "worker-1", 30)
	require.NoError(t, err)
	require.Equal(t, highID, claimed.BuildID)
	require.NotEqual(t, lowID, claimed.BuildID)
}

func TestBuildQueue_ErrorThenReclaimRestoresPending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cvID, err := s.EnsureContentVersion(ctx, "vanilla", nil, "/test/vanilla", "root1")
	require.NoError(t, err)
	blob := []byte("a = b")
	hash := HashContent(blob)
	require.NoError(t, s.StoreFileContent(ctx, hash, blob, string(blob), false, "utf-8"))
	fileID, err := s.UpsertFile(ctx, cvID, "f.txt", hash, 1, int64(len(blob)), hash)
	require.NoError(t, err)

	buildID, err := s.EnqueueBuildTask(ctx, BuildTask{FileID: fileID, Envelope: "E_SCRIPT", MTime: 1, Size: 1})
	require.NoError(t, err)

	claimed, err := s.ClaimBuildTask(ctx, "worker-1", -1) // already-expired lease
	require.NoError(t, err)
	require.Equal(t, buildID, claimed.BuildID)

	n, poisoned, err := s.ReclaimExpiredBuildTasks(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	require.Equal(t, int64(0), poisoned)

	pending, _, err := s.QueueCounts(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), pending)
}

func TestBuildQueue_ReclaimBeyondCapMarksError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cvID, err := s.EnsureContentVersion(ctx, "vanilla", nil, "/test/vanilla", "root1")
	require.NoError(t, err)
	blob := []byte("a = b")
	hash := HashContent(blob)
	require.NoError(t, s.StoreFileContent(ctx, hash, blob, string(blob), false, "utf-8"))
	fileID, err := s.UpsertFile(ctx, cvID, "f.txt", hash, 1, int64(len(blob)), hash)
	require.NoError(t, err)

	buildID, err := s.EnqueueBuildTask(ctx, BuildTask{FileID: fileID, Envelope: "E_SCRIPT", MTime: 1, Size: 1})
	require.NoError(t, err)

	// Claim with an already-expired lease and reclaim with a cap of 0, so the
	// very first reclaim attempt already exceeds it.
	_, err = s.ClaimBuildTask(ctx, "worker-1", -1)
	require.NoError(t, err)

	reclaimed, poisoned, err := s.ReclaimExpiredBuildTasks(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, int64(0), reclaimed)
	require.Equal(t, int64(1), poisoned)

	claimed, err := s.ClaimBuildTask(ctx, "worker-2", 30)
	require.Error(t, err) // the poisoned row is no longer pending, so nothing to claim
	require.Equal(t, int64(0), claimed.BuildID)
	_ = buildID
}

func TestBuildQueue_ErrorRetriesWithBackoffBeforePermanent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cvID, err := s.EnsureContentVersion(ctx, "vanilla", nil, "/test/vanilla", "root1")
	require.NoError(t, err)
	blob := []byte("a = b")
	hash := HashContent(blob)
	require.NoError(t, s.StoreFileContent(ctx, hash, blob, string(blob), false, "utf-8"))
	fileID, err := s.UpsertFile(ctx, cvID, "f.txt", hash, 1, int64(len(blob)), hash)
	require.NoError(t, err)

	_, err = s.EnqueueBuildTask(ctx, BuildTask{FileID: fileID, Envelope: "E_SCRIPT", MTime: 1, Size: 1})
	require.NoError(t, err)

	for i := 0; i < MaxBuildRetries; i++ {
		claimed, err := s.ClaimBuildTask(ctx, "worker-1", 30)
		require.NoError(t, err)
		require.Equal(t, i, claimed.RetryCount)

		require.NoError(t, s.ErrorBuildTask(ctx, claimed.BuildID, "parse", "boom", false))

		// Backoff hasn't elapsed yet, so the row isn't claimable.
		_, err = s.ClaimBuildTask(ctx, "worker-1", 30)
		require.Error(t, err)

		_, err = s.db.ExecContext(ctx, `UPDATE build_tasks SET next_attempt_at = NULL WHERE build_id = ?`, claimed.BuildID)
		require.NoError(t, err)
	}

	claimed, err := s.ClaimBuildTask(ctx, "worker-1", 30)
	require.NoError(t, err)
	require.Equal(t, MaxBuildRetries, claimed.RetryCount)

	require.NoError(t, s.ErrorBuildTask(ctx, claimed.BuildID, "parse", "boom", false))

	var status string
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT status FROM build_tasks WHERE build_id = ?`, claimed.BuildID).Scan(&status))
	require.Equal(t, "error", status)
}

func TestBuildQueue_ErrorPermanentSkipsRetry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cvID, err := s.EnsureContentVersion(ctx, "vanilla", nil, "/test/vanilla", "root1")
	require.NoError(t, err)
	blob := []byte("a = b")
	hash := HashContent(blob)
	require.NoError(t, s.StoreFileContent(ctx, hash, blob, string(blob), false, "utf-8"))
	fileID, err := s.UpsertFile(ctx, cvID, "f.txt", hash, 1, int64(len(blob)), hash)
	require.NoError(t, err)

	buildID, err := s.EnqueueBuildTask(ctx, BuildTask{FileID: fileID, Envelope: "E_SCRIPT", MTime: 1, Size: 1})
	require.NoError(t, err)

	claimed, err := s.ClaimBuildTask(ctx, "worker-1", 30)
	require.NoError(t, err)
	require.Equal(t, buildID, claimed.BuildID)

	require.NoError(t, s.ErrorBuildTask(ctx, claimed.BuildID, "parse", "timed out", true))

	var status string
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT status FROM build_tasks WHERE build_id = ?`, claimed.BuildID).Scan(&status))
	require.Equal(t, "error", status)
}

func TestDiscoveryQueue_EnqueueClaimResumeComplete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cvID, err := s.EnsureContentVersion(ctx, "vanilla", nil, "/test/vanilla", "root1")
	require.NoError(t, err)

	taskID, err := s.EnqueueDiscoveryTask(ctx, cvID)
	require.NoError(t, err)

	claimed, err := s.ClaimDiscoveryTask(ctx, "worker-1", 30)
	require.NoError(t, err)
	require.Equal(t, taskID, claimed.ID)

	require.NoError(t, s.UpdateDiscoveryProgress(ctx, taskID, "common/traits/00_traits.txt"))
	require.NoError(t, s.CompleteDiscoveryTask(ctx, taskID))

	_, err = s.ClaimDiscoveryTask(ctx, "worker-1", 30)
	require.ErrorIs(t, err, errNotFound)
}

func TestLocalization_ReplaceEntries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	blob := []byte("l_english:\n key_1:0 \"Hello\"")
	hash := HashContent(blob)
	require.NoError(t, s.StoreFileContent(ctx, hash, blob, string(blob), false, "utf-8"))

	require.NoError(t, s.ReplaceLocEntries(ctx, hash, []LocEntry{
		{ContentHash: hash, Language: "english", Key: "key_1", Version: 0, RawValue: "Hello", PlainValue: "Hello", Line: 2},
	}))

	e, err := s.GetLocEntry(ctx, "english", "key_1")
	require.NoError(t, err)
	require.Equal(t, "Hello", e.PlainValue)

	require.NoError(t, s.ReplaceLocEntries(ctx, hash, nil))
	_, err = s.GetLocEntry(ctx, "english", "key_1")
	require.ErrorIs(t, err, errNotFound)
}
