package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistry_SnapshotReflectsUpdates(t *testing.T) {
	r := New()

	r.FilesDiscovered.Add(3)
	r.TasksEnqueued.Add(2)
	r.TasksCompleted.Inc()
	r.QueuePendingGauge.Set(5)
	r.QueueProcessingGauge.Set(1)

	snap := r.Snapshot()
	assert.EqualValues(t, 3, snap.FilesDiscovered)
	assert.EqualValues(t, 2, snap.TasksEnqueued)
	assert.EqualValues(t, 1, snap.TasksCompleted)
	assert.EqualValues(t, 5, snap.QueuePending)
	assert.EqualValues(t, 1, snap.QueueProcessing)
}

func TestRegistry_ZeroValueSnapshot(t *testing.T) {
	r := New()
	snap := r.Snapshot()
	assert.Zero(t, snap.TasksErrored)
	assert.Zero(t, snap.ParseTimeouts)
}
