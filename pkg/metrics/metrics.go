// Package metrics defines the in-process Prometheus registry CK3Raven
// gathers into IPC status payloads. There is no HTTP /metrics endpoint: the
// spec's only external protocol is NDJSON/TCP, so the registry is read
// in-process by pkg/ipc rather than served (see SPEC_FULL.md §2).
package metrics

import (
	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry bundles the counters and gauges the daemon updates as it
// discovers and builds content. One Registry is constructed at daemon
// startup and threaded through the discovery/worker/ipc constructors —
// never a package-level global.
type Registry struct {
	reg *prometheus.Registry

	FilesDiscovered      prometheus.Counter
	TasksEnqueued        prometheus.Counter
	TasksClaimed         prometheus.Counter
	TasksCompleted       prometheus.Counter
	TasksErrored         prometheus.Counter
	TasksReclaimed       prometheus.Counter
	ParseTimeouts        prometheus.Counter
	QueuePendingGauge    prometheus.Gauge
	QueueProcessingGauge prometheus.Gauge
}

// New builds a fresh Registry with all series registered.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		FilesDiscovered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ck3raven_files_discovered_total",
			Help: "Files observed by fingerprint discovery.",
		}),
		TasksEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ck3raven_build_tasks_enqueued_total",
			Help: "Build-queue rows inserted.",
		}),
		TasksClaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ck3raven_build_tasks_claimed_total",
			Help: "Build-queue rows claimed by a worker.",
		}),
		TasksCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ck3raven_build_tasks_completed_total",
			Help: "Build-queue rows that reached status=completed.",
		}),
		TasksErrored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ck3raven_build_tasks_errored_total",
			Help: "Build-queue rows that reached status=error.",
		}),
		TasksReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ck3raven_build_tasks_reclaimed_total",
			Help: "Build-queue rows reset to pending after an expired lease.",
		}),
		ParseTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ck3raven_parse_timeouts_total",
			Help: "Parse attempts that exceeded their time budget.",
		}),
		QueuePendingGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ck3raven_queue_pending",
			Help: "Current count of pending build-queue rows.",
		}),
		QueueProcessingGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ck3raven_queue_processing",
			Help: "Current count of processing build-queue rows.",
		}),
	}

	reg.MustRegister(
		r.FilesDiscovered, r.TasksEnqueued, r.TasksClaimed, r.TasksCompleted,
		r.TasksErrored, r.TasksReclaimed, r.ParseTimeouts,
		r.QueuePendingGauge, r.QueueProcessingGauge,
	)

	return r
}

// Snapshot is the plain-data view of the registry embedded into IPC
// `get_status` responses (`health` carries no metrics).
type Snapshot struct {
	FilesDiscovered int64 `json:"files_discovered"`
	TasksEnqueued   int64 `json:"tasks_enqueued"`
	TasksClaimed    int64 `json:"tasks_claimed"`
	TasksCompleted  int64 `json:"tasks_completed"`
	TasksErrored    int64 `json:"tasks_errored"`
	TasksReclaimed  int64 `json:"tasks_reclaimed"`
	ParseTimeouts   int64 `json:"parse_timeouts"`
	QueuePending    int64 `json:"queue_pending"`
	QueueProcessing int64 `json:"queue_processing"`
}

// Snapshot gathers the current counter/gauge values for embedding in an IPC
// response. Gathering (rather than serving over HTTP) is the deliberate
// choice documented in SPEC_FULL.md §2.
func (r *Registry) Snapshot() Snapshot {
	return Snapshot{
		FilesDiscovered: counterValue(r.FilesDiscovered),
		TasksEnqueued:   counterValue(r.TasksEnqueued),
		TasksClaimed:    counterValue(r.TasksClaimed),
		TasksCompleted:  counterValue(r.TasksCompleted),
		TasksErrored:    counterValue(r.TasksErrored),
		TasksReclaimed:  counterValue(r.TasksReclaimed),
		ParseTimeouts:   counterValue(r.ParseTimeouts),
		QueuePending:    int64(gaugeValue(r.QueuePendingGauge)),
		QueueProcessing: int64(gaugeValue(r.QueueProcessingGauge)),
	}
}

func counterValue(c prometheus.Counter) int64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	return int64(m.GetCounter().GetValue())
}

func gaugeValue(g prometheus.Gauge) float64 {
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}
