package metrics

import (
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"

	"snapkeep/internal/snapkeep"
)

const namespace = "snapkeep"

// Metrics implements snapkeep.Recorder with prometheus collectors.
// A nil *Metrics records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	blobWrites       prometheus.Counter
	dedupHits        prometheus.Counter
	snapshotsCreated prometheus.Counter
	auditAppends     *prometheus.CounterVec
	gcBlobsRemoved   prometheus.Counter

	snapshots       prometheus.Gauge
	sessions        prometheus.Gauge
	blobs           prometheus.Gauge
	blobBytes       prometheus.Gauge
	auditEntries    prometheus.Gauge
	auditBytes      prometheus.Gauge
	activeCooldowns prometheus.Gauge
}

var _ snapkeep.Recorder = (*Metrics)(nil)

// New registers the snapkeep collectors on reg.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	gauge := func(name, help string) prometheus.Gauge {
		return f.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
	}

	return &Metrics{
		gatherer: reg,

		blobWrites: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blob_writes_total",
			Help:      "Blobs written to disk.",
		}),
		dedupHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blob_dedup_hits_total",
			Help:      "Blob stores satisfied by an existing blob.",
		}),
		snapshotsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_created_total",
			Help:      "Snapshot manifests created.",
		}),
		auditAppends: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_appends_total",
			Help:      "Audit entries appended, by action.",
		}, []string{"action"}),
		gcBlobsRemoved: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gc_blobs_removed_total",
			Help:      "Unreferenced blobs removed by garbage collection.",
		}),

		snapshots:       gauge("snapshots", "Snapshot manifests on disk at the last stats refresh."),
		sessions:        gauge("sessions", "Finalized sessions on disk at the last stats refresh."),
		blobs:           gauge("blobs", "Blobs on disk at the last stats refresh."),
		blobBytes:       gauge("blob_bytes", "Total blob bytes at the last stats refresh."),
		auditEntries:    gauge("audit_entries", "Entries in the live audit log at the last stats refresh."),
		auditBytes:      gauge("audit_bytes", "Size of the live audit log at the last stats refresh."),
		activeCooldowns: gauge("active_cooldowns", "Cooldown entries held at the last stats refresh."),
	}
}

func (m *Metrics) BlobStored(isNew bool) {
	if m == nil {
		return
	}
	if isNew {
		m.blobWrites.Inc()
	} else {
		m.dedupHits.Inc()
	}
}

func (m *Metrics) SnapshotCreated() {
	if m == nil {
		return
	}
	m.snapshotsCreated.Inc()
}

func (m *Metrics) AuditAppended(action snapkeep.AuditAction) {
	if m == nil {
		return
	}
	m.auditAppends.WithLabelValues(string(action)).Inc()
}

func (m *Metrics) BlobsCollected(n int) {
	if m == nil {
		return
	}
	m.gcBlobsRemoved.Add(float64(n))
}

func (m *Metrics) StatsRefreshed(s snapkeep.StorageStats) {
	if m == nil {
		return
	}
	m.snapshots.Set(float64(s.SnapshotCount))
	m.sessions.Set(float64(s.SessionCount))
	m.blobs.Set(float64(s.BlobCount))
	m.blobBytes.Set(float64(s.TotalBlobBytes))
	m.auditEntries.Set(float64(s.AuditEntryCount))
	m.auditBytes.Set(float64(s.AuditBytes))
	m.activeCooldowns.Set(float64(s.ActiveCooldowns))
}

// WriteText writes every registered metric family in the prometheus text
// exposition format.
func (m *Metrics) WriteText(w io.Writer) error {
	if m == nil {
		return nil
	}
	families, err := m.gatherer.Gather()
	if err != nil {
		return fmt.Errorf("gathering metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("writing metrics: %w", err)
		}
	}
	return nil
}
