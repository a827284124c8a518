// Package metrics exposes recorder session measurements to Prometheus.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rbright/murmur/internal/wire"
)

// Metrics contains the Prometheus collectors for one process.
type Metrics struct {
	WorkerSpawns       prometheus.Counter
	WorkerSpawnErrors  prometheus.Counter
	WorkerExits        *prometheus.CounterVec
	WorkerRunning      prometheus.Gauge
	ReceivedBytes      prometheus.Counter
	Frames             *prometheus.CounterVec
	DecodeErrors       prometheus.Counter
	Volume             prometheus.Histogram
	LastVolume         prometheus.Gauge
	RecordingsSaved    prometheus.Counter
	RecordingDuration  prometheus.Histogram
	EventClients       prometheus.Gauge
	EventClientDropped prometheus.Counter
}

// New creates and registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		WorkerSpawns: factory.NewCounter(prometheus.CounterOpts{
			Name: "murmur_worker_spawns_total",
			Help: "Total number of recorder worker processes started",
		}),
		WorkerSpawnErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "murmur_worker_spawn_errors_total",
			Help: "Total number of recorder worker spawn failures",
		}),
		WorkerExits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "murmur_worker_exits_total",
			Help: "Total number of recorder worker exits by exit code",
		}, []string{"exit_code"}),
		WorkerRunning: factory.NewGauge(prometheus.GaugeOpts{
			Name: "murmur_worker_running",
			Help: "Whether a recorder worker is currently running",
		}),
		ReceivedBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "murmur_worker_bytes_received_total",
			Help: "Total bytes read from recorder worker output",
		}),
		Frames: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "murmur_frames_total",
			Help: "Total frames dispatched by type",
		}, []string{"type"}),
		DecodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "murmur_frame_decode_errors_total",
			Help: "Total JSON frames that failed to parse",
		}),
		Volume: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "murmur_volume_peak",
			Help:    "Peak volume per audio frame",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		LastVolume: factory.NewGauge(prometheus.GaugeOpts{
			Name: "murmur_volume_last",
			Help: "Peak volume of the most recent audio frame",
		}),
		RecordingsSaved: factory.NewCounter(prometheus.CounterOpts{
			Name: "murmur_recordings_saved_total",
			Help: "Total recordings written to disk",
		}),
		RecordingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "murmur_recording_duration_seconds",
			Help:    "Duration of saved recordings",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		EventClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "murmur_event_clients",
			Help: "Current number of connected event stream clients",
		}),
		EventClientDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "murmur_event_messages_dropped_total",
			Help: "Total event messages dropped for slow clients",
		}),
	}
}

// Spawned implements session.Observer.
func (m *Metrics) Spawned() {
	m.WorkerSpawns.Inc()
	m.WorkerRunning.Set(1)
}

// SpawnFailed implements session.Observer.
func (m *Metrics) SpawnFailed() {
	m.WorkerSpawnErrors.Inc()
}

// Exited implements session.Observer.
func (m *Metrics) Exited(code int) {
	m.WorkerExits.WithLabelValues(strconv.Itoa(code)).Inc()
	m.WorkerRunning.Set(0)
}

// BytesReceived implements session.Observer.
func (m *Metrics) BytesReceived(n int) {
	m.ReceivedBytes.Add(float64(n))
}

// FrameDispatched implements session.Observer.
func (m *Metrics) FrameDispatched(t wire.MessageType) {
	label := t.String()
	if t != wire.MessageJSON && t != wire.MessageAudio {
		label = "unknown"
	}
	m.Frames.WithLabelValues(label).Inc()
}

// DecodeFailed implements session.Observer.
func (m *Metrics) DecodeFailed() {
	m.DecodeErrors.Inc()
}

// VolumeObserved implements session.Observer.
func (m *Metrics) VolumeObserved(v float64) {
	m.Volume.Observe(v)
	m.LastVolume.Set(v)
}

// RecordSaved records one saved recording.
func (m *Metrics) RecordSaved(durationMS int64) {
	m.RecordingsSaved.Inc()
	m.RecordingDuration.Observe(float64(durationMS) / 1000)
}

// ClientConnected and ClientDisconnected track event stream clients.
func (m *Metrics) ClientConnected() {
	m.EventClients.Inc()
}

func (m *Metrics) ClientDisconnected() {
	m.EventClients.Dec()
}

// MessageDropped counts one event not delivered to a slow client.
func (m *Metrics) MessageDropped() {
	m.EventClientDropped.Inc()
}
