// Package metrics exposes extraction and push events as Prometheus counters.
// A command-line run writes them once, at the end, in the node_exporter
// textfile format.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dhcgn/pst-to-mime/stats"
)

const namespace = "pst_to_mime"

// Metrics is a stats.Sink backed by its own registry.
type Metrics struct {
	registry *prometheus.Registry

	FoldersListed prometheus.Gauge
	Folders       *prometheus.CounterVec
	Items         *prometheus.CounterVec
	BytesWritten  prometheus.Counter
	Uploads       *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		FoldersListed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "folders_listed",
			Help:      "Folders found in the archive.",
		}),
		Folders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "folders_total",
			Help:      "Folders by outcome (accepted, skipped, done, failed).",
		}, []string{"outcome"}),
		Items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_total",
			Help:      "Archive items by outcome (written, omitted, corrupt).",
		}, []string{"outcome"}),
		BytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "eml_bytes_written_total",
			Help:      "Bytes written to EML files.",
		}),
		Uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_messages_total",
			Help:      "Messages handled by push, by outcome.",
		}, []string{"outcome"}),
	}
	m.registry.MustRegister(m.FoldersListed, m.Folders, m.Items, m.BytesWritten, m.Uploads)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Emit(evt stats.Event) {
	switch evt.Type {
	case stats.EventTypeFoldersListed:
		m.FoldersListed.Set(float64(evt.Count))
	case stats.EventTypeFolderAccepted:
		m.Folders.WithLabelValues("accepted").Inc()
	case stats.EventTypeFolderSkipped:
		m.Folders.WithLabelValues("skipped").Inc()
	case stats.EventTypeFolderDone:
		m.Folders.WithLabelValues("done").Inc()
	case stats.EventTypeFolderFailed:
		m.Folders.WithLabelValues("failed").Inc()
	case stats.EventTypeWritten:
		m.Items.WithLabelValues("written").Inc()
		m.BytesWritten.Add(float64(evt.Bytes))
	case stats.EventTypeOmitted:
		m.Items.WithLabelValues("omitted").Inc()
	case stats.EventTypeCorrupt:
		m.Items.WithLabelValues("corrupt").Inc()
	case stats.EventTypeScanned, stats.EventTypeEnqueued, stats.EventTypeUploaded,
		stats.EventTypeDryRunUpload, stats.EventTypeDuplicate, stats.EventTypeError:
		m.Uploads.WithLabelValues(string(evt.Type)).Inc()
	}
}

// WriteTextfile writes all metrics to path, replacing the file atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
