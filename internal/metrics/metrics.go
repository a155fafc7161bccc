// Package metrics collects pipeline counters on a private Prometheus
// registry. The registry is written as a textfile next to batch outputs
// and served over HTTP by the worker.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kgx"

type Metrics struct {
	registry *prometheus.Registry

	llmRequests        *prometheus.CounterVec
	filesProcessed     *prometheus.CounterVec
	fileDuration       *prometheus.HistogramVec
	entitiesExtracted  prometheus.Counter
	relationsExtracted prometheus.Counter
	queueMessages      *prometheus.CounterVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		llmRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "llm_requests_total",
				Help:      "Completion attempts by model and outcome",
			},
			[]string{"model", "outcome"},
		),
		filesProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "files_processed_total",
				Help:      "Input files processed by status",
			},
			[]string{"status"},
		),
		fileDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "file_processing_seconds",
				Help:      "Time spent on one input file",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
			},
			[]string{"status"},
		),
		entitiesExtracted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entities_extracted_total",
			Help:      "Entities in written fragments",
		}),
		relationsExtracted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relations_extracted_total",
			Help:      "Relations in written fragments",
		}),
		queueMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queue_messages_total",
				Help:      "Queue messages by result",
			},
			[]string{"result"},
		),
	}
}

func (m *Metrics) ObserveRequest(model, outcome string) {
	m.llmRequests.WithLabelValues(model, outcome).Inc()
}

func (m *Metrics) ObserveFile(status string, d time.Duration) {
	m.filesProcessed.WithLabelValues(status).Inc()
	m.fileDuration.WithLabelValues(status).Observe(d.Seconds())
}

func (m *Metrics) ObserveExtraction(entities, relations int) {
	m.entitiesExtracted.Add(float64(entities))
	m.relationsExtracted.Add(float64(relations))
}

// ObserveMessage counts a queue message outcome: ack, retry or dlq.
func (m *Metrics) ObserveMessage(result string) {
	m.queueMessages.WithLabelValues(result).Inc()
}

// WriteTextfile writes the registry in the text exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}

// Handler serves the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
