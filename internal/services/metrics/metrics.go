package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/ternarybob/flowqueue/internal/interfaces"
	"github.com/ternarybob/flowqueue/internal/models"
)

const namespace = "flowqueue"

var generationBuckets = []float64{5, 15, 30, 60, 120, 180, 300, 600}

// Metrics exposes Prometheus collectors fed by queue and download events
type Metrics struct {
	queueItems   *prometheus.GaugeVec
	queuePaused  prometheus.Gauge
	generations  *prometheus.CounterVec
	genDuration  *prometheus.HistogramVec
	retries      prometheus.Counter
	downloads    *prometheus.CounterVec
	systemErrors *prometheus.CounterVec
}

// New registers the collectors with reg, reusing any already registered under the same names
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		queueItems: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "items",
			Help:      "Generation items in the queue by status.",
		}, []string{"status"}),
		queuePaused: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "paused",
			Help:      "1 when the generation queue is paused.",
		}),
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "total",
			Help:      "Finished generations by result.",
		}, []string{"result"}),
		genDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "duration_seconds",
			Help:      "Time from submission to a terminal page signal.",
			Buckets:   generationBuckets,
		}, []string{"result"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "retries_total",
			Help:      "Generations started for items that had failed before.",
		}),
		downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "downloader",
			Name:      "downloads_total",
			Help:      "Finished extractor downloads by result.",
		}, []string{"result"}),
		systemErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "system_errors_total",
			Help:      "Errors outside any single item, by source.",
		}, []string{"source"}),
	}

	m.queueItems = register(reg, m.queueItems)
	m.queuePaused = register(reg, m.queuePaused)
	m.generations = register(reg, m.generations)
	m.genDuration = register(reg, m.genDuration)
	m.retries = register(reg, m.retries)
	m.downloads = register(reg, m.downloads)
	m.systemErrors = register(reg, m.systemErrors)
	return m
}

func register[T prometheus.Collector](reg prometheus.Registerer, collector T) T {
	if err := reg.Register(collector); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return collector
}

// Subscribe feeds the collectors from eventService and returns a func that detaches them
func (m *Metrics) Subscribe(eventService interfaces.EventService) func() {
	handlers := map[interfaces.EventType]interfaces.EventHandler{
		interfaces.EventQueueUpdate:      m.onUpdate,
		interfaces.EventItemStart:        m.onItemStart,
		interfaces.EventItemComplete:     m.onItemFinished("completed"),
		interfaces.EventItemFail:         m.onItemFinished("failed"),
		interfaces.EventDownloadComplete: m.onDownload("completed"),
		interfaces.EventDownloadError:    m.onDownload("failed"),
		interfaces.EventSystemError:      m.onSystemError,
	}

	var unsubscribers []func()
	for eventType, handler := range handlers {
		unsubscribers = append(unsubscribers, eventService.Subscribe(eventType, handler))
	}
	return func() {
		for _, unsubscribe := range unsubscribers {
			unsubscribe()
		}
	}
}

func (m *Metrics) onUpdate(ctx context.Context, event interfaces.Event) error {
	status, ok := event.Payload.(models.QueueStatus)
	if !ok {
		return nil
	}
	m.queueItems.WithLabelValues(string(models.GenerationStatusQueued)).Set(float64(status.Queued))
	m.queueItems.WithLabelValues(string(models.GenerationStatusProcessing)).Set(float64(status.Processing))
	m.queueItems.WithLabelValues(string(models.GenerationStatusCompleted)).Set(float64(status.Completed))
	m.queueItems.WithLabelValues(string(models.GenerationStatusFailed)).Set(float64(status.Failed))
	if status.IsPaused {
		m.queuePaused.Set(1)
	} else {
		m.queuePaused.Set(0)
	}
	return nil
}

func (m *Metrics) onItemStart(ctx context.Context, event interfaces.Event) error {
	if item, ok := event.Payload.(models.GenerationItem); ok && item.RetryCount > 0 {
		m.retries.Inc()
	}
	return nil
}

func (m *Metrics) onItemFinished(result string) interfaces.EventHandler {
	return func(ctx context.Context, event interfaces.Event) error {
		item, ok := event.Payload.(models.GenerationItem)
		if !ok {
			return nil
		}
		m.generations.WithLabelValues(result).Inc()
		if item.StartedAt != nil && item.CompletedAt != nil {
			m.genDuration.WithLabelValues(result).Observe(item.Duration().Seconds())
		}
		return nil
	}
}

func (m *Metrics) onDownload(result string) interfaces.EventHandler {
	return func(ctx context.Context, event interfaces.Event) error {
		m.downloads.WithLabelValues(result).Inc()
		return nil
	}
}

func (m *Metrics) onSystemError(ctx context.Context, event interfaces.Event) error {
	source := "unknown"
	if sysErr, ok := event.Payload.(interfaces.SystemError); ok && sysErr.Source != "" {
		source = sysErr.Source
	}
	m.systemErrors.WithLabelValues(source).Inc()
	return nil
}
