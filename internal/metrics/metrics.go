package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics groups the counters exported by the bridge. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	webhookResponses *prometheus.CounterVec
	webhookErrors    *prometheus.CounterVec
	droppedLines     prometheus.Counter
	savedMessages    prometheus.Counter
	storageErrors    *prometheus.CounterVec
}

// New creates the counters and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		webhookResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatbridge",
			Name:      "webhook_responses_total",
			Help:      "Webhook responses by detected shape.",
		}, []string{"shape"}),
		webhookErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatbridge",
			Name:      "webhook_errors_total",
			Help:      "Failed webhook turns by kind.",
		}, []string{"kind"}),
		droppedLines: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatbridge",
			Name:      "stream_lines_dropped_total",
			Help:      "Stream lines skipped because they were malformed or not items.",
		}),
		savedMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatbridge",
			Name:      "assistant_messages_saved_total",
			Help:      "Assistant messages persisted after stream completion.",
		}),
		storageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatbridge",
			Name:      "storage_errors_total",
			Help:      "Storage write failures by operation.",
		}, []string{"op"}),
	}
	for _, c := range []prometheus.Collector{m.webhookResponses, m.webhookErrors, m.droppedLines, m.savedMessages, m.storageErrors} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) WebhookResponse(shape string) {
	if m == nil {
		return
	}
	m.webhookResponses.WithLabelValues(shape).Inc()
}

func (m *Metrics) WebhookError(kind string) {
	if m == nil {
		return
	}
	m.webhookErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) LineDropped() {
	if m == nil {
		return
	}
	m.droppedLines.Inc()
}

func (m *Metrics) MessageSaved() {
	if m == nil {
		return
	}
	m.savedMessages.Inc()
}

func (m *Metrics) StorageError(op string) {
	if m == nil {
		return
	}
	m.storageErrors.WithLabelValues(op).Inc()
}
