package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/colloquy-ai/colloquy/internal/dialogue"
)

// Metrics implements dialogue.Observer on top of prometheus collectors.
type Metrics struct {
	sessionsActive    prometheus.Gauge
	questionsPushed   *prometheus.CounterVec
	questionsResolved *prometheus.CounterVec
}

// NewMetrics registers the collectors with reg and returns the observer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "colloquy_sessions_active",
			Help: "Number of live dialogue sessions.",
		}),
		questionsPushed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "colloquy_questions_pushed_total",
			Help: "Questions pushed, by question type.",
		}, []string{"type"}),
		questionsResolved: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "colloquy_questions_resolved_total",
			Help: "Questions reaching a terminal state, by status.",
		}, []string{"status"}),
	}
}

func (m *Metrics) SessionStarted() { m.sessionsActive.Inc() }
func (m *Metrics) SessionEnded()   { m.sessionsActive.Dec() }

func (m *Metrics) QuestionPushed(qtype dialogue.QuestionType) {
	m.questionsPushed.WithLabelValues(string(qtype)).Inc()
}

func (m *Metrics) QuestionResolved(status dialogue.Status) {
	m.questionsResolved.WithLabelValues(string(status)).Inc()
}

var _ dialogue.Observer = (*Metrics)(nil)
