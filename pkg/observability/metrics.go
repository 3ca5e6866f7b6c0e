package observability

import (
	"context"

	"github.com/egorky/iafsm/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every metric name.
const Namespace = "iafsm"

// Metrics holds the engine collectors.
type Metrics struct {
	StateVisits    *prometheus.CounterVec
	Actions        *prometheus.CounterVec
	ActionDuration *prometheus.HistogramVec
	Correlations   *prometheus.CounterVec
	CorrelationLag *prometheus.HistogramVec
	Turns          *prometheus.CounterVec
	TurnDuration   prometheus.Histogram
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		StateVisits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "state_visits_total",
			Help:      "States entered, including skipped intermediate states.",
		}, []string{"state_id", "skipped"}),
		Actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "actions_total",
			Help:      "Finished actions by outcome.",
		}, []string{"action_id", "kind", "mode", "status"}),
		ActionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "action_duration_seconds",
			Help:      "Duration of action executions.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action_id", "kind"}),
		Correlations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "correlations_total",
			Help:      "Pending async responses resolved, by outcome.",
		}, []string{"action_id", "outcome"}),
		CorrelationLag: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "correlation_wait_seconds",
			Help:      "Time a turn spent waiting for async responses.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2, 5},
		}, []string{"action_id"}),
		Turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "turns_total",
			Help:      "Processed turns by final state.",
		}, []string{"to_state_id"}),
		TurnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "turn_duration_seconds",
			Help:      "End-to-end turn duration.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.StateVisits, m.Actions, m.ActionDuration, m.Correlations, m.CorrelationLag, m.Turns, m.TurnDuration)
	}
	return m
}

// Hooks returns lifecycle hooks that record into m.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnStateEnter: func(_ context.Context, e *domain.StateEvent) {
			skipped := "false"
			if e.Skipped {
				skipped = "true"
			}
			m.StateVisits.WithLabelValues(e.StateID, skipped).Inc()
		},
		OnActionFinish: func(_ context.Context, e *domain.ActionEvent) {
			m.Actions.WithLabelValues(e.ActionID, string(e.Kind), string(e.Mode), string(e.Status)).Inc()
			if e.Duration > 0 {
				m.ActionDuration.WithLabelValues(e.ActionID, string(e.Kind)).Observe(e.Duration.Seconds())
			}
		},
		OnCorrelation: func(_ context.Context, e *domain.CorrelationEvent) {
			m.Correlations.WithLabelValues(e.ActionID, string(e.Outcome)).Inc()
			if e.Waited > 0 {
				m.CorrelationLag.WithLabelValues(e.ActionID).Observe(e.Waited.Seconds())
			}
		},
		OnTurnCompleted: func(_ context.Context, e *domain.TurnEvent) {
			m.Turns.WithLabelValues(e.ToStateID).Inc()
			m.TurnDuration.Observe(e.Duration.Seconds())
		},
	}
}
