// Package observability turns executor lifecycle hooks into Prometheus
// metrics and structured logs.
package observability

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/seragusa/espalier/pkg/domain"
)

// Metrics holds the stage-level collectors.
type Metrics struct {
	stageDuration *prometheus.HistogramVec
	stageOutcomes *prometheus.CounterVec
	activeStages  prometheus.Gauge
}

// NewMetrics creates and registers the collectors. Pass
// prometheus.DefaultRegisterer for the global registry or a private one in
// tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "espalier",
			Name:      "stage_duration_seconds",
			Help:      "Wall-clock duration of stage invocations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		stageOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "espalier",
			Name:      "stage_outcomes_total",
			Help:      "Stage invocations by outcome.",
		}, []string{"stage", "outcome"}),
		activeStages: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "espalier",
			Name:      "active_stages",
			Help:      "Stage invocations currently executing.",
		}),
	}
	reg.MustRegister(m.stageDuration, m.stageOutcomes, m.activeStages)
	return m
}

// Hooks builds lifecycle hooks that record metrics and log stage
// completions. Either argument may be nil.
func Hooks(metrics *Metrics, logger *slog.Logger) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnStageStart: func(ctx context.Context, conversationID, stage string) {
			if metrics != nil {
				metrics.activeStages.Inc()
			}
			if logger != nil {
				logger.Debug("stage start", "conversation", conversationID, "stage", stage)
			}
		},
		OnStageEnd: func(ctx context.Context, ev *domain.StageEvent) {
			if metrics != nil {
				metrics.activeStages.Dec()
				metrics.stageDuration.WithLabelValues(ev.Stage).Observe(ev.Duration.Seconds())
				metrics.stageOutcomes.WithLabelValues(ev.Stage, ev.Outcome).Inc()
			}
			if logger == nil {
				return
			}
			if ev.Outcome == domain.OutcomeFailure {
				logger.Error("stage failed",
					"conversation", ev.ConversationID,
					"stage", ev.Stage,
					"turn", ev.Turn,
					"duration", ev.Duration,
					"err", ev.Err)
				return
			}
			logger.Info("stage done",
				"conversation", ev.ConversationID,
				"stage", ev.Stage,
				"turn", ev.Turn,
				"duration", ev.Duration,
				"outcome", ev.Outcome)
		},
	}
}
