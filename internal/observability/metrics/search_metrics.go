package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// SearchMetrics provides Prometheus-based metrics for the hyperparameter
// search: counters advanced by the trainer and controller, gauges tracking
// the running best. Metrics live on a private registry so tests can create
// independent instances.
type SearchMetrics struct {
	logger   *logrus.Logger
	registry *prometheus.Registry

	EpochsTotal      prometheus.Counter
	ConfigsTotal     prometheus.Counter
	CheckpointsTotal prometheus.Counter
	EarlyStopsTotal  prometheus.Counter
	BestValLoss      prometheus.Gauge
	LastTrainLoss    prometheus.Gauge
}

// NewSearchMetrics creates and registers the search metric set.
func NewSearchMetrics(logger *logrus.Logger) *SearchMetrics {
	if logger == nil {
		logger = logrus.New()
	}

	sm := &SearchMetrics{
		logger:   logger,
		registry: prometheus.NewRegistry(),
		EpochsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "seqcast",
			Subsystem: "search",
			Name:      "epochs_total",
			Help:      "Training epochs completed across all configurations",
		}),
		ConfigsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "seqcast",
			Subsystem: "search",
			Name:      "configs_total",
			Help:      "Hyperparameter configurations trained and evaluated",
		}),
		CheckpointsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "seqcast",
			Subsystem: "search",
			Name:      "checkpoints_total",
			Help:      "Best-model checkpoint writes",
		}),
		EarlyStopsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "seqcast",
			Subsystem: "search",
			Name:      "early_stops_total",
			Help:      "Configurations terminated by the stall window",
		}),
		BestValLoss: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "seqcast",
			Subsystem: "search",
			Name:      "best_validation_loss",
			Help:      "Best validation loss observed across the search",
		}),
		LastTrainLoss: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "seqcast",
			Subsystem: "search",
			Name:      "last_train_loss",
			Help:      "Cumulative training loss of the most recent epoch",
		}),
	}

	sm.registry.MustRegister(
		sm.EpochsTotal,
		sm.ConfigsTotal,
		sm.CheckpointsTotal,
		sm.EarlyStopsTotal,
		sm.BestValLoss,
		sm.LastTrainLoss,
	)
	return sm
}

// Registry exposes the private registry for scraping or test inspection.
func (sm *SearchMetrics) Registry() *prometheus.Registry {
	return sm.registry
}
