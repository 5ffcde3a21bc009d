package refresh

import (
	"sync"

	"github.com/Combine-Capital/cqi/pkg/metrics"
)

var (
	stageCounter           *metrics.Counter
	providerFailureCounter *metrics.Counter
	metricsInitOnce        sync.Once
)

// initRefreshMetrics registers the refresh counters on first use
func initRefreshMetrics() {
	metricsInitOnce.Do(func() {
		var err error

		stageCounter, err = metrics.NewCounter(metrics.CounterOpts{
			Namespace: "cqre",
			Subsystem: "refresh",
			Name:      "stage_total",
			Help:      "Total number of refresh stages run, by outcome",
			Labels:    []string{"stage", "outcome"},
		})
		if err != nil {
			// Already registered elsewhere; run without the counter
			stageCounter = nil
		}

		providerFailureCounter, err = metrics.NewCounter(metrics.CounterOpts{
			Namespace: "cqre",
			Subsystem: "refresh",
			Name:      "provider_failures_total",
			Help:      "Total number of upstream provider failures during refresh",
			Labels:    []string{"provider"},
		})
		if err != nil {
			providerFailureCounter = nil
		}
	})
}

// recordStage records a completed stage
func recordStage(stage, outcome string) {
	initRefreshMetrics()
	if stageCounter != nil {
		stageCounter.Inc(stage, outcome)
	}
}

// recordProviderFailure records an unavailable upstream
func recordProviderFailure(provider string) {
	initRefreshMetrics()
	if providerFailureCounter != nil {
		providerFailureCounter.Inc(provider)
	}
}
