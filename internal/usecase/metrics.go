package usecase

import (
	"go.uber.org/atomic"

	"github.com/example/skinsight/internal/prediction"
)

// MetricsSummary represents aggregated analysis counters since start-up.
type MetricsSummary struct {
	TotalRequests      int64            `json:"total_requests"`
	SuccessfulRequests int64            `json:"successful_requests"`
	FailedRequests     int64            `json:"failed_requests"`
	SupersededResults  int64            `json:"superseded_results"`
	SuccessRate        float64          `json:"success_rate"`
	BySeverity         map[string]int64 `json:"by_severity"`
}

type counters struct {
	total      atomic.Int64
	succeeded  atomic.Int64
	failed     atomic.Int64
	superseded atomic.Int64
	high       atomic.Int64
	medium     atomic.Int64
	low        atomic.Int64
	unknown    atomic.Int64
}

func (c *counters) recordSeverity(s prediction.Severity) {
	switch s {
	case prediction.SeverityHigh:
		c.high.Inc()
	case prediction.SeverityMedium:
		c.medium.Inc()
	case prediction.SeverityLow:
		c.low.Inc()
	default:
		c.unknown.Inc()
	}
}

// GetMetricsSummary reports in-process analysis counters.
func (uc *AnalysisUseCase) GetMetricsSummary() *MetricsSummary {
	summary := &MetricsSummary{
		TotalRequests:      uc.metrics.total.Load(),
		SuccessfulRequests: uc.metrics.succeeded.Load(),
		FailedRequests:     uc.metrics.failed.Load(),
		SupersededResults:  uc.metrics.superseded.Load(),
		BySeverity: map[string]int64{
			string(prediction.SeverityHigh):    uc.metrics.high.Load(),
			string(prediction.SeverityMedium):  uc.metrics.medium.Load(),
			string(prediction.SeverityLow):     uc.metrics.low.Load(),
			string(prediction.SeverityUnknown): uc.metrics.unknown.Load(),
		},
	}

	if summary.TotalRequests > 0 {
		summary.SuccessRate = float64(summary.SuccessfulRequests) / float64(summary.TotalRequests)
	}
	return summary
}
