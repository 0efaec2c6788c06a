package usecase

import "context"

// MetricsSummary represents aggregated analysis insights.
type MetricsSummary struct {
	TotalRequests              int64   `json:"total_requests"`
	TamperedRequests           int64   `json:"tampered_requests"`
	AuthenticRequests          int64   `json:"authentic_requests"`
	InconclusiveRequests       int64   `json:"inconclusive_requests"`
	TamperedRate               float64 `json:"tampered_rate"`
	AverageConfidence          float64 `json:"average_confidence"`
	AverageProcessingLatencyMs float64 `json:"average_processing_latency_ms"`
	FacesDetected              int64   `json:"faces_detected"`
	FacesMatched               int64   `json:"faces_matched"`
}

// GetMetricsSummary aggregates analysis metrics from persisted logs.
func (uc *AnalysisUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	aggregation, err := uc.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalRequests:              aggregation.TotalCount,
		TamperedRequests:           aggregation.TamperedCount,
		AuthenticRequests:          aggregation.AuthenticCount,
		InconclusiveRequests:       aggregation.InconclusiveCount,
		AverageConfidence:          aggregation.AverageConfidence,
		AverageProcessingLatencyMs: aggregation.AverageLatencyMS,
		FacesDetected:              aggregation.FacesDetected,
		FacesMatched:               aggregation.FacesMatched,
	}

	if aggregation.TotalCount > 0 {
		summary.TamperedRate = float64(aggregation.TamperedCount) / float64(aggregation.TotalCount)
	}

	return summary, nil
}
