package repository

import (
	"context"
	"errors"
)

// ErrAuditDisabled is returned by read paths when the service runs without a
// database. The HTTP layer maps it to service-unavailable.
var ErrAuditDisabled = errors.New("audit log disabled: no database configured")

// Disabled stands in for the repository when no database is configured.
// Analysis still runs; the audit trail is simply dropped.
type Disabled struct{}

// SaveLog drops the entry.
func (Disabled) SaveLog(ctx context.Context, log *AnalysisLog) error { return nil }

// FindByRequestIDAndUser reports the audit log as unavailable.
func (Disabled) FindByRequestIDAndUser(ctx context.Context, requestID, userID string) (*AnalysisLog, error) {
	return nil, ErrAuditDisabled
}

// FindDuplicatesByHash reports the audit log as unavailable.
func (Disabled) FindDuplicatesByHash(ctx context.Context, userID, hash, excludeRequestID string) ([]*AnalysisLog, error) {
	return nil, ErrAuditDisabled
}

// AggregateMetrics reports the audit log as unavailable.
func (Disabled) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	return nil, ErrAuditDisabled
}
