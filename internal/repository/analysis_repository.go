package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/sightline-forensics/sightline/internal/logging"
)

// AnalysisLog represents a persisted analysis request.
type AnalysisLog struct {
	ID             uint      `gorm:"primaryKey"`
	RequestID      string    `gorm:"column:request_id;uniqueIndex;size:64"`
	UserID         string    `gorm:"column:user_id;index;size:64"`
	Classification string    `gorm:"column:classification;index;size:16"`
	Confidence     float64   `gorm:"column:confidence"`
	FusedScore     float64   `gorm:"column:fused_score"`
	FacesDetected  int       `gorm:"column:faces_detected"`
	FacesMatched   int       `gorm:"column:faces_matched"`
	SHA1Hash       string    `gorm:"column:sha1_hash;index;size:40"`
	LatencyMS      int64     `gorm:"column:latency_ms"`
	Details        string    `gorm:"column:details;type:text"`
	CreatedAt      time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (AnalysisLog) TableName() string {
	return "analysis_logs"
}

// MetricsAggregation summarizes the persisted verdicts.
type MetricsAggregation struct {
	TotalCount        int64   `gorm:"column:total_count"`
	TamperedCount     int64   `gorm:"column:tampered_count"`
	AuthenticCount    int64   `gorm:"column:authentic_count"`
	InconclusiveCount int64   `gorm:"column:inconclusive_count"`
	AverageConfidence float64 `gorm:"column:average_confidence"`
	AverageLatencyMS  float64 `gorm:"column:average_latency_ms"`
	FacesDetected     int64   `gorm:"column:faces_detected"`
	FacesMatched      int64   `gorm:"column:faces_matched"`
}

// AnalysisRepository provides persistence APIs for analysis logs.
type AnalysisRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewAnalysisRepository creates a new repository instance.
func NewAnalysisRepository(db *gorm.DB, logger *zap.Logger) *AnalysisRepository {
	return &AnalysisRepository{
		db:             db,
		logger:         logger.Named("analysis_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *AnalysisRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&AnalysisLog{})
}

// SaveLog persists an analysis log entry.
func (r *AnalysisRepository) SaveLog(ctx context.Context, log *AnalysisLog) error {
	return r.executeWithRetry(ctx, "repository.save_log", log.RequestID, func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// FindByRequestIDAndUser retrieves the analysis log matching the request and owner.
func (r *AnalysisRepository) FindByRequestIDAndUser(ctx context.Context, requestID, userID string) (*AnalysisLog, error) {
	var log AnalysisLog
	if err := r.db.WithContext(ctx).First(&log, "request_id = ? AND user_id = ?", requestID, userID).Error; err != nil {
		return nil, err
	}
	return &log, nil
}

// FindDuplicatesByHash lists other requests from the same user carrying a
// byte-identical upload, newest first.
func (r *AnalysisRepository) FindDuplicatesByHash(ctx context.Context, userID, hash, excludeRequestID string) ([]*AnalysisLog, error) {
	var logs []*AnalysisLog
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND sha1_hash = ? AND request_id <> ?", userID, hash, excludeRequestID).
		Order("created_at DESC").
		Limit(50).
		Find(&logs).Error
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// AggregateMetrics computes service-level counters over the log table.
func (r *AnalysisRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var agg MetricsAggregation
	err := r.db.WithContext(ctx).
		Model(&AnalysisLog{}).
		Select(`COUNT(*) AS total_count,
			COALESCE(SUM(CASE WHEN classification = 'tampered' THEN 1 ELSE 0 END), 0) AS tampered_count,
			COALESCE(SUM(CASE WHEN classification = 'authentic' THEN 1 ELSE 0 END), 0) AS authentic_count,
			COALESCE(SUM(CASE WHEN classification = 'inconclusive' THEN 1 ELSE 0 END), 0) AS inconclusive_count,
			COALESCE(AVG(confidence), 0) AS average_confidence,
			COALESCE(AVG(latency_ms), 0) AS average_latency_ms,
			COALESCE(SUM(faces_detected), 0) AS faces_detected,
			COALESCE(SUM(faces_matched), 0) AS faces_matched`).
		Scan(&agg).Error
	if err != nil {
		return nil, err
	}
	return &agg, nil
}

func (r *AnalysisRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	if r.retryAttempts <= 1 {
		return logging.NewOperationError(operation, requestID, fn())
	}

	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < r.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("database operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !isTransientError(err) || attempt == r.retryAttempts-1 {
			opLogger.Error("database operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
