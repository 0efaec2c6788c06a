package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sightline-forensics/sightline/internal/analysis"
	"github.com/sightline-forensics/sightline/internal/logging"
	"github.com/sightline-forensics/sightline/internal/repository"
)

// AnalysisRepository defines the persistence operations needed by the use case.
type AnalysisRepository interface {
	SaveLog(ctx context.Context, log *repository.AnalysisLog) error
	FindByRequestIDAndUser(ctx context.Context, requestID, userID string) (*repository.AnalysisLog, error)
	FindDuplicatesByHash(ctx context.Context, userID, hash, excludeRequestID string) ([]*repository.AnalysisLog, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// AnalysisEngine runs the per-image pipeline. The concrete implementation
// lives in internal/analysis; the seam keeps the use case testable.
type AnalysisEngine interface {
	Analyze(ctx context.Context, data []byte) (*analysis.Report, error)
}

// AnalysisUseCase encapsulates business logic for the analysis flow:
// request tracking, caching, the engine call and the audit trail.
type AnalysisUseCase struct {
	repo           AnalysisRepository
	cache          Cache
	engine         AnalysisEngine
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

type cachedAnalysis struct {
	RequestID      string    `json:"request_id"`
	UserID         string    `json:"user_id"`
	Classification string    `json:"classification"`
	Confidence     float64   `json:"confidence"`
	FusedScore     float64   `json:"fused_score"`
	FacesDetected  int       `json:"faces_detected"`
	FacesMatched   int       `json:"faces_matched"`
	Details        string    `json:"details"`
	Hash           string    `json:"sha1_hash"`
	LatencyMS      int64     `json:"latency_ms"`
	CreatedAt      time.Time `json:"created_at"`
}

// DuplicateReport pairs a request with other uploads of the same image bytes.
type DuplicateReport struct {
	Request    *repository.AnalysisLog
	Duplicates []*repository.AnalysisLog
}

// NewAnalysisUseCase constructs a new use case instance.
func NewAnalysisUseCase(repo AnalysisRepository, cache Cache, engine AnalysisEngine, logger *zap.Logger) *AnalysisUseCase {
	return &AnalysisUseCase{
		repo:           repo,
		cache:          cache,
		engine:         engine,
		logger:         logger.Named("analysis_usecase"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AnalyzeImage orchestrates caching, the analysis pipeline, and persistence.
func (uc *AnalysisUseCase) AnalyzeImage(ctx context.Context, userID string, imageBytes []byte) (string, *analysis.Report, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.analyze_image", requestID)

	cacheKey := fmt.Sprintf("analysis:%s", requestID)
	if err := uc.withRedisRetry(ctx, requestID, "cache.set.processing", func() error {
		return uc.cache.Set(ctx, cacheKey, "processing", time.Minute)
	}); err != nil {
		opLogger.Error("failed to set processing flag", zap.Error(err))
		return "", nil, err
	}

	started := time.Now()
	report, err := uc.engine.Analyze(ctx, imageBytes)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.engine_analyze", requestID, err)
		opLogger.Error("analysis failed", zap.Error(wrapped))
		return "", nil, wrapped
	}
	latency := time.Since(started).Milliseconds()

	hash := sha1.Sum(imageBytes)
	hashHex := hex.EncodeToString(hash[:])
	facesMatched := 0
	for _, face := range report.Faces {
		if face.Match.IsMatch {
			facesMatched++
		}
	}

	log := &repository.AnalysisLog{
		RequestID:      requestID,
		UserID:         userID,
		Classification: string(report.Tampering.Classification),
		Confidence:     report.Tampering.Confidence,
		FusedScore:     report.Tampering.FusedScore,
		FacesDetected:  len(report.Faces),
		FacesMatched:   facesMatched,
		SHA1Hash:       hashHex,
		LatencyMS:      latency,
		CreatedAt:      time.Now().UTC(),
	}
	log.Details = fmt.Sprintf("classification:%s confidence:%.3f faces:%d hash:%s",
		report.Tampering.Classification, report.Tampering.Confidence, len(report.Faces), hashHex)

	if err := uc.repo.SaveLog(ctx, log); err != nil {
		wrapped := logging.NewOperationError("usecase.save_log", requestID, err)
		opLogger.Error("failed to persist analysis log", zap.Error(wrapped))
		return "", nil, wrapped
	}

	cached := cachedAnalysis{
		RequestID:      requestID,
		UserID:         userID,
		Classification: log.Classification,
		Confidence:     log.Confidence,
		FusedScore:     log.FusedScore,
		FacesDetected:  log.FacesDetected,
		FacesMatched:   log.FacesMatched,
		Details:        log.Details,
		Hash:           log.SHA1Hash,
		LatencyMS:      log.LatencyMS,
		CreatedAt:      log.CreatedAt,
	}

	serialized, err := json.Marshal(cached)
	if err != nil {
		opLogger.Error("failed to serialize analysis result", zap.Error(err))
		return "", nil, err
	}

	if err := uc.withRedisRetry(ctx, requestID, "cache.set.result", func() error {
		return uc.cache.Set(ctx, cacheKey, string(serialized), 5*time.Minute)
	}); err != nil {
		opLogger.Error("failed to cache analysis result", zap.Error(err))
		return "", nil, err
	}

	return requestID, report, nil
}

// GetResult retrieves a cached analysis outcome or loads it from persistence.
func (uc *AnalysisUseCase) GetResult(ctx context.Context, userID, requestID string) (*repository.AnalysisLog, error) {
	cacheKey := fmt.Sprintf("analysis:%s", requestID)
	if cached, err := uc.withRedisGet(ctx, requestID, "cache.get.result", cacheKey); err == nil {
		var payload cachedAnalysis
		if err := json.Unmarshal([]byte(cached), &payload); err != nil {
			logging.WithOperation(uc.logger, "usecase.get_result", requestID).Warn("failed to decode cached result", zap.Error(err))
		} else {
			log := &repository.AnalysisLog{
				RequestID:      requestID,
				UserID:         userID,
				Classification: payload.Classification,
				Confidence:     payload.Confidence,
				FusedScore:     payload.FusedScore,
				FacesDetected:  payload.FacesDetected,
				FacesMatched:   payload.FacesMatched,
				Details:        payload.Details,
				SHA1Hash:       payload.Hash,
				LatencyMS:      payload.LatencyMS,
				CreatedAt:      payload.CreatedAt,
			}
			if payload.UserID != "" {
				log.UserID = payload.UserID
			}
			if payload.RequestID != "" {
				log.RequestID = payload.RequestID
			}
			return log, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		logging.WithOperation(uc.logger, "usecase.get_result", requestID).Warn("failed to read cache", zap.Error(err))
	}

	log, err := uc.repo.FindByRequestIDAndUser(ctx, requestID, userID)
	if err != nil {
		return nil, err
	}
	return log, nil
}

// GetDuplicateReport lists prior uploads of the same image for a request.
func (uc *AnalysisUseCase) GetDuplicateReport(ctx context.Context, userID, requestID string) (*DuplicateReport, error) {
	log, err := uc.repo.FindByRequestIDAndUser(ctx, requestID, userID)
	if err != nil {
		return nil, err
	}

	duplicates, err := uc.repo.FindDuplicatesByHash(ctx, userID, log.SHA1Hash, log.RequestID)
	if err != nil {
		return nil, err
	}

	return &DuplicateReport{
		Request:    log,
		Duplicates: duplicates,
	}, nil
}

func (uc *AnalysisUseCase) withRedisRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	if uc.retryAttempts <= 1 {
		err := fn()
		return logging.NewOperationError(operation, requestID, err)
	}

	backoff := uc.initialBackoff
	opLogger := logging.WithOperation(uc.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < uc.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= uc.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !isTransientError(err) || attempt == uc.retryAttempts-1 {
			opLogger.Error("redis operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func (uc *AnalysisUseCase) withRedisGet(ctx context.Context, requestID, operation, cacheKey string) (string, error) {
	var result string
	err := uc.withRedisRetry(ctx, requestID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
