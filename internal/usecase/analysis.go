package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/skinsight/internal/acquisition"
	"github.com/example/skinsight/internal/classifier"
	"github.com/example/skinsight/internal/logging"
	"github.com/example/skinsight/internal/prediction"
)

// FailureMessage is the only failure text shown to users.
const FailureMessage = "Failed to analyze image. Please ensure the backend is running."

var (
	// ErrNoResult is returned when a session has no visible result.
	ErrNoResult = errors.New("no result for session")
	// ErrSuperseded marks a failure from an upload that a newer upload or a
	// reset already replaced. Callers drop it rather than show it.
	ErrSuperseded = errors.New("analysis superseded")
)

const slotTTL = 10 * time.Minute

// Result is what a single Analyze call produced.
type Result struct {
	RequestID   string
	Predictions []prediction.Prediction
	// Superseded is set when a newer upload or a reset replaced this one
	// before it finished. Its predictions were not written to the slot.
	Superseded bool
}

// AnalysisUseCase encapsulates the upload, classify and normalize flow and
// owns each session's visible result slot.
type AnalysisUseCase struct {
	cache          Cache
	classifier     classifier.Client
	logger         *zap.Logger
	gens           *generations
	locks          *slotLocks
	metrics        *counters
	now            func() time.Time
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewAnalysisUseCase constructs a new use case instance.
func NewAnalysisUseCase(cache Cache, client classifier.Client, logger *zap.Logger) *AnalysisUseCase {
	return &AnalysisUseCase{
		cache:          cache,
		classifier:     client,
		logger:         logger.Named("analysis_usecase"),
		gens:           newGenerations(),
		locks:          &slotLocks{},
		metrics:        &counters{},
		now:            func() time.Time { return time.Now().UTC() },
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// Analyze classifies img for sessionID. Starting an analysis supersedes any
// still in flight for the same session; the classifier is called once.
func (uc *AnalysisUseCase) Analyze(ctx context.Context, sessionID string, img acquisition.Image) (*Result, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithSession(logging.WithOperation(uc.logger, "usecase.analyze", requestID), sessionID)
	uc.metrics.total.Inc()

	lock := uc.locks.forSession(sessionID)
	lock.Lock()
	gen := uc.gens.next(sessionID)
	err := uc.writeSlot(ctx, requestID, "cache.set.analyzing", &Slot{
		SessionID: sessionID,
		RequestID: requestID,
		Status:    StatusAnalyzing,
		UpdatedAt: uc.now(),
	})
	lock.Unlock()
	defer uc.gens.forget(sessionID, gen)
	if err != nil {
		opLogger.Error("failed to mark slot as analyzing", zap.Error(err))
		uc.metrics.failed.Inc()
		return nil, err
	}

	raw, err := uc.classifier.Classify(ctx, img)
	if err != nil {
		uc.metrics.failed.Inc()
		wrapped := logging.NewOperationError("usecase.classify", requestID, err)
		opLogger.Error("classification failed", zap.Error(wrapped))

		lock.Lock()
		current := uc.gens.isCurrent(sessionID, gen)
		if current {
			if slotErr := uc.writeSlot(ctx, requestID, "cache.set.failed", &Slot{
				SessionID: sessionID,
				RequestID: requestID,
				Status:    StatusFailed,
				Error:     FailureMessage,
				UpdatedAt: uc.now(),
			}); slotErr != nil {
				opLogger.Warn("failed to record failure in slot", zap.Error(slotErr))
			}
		}
		lock.Unlock()
		if !current {
			uc.metrics.superseded.Inc()
			return nil, logging.NewOperationError("usecase.classify", requestID, fmt.Errorf("%w: %w", ErrSuperseded, err))
		}
		return nil, wrapped
	}

	preds := prediction.Predictions(raw)
	uc.metrics.succeeded.Inc()
	uc.metrics.recordSeverity(preds[0].Severity)

	result := &Result{RequestID: requestID, Predictions: preds}

	lock.Lock()
	if !uc.gens.isCurrent(sessionID, gen) {
		lock.Unlock()
		uc.metrics.superseded.Inc()
		opLogger.Info("discarding superseded result")
		result.Superseded = true
		return result, nil
	}
	err = uc.writeSlot(ctx, requestID, "cache.set.result", &Slot{
		SessionID:   sessionID,
		RequestID:   requestID,
		Status:      StatusReady,
		Predictions: preds,
		UpdatedAt:   uc.now(),
	})
	lock.Unlock()
	if err != nil {
		opLogger.Error("failed to store result", zap.Error(err))
		return nil, err
	}

	opLogger.Info("analysis complete",
		zap.String("label", preds[0].Label),
		zap.Float64("confidence", preds[0].Confidence),
		zap.String("severity", string(preds[0].Severity)))
	return result, nil
}

// GetResult returns the visible slot for sessionID.
func (uc *AnalysisUseCase) GetResult(ctx context.Context, sessionID string) (*Slot, error) {
	key := slotKey(sessionID)
	var cached string
	err := uc.withRedisRetry(ctx, "", "cache.get.result", func() error {
		value, err := uc.cache.Get(ctx, key)
		if err != nil {
			return err
		}
		cached = value
		return nil
	})
	if err != nil {
		if IsMiss(err) {
			return nil, ErrNoResult
		}
		return nil, err
	}

	var slot Slot
	if err := json.Unmarshal([]byte(cached), &slot); err != nil {
		logging.WithSession(logging.WithOperation(uc.logger, "usecase.get_result", ""), sessionID).
			Warn("failed to decode cached slot", zap.Error(err))
		return nil, ErrNoResult
	}
	return &slot, nil
}

// Reset clears the visible slot and supersedes any in-flight analysis.
func (uc *AnalysisUseCase) Reset(ctx context.Context, sessionID string) error {
	lock := uc.locks.forSession(sessionID)
	lock.Lock()
	defer lock.Unlock()

	gen := uc.gens.next(sessionID)
	defer uc.gens.forget(sessionID, gen)

	key := slotKey(sessionID)
	return uc.withRedisRetry(ctx, "", "cache.del.result", func() error {
		return uc.cache.Del(ctx, key)
	})
}

// Ping forwards to the remote classifier's readiness probe.
func (uc *AnalysisUseCase) Ping(ctx context.Context) (*classifier.Status, error) {
	return uc.classifier.Ping(ctx)
}

func (uc *AnalysisUseCase) writeSlot(ctx context.Context, requestID, operation string, slot *Slot) error {
	serialized, err := json.Marshal(slot)
	if err != nil {
		return logging.NewOperationError(operation, requestID, err)
	}
	key := slotKey(slot.SessionID)
	return uc.withRedisRetry(ctx, requestID, operation, func() error {
		return uc.cache.Set(ctx, key, string(serialized), slotTTL)
	})
}

func slotKey(sessionID string) string {
	return fmt.Sprintf("skinsight:slot:%s", sessionID)
}

// withRedisRetry retries transient cache errors with exponential backoff.
// It is only used for the local cache, never for the remote classifier.
func (uc *AnalysisUseCase) withRedisRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	opLogger := logging.WithOperation(uc.logger, operation, requestID)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = uc.initialBackoff
	policy.MaxInterval = uc.maxBackoff
	policy.Multiplier = 2
	policy.RandomizationFactor = 0
	policy.MaxElapsedTime = 0

	var retries uint64
	if uc.retryAttempts > 1 {
		retries = uint64(uc.retryAttempts - 1)
	}

	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		err := fn()
		if err != nil && (IsMiss(err) || !isTransientError(err)) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, retries), ctx), func(err error, wait time.Duration) {
		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt), zap.Duration("retry_in", wait))
	})

	switch {
	case err == nil:
		if attempt > 1 {
			opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt))
		}
		return nil
	case !IsMiss(err):
		opLogger.Error("redis operation failed", zap.Error(err), zap.Int("attempt", attempt))
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
