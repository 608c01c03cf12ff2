package likes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/peakstranding/internal/metrics"
	"github.com/MarcoPoloResearchLab/peakstranding/internal/structures"
	"github.com/MarcoPoloResearchLab/peakstranding/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	// MinCount is the smallest number of likes applied by one request.
	MinCount = 1
	// MaxCount is the largest number of likes applied by one request.
	MaxCount = 100
)

var (
	// ErrSelfLike indicates the liker owns the target structure.
	ErrSelfLike = errors.New("likes: liking your own structure is forbidden")

	errMissingDatabase = errors.New("database handle is required")
)

const (
	opLedgerNew = "likes.ledger.new"
	opApply     = "likes.apply"
)

const (
	reasonMissingDatabase = "missing_database"
	reasonLookupFailed    = "lookup_failed"
	reasonAccountFailed   = "account_upsert_failed"
	reasonIncrementFailed = "increment_failed"
	reasonCountersFailed  = "counters_failed"
	reasonCommitFailed    = "commit_failed"
)

// ServiceError reports a storage failure with an operation.reason code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the operation.reason identifier.
func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: operation + "." + reason, err: cause}
}

// LedgerConfig describes the dependencies of the like ledger.
type LedgerConfig struct {
	Database *gorm.DB
	Timeout  time.Duration
	Logger   *zap.Logger
	Metrics  *metrics.Registry
}

// Ledger applies likes to structures and keeps the per-account like counters in step.
type Ledger struct {
	db      *gorm.DB
	timeout time.Duration
	logger  *zap.Logger
	metrics *metrics.Registry
}

// NewLedger constructs a like ledger.
func NewLedger(cfg LedgerConfig) (*Ledger, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opLedgerNew, reasonMissingDatabase, errMissingDatabase)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		db:      cfg.Database,
		timeout: cfg.Timeout,
		logger:  logger,
		metrics: cfg.Metrics,
	}, nil
}

// ClampCount bounds a requested like count into [MinCount, MaxCount].
func ClampCount(requested int) int {
	if requested < MinCount {
		return MinCount
	}
	if requested > MaxCount {
		return MaxCount
	}
	return requested
}

// Apply adds the clamped like count to the structure and credits likes_send on
// the liker and likes_received on the owner. All writes commit together or not
// at all. The applied count is returned.
func (l *Ledger) Apply(ctx context.Context, likerID, structureID int64, requested int) (int, error) {
	if l == nil || l.db == nil {
		return 0, newServiceError(opApply, reasonMissingDatabase, errMissingDatabase)
	}

	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	count := ClampCount(requested)
	if count != requested {
		l.logger.Debug("like count clamped",
			zap.Int64("user_id", likerID),
			zap.Int64("structure_id", structureID),
			zap.Int("requested", requested),
			zap.Int("applied", count))
	}

	txErr := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var target structures.Structure
		err := tx.Select("id", "user_id").
			Where("id = ? AND deleted = ?", structureID, false).
			Take(&target).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return structures.ErrNotFound
		}
		if err != nil {
			l.logError(reasonLookupFailed, err, zap.Int64("structure_id", structureID))
			return newServiceError(opApply, reasonLookupFailed, err)
		}

		ownerID := target.UserID
		if ownerID == likerID {
			return ErrSelfLike
		}

		if err := users.EnsureAccounts(tx, likerID, ownerID); err != nil {
			l.logError(reasonAccountFailed, err,
				zap.Int64("user_id", likerID),
				zap.Int64("owner_id", ownerID))
			return newServiceError(opApply, reasonAccountFailed, err)
		}

		result := tx.Model(&structures.Structure{}).
			Where("id = ? AND deleted = ?", structureID, false).
			UpdateColumn("likes", gorm.Expr("likes + ?", count))
		if result.Error != nil {
			l.logError(reasonIncrementFailed, result.Error, zap.Int64("structure_id", structureID))
			return newServiceError(opApply, reasonIncrementFailed, result.Error)
		}
		if result.RowsAffected != 1 {
			return structures.ErrNotFound
		}

		if err := users.AddLikeCounters(tx, likerID, ownerID, count); err != nil {
			l.logError(reasonCountersFailed, err,
				zap.Int64("user_id", likerID),
				zap.Int64("owner_id", ownerID))
			return newServiceError(opApply, reasonCountersFailed, err)
		}
		return nil
	})

	switch {
	case txErr == nil:
		l.metrics.ObserveLike(metrics.OutcomeSuccess, count)
		return count, nil
	case errors.Is(txErr, structures.ErrNotFound), errors.Is(txErr, ErrSelfLike):
		l.metrics.ObserveLike(metrics.OutcomeInvalid, 0)
		return 0, txErr
	}

	l.metrics.ObserveLike(metrics.OutcomeFailed, 0)
	var serviceErr *ServiceError
	if errors.As(txErr, &serviceErr) {
		return 0, txErr
	}
	l.logError(reasonCommitFailed, txErr, zap.Int64("structure_id", structureID))
	return 0, newServiceError(opApply, reasonCommitFailed, txErr)
}

func (l *Ledger) logError(reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", opApply),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	l.logger.Error("likes ledger error", attrs...)
}
