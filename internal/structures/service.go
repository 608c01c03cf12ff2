package structures

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/peakstranding/internal/config"
	"github.com/MarcoPoloResearchLab/peakstranding/internal/metrics"
	"github.com/MarcoPoloResearchLab/peakstranding/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var noOpLogger = zap.NewNop()

// ServiceConfig describes the dependencies of the structure store.
type ServiceConfig struct {
	Database *gorm.DB
	Limits   config.Limits
	Clock    func() time.Time
	// Timeout bounds every storage operation; zero leaves the caller's deadline alone.
	Timeout time.Duration
	Logger  *zap.Logger
	Metrics *metrics.Registry
}

// Service owns structure submission, retention and sampling.
type Service struct {
	db      *gorm.DB
	limits  config.Limits
	clock   func() time.Time
	timeout time.Duration
	logger  *zap.Logger
	metrics *metrics.Registry
}

// NewService constructs the structure store.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, reasonMissingDatabase, errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:      cfg.Database,
		limits:  cfg.Limits,
		clock:   clock,
		timeout: cfg.Timeout,
		logger:  logger,
		metrics: cfg.Metrics,
	}, nil
}

// Submit stores a new structure owned by ownerID and, when the owner now holds
// more than MaxStructsPerUserPerScene live structures in the scene, evicts the
// oldest one. Everything except the eviction commits or rolls back together.
func (s *Service) Submit(ctx context.Context, ownerID int64, submission Submission) (Structure, error) {
	if s == nil || s.db == nil {
		return Structure{}, newServiceError(opSubmit, reasonMissingDatabase, errMissingDatabase)
	}
	if err := submission.validate(s.limits); err != nil {
		s.metrics.ObserveSubmission(metrics.OutcomeInvalid)
		return Structure{}, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	record := submission.toStructure(ownerID, s.clock().UTC().UnixMilli())
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := users.EnsureAccounts(tx, ownerID); err != nil {
			s.logError(opSubmit, reasonAccountFailed, err, zap.Int64("user_id", ownerID))
			return newServiceError(opSubmit, reasonAccountFailed, err)
		}

		// Serializes concurrent submissions by one owner so the retention count is never stale.
		var account users.Account
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", ownerID).
			Take(&account).Error; err != nil {
			s.logError(opSubmit, reasonLockFailed, err, zap.Int64("user_id", ownerID))
			return newServiceError(opSubmit, reasonLockFailed, err)
		}

		if err := tx.Create(&record).Error; err != nil {
			s.logError(opSubmit, reasonInsertFailed, err,
				zap.Int64("user_id", ownerID),
				zap.String("scene", record.Scene))
			return newServiceError(opSubmit, reasonInsertFailed, err)
		}

		var live int64
		if err := tx.Model(&Structure{}).
			Where("user_id = ? AND scene = ? AND deleted = ?", ownerID, record.Scene, false).
			Count(&live).Error; err != nil {
			s.logError(opSubmit, reasonCountFailed, err,
				zap.Int64("user_id", ownerID),
				zap.String("scene", record.Scene))
			return newServiceError(opSubmit, reasonCountFailed, err)
		}

		if live > int64(s.limits.MaxStructsPerUserPerScene) {
			s.runCleanup(tx, evictOldest(ownerID, record.Scene),
				zap.Int64("user_id", ownerID),
				zap.String("scene", record.Scene),
				zap.Int64("live", live))
		}
		return nil
	})
	if txErr != nil {
		s.metrics.ObserveSubmission(metrics.OutcomeFailed)
		var serviceErr *ServiceError
		if errors.As(txErr, &serviceErr) {
			return Structure{}, txErr
		}
		s.logError(opSubmit, reasonCommitFailed, txErr, zap.Int64("user_id", ownerID))
		return Structure{}, newServiceError(opSubmit, reasonCommitFailed, txErr)
	}

	s.metrics.ObserveSubmission(metrics.OutcomeSuccess)
	return record, nil
}

// Sample returns up to the clamped limit of live structures from the requested
// scene, spread across (owner, segment) partitions before repeating any.
func (s *Service) Sample(ctx context.Context, request SampleRequest) ([]Structure, error) {
	if s == nil || s.db == nil {
		return nil, newServiceError(opSample, reasonMissingDatabase, errMissingDatabase)
	}
	if err := validateScene(request.Scene, s.limits); err != nil {
		return nil, err
	}

	limit := s.clampLimit(request.Limit)
	if limit == 0 {
		s.metrics.ObserveSampleSize(0)
		return []Structure{}, nil
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows := make([]Structure, 0, limit)
	query := sampleQuery(s.db.WithContext(ctx), request.Scene, request.MapID, normalizePrefabs(request.ExcludePrefabs), limit)
	if err := query.Find(&rows).Error; err != nil {
		s.logError(opSample, reasonQueryFailed, err, zap.String("scene", request.Scene))
		return nil, newServiceError(opSample, reasonQueryFailed, err)
	}

	s.metrics.ObserveSampleSize(len(rows))
	return rows, nil
}

func (s *Service) clampLimit(requested *int) int {
	limit := s.limits.DefaultRandomLimit
	if requested != nil {
		limit = *requested
	}
	if limit < 0 {
		return 0
	}
	if limit > s.limits.MaxRequestedStructs {
		return s.limits.MaxRequestedStructs
	}
	return limit
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("structures service error", attrs...)
}
