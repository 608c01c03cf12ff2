package structures

import (
	"github.com/MarcoPoloResearchLab/peakstranding/internal/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// cleanupStep is a non-fatal action executed inside a savepoint of the caller's
// transaction. Its failure rolls back only the savepoint and is logged.
type cleanupStep struct {
	operation string
	run       func(tx *gorm.DB) error
}

func (s *Service) runCleanup(tx *gorm.DB, step cleanupStep, fields ...zap.Field) bool {
	if err := tx.Transaction(step.run); err != nil {
		attrs := append([]zap.Field{
			zap.String("operation", step.operation),
			zap.Error(err),
		}, fields...)
		s.logger.Warn("structures cleanup step failed", attrs...)
		s.metrics.ObserveEviction(metrics.OutcomeFailed)
		return false
	}
	s.metrics.ObserveEviction(metrics.OutcomeSuccess)
	return true
}

// evictOldest hard-deletes the owner's earliest live structure in the scene,
// breaking created_at ties by lowest id.
func evictOldest(ownerID int64, scene string) cleanupStep {
	return cleanupStep{
		operation: opEvict,
		run: func(tx *gorm.DB) error {
			var oldest Structure
			if err := tx.Select("id").
				Where("user_id = ? AND scene = ? AND deleted = ?", ownerID, scene, false).
				Order("created_at ASC").
				Order("id ASC").
				Take(&oldest).Error; err != nil {
				return newServiceError(opEvict, reasonSelectFailed, err)
			}
			if err := tx.Delete(&Structure{}, oldest.ID).Error; err != nil {
				return newServiceError(opEvict, reasonDeleteFailed, err)
			}
			return nil
		},
	}
}
