package structures

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/peakstranding/internal/config"
	"github.com/MarcoPoloResearchLab/peakstranding/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func testLimits() config.Limits {
	return config.Limits{
		MaxStructsPerUserPerScene: 2,
		MaxRequestedStructs:       4,
		DefaultRandomLimit:        3,
		MaxSceneLength:            16,
		MaxPrefabLength:           50,
		MaxUsernameLength:         50,
	}
}

type tickingClock struct {
	now  time.Time
	step time.Duration
}

func (c *tickingClock) Now() time.Time {
	current := c.now
	c.now = c.now.Add(c.step)
	return current
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "structures.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&Structure{}, &users.Account{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func newTestService(t *testing.T, db *gorm.DB, clock func() time.Time, logger *zap.Logger) *Service {
	t.Helper()
	service, err := NewService(ServiceConfig{
		Database: db,
		Limits:   testLimits(),
		Clock:    clock,
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	return service
}

func testSubmission(scene string, mapID, segment int32, prefab string) Submission {
	return Submission{
		Username:           "Sam",
		MapID:              mapID,
		Scene:              scene,
		Segment:            segment,
		Prefab:             prefab,
		Position:           Vector3{X: 1, Y: 2, Z: 3},
		Rotation:           Quaternion{W: 1},
		RopeEnd:            Vector3{X: 1, Y: 1, Z: 1},
		RopeLength:         5,
		RopeAnchorRotation: Quaternion{W: 1},
	}
}

func seedStructure(t *testing.T, db *gorm.DB, record Structure) Structure {
	t.Helper()
	if record.CreatedAtMillis == 0 {
		record.CreatedAtMillis = 1700000000000
	}
	if err := db.Create(&record).Error; err != nil {
		t.Fatalf("failed to seed structure: %v", err)
	}
	return record
}

func intPtr(value int) *int {
	return &value
}

func int32Ptr(value int32) *int32 {
	return &value
}
