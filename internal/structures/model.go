package structures

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/MarcoPoloResearchLab/peakstranding/internal/config"
)

// Vector3 is a position or Euler rotation in world space.
type Vector3 struct {
	X float32 `gorm:"column:x"`
	Y float32 `gorm:"column:y"`
	Z float32 `gorm:"column:z"`
}

// Quaternion is a rotation.
type Quaternion struct {
	X float32 `gorm:"column:x"`
	Y float32 `gorm:"column:y"`
	Z float32 `gorm:"column:z"`
	W float32 `gorm:"column:w"`
}

// Structure models a placed prop together with its rope attachment.
type Structure struct {
	ID              int64  `gorm:"column:id;primaryKey;autoIncrement;index:idx_structures_owner_scene,priority:4"`
	CreatedAtMillis int64  `gorm:"column:created_at;not null;index:idx_structures_owner_scene,priority:3"`
	Username        string `gorm:"column:username"`
	UserID          int64  `gorm:"column:user_id;not null;index:idx_structures_owner_scene,priority:1"`
	MapID           int32  `gorm:"column:map_id;not null;index:idx_structures_scene_map,priority:2"`
	Scene           string `gorm:"column:scene;not null;index:idx_structures_scene_map,priority:1;index:idx_structures_owner_scene,priority:2"`
	Segment         int32  `gorm:"column:segment;not null;default:0"`
	Prefab          string `gorm:"column:prefab;not null;index:idx_structures_prefab"`

	Position           Vector3    `gorm:"embedded;embeddedPrefix:pos_"`
	Rotation           Quaternion `gorm:"embedded;embeddedPrefix:rot_"`
	RopeStart          Vector3    `gorm:"embedded;embeddedPrefix:rope_start_"`
	RopeEnd            Vector3    `gorm:"embedded;embeddedPrefix:rope_end_"`
	RopeLength         float32    `gorm:"column:rope_length"`
	RopeFlyingRotation Vector3    `gorm:"embedded;embeddedPrefix:rope_flying_rotation_"`
	RopeAnchorRotation Quaternion `gorm:"embedded;embeddedPrefix:rope_anchor_rotation_"`
	Antigrav           bool       `gorm:"column:antigrav;not null;default:false"`

	Likes   int64 `gorm:"column:likes;not null;default:0"`
	Deleted bool  `gorm:"column:deleted;not null;default:false;index:idx_structures_scene_map,priority:3"`
}

// TableName provides the explicit table binding for GORM.
func (Structure) TableName() string {
	return "structures"
}

// Submission is the client-controlled part of a structure.
type Submission struct {
	Username           string
	MapID              int32
	Scene              string
	Segment            int32
	Prefab             string
	Position           Vector3
	Rotation           Quaternion
	RopeStart          Vector3
	RopeEnd            Vector3
	RopeLength         float32
	RopeFlyingRotation Vector3
	RopeAnchorRotation Quaternion
	Antigrav           bool
}

func (s Submission) validate(limits config.Limits) error {
	if err := validateScene(s.Scene, limits); err != nil {
		return err
	}
	if strings.TrimSpace(s.Prefab) == "" {
		return fmt.Errorf("%w: prefab is required", ErrValidation)
	}
	if utf8.RuneCountInString(s.Prefab) > limits.MaxPrefabLength {
		return fmt.Errorf("%w: prefab exceeds %d characters", ErrValidation, limits.MaxPrefabLength)
	}
	if utf8.RuneCountInString(s.Username) > limits.MaxUsernameLength {
		return fmt.Errorf("%w: username exceeds %d characters", ErrValidation, limits.MaxUsernameLength)
	}
	return nil
}

func (s Submission) toStructure(ownerID int64, createdAtMillis int64) Structure {
	return Structure{
		CreatedAtMillis:    createdAtMillis,
		Username:           s.Username,
		UserID:             ownerID,
		MapID:              s.MapID,
		Scene:              s.Scene,
		Segment:            s.Segment,
		Prefab:             s.Prefab,
		Position:           s.Position,
		Rotation:           s.Rotation,
		RopeStart:          s.RopeStart,
		RopeEnd:            s.RopeEnd,
		RopeLength:         s.RopeLength,
		RopeFlyingRotation: s.RopeFlyingRotation,
		RopeAnchorRotation: s.RopeAnchorRotation,
		Antigrav:           s.Antigrav,
	}
}

func validateScene(scene string, limits config.Limits) error {
	if strings.TrimSpace(scene) == "" {
		return fmt.Errorf("%w: scene is required", ErrValidation)
	}
	if utf8.RuneCountInString(scene) > limits.MaxSceneLength {
		return fmt.Errorf("%w: scene exceeds %d characters", ErrValidation, limits.MaxSceneLength)
	}
	return nil
}
