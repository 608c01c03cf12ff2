package server

import "github.com/MarcoPoloResearchLab/peakstranding/internal/structures"

// structurePayload is the flat wire form of a structure. On submission the
// server-owned fields (id, created_at, user_id, likes) are ignored.
type structurePayload struct {
	ID        int64  `json:"id"`
	CreatedAt int64  `json:"created_at"`
	Username  string `json:"username"`
	UserID    int64  `json:"user_id"`
	MapID     int32  `json:"map_id"`
	Scene     string `json:"scene"`
	Segment   int32  `json:"segment"`
	Prefab    string `json:"prefab"`

	PosX float32 `json:"pos_x"`
	PosY float32 `json:"pos_y"`
	PosZ float32 `json:"pos_z"`

	RotX float32 `json:"rot_x"`
	RotY float32 `json:"rot_y"`
	RotZ float32 `json:"rot_z"`
	RotW float32 `json:"rot_w"`

	RopeStartX float32 `json:"rope_start_x"`
	RopeStartY float32 `json:"rope_start_y"`
	RopeStartZ float32 `json:"rope_start_z"`
	RopeEndX   float32 `json:"rope_end_x"`
	RopeEndY   float32 `json:"rope_end_y"`
	RopeEndZ   float32 `json:"rope_end_z"`
	RopeLength float32 `json:"rope_length"`

	RopeFlyingRotationX float32 `json:"rope_flying_rotation_x"`
	RopeFlyingRotationY float32 `json:"rope_flying_rotation_y"`
	RopeFlyingRotationZ float32 `json:"rope_flying_rotation_z"`

	RopeAnchorRotationX float32 `json:"rope_anchor_rotation_x"`
	RopeAnchorRotationY float32 `json:"rope_anchor_rotation_y"`
	RopeAnchorRotationZ float32 `json:"rope_anchor_rotation_z"`
	RopeAnchorRotationW float32 `json:"rope_anchor_rotation_w"`

	Antigrav bool  `json:"antigrav"`
	Likes    int64 `json:"likes"`
}

type likeRequestPayload struct {
	Count *int `json:"count"`
}

func (p structurePayload) toSubmission() structures.Submission {
	return structures.Submission{
		Username: p.Username,
		MapID:    p.MapID,
		Scene:    p.Scene,
		Segment:  p.Segment,
		Prefab:   p.Prefab,
		Position: structures.Vector3{X: p.PosX, Y: p.PosY, Z: p.PosZ},
		Rotation: structures.Quaternion{X: p.RotX, Y: p.RotY, Z: p.RotZ, W: p.RotW},
		RopeStart: structures.Vector3{
			X: p.RopeStartX, Y: p.RopeStartY, Z: p.RopeStartZ,
		},
		RopeEnd: structures.Vector3{
			X: p.RopeEndX, Y: p.RopeEndY, Z: p.RopeEndZ,
		},
		RopeLength: p.RopeLength,
		RopeFlyingRotation: structures.Vector3{
			X: p.RopeFlyingRotationX, Y: p.RopeFlyingRotationY, Z: p.RopeFlyingRotationZ,
		},
		RopeAnchorRotation: structures.Quaternion{
			X: p.RopeAnchorRotationX, Y: p.RopeAnchorRotationY, Z: p.RopeAnchorRotationZ, W: p.RopeAnchorRotationW,
		},
		Antigrav: p.Antigrav,
	}
}

func newStructurePayload(record structures.Structure) structurePayload {
	return structurePayload{
		ID:                  record.ID,
		CreatedAt:           record.CreatedAtMillis,
		Username:            record.Username,
		UserID:              record.UserID,
		MapID:               record.MapID,
		Scene:               record.Scene,
		Segment:             record.Segment,
		Prefab:              record.Prefab,
		PosX:                record.Position.X,
		PosY:                record.Position.Y,
		PosZ:                record.Position.Z,
		RotX:                record.Rotation.X,
		RotY:                record.Rotation.Y,
		RotZ:                record.Rotation.Z,
		RotW:                record.Rotation.W,
		RopeStartX:          record.RopeStart.X,
		RopeStartY:          record.RopeStart.Y,
		RopeStartZ:          record.RopeStart.Z,
		RopeEndX:            record.RopeEnd.X,
		RopeEndY:            record.RopeEnd.Y,
		RopeEndZ:            record.RopeEnd.Z,
		RopeLength:          record.RopeLength,
		RopeFlyingRotationX: record.RopeFlyingRotation.X,
		RopeFlyingRotationY: record.RopeFlyingRotation.Y,
		RopeFlyingRotationZ: record.RopeFlyingRotation.Z,
		RopeAnchorRotationX: record.RopeAnchorRotation.X,
		RopeAnchorRotationY: record.RopeAnchorRotation.Y,
		RopeAnchorRotationZ: record.RopeAnchorRotation.Z,
		RopeAnchorRotationW: record.RopeAnchorRotation.W,
		Antigrav:            record.Antigrav,
		Likes:               record.Likes,
	}
}
