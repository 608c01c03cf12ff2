package structures

import (
	"strings"

	"gorm.io/gorm"
)

const diversityRankSelect = "*, ROW_NUMBER() OVER (PARTITION BY user_id, segment ORDER BY RANDOM()) AS diversity_rank"

// SampleRequest selects a diversified random sample from one scene.
type SampleRequest struct {
	Scene          string
	MapID          *int32
	ExcludePrefabs []string
	// Limit is clamped into [0, MaxRequestedStructs]; nil selects DefaultRandomLimit.
	Limit *int
}

// sampleQuery ranks every matching row randomly within its (owner, segment)
// partition and orders by that rank first, so each partition contributes one
// row before any partition contributes a second. Active predicates are ANDed
// and bound in the order they are added.
func sampleQuery(tx *gorm.DB, scene string, mapID *int32, excludePrefabs []string, limit int) *gorm.DB {
	ranked := tx.Model(&Structure{}).
		Select(diversityRankSelect).
		Where("scene = ?", scene).
		Where("deleted = ?", false)
	if mapID != nil {
		ranked = ranked.Where("map_id = ?", *mapID)
	}
	if len(excludePrefabs) > 0 {
		ranked = ranked.Where("prefab NOT IN ?", excludePrefabs)
	}

	return tx.Table("(?) AS ranked", ranked).
		Order("diversity_rank ASC").
		Order("RANDOM()").
		Limit(limit)
}

// normalizePrefabs drops empty and duplicate entries while keeping first-seen
// order. Entries match stored prefabs exactly, surrounding whitespace included.
func normalizePrefabs(prefabs []string) []string {
	if len(prefabs) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(prefabs))
	normalized := make([]string, 0, len(prefabs))
	for _, prefab := range prefabs {
		if prefab == "" {
			continue
		}
		if _, ok := seen[prefab]; ok {
			continue
		}
		seen[prefab] = struct{}{}
		normalized = append(normalized, prefab)
	}
	if len(normalized) == 0 {
		return nil
	}
	return normalized
}

// ParsePrefabList splits a comma-separated exclusion list, ignoring empty segments.
func ParsePrefabList(raw string) []string {
	if raw == "" {
		return nil
	}
	return normalizePrefabs(strings.Split(raw, ","))
}
