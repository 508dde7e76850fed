package ingest

import (
	"sort"

	"github.com/oddswatch/oddswatch/internal/models"
)

// FieldPriority maps a snapshot field name to an ordered provider preference.
// Recognized fields: side_a_value, side_b_value, side_a_label, side_b_label,
// scheduled_at. Fields without an entry fall back to the configured provider
// order, so adding a provider never touches the merge algorithm.
type FieldPriority map[string][]string

var mergeFields = []string{
	"side_a_value", "side_b_value", "side_a_label", "side_b_label", "scheduled_at",
}

// MergeGroup combines per-provider snapshots of one group into a single
// snapshot per fixture, choosing each field from the highest-priority provider
// that supplied it.
func MergeGroup(byProvider map[string][]models.Snapshot, defaultOrder []string, prio FieldPriority) []models.Snapshot {
	indexed := make(map[string]map[string]models.Snapshot) // provider -> key -> snapshot
	keys := make(map[string]struct{})
	for provider, snaps := range byProvider {
		idx := make(map[string]models.Snapshot, len(snaps))
		for _, sn := range snaps {
			idx[sn.Key()] = sn
			keys[sn.Key()] = struct{}{}
		}
		indexed[provider] = idx
	}

	sortedKeys := make([]string, 0, len(keys))
	for k := range keys {
		sortedKeys = append(sortedKeys, k)
	}
	sort.Strings(sortedKeys)

	merged := make([]models.Snapshot, 0, len(sortedKeys))
	for _, key := range sortedKeys {
		base, ok := firstWith(indexed, defaultOrder, key)
		if !ok {
			continue
		}
		for _, field := range mergeFields {
			order := defaultOrder
			if p, ok := prio[field]; ok {
				order = p
			}
			src, ok := firstWith(indexed, order, key)
			if !ok {
				continue
			}
			applyField(&base, src, field)
		}
		merged = append(merged, base)
	}
	return merged
}

func firstWith(indexed map[string]map[string]models.Snapshot, order []string, key string) (models.Snapshot, bool) {
	for _, provider := range order {
		if sn, ok := indexed[provider][key]; ok {
			return sn, true
		}
	}
	return models.Snapshot{}, false
}

func applyField(dst *models.Snapshot, src models.Snapshot, field string) {
	switch field {
	case "side_a_value":
		dst.SideAValue = src.SideAValue
	case "side_b_value":
		dst.SideBValue = src.SideBValue
	case "side_a_label":
		dst.SideALabel = src.SideALabel
	case "side_b_label":
		dst.SideBLabel = src.SideBLabel
	case "scheduled_at":
		dst.ScheduledAt = src.ScheduledAt
	}
}
