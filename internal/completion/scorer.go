package completion

import (
	"math"

	"github.com/scopedesk/backend/internal/record"
)

// Score is the completion result for one scope.
type Score struct {
	Overall int
	Tabs    map[string]int
}

// Compute scores a data snapshot against a weighting definition. It is a
// pure function: identical inputs always produce identical output and no
// state is shared between invocations.
//
// Per tab, percent = round(100 * achieved / total) clamped to [0,100]; a tab
// with zero or malformed total weight scores 0. The overall score is the
// weight-proportional average over tabs: each tab contributes its percent
// weighted by its total configured weight, and zero-weight tabs contribute
// no weight rather than a zero score.
func Compute(snapshot record.Snapshot, definition Definition, registry *record.Registry) Score {
	if registry == nil {
		registry = record.DefaultRegistry()
	}
	score := Score{Tabs: make(map[string]int, len(definition))}
	var weightedSum float64
	var weightTotal float64
	for tabKey, weights := range definition {
		percent, total := scoreTab(snapshot, weights, registry)
		score.Tabs[tabKey] = percent
		if total > 0 {
			weightedSum += float64(percent) * total
			weightTotal += total
		}
	}
	if weightTotal > 0 {
		score.Overall = clampPercent(math.Round(weightedSum / weightTotal))
	}
	return score
}

func scoreTab(snapshot record.Snapshot, weights TabWeights, registry *record.Registry) (int, float64) {
	if len(weights) == 0 {
		return 0, 0
	}
	var total float64
	var achieved float64
	for fieldKey, weight := range weights {
		total += weight
		value, present := snapshot.Lookup(fieldKey)
		if present && registry.Filled(fieldKey, value) {
			achieved += weight
		}
	}
	if total == 0 {
		return 0, 0
	}
	return clampPercent(math.Round(100 * achieved / total)), total
}

func clampPercent(value float64) int {
	if value < 0 {
		return 0
	}
	if value > 100 {
		return 100
	}
	return int(value)
}
