package completion

import (
	"encoding/json"
)

// WeightConfig is one stored version of the admin-editable weighting scheme.
// Configs are append-only; the highest version is the active one.
type WeightConfig struct {
	Version          int64  `gorm:"column:version;primaryKey;autoIncrement"`
	DefinitionJSON   string `gorm:"column:definition_json;type:text;not null"`
	UpdatedBy        string `gorm:"column:updated_by;size:190;not null;default:''"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (WeightConfig) TableName() string {
	return "completion_configs"
}

// TabWeights maps field keys to their non-negative weights within one tab.
// A nil TabWeights marks a tab whose config was malformed; it scores zero.
type TabWeights map[string]float64

// Definition maps tab keys to their field weightings.
type Definition map[string]TabWeights

// ParseDefinition decodes a stored definition. Each tab is decoded
// independently: a tab whose payload is not an object of non-negative
// numbers is kept with nil weights rather than failing the whole definition.
func ParseDefinition(raw string) (Definition, error) {
	var tabs map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &tabs); err != nil {
		return nil, err
	}
	definition := make(Definition, len(tabs))
	for tabKey, payload := range tabs {
		var weights map[string]float64
		if err := json.Unmarshal(payload, &weights); err != nil {
			definition[tabKey] = nil
			continue
		}
		for _, weight := range weights {
			if weight < 0 {
				weights = nil
				break
			}
		}
		definition[tabKey] = weights
	}
	return definition, nil
}

// DefaultDefinitionJSON seeds the weighting scheme for the built-in tabs.
const DefaultDefinitionJSON = `{
  "overview": {"name": 3, "company": 2, "email": 2, "phone": 1, "website": 1, "summary": 3},
  "engagement": {"stage": 2, "budget": 2, "start_date": 1, "end_date": 1, "milestones": 3},
  "contacts": {"contacts": 4, "address": 1, "city": 1, "region": 1},
  "materials": {"documents": 3, "tags": 1, "notes": 2}
}`
