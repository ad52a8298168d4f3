package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
)

// ErrInvalidSnapshot indicates a snapshot payload that is not a JSON object.
var ErrInvalidSnapshot = errors.New("record: invalid snapshot")

// Snapshot holds one decoded section payload keyed by field.
type Snapshot map[string]interface{}

// ParseSnapshot decodes a section snapshot. Empty and "null" payloads decode
// to an empty snapshot: every field is absent, which is distinct from a field
// that is present with an empty value.
func ParseSnapshot(raw string) (Snapshot, error) {
	if raw == "" || raw == "null" {
		return Snapshot{}, nil
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	return Snapshot(decoded), nil
}

// Lookup returns the field value and whether the field is present at all.
func (s Snapshot) Lookup(key string) (interface{}, bool) {
	value, ok := s[key]
	return value, ok
}

// Changed reports whether the field differs between the two snapshots.
// A transition between absent and present counts as a change even when the
// present value is empty.
func Changed(key string, before, after Snapshot) bool {
	beforeValue, beforeOK := before.Lookup(key)
	afterValue, afterOK := after.Lookup(key)
	if beforeOK != afterOK {
		return true
	}
	if !beforeOK {
		return false
	}
	return !reflect.DeepEqual(beforeValue, afterValue)
}

// Stringify renders a field value for display. Nil renders as the empty
// string; composite values render as compact JSON.
func Stringify(value interface{}) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	case bool:
		return strconv.FormatBool(typed)
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	default:
		encoded, err := json.Marshal(typed)
		if err != nil {
			return fmt.Sprintf("%v", typed)
		}
		return string(encoded)
	}
}
