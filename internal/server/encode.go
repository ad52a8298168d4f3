package server

import "encoding/json"

func encodeSection(data map[string]interface{}) (string, error) {
	encoded, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

func encodeDefinition(definition map[string]map[string]float64) (string, error) {
	encoded, err := json.Marshal(definition)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}
