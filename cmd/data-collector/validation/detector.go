package validation

import (
	"github.com/goccy/go-json"
	"github.com/united-manufacturing-hub/data-collector/cmd/data-collector/shared"
)

// DetectXType classifies a decoded x value.
// Numbers are NUMBER, strings are DATETIME when they parse as ISO-8601 and STRING otherwise.
// Every other input is STRING.
func DetectXType(x interface{}) shared.XValueType {
	switch v := x.(type) {
	case float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, json.Number:
		return shared.XTypeNumber
	case string:
		if shared.IsISODatetime(v) {
			return shared.XTypeDatetime
		}
		return shared.XTypeString
	default:
		return shared.XTypeString
	}
}
