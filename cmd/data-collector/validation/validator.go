package validation

import (
	"context"
	"fmt"
	"github.com/goccy/go-json"
	"github.com/united-manufacturing-hub/data-collector/cmd/data-collector/shared"
	"github.com/united-manufacturing-hub/data-collector/internal"
	"math"
	"strconv"
	"strings"
)

// Validator checks inbound payloads for structure, X axis coherence and duplicate x values.
// It never writes statistics; the caller does that after a successful validation.
type Validator struct {
	stats shared.StatsReader
}

func NewValidator(stats shared.StatsReader) *Validator {
	return &Validator{stats: stats}
}

// Validate parses raw and returns the deduplicated message together with the X axis type of its first point.
// The type is empty when the message carries no data.
//
// A *shared.ValidationError is returned for every input problem.
// Failing to read the wrapper's statistics is returned as a transient error.
func (v *Validator) Validate(ctx context.Context, raw []byte) (*shared.WrapperMessage, shared.XValueType, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, "", shared.NewValidationError(shared.UnknownWrapperID, shared.SchemaError, fmt.Sprintf("Payload is not a JSON object: %s", err), raw)
	}

	rawWrapperID, ok := fields["wrapper_id"]
	if !ok {
		return nil, "", shared.NewValidationError(shared.UnknownWrapperID, shared.SchemaError, "Missing wrapper_id field", raw)
	}
	wrapperID, wrapperIDErr := decodeWrapperID(rawWrapperID)

	rawData, ok := fields["data"]
	if !ok {
		return nil, "", shared.NewValidationError(wrapperID, shared.SchemaError, "Missing data field", raw)
	}
	var points []json.RawMessage
	if err := json.Unmarshal(rawData, &points); err != nil || points == nil {
		return nil, "", shared.NewValidationError(wrapperID, shared.SchemaError, "Data field must be an array", raw)
	}

	var xType shared.XValueType
	if len(points) > 0 {
		first, err := decodePointFields(points[0])
		if err != nil {
			return nil, "", shared.NewValidationError(wrapperID, shared.SchemaError, "Data points must have 'x' and 'y' fields", raw)
		}
		if _, hasY := first["y"]; !hasY {
			return nil, "", shared.NewValidationError(wrapperID, shared.SchemaError, "Data points must have 'x' and 'y' fields", raw)
		}
		rawX, hasX := first["x"]
		if !hasX {
			return nil, "", shared.NewValidationError(wrapperID, shared.SchemaError, "Data points must have 'x' and 'y' fields", raw)
		}
		var x interface{}
		if err = json.Unmarshal(rawX, &x); err != nil {
			return nil, "", shared.NewValidationError(wrapperID, shared.ValidationFault, fmt.Sprintf("data[0]: x: %s", err), raw)
		}
		if x == nil && strings.TrimSpace(string(rawX)) != "null" {
			return nil, "", shared.NewValidationError(wrapperID, shared.ValidationFault, fmt.Sprintf("data[0]: x: cannot decode %s", rawX), raw)
		}
		xType = DetectXType(x)

		if wrapperIDErr != nil {
			return nil, "", shared.NewValidationError(wrapperID, shared.ValidationFault, wrapperIDErr.Error(), raw)
		}
		existing, err := v.stats.GetStats(ctx, wrapperID)
		if err != nil {
			return nil, "", internal.NewTransientError(fmt.Errorf("failed to look up statistics for wrapper %s: %w", wrapperID, err))
		}
		if existing != nil && existing.XValueType != xType {
			return nil, "", shared.NewValidationError(wrapperID, shared.CoherenceError,
				fmt.Sprintf("X value type changed from %s to %s", existing.XValueType, xType), raw)
		}
	} else if wrapperIDErr != nil {
		return nil, "", shared.NewValidationError(wrapperID, shared.ValidationFault, wrapperIDErr.Error(), raw)
	}

	data := make([]shared.DataPoint, 0, len(points))
	for i, rawPoint := range points {
		point, err := parsePoint(rawPoint)
		if err != nil {
			return nil, "", shared.NewValidationError(wrapperID, shared.ValidationFault, fmt.Sprintf("data[%d]: %s", i, err), raw)
		}
		data = append(data, point)
	}

	metadata, err := decodeMetadata(fields)
	if err != nil {
		return nil, "", shared.NewValidationError(wrapperID, shared.ValidationFault, err.Error(), raw)
	}

	data, err = Deduplicate(data)
	if err != nil {
		return nil, "", shared.NewValidationError(wrapperID, shared.ValidationFault, err.Error(), raw)
	}

	return &shared.WrapperMessage{
		WrapperID: wrapperID,
		Data:      data,
		Metadata:  metadata,
	}, xType, nil
}

// decodeWrapperID always returns a usable label for error reports, even when the id is not a string.
func decodeWrapperID(raw json.RawMessage) (string, error) {
	var id *string
	if err := json.Unmarshal(raw, &id); err != nil || id == nil {
		label := strings.Trim(strings.TrimSpace(string(raw)), `"`)
		return label, fmt.Errorf("wrapper_id must be a string, got %s", label)
	}
	return *id, nil
}

func decodePointFields(raw json.RawMessage) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, fmt.Errorf("data point is null")
	}
	return fields, nil
}

func parsePoint(raw json.RawMessage) (shared.DataPoint, error) {
	fields, err := decodePointFields(raw)
	if err != nil {
		return shared.DataPoint{}, fmt.Errorf("data point must be an object")
	}
	rawX, ok := fields["x"]
	if !ok {
		return shared.DataPoint{}, fmt.Errorf("field 'x' required")
	}
	rawY, ok := fields["y"]
	if !ok {
		return shared.DataPoint{}, fmt.Errorf("field 'y' required")
	}
	x, err := parseX(rawX)
	if err != nil {
		return shared.DataPoint{}, err
	}
	y, err := parseY(rawY)
	if err != nil {
		return shared.DataPoint{}, err
	}
	return shared.DataPoint{X: x, Y: y}, nil
}

func parseX(raw json.RawMessage) (shared.XValue, error) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return shared.XValue{}, fmt.Errorf("x: %w", err)
	}
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return shared.XValue{}, fmt.Errorf("x must be a finite number")
		}
		return shared.NumberX(t), nil
	case string:
		if shared.IsISODatetime(t) {
			return shared.DatetimeX(t), nil
		}
		return shared.CategoryX(t), nil
	default:
		return shared.XValue{}, fmt.Errorf("x must be a number or a string, got %s", jsonKind(v))
	}
}

func parseY(raw json.RawMessage) (float64, error) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, fmt.Errorf("y: %w", err)
	}
	var y float64
	switch t := v.(type) {
	case float64:
		y = t
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, fmt.Errorf("y: could not convert string %q to float", t)
		}
		y = f
	default:
		return 0, fmt.Errorf("y must be a number, got %s", jsonKind(v))
	}
	if math.IsNaN(y) || math.IsInf(y, 0) {
		return 0, fmt.Errorf("y must be a finite number")
	}
	return y, nil
}

func decodeMetadata(fields map[string]json.RawMessage) (map[string]interface{}, error) {
	rawMetadata, ok := fields["metadata"]
	if !ok {
		return nil, fmt.Errorf("metadata: field required")
	}
	var metadata map[string]interface{}
	if err := json.Unmarshal(rawMetadata, &metadata); err != nil || metadata == nil {
		return nil, fmt.Errorf("metadata: must be an object")
	}
	return metadata, nil
}

func jsonKind(v interface{}) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case map[string]interface{}:
		return "object"
	case []interface{}:
		return "array"
	default:
		return fmt.Sprintf("%T", v)
	}
}
