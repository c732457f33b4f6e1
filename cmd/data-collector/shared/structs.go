package shared

import (
	"context"
	"fmt"
	"github.com/cristalhq/base64"
	"github.com/goccy/go-json"
	"strconv"
	"time"
)

// XValueType is the classification of a wrapper's X axis.
// Once recorded for a wrapper it never changes.
type XValueType string

const (
	XTypeNumber   XValueType = "number"
	XTypeDatetime XValueType = "datetime"
	XTypeString   XValueType = "string"
)

func ParseXValueType(s string) (XValueType, error) {
	switch XValueType(s) {
	case XTypeNumber, XTypeDatetime, XTypeString:
		return XValueType(s), nil
	}
	return "", fmt.Errorf("unknown x value type %q", s)
}

// XKind tags which variant an XValue holds.
type XKind uint8

const (
	XKindNumber XKind = iota
	XKindDatetime
	XKindCategory
)

// XValue is the x coordinate of a DataPoint.
// Datetime values keep the producer's original ISO-8601 text.
type XValue struct {
	Kind   XKind
	Number float64
	Text   string
}

func NumberX(f float64) XValue {
	return XValue{Kind: XKindNumber, Number: f}
}

func DatetimeX(s string) XValue {
	return XValue{Kind: XKindDatetime, Text: s}
}

func CategoryX(s string) XValue {
	return XValue{Kind: XKindCategory, Text: s}
}

// Type maps the variant onto the wrapper level classification.
func (x XValue) Type() XValueType {
	switch x.Kind {
	case XKindNumber:
		return XTypeNumber
	case XKindDatetime:
		return XTypeDatetime
	default:
		return XTypeString
	}
}

func (x XValue) String() string {
	if x.Kind == XKindNumber {
		return strconv.FormatFloat(x.Number, 'f', -1, 64)
	}
	return x.Text
}

func (x XValue) MarshalJSON() ([]byte, error) {
	if x.Kind == XKindNumber {
		return json.Marshal(x.Number)
	}
	return json.Marshal(x.Text)
}

func (x *XValue) UnmarshalJSON(b []byte) error {
	var raw interface{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case float64:
		*x = NumberX(v)
	case string:
		if IsISODatetime(v) {
			*x = DatetimeX(v)
		} else {
			*x = CategoryX(v)
		}
	default:
		return fmt.Errorf("x must be a number or a string, got %T", raw)
	}
	return nil
}

type DataPoint struct {
	X XValue  `json:"x"`
	Y float64 `json:"y"`
}

type WrapperMessage struct {
	WrapperID string                 `json:"wrapper_id"`
	Data      []DataPoint            `json:"data"`
	Metadata  map[string]interface{} `json:"metadata"`
}

// LastMessageMetadata describes the most recently cached message.
type LastMessageMetadata struct {
	Timestamp       time.Time `json:"timestamp"`
	WrapperID       string    `json:"wrapper_id"`
	DataPointsCount int       `json:"data_points_count"`
}

type WrapperStatistics struct {
	WrapperID            string     `json:"wrapper_id"`
	LastMessageTimestamp time.Time  `json:"last_message_timestamp"`
	TotalMessages        int64      `json:"total_messages"`
	XValueType           XValueType `json:"x_value_type"`
	LastDataCount        int        `json:"last_data_count"`
}

type ErrorType string

const (
	SchemaError     ErrorType = "schema_error"
	CoherenceError  ErrorType = "coherence_error"
	ValidationFault ErrorType = "validation_error"
)

// UnknownWrapperID is reported when a payload carries no wrapper_id.
const UnknownWrapperID = "unknown"

// ValidationError is a permanent rejection of one inbound payload.
// It is forwarded to the error queue as is.
type ValidationError struct {
	WrapperID    string          `json:"wrapper_id"`
	ErrorType    ErrorType       `json:"error_type"`
	ErrorMessage string          `json:"error_message"`
	Timestamp    time.Time       `json:"timestamp"`
	OriginalData json.RawMessage `json:"original_data"`
}

func NewValidationError(wrapperID string, errorType ErrorType, message string, raw []byte) *ValidationError {
	return &ValidationError{
		WrapperID:    wrapperID,
		ErrorType:    errorType,
		ErrorMessage: message,
		Timestamp:    time.Now().UTC(),
		OriginalData: OriginalData(raw),
	}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.ErrorType, e.ErrorMessage)
}

// OriginalData embeds raw as JSON when it is valid JSON.
// Anything else is carried as a base64 string so it survives the JSON envelope unchanged.
func OriginalData(raw []byte) json.RawMessage {
	if len(raw) > 0 && json.Valid(raw) {
		return append(json.RawMessage(nil), raw...)
	}
	encoded, _ := json.Marshal(base64.StdEncoding.EncodeToString(raw))
	return encoded
}

// Delivery is one inbound message held by the broker until it is acknowledged.
type Delivery interface {
	Body() []byte
	Redelivered() bool
	// Ack removes the message from the inbound queue.
	Ack() error
	// Requeue hands the message back to the broker for redelivery.
	Requeue() error
}

// StatsReader is the read half of the statistics tracker.
type StatsReader interface {
	// GetStats returns nil, nil when the wrapper has no statistics yet.
	GetStats(ctx context.Context, wrapperID string) (*WrapperStatistics, error)
}

type StatsTracker interface {
	StatsReader
	// UpdateStats increments the wrapper counter and overwrites its snapshot as one atomic unit.
	UpdateStats(ctx context.Context, wrapperID string, message *WrapperMessage, xType XValueType) error
}

type CacheReader interface {
	// The getters return nil, nil when nothing was stored yet.
	GetLastMessage(ctx context.Context) (*WrapperMessage, error)
	GetLastMessageMetadata(ctx context.Context) (*LastMessageMetadata, error)
	GetWrapperLastMessage(ctx context.Context, wrapperID string) (*WrapperMessage, error)
}

type CacheStore interface {
	CacheReader
	StoreMessage(ctx context.Context, message *WrapperMessage) error
}

// Store bundles everything the worker and the read API need from the cache backend.
type Store interface {
	StatsTracker
	CacheStore
	Ping(ctx context.Context) error
	Close() error
}
