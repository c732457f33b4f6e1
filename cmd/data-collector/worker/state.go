package worker

// DeliveryState is the position of one inbound delivery in the ingestion pipeline.
type DeliveryState uint8

const (
	StateReceived DeliveryState = iota
	StateParsing
	StateValidating
	StateRejected
	StateValidated
	StateStatsUpdated
	StateCached
	StateForwarded
	StateAcked
	StateRequeued
	StateAbandoned
)

func (s DeliveryState) String() string {
	switch s {
	case StateReceived:
		return "RECEIVED"
	case StateParsing:
		return "PARSING"
	case StateValidating:
		return "VALIDATING"
	case StateRejected:
		return "REJECTED"
	case StateValidated:
		return "VALIDATED"
	case StateStatsUpdated:
		return "STATS_UPDATED"
	case StateCached:
		return "CACHED"
	case StateForwarded:
		return "FORWARDED"
	case StateAcked:
		return "ACKED"
	case StateRequeued:
		return "REQUEUED"
	case StateAbandoned:
		return "ABANDONED"
	default:
		return "UNKNOWN"
	}
}
