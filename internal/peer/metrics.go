package peer

// Receive-loop dispatch outcomes.
const (
	ReadDispatchedCommand   = "dispatched_command"
	ReadDispatchedResponse  = "dispatched_response"
	ReadDroppedShortHeader  = "dropped_short_header"
	ReadDroppedNoBody       = "dropped_no_body"
	ReadDroppedUnknownLabel = "dropped_unknown_label"
	ReadRejectedProfile     = "rejected_profile"
)

// Send-path message kinds.
const (
	WriteKindCommand  = "command"
	WriteKindResponse = "response"
	WriteKindReject   = "reject"
)

// Metrics receives engine counters. Implementations must be safe for
// concurrent use; the receive loop and senders report from their own
// goroutines.
type Metrics interface {
	MessageRead(outcome string)
	MessageWritten(kind string)
}

type nopMetrics struct{}

func (nopMetrics) MessageRead(string)    {}
func (nopMetrics) MessageWritten(string) {}
