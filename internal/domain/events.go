package domain

// ProviderEventType enumerates the normalized streaming events every backend
// stream is reduced to before recovery and re-emission.
type ProviderEventType int

const (
	// EventTextDelta carries a fragment of assistant text.
	EventTextDelta ProviderEventType = iota
	// EventToolUseStart opens a tool invocation; the input arrives separately.
	EventToolUseStart
	// EventToolInputDelta carries a fragment of the tool input JSON. Fragments
	// concatenate in arrival order.
	EventToolInputDelta
	// EventBlockStop closes the currently open content block.
	EventBlockStop
	// EventDone terminates the stream. StopReason may be empty when the
	// backend omitted it; recovery infers one.
	EventDone
)

func (t ProviderEventType) String() string {
	switch t {
	case EventTextDelta:
		return "text_delta"
	case EventToolUseStart:
		return "tool_use_start"
	case EventToolInputDelta:
		return "tool_input_delta"
	case EventBlockStop:
		return "block_stop"
	case EventDone:
		return "done"
	default:
		return "unknown"
	}
}

// ProviderEvent is one normalized streaming event. Only the fields relevant
// to Type are set.
type ProviderEvent struct {
	Type       ProviderEventType
	Text       string // EventTextDelta
	ToolUseID  string // EventToolUseStart
	ToolName   string // EventToolUseStart
	Fragment   string // EventToolInputDelta
	StopReason string // EventDone, canonical vocabulary or empty
	Usage      *Usage // EventDone, nil when the backend omitted usage
}

// EventStream pairs the event channel of an in-flight provider stream with
// its error channel. Events is closed when the stream ends; Errs carries at
// most one terminal error.
type EventStream struct {
	Events <-chan ProviderEvent
	Errs   <-chan error
}
