// Package stream re-serializes normalized provider events into the
// canonical SSE event sequence. The emitter is an explicit state machine:
//
//	idle -> message started -> {text|tool blocks, index ordered} ->
//	message_delta sent -> message stopped (terminal)
//
// The terminal sequence never varies: any open block is closed, one
// message_delta carries the stop reason, and exactly one message_stop
// follows. That holds for every stop reason, tool_use included; only the
// value inside message_delta differs by case.
package stream

import (
	"encoding/json"

	"github.com/Jasonzhangf/route-claudecode-sub002/internal/domain"
)

// Writer delivers one SSE event to the client. Write is synchronous: the
// emitter does not consume the next provider event until the previous write
// returned, which bounds buffering to a single chunk.
type Writer interface {
	WriteEvent(event string, data any) error
}

type blockKind int

const (
	blockNone blockKind = iota
	blockText
	blockTool
)

// Emitter drives one stream. Not safe for concurrent use; one per request.
type Emitter struct {
	w     Writer
	id    string
	model string

	started   bool
	stopped   bool
	openKind  blockKind
	nextIndex int
	curIndex  int

	inputTokens int
	outputChars int
	finalUsage  *domain.Usage
}

func NewEmitter(w Writer, messageID, model string, inputTokens int) *Emitter {
	return &Emitter{w: w, id: messageID, model: model, inputTokens: inputTokens}
}

// Stopped reports whether the terminal message_stop was written.
func (e *Emitter) Stopped() bool { return e.stopped }

// Emit advances the machine by one provider event.
func (e *Emitter) Emit(ev domain.ProviderEvent) error {
	if e.stopped {
		return nil
	}
	switch ev.Type {
	case domain.EventTextDelta:
		if err := e.ensureBlock(blockText, "", ""); err != nil {
			return err
		}
		e.outputChars += len(ev.Text)
		return e.w.WriteEvent("content_block_delta", map[string]any{
			"type":  "content_block_delta",
			"index": e.curIndex,
			"delta": map[string]any{"type": "text_delta", "text": ev.Text},
		})
	case domain.EventToolUseStart:
		if err := e.closeBlock(); err != nil {
			return err
		}
		return e.ensureBlock(blockTool, ev.ToolUseID, ev.ToolName)
	case domain.EventToolInputDelta:
		if e.openKind != blockTool {
			// Input without a preceding start has nowhere to go; drop rather
			// than corrupt the block sequence.
			return nil
		}
		e.outputChars += len(ev.Fragment)
		return e.w.WriteEvent("content_block_delta", map[string]any{
			"type":  "content_block_delta",
			"index": e.curIndex,
			"delta": map[string]any{"type": "input_json_delta", "partial_json": ev.Fragment},
		})
	case domain.EventBlockStop:
		return e.closeBlock()
	case domain.EventDone:
		return e.Finish(ev.StopReason, ev.Usage)
	}
	return nil
}

// Finish writes the terminal sequence. Safe to call once per stream; later
// calls are no-ops. message_stop is always emitted regardless of the stop
// reason value.
func (e *Emitter) Finish(stopReason string, usage *domain.Usage) error {
	if e.stopped {
		return nil
	}
	if stopReason == "" {
		stopReason = domain.StopReasonEndTurn
	}
	if err := e.ensureStarted(); err != nil {
		return err
	}
	if err := e.closeBlock(); err != nil {
		return err
	}
	e.finalUsage = usage
	if err := e.w.WriteEvent("message_delta", map[string]any{
		"type": "message_delta",
		"delta": map[string]any{
			"stop_reason":   stopReason,
			"stop_sequence": nil,
		},
		"usage": e.usage(),
	}); err != nil {
		return err
	}
	if err := e.w.WriteEvent("message_stop", map[string]any{"type": "message_stop"}); err != nil {
		return err
	}
	e.stopped = true
	return nil
}

// Cancel terminates the stream after an upstream abort: close any open
// block, then the usual message_delta plus message_stop so the caller never
// hangs waiting for completion.
func (e *Emitter) Cancel() error {
	return e.Finish(domain.StopReasonEndTurn, nil)
}

func (e *Emitter) ensureStarted() error {
	if e.started {
		return nil
	}
	e.started = true
	return e.w.WriteEvent("message_start", map[string]any{
		"type": "message_start",
		"message": map[string]any{
			"id":            e.id,
			"type":          "message",
			"role":          domain.RoleAssistant,
			"model":         e.model,
			"content":       []any{},
			"stop_reason":   nil,
			"stop_sequence": nil,
			"usage":         map[string]any{"input_tokens": e.inputTokens, "output_tokens": 1},
		},
	})
}

func (e *Emitter) ensureBlock(kind blockKind, toolID, toolName string) error {
	if err := e.ensureStarted(); err != nil {
		return err
	}
	if e.openKind == kind && kind == blockText {
		return nil
	}
	if e.openKind != blockNone {
		if e.openKind == kind && kind == blockTool {
			return nil
		}
		if err := e.closeBlock(); err != nil {
			return err
		}
	}
	e.curIndex = e.nextIndex
	e.nextIndex++
	e.openKind = kind

	var block map[string]any
	if kind == blockText {
		block = map[string]any{"type": "text", "text": ""}
	} else {
		block = map[string]any{
			"type":  "tool_use",
			"id":    toolID,
			"name":  toolName,
			"input": json.RawMessage("{}"),
		}
	}
	return e.w.WriteEvent("content_block_start", map[string]any{
		"type":          "content_block_start",
		"index":         e.curIndex,
		"content_block": block,
	})
}

func (e *Emitter) closeBlock() error {
	if e.openKind == blockNone {
		return nil
	}
	e.openKind = blockNone
	return e.w.WriteEvent("content_block_stop", map[string]any{
		"type":  "content_block_stop",
		"index": e.curIndex,
	})
}

// usage prefers provider-reported numbers and falls back to the chars/4
// heuristic for output tokens.
func (e *Emitter) usage() map[string]any {
	if e.finalUsage != nil && e.finalUsage.OutputTokens > 0 {
		u := map[string]any{"output_tokens": e.finalUsage.OutputTokens}
		if e.finalUsage.InputTokens > 0 {
			u["input_tokens"] = e.finalUsage.InputTokens
		} else {
			u["input_tokens"] = e.inputTokens
		}
		return u
	}
	return map[string]any{
		"input_tokens":  e.inputTokens,
		"output_tokens": (e.outputChars + 3) / 4,
	}
}
