package codewhisperer

import (
	"encoding/binary"
	"encoding/json"
	"hash/crc32"
	"strings"

	"github.com/Jasonzhangf/route-claudecode-sub002/internal/domain"
)

// Binary event-stream framing:
//
//	[4B total length BE][4B header length BE][headers][payload][4B CRC32]
//
// The CRC covers everything before the trailer. JSON payloads carry a
// stray "vent" prefix that must be stripped before decoding. A truncated
// trailing frame is a clean end of stream; anything else malformed is fatal.

const (
	frameHeaderSize  = 8
	frameTrailerSize = 4
	ventPrefix       = "vent"
)

// assistantEvent is the decoded JSON payload of one frame.
type assistantEvent struct {
	Content   string          `json:"content,omitempty"`
	ToolUseID string          `json:"toolUseId,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     string          `json:"input,omitempty"`
	Stop      bool            `json:"stop,omitempty"`
	FollowUp  json.RawMessage `json:"followupPrompt,omitempty"`
}

// frameDecoder accumulates raw bytes and yields provider events frame by
// frame. It tracks which tool blocks it has opened so input fragments for an
// already-started tool do not re-emit the start event.
type frameDecoder struct {
	buf      []byte
	offset   int
	started  map[string]bool
	openTool string
}

func newFrameDecoder() *frameDecoder {
	return &frameDecoder{started: map[string]bool{}}
}

// Write appends raw bytes and returns the events decodable so far. A
// malformed frame surfaces as a StreamDecodeError; bytes belonging to an
// incomplete trailing frame stay buffered.
func (d *frameDecoder) Write(p []byte) ([]domain.ProviderEvent, error) {
	d.buf = append(d.buf, p...)

	var out []domain.ProviderEvent
	for {
		if len(d.buf) < frameHeaderSize+frameTrailerSize {
			return out, nil
		}
		total := binary.BigEndian.Uint32(d.buf[0:4])
		headerLen := binary.BigEndian.Uint32(d.buf[4:8])

		if total < frameHeaderSize+frameTrailerSize || headerLen > total-frameHeaderSize-frameTrailerSize {
			return out, &domain.StreamDecodeError{Offset: d.offset, Reason: "frame lengths out of range"}
		}
		if uint32(len(d.buf)) < total {
			return out, nil
		}

		frame := d.buf[:total]
		want := binary.BigEndian.Uint32(frame[total-frameTrailerSize:])
		if got := crc32.ChecksumIEEE(frame[:total-frameTrailerSize]); got != want {
			return out, &domain.StreamDecodeError{Offset: d.offset, Reason: "checksum mismatch"}
		}

		payload := frame[frameHeaderSize+headerLen : total-frameTrailerSize]
		events, err := d.decodePayload(payload)
		if err != nil {
			return out, err
		}
		out = append(out, events...)

		d.buf = d.buf[total:]
		d.offset += int(total)
	}
}

// Close ends the stream, emitting a stop for any tool block still open. A
// partial trailing frame is expected on provider disconnect and is not an
// error.
func (d *frameDecoder) Close() []domain.ProviderEvent {
	if d.openTool != "" {
		d.openTool = ""
		return []domain.ProviderEvent{{Type: domain.EventBlockStop}}
	}
	return nil
}

func (d *frameDecoder) decodePayload(payload []byte) ([]domain.ProviderEvent, error) {
	body := payload
	if s := string(body); strings.HasPrefix(s, ventPrefix) {
		body = body[len(ventPrefix):]
	}
	if len(body) == 0 {
		return nil, nil
	}

	var ev assistantEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, &domain.StreamDecodeError{Offset: d.offset, Reason: "payload is not valid JSON"}
	}

	var out []domain.ProviderEvent

	if ev.ToolUseID != "" {
		if !d.started[ev.ToolUseID] {
			if d.openTool != "" && d.openTool != ev.ToolUseID {
				out = append(out, domain.ProviderEvent{Type: domain.EventBlockStop})
			}
			out = append(out, domain.ProviderEvent{
				Type:      domain.EventToolUseStart,
				ToolUseID: ev.ToolUseID,
				ToolName:  ev.Name,
			})
			d.started[ev.ToolUseID] = true
			d.openTool = ev.ToolUseID
		}
		if ev.Input != "" {
			out = append(out, domain.ProviderEvent{Type: domain.EventToolInputDelta, Fragment: ev.Input})
		}
		if ev.Stop {
			out = append(out, domain.ProviderEvent{Type: domain.EventBlockStop})
			d.openTool = ""
		}
		return out, nil
	}

	if ev.Content != "" {
		if d.openTool != "" {
			out = append(out, domain.ProviderEvent{Type: domain.EventBlockStop})
			d.openTool = ""
		}
		out = append(out, domain.ProviderEvent{Type: domain.EventTextDelta, Text: ev.Content})
	}
	return out, nil
}
