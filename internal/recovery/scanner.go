package recovery

import (
	"strings"

	"github.com/Jasonzhangf/route-claudecode-sub002/internal/domain"
	"github.com/Jasonzhangf/route-claudecode-sub002/internal/metrics"
)

// maxHold bounds how much text the scanner withholds while an embedded call
// is still ambiguous. Past this the candidate is flushed as literal text.
const maxHold = 64 << 10

// StreamScanner applies tool-call recovery to a live event stream. It holds
// back only the text that could still turn into an embedded call (at most a
// marker-length tail, or the in-progress candidate), so the pass stays
// linear in the stream size. Feed is called from the single goroutine that
// drives the stream; the scanner is not safe for concurrent use.
type StreamScanner struct {
	buf        string
	inMatch    bool
	sawToolUse bool
}

func NewStreamScanner() *StreamScanner {
	return &StreamScanner{}
}

// Feed pushes one provider event through the scanner and returns the events
// to forward downstream, in order. Non-text events flush any withheld text
// first so block ordering is preserved. The Done event is rewritten with the
// reconciled stop reason before being returned.
func (s *StreamScanner) Feed(ev domain.ProviderEvent) []domain.ProviderEvent {
	switch ev.Type {
	case domain.EventTextDelta:
		s.buf += ev.Text
		return s.drain(false)
	case domain.EventToolUseStart:
		s.sawToolUse = true
		return append(s.Flush(), ev)
	case domain.EventToolInputDelta, domain.EventBlockStop:
		return append(s.Flush(), ev)
	case domain.EventDone:
		out := s.Flush()
		switch {
		case s.sawToolUse:
			ev.StopReason = domain.StopReasonToolUse
		case ev.StopReason == "":
			ev.StopReason = domain.StopReasonEndTurn
			metrics.StopReasonInferred.WithLabelValues(domain.StopReasonEndTurn).Inc()
		}
		return append(out, ev)
	default:
		return []domain.ProviderEvent{ev}
	}
}

// Flush releases all withheld text, abandoning any incomplete candidate.
// Called on Done and on cancellation.
func (s *StreamScanner) Flush() []domain.ProviderEvent {
	out := s.drain(true)
	s.inMatch = false
	return out
}

func (s *StreamScanner) drain(final bool) []domain.ProviderEvent {
	var out []domain.ProviderEvent
	for {
		if !s.inMatch {
			idx := strings.Index(s.buf, Marker)
			if idx < 0 {
				keep := 0
				if !final {
					keep = markerOverlap(s.buf)
				}
				if emit := s.buf[:len(s.buf)-keep]; emit != "" {
					out = append(out, domain.ProviderEvent{Type: domain.EventTextDelta, Text: emit})
				}
				s.buf = s.buf[len(s.buf)-keep:]
				return out
			}
			if idx > 0 {
				out = append(out, domain.ProviderEvent{Type: domain.EventTextDelta, Text: s.buf[:idx]})
				s.buf = s.buf[idx:]
			}
			s.inMatch = true
		}

		name, args, consumed, status := parseEmbedded(s.buf)
		switch status {
		case matchComplete:
			out = append(out,
				domain.ProviderEvent{
					Type:      domain.EventToolUseStart,
					ToolUseID: domain.DeterministicToolID(name, []byte(args)),
					ToolName:  name,
				},
				domain.ProviderEvent{Type: domain.EventToolInputDelta, Fragment: args},
				domain.ProviderEvent{Type: domain.EventBlockStop},
			)
			metrics.RecordRecovery("stream")
			s.sawToolUse = true
			s.buf = s.buf[consumed:]
			s.inMatch = false
		case matchNeedMore:
			if !final && len(s.buf) <= maxHold {
				return out
			}
			// Give up on the candidate: release the marker literally and
			// rescan whatever follows it.
			metrics.RecordRecoveryFailure("stream")
			out = append(out, domain.ProviderEvent{Type: domain.EventTextDelta, Text: s.buf[:len(Marker)]})
			s.buf = s.buf[len(Marker):]
			s.inMatch = false
		case matchInvalid:
			metrics.RecordRecoveryFailure("stream")
			out = append(out, domain.ProviderEvent{Type: domain.EventTextDelta, Text: s.buf[:len(Marker)]})
			s.buf = s.buf[len(Marker):]
			s.inMatch = false
		}
	}
}

// markerOverlap returns the length of the longest suffix of s that is a
// proper prefix of the marker, i.e. the tail that must be withheld because
// the next delta could complete it.
func markerOverlap(s string) int {
	max := len(Marker) - 1
	if len(s) < max {
		max = len(s)
	}
	for n := max; n > 0; n-- {
		if strings.HasSuffix(s, Marker[:n]) {
			return n
		}
	}
	return 0
}
