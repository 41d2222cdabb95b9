// Package recovery repairs backends that emit tool invocations as plain text
// of the form "Tool call: Name({...})" inside an otherwise normal text block,
// and fills in stop reasons some backends omit at stream end. The matched
// substring never survives to the caller; that exact leak is the regression
// this package exists to prevent. Unparsable candidates are left untouched
// and counted, never fatal. Re-running recovery on already-canonical content
// is a no-op.
package recovery

import (
	"strings"

	"github.com/Jasonzhangf/route-claudecode-sub002/internal/domain"
	"github.com/Jasonzhangf/route-claudecode-sub002/internal/metrics"
	"github.com/tidwall/gjson"
)

// Marker is the literal prefix of an embedded tool-call text.
const Marker = "Tool call: "

type matchStatus int

const (
	matchComplete matchStatus = iota
	matchNeedMore
	matchInvalid
)

// parseEmbedded parses s, which must start with Marker, as
// "Tool call: Name({json})". Single forward pass, no backtracking.
// Returns the tool name, the raw JSON argument object, and the number of
// bytes consumed on a complete match. matchNeedMore means s ended before the
// call could be completed or ruled out.
func parseEmbedded(s string) (name, args string, consumed int, status matchStatus) {
	i := len(Marker)
	start := i
	for i < len(s) && isNameByte(s[i]) {
		i++
	}
	if i == len(s) {
		return "", "", 0, matchNeedMore
	}
	if i == start || s[i] != '(' {
		return "", "", 0, matchInvalid
	}
	toolName := s[start:i]
	i++
	if i == len(s) {
		return "", "", 0, matchNeedMore
	}
	if s[i] != '{' {
		return "", "", 0, matchInvalid
	}

	depth := 0
	inString := false
	escaped := false
	for j := i; j < len(s); j++ {
		c := s[j]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				if j+1 >= len(s) {
					return "", "", 0, matchNeedMore
				}
				if s[j+1] != ')' {
					return "", "", 0, matchInvalid
				}
				candidate := s[i : j+1]
				if !gjson.Valid(candidate) {
					return "", "", 0, matchInvalid
				}
				return toolName, candidate, j + 2, matchComplete
			}
		}
	}
	return "", "", 0, matchNeedMore
}

func isNameByte(c byte) bool {
	return c == '_' || c == '-' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// recoverText splits one text span into blocks, extracting every complete
// embedded call. Returns the replacement blocks and the number of calls
// recovered; with zero recoveries the single returned text block equals the
// input.
func recoverText(text string) ([]domain.ContentBlock, int) {
	var blocks []domain.ContentBlock
	var plain strings.Builder
	recovered := 0

	rest := text
	for {
		idx := strings.Index(rest, Marker)
		if idx < 0 {
			plain.WriteString(rest)
			break
		}
		n, args, consumed, status := parseEmbedded(rest[idx:])
		if status != matchComplete {
			// Leave this occurrence as literal text and keep scanning past it.
			metrics.RecordRecoveryFailure("unary")
			plain.WriteString(rest[:idx+len(Marker)])
			rest = rest[idx+len(Marker):]
			continue
		}
		plain.WriteString(rest[:idx])
		if s := plain.String(); s != "" {
			blocks = append(blocks, domain.TextBlock(s))
			plain.Reset()
		}
		blocks = append(blocks, domain.ToolUseBlock(
			domain.DeterministicToolID(n, []byte(args)),
			n,
			[]byte(args),
		))
		metrics.RecordRecovery("unary")
		recovered++
		rest = rest[idx+consumed:]
	}
	if s := plain.String(); s != "" {
		blocks = append(blocks, domain.TextBlock(s))
	}
	return blocks, recovered
}

// RecoverResponse repairs a canonical response in place: embedded tool-call
// texts become tool_use blocks and the stop reason is reconciled with the
// content. Idempotent. Returns the number of recovered calls.
func RecoverResponse(resp *domain.MessagesResponse) int {
	total := 0
	var out []domain.ContentBlock
	for _, block := range resp.Content {
		if block.Type != domain.ContentTypeText || !strings.Contains(block.Text, Marker) {
			out = append(out, block)
			continue
		}
		replaced, n := recoverText(block.Text)
		total += n
		out = append(out, replaced...)
	}
	resp.Content = out

	// stop_reason == tool_use iff the content holds a tool_use block.
	switch {
	case resp.HasToolUse():
		resp.StopReason = domain.StopReasonToolUse
	case resp.StopReason == "":
		resp.StopReason = domain.StopReasonEndTurn
		metrics.StopReasonInferred.WithLabelValues(domain.StopReasonEndTurn).Inc()
	case resp.StopReason == domain.StopReasonToolUse:
		resp.StopReason = domain.StopReasonEndTurn
	}
	return total
}
