package transform

import (
	"github.com/Jasonzhangf/route-claudecode-sub002/internal/metrics"
)

// clampFloat pins v into [lo, hi]. Out-of-range parameters are adjusted
// rather than rejected; every adjustment is counted.
func clampFloat(v *float64, lo, hi float64, protocol, param string) *float64 {
	if v == nil {
		return nil
	}
	out := *v
	if out < lo {
		out = lo
	} else if out > hi {
		out = hi
	}
	if out != *v {
		metrics.RecordClamp(protocol, param)
	}
	return &out
}

// clampMaxTokens pins max_tokens into [1, cap]. cap <= 0 means uncapped.
func clampMaxTokens(v int, max int, protocol string) int {
	out := v
	if out < 1 {
		out = 1
	}
	if max > 0 && out > max {
		out = max
	}
	if out != v {
		metrics.RecordClamp(protocol, "max_tokens")
	}
	return out
}
