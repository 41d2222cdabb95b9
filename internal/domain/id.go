package domain

import (
	"crypto/sha256"
	"encoding/hex"
)

// DeterministicToolID derives a stable tool_use id from the call's name and
// input. Used whenever a backend did not supply an id, so replays of the
// same call yield the same id; ids are never regenerated downstream of where
// they were first assigned.
func DeterministicToolID(name string, input []byte) string {
	h := sha256.Sum256(append([]byte(name+"\x00"), input...))
	return "toolu_" + hex.EncodeToString(h[:12])
}
