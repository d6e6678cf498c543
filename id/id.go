package id

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Namespace UUIDs for different entity types (UUIDv5 requires a namespace)
var (
	EmitterNamespace = uuid.MustParse("4f1c2a60-3b7e-5d0a-9c61-7e2d8b1f0a01")
	RunNamespace     = uuid.MustParse("4f1c2a61-3b7e-5d0a-9c61-7e2d8b1f0a01")
)

// GenerateEmitterID generates a deterministic ID for an emitter based on its name
func GenerateEmitterID(name string) string {
	id := uuid.NewSHA1(EmitterNamespace, []byte(name))
	return fmt.Sprintf("emitter_%s", id.String())
}

// GenerateRunID generates a deterministic ID for a run based on the emitter ID,
// its start time and the emitter-local sequence number. The sequence keeps two
// runs started within the same nanosecond apart.
func GenerateRunID(emitterID string, startedAt time.Time, seq uint64) string {
	timeStr := startedAt.UTC().Format(time.RFC3339Nano)
	combined := fmt.Sprintf("%s:%s:%d", emitterID, timeStr, seq)
	id := uuid.NewSHA1(RunNamespace, []byte(combined))
	return fmt.Sprintf("run_%s", id.String())
}
