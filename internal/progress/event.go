// Package progress defines the event structures emitted by the sync engine.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart Stage = "RUN_START"
	StageRunDone  Stage = "RUN_DONE"
	StageRunError Stage = "RUN_ERROR"
	StageFetch    Stage = "FETCH"
)

// Event captures a single milestone of a location sync run.
type Event struct {
	// RunID uniquely identifies a sync run using the 16-byte UUID form.
	RunID [16]byte
	// LocationID identifies the synced location.
	LocationID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle or fetch milestone occurred.
	Stage Stage
	// Kind scopes fetch events to a row kind (metrics, reviews).
	Kind string
	// Rows carries the row count delta for fetch events.
	Rows int64
	// Dur captures execution latency for fetches and run completions.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError:
	case StageFetch:
		if e.Kind == "" {
			return errors.New("fetch requires kind")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID for repositories.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
