// Package sensor defines the decoded sample types produced by the motion
// sensor units and the Sink capability that consumes them.
package sensor

import (
	"fmt"
	"strings"
)

// Revision identifies a sensor firmware frame layout.
type Revision int

const (
	// RevisionA is the single-sensor layout: linear and raw acceleration
	// plus a millisecond timestamp.
	RevisionA Revision = iota + 1
	// RevisionB is the dual-sensor layout: raw acceleration plus an
	// orientation quaternion, tagged with a sensor id.
	RevisionB
)

// Frame sizes in bytes for each revision.
const (
	FrameSizeA = 14
	FrameSizeB = 15
)

// ParseRevision maps a config string ("a" or "b") to a Revision.
func ParseRevision(s string) (Revision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "a":
		return RevisionA, nil
	case "b":
		return RevisionB, nil
	default:
		return 0, fmt.Errorf("sensor: unknown revision %q (want \"a\" or \"b\")", s)
	}
}

// FrameSize returns the exact frame length for the revision, or 0 if the
// revision is unknown.
func (r Revision) FrameSize() int {
	switch r {
	case RevisionA:
		return FrameSizeA
	case RevisionB:
		return FrameSizeB
	default:
		return 0
	}
}

func (r Revision) String() string {
	switch r {
	case RevisionA:
		return "a"
	case RevisionB:
		return "b"
	default:
		return fmt.Sprintf("Revision(%d)", int(r))
	}
}

// Vector3 is an acceleration vector in raw sensor counts.
type Vector3 struct {
	X, Y, Z int
}

// Quaternion is an orientation as delivered by the sensor transform.
// It is never normalized here.
type Quaternion struct {
	W, X, Y, Z float64
}

// Sample is one decoded frame. The concrete type is either
// TimestampedSample or IdentifiedOrientationSample.
type Sample interface {
	Revision() Revision
	isSample()
}

// TimestampedSample is produced by revision A firmware.
type TimestampedSample struct {
	TimestampMillis    uint16
	RawAcceleration    Vector3
	LinearAcceleration Vector3
}

func (TimestampedSample) Revision() Revision { return RevisionA }
func (TimestampedSample) isSample()          {}

// IdentifiedOrientationSample is produced by revision B firmware.
type IdentifiedOrientationSample struct {
	SensorID        uint8
	RawAcceleration Vector3
	Orientation     Quaternion
}

func (IdentifiedOrientationSample) Revision() Revision { return RevisionB }
func (IdentifiedOrientationSample) isSample()          {}

// Sink receives decoded samples one at a time, in delivery order.
type Sink interface {
	OnSample(s Sample)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(s Sample)

// OnSample calls f(s).
func (f SinkFunc) OnSample(s Sample) { f(s) }
