// Package protocol decodes the fixed-layout notification frames sent by the
// jump sensor firmware.
//
// Revision A frame (14 bytes, little-endian):
//
//	[0:2)   linear acceleration X   uint16 - 32767
//	[2:4)   linear acceleration Y   uint16 - 32767
//	[4:6)   linear acceleration Z   uint16 - 32767
//	[6:8)   raw acceleration X      uint16 - 32767
//	[8:10)  raw acceleration Y      uint16 - 32767
//	[10:12) raw acceleration Z      uint16 - 32767
//	[12:14) timestamp (ms)          uint16
//
// Revision B frame (15 bytes):
//
//	[0:12)  quaternion + raw acceleration, see QuaternionTransform
//	[12:14) reserved
//	[14]    sensor id               uint8
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/chaz8081/jumpsense/internal/sensor"
)

// OffsetBias is subtracted from every unsigned acceleration word. The
// resulting range is [-32767, 32768].
const OffsetBias = 32767

// ErrLengthMismatch is returned when a frame's length does not match the
// active revision.
var ErrLengthMismatch = errors.New("protocol: frame length mismatch")

// QuaternionTransform converts the first 12 bytes of a revision B frame into
// an orientation and a raw acceleration vector.
type QuaternionTransform func(b []byte) (sensor.Quaternion, sensor.Vector3, error)

// Decoder decodes frames for one revision.
type Decoder struct {
	Revision  sensor.Revision
	Transform QuaternionTransform // revision B only; nil means DefaultQuaternionTransform
}

// Decode decodes data using the default quaternion transform.
func Decode(rev sensor.Revision, data []byte) (sensor.Sample, error) {
	return Decoder{Revision: rev}.Decode(data)
}

// Decode turns one frame into a Sample. The length is validated before any
// indexed access; on error no sample is returned.
func (d Decoder) Decode(data []byte) (sensor.Sample, error) {
	want := d.Revision.FrameSize()
	if want == 0 {
		return nil, fmt.Errorf("protocol: unsupported revision %v", d.Revision)
	}
	if len(data) != want {
		return nil, fmt.Errorf("%w: revision %v got %d bytes, want %d", ErrLengthMismatch, d.Revision, len(data), want)
	}

	switch d.Revision {
	case sensor.RevisionA:
		return decodeRevisionA(data), nil
	default:
		transform := d.Transform
		if transform == nil {
			transform = DefaultQuaternionTransform
		}
		q, raw, err := transform(data[:12])
		if err != nil {
			return nil, fmt.Errorf("protocol: quaternion transform: %w", err)
		}
		return sensor.IdentifiedOrientationSample{
			SensorID:        data[14],
			RawAcceleration: raw,
			Orientation:     q,
		}, nil
	}
}

func decodeRevisionA(data []byte) sensor.TimestampedSample {
	return sensor.TimestampedSample{
		TimestampMillis:    binary.LittleEndian.Uint16(data[12:14]),
		LinearAcceleration: decodeVector(data[0:6]),
		RawAcceleration:    decodeVector(data[6:12]),
	}
}

// decodeVector reads three offset-encoded words from b (len(b) >= 6).
func decodeVector(b []byte) sensor.Vector3 {
	return sensor.Vector3{
		X: DecodeOffset(b[0], b[1]),
		Y: DecodeOffset(b[2], b[3]),
		Z: DecodeOffset(b[4], b[5]),
	}
}

// DecodeOffset interprets lo, hi as a little-endian uint16 and subtracts
// OffsetBias.
func DecodeOffset(lo, hi byte) int {
	return int(binary.LittleEndian.Uint16([]byte{lo, hi})) - OffsetBias
}

// EncodeOffset is the inverse of DecodeOffset. v must be in [-32767, 32768].
func EncodeOffset(v int) (lo, hi byte, err error) {
	u := v + OffsetBias
	if u < 0 || u > 0xFFFF {
		return 0, 0, fmt.Errorf("protocol: value %d outside offset range [-32767, 32768]", v)
	}
	return byte(u), byte(u >> 8), nil
}

// EncodeRevisionA builds the 14-byte frame for s.
func EncodeRevisionA(s sensor.TimestampedSample) ([]byte, error) {
	buf := make([]byte, sensor.FrameSizeA)
	if err := encodeVector(buf[0:6], s.LinearAcceleration); err != nil {
		return nil, fmt.Errorf("protocol: linear acceleration: %w", err)
	}
	if err := encodeVector(buf[6:12], s.RawAcceleration); err != nil {
		return nil, fmt.Errorf("protocol: raw acceleration: %w", err)
	}
	binary.LittleEndian.PutUint16(buf[12:14], s.TimestampMillis)
	return buf, nil
}

func encodeVector(dst []byte, v sensor.Vector3) error {
	for i, c := range []int{v.X, v.Y, v.Z} {
		lo, hi, err := EncodeOffset(c)
		if err != nil {
			return err
		}
		dst[2*i], dst[2*i+1] = lo, hi
	}
	return nil
}
