package protocol

import (
	"encoding/binary"
	"fmt"
	"math"

	"gonum.org/v1/gonum/num/quat"

	"github.com/chaz8081/jumpsense/internal/sensor"
)

// q14 is the fixed-point scale of the quaternion vector components.
const q14 = 1 << 14

// DefaultQuaternionTransform decodes the 12-byte revision B payload:
//
//	[0:6)  quaternion X, Y, Z as int16 Q14; W is reconstructed
//	[6:12) raw acceleration X, Y, Z, same offset rule as revision A
//
// W is sqrt(1 - |v|^2), clamped at zero when rounding pushes |v| past one.
func DefaultQuaternionTransform(b []byte) (sensor.Quaternion, sensor.Vector3, error) {
	if len(b) < 12 {
		return sensor.Quaternion{}, sensor.Vector3{}, fmt.Errorf("protocol: quaternion payload must be 12 bytes, got %d", len(b))
	}
	v := quat.Number{
		Imag: float64(int16(binary.LittleEndian.Uint16(b[0:2]))) / q14,
		Jmag: float64(int16(binary.LittleEndian.Uint16(b[2:4]))) / q14,
		Kmag: float64(int16(binary.LittleEndian.Uint16(b[4:6]))) / q14,
	}
	n := quat.Abs(v)
	w := math.Sqrt(math.Max(0, 1-n*n))

	q := sensor.Quaternion{W: w, X: v.Imag, Y: v.Jmag, Z: v.Kmag}
	return q, decodeVector(b[6:12]), nil
}

// EncodeRevisionB builds a 15-byte frame for s using the layout read by
// DefaultQuaternionTransform. Orientation.W is implied and not encoded.
func EncodeRevisionB(s sensor.IdentifiedOrientationSample) ([]byte, error) {
	buf := make([]byte, sensor.FrameSizeB)
	for i, c := range []float64{s.Orientation.X, s.Orientation.Y, s.Orientation.Z} {
		fixed := math.Round(c * q14)
		if fixed < math.MinInt16 || fixed > math.MaxInt16 {
			return nil, fmt.Errorf("protocol: quaternion component %g out of Q14 range", c)
		}
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(int16(fixed)))
	}
	if err := encodeVector(buf[6:12], s.RawAcceleration); err != nil {
		return nil, fmt.Errorf("protocol: raw acceleration: %w", err)
	}
	buf[14] = s.SensorID
	return buf, nil
}
