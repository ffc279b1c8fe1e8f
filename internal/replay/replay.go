// Package replay synthesizes sensor frames and decodes captured frame dumps,
// for bring-up without live hardware.
package replay

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"gonum.org/v1/gonum/num/quat"

	"github.com/chaz8081/jumpsense/internal/ble/protocol"
	"github.com/chaz8081/jumpsense/internal/sensor"
)

// Generator produces a synthetic jump: a vertical acceleration pulse
// repeating every Period, with revision B units slowly rotating about Z.
type Generator struct {
	Revision sensor.Revision
	Sensors  int           // revision B unit count; ids are 0..Sensors-1
	Interval time.Duration // time between samples of one unit
	Period   time.Duration // length of one jump cycle

	n int
}

// NewGenerator returns a generator with a 10ms sample interval and a one
// second jump cycle.
func NewGenerator(rev sensor.Revision, sensors int) *Generator {
	if sensors <= 0 {
		sensors = 1
	}
	return &Generator{
		Revision: rev,
		Sensors:  sensors,
		Interval: 10 * time.Millisecond,
		Period:   time.Second,
	}
}

// Next returns the next sample. Revision B units are interleaved.
func (g *Generator) Next() sensor.Sample {
	step := g.n
	unit := 0
	if g.Revision == sensor.RevisionB {
		unit = g.n % g.Sensors
		step = g.n / g.Sensors
	}
	g.n++

	elapsed := time.Duration(step) * g.Interval
	phase := 2 * math.Pi * float64(elapsed%g.Period) / float64(g.Period)
	// Gravity plus a takeoff/landing pulse, in raw counts.
	lift := int(4000 * math.Sin(phase))
	raw := sensor.Vector3{X: 12 * unit, Y: -20, Z: 16384 + lift}

	if g.Revision == sensor.RevisionB {
		// Rotation about Z by theta is exp(k*theta/2).
		theta := phase + float64(unit)*math.Pi/4
		r := quat.Exp(quat.Number{Kmag: theta / 2})
		// The wire format implies W >= 0; q and -q are the same rotation.
		if r.Real < 0 {
			r = quat.Scale(-1, r)
		}
		return sensor.IdentifiedOrientationSample{
			SensorID:        uint8(unit),
			RawAcceleration: raw,
			Orientation:     sensor.Quaternion{W: r.Real, X: r.Imag, Y: r.Jmag, Z: r.Kmag},
		}
	}
	return sensor.TimestampedSample{
		TimestampMillis:    uint16(elapsed.Milliseconds()),
		RawAcceleration:    raw,
		LinearAcceleration: sensor.Vector3{X: 0, Y: 0, Z: lift},
	}
}

// Encode returns the wire frame for s.
func Encode(s sensor.Sample) ([]byte, error) {
	switch v := s.(type) {
	case sensor.TimestampedSample:
		return protocol.EncodeRevisionA(v)
	case sensor.IdentifiedOrientationSample:
		return protocol.EncodeRevisionB(v)
	default:
		return nil, fmt.Errorf("replay: unsupported sample type %T", s)
	}
}

// WriteHex writes n generated frames to w, one lowercase hex string per line.
func WriteHex(w io.Writer, g *Generator, n int) error {
	bw := bufio.NewWriter(w)
	for i := 0; i < n; i++ {
		frame, err := Encode(g.Next())
		if err != nil {
			return fmt.Errorf("replay: frame %d: %w", i, err)
		}
		if _, err := fmt.Fprintln(bw, hex.EncodeToString(frame)); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Stats summarizes a Decode run.
type Stats struct {
	Lines     int
	Decoded   int
	Malformed int
}

// MalformedFunc is told about every line that could not be decoded.
type MalformedFunc func(line int, err error)

// Decode reads hex frames from r, one per line, and delivers each decoded
// sample to s. Blank lines and lines starting with # are skipped. Spaces,
// colons and dashes between bytes are accepted. Malformed lines are counted
// and reported to onBad if it is non-nil.
func Decode(r io.Reader, rev sensor.Revision, s sensor.Sink, onBad MalformedFunc) (Stats, error) {
	var st Stats
	dec := protocol.Decoder{Revision: rev}

	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		st.Lines++

		sample, err := decodeLine(dec, text)
		if err != nil {
			st.Malformed++
			if onBad != nil {
				onBad(line, err)
			}
			continue
		}
		st.Decoded++
		s.OnSample(sample)
	}
	if err := sc.Err(); err != nil {
		return st, fmt.Errorf("replay: read: %w", err)
	}
	return st, nil
}

var separators = strings.NewReplacer(" ", "", ":", "", "-", "", "0x", "")

func decodeLine(dec protocol.Decoder, text string) (sensor.Sample, error) {
	data, err := hex.DecodeString(separators.Replace(strings.ToLower(text)))
	if err != nil {
		return nil, fmt.Errorf("replay: bad hex: %w", err)
	}
	return dec.Decode(data)
}
