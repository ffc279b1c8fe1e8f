package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/chaz8081/jumpsense/internal/sensor"
)

// JSONLWriter writes one JSON object per packet.
type JSONLWriter struct {
	enc *json.Encoder
}

type jsonVector struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

type jsonQuaternion struct {
	W float64 `json:"w"`
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type jsonRecord struct {
	TS          string          `json:"ts"`
	Revision    string          `json:"revision"`
	TimestampMs *uint16         `json:"timestamp_ms,omitempty"`
	SensorID    *uint8          `json:"sensor_id,omitempty"`
	RawAccel    jsonVector      `json:"raw_accel"`
	LinearAccel *jsonVector     `json:"linear_accel,omitempty"`
	Orientation *jsonQuaternion `json:"orientation,omitempty"`
}

func NewJSONLWriter(w io.Writer) *JSONLWriter {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &JSONLWriter{enc: enc}
}

// Write encodes a single packet.
func (j *JSONLWriter) Write(pkt Packet) error {
	rec, err := newJSONRecord(pkt)
	if err != nil {
		return err
	}
	return j.enc.Encode(rec)
}

// Consume writes packets from in until it is closed or ctx is done. It
// returns the first write error.
func (j *JSONLWriter) Consume(ctx context.Context, in <-chan Packet) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case pkt, ok := <-in:
			if !ok {
				return nil
			}
			if err := j.Write(pkt); err != nil {
				return fmt.Errorf("sink: jsonl: %w", err)
			}
		}
	}
}

func newJSONRecord(pkt Packet) (jsonRecord, error) {
	rec := jsonRecord{TS: pkt.Received.UTC().Format(time.RFC3339Nano)}
	switch s := pkt.Sample.(type) {
	case sensor.TimestampedSample:
		ts := s.TimestampMillis
		lin := toJSONVector(s.LinearAcceleration)
		rec.Revision = s.Revision().String()
		rec.TimestampMs = &ts
		rec.RawAccel = toJSONVector(s.RawAcceleration)
		rec.LinearAccel = &lin
	case sensor.IdentifiedOrientationSample:
		id := s.SensorID
		q := s.Orientation
		rec.Revision = s.Revision().String()
		rec.SensorID = &id
		rec.RawAccel = toJSONVector(s.RawAcceleration)
		rec.Orientation = &jsonQuaternion{W: q.W, X: q.X, Y: q.Y, Z: q.Z}
	default:
		return rec, fmt.Errorf("sink: unsupported sample type %T", pkt.Sample)
	}
	return rec, nil
}

func toJSONVector(v sensor.Vector3) jsonVector {
	return jsonVector{X: v.X, Y: v.Y, Z: v.Z}
}
