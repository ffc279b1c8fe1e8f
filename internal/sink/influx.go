package sink

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/chaz8081/jumpsense/internal/sensor"
)

// PointWriter is the subset of api.WriteAPIBlocking used by InfluxWriter.
type PointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// InfluxWriter batches packets into InfluxDB points. A batch is flushed when
// it reaches BatchSize points or FlushInterval elapses.
type InfluxWriter struct {
	w             PointWriter
	measurement   string
	session       string
	BatchSize     int
	FlushInterval time.Duration
}

// NewInfluxWriter creates a writer that tags every point with session.
func NewInfluxWriter(w PointWriter, measurement, session string) *InfluxWriter {
	return &InfluxWriter{
		w:             w,
		measurement:   measurement,
		session:       session,
		BatchSize:     64,
		FlushInterval: time.Second,
	}
}

// Point converts a packet to an InfluxDB point stamped with its receive time.
func (iw *InfluxWriter) Point(pkt Packet) (*write.Point, error) {
	tags := map[string]string{
		"session": iw.session,
	}
	var fields map[string]interface{}

	switch s := pkt.Sample.(type) {
	case sensor.TimestampedSample:
		tags["revision"] = s.Revision().String()
		fields = map[string]interface{}{
			"timestamp_ms": int64(s.TimestampMillis),
			"raw_x":        int64(s.RawAcceleration.X),
			"raw_y":        int64(s.RawAcceleration.Y),
			"raw_z":        int64(s.RawAcceleration.Z),
			"linear_x":     int64(s.LinearAcceleration.X),
			"linear_y":     int64(s.LinearAcceleration.Y),
			"linear_z":     int64(s.LinearAcceleration.Z),
		}
	case sensor.IdentifiedOrientationSample:
		tags["revision"] = s.Revision().String()
		tags["sensor_id"] = fmt.Sprintf("%d", s.SensorID)
		fields = map[string]interface{}{
			"raw_x": int64(s.RawAcceleration.X),
			"raw_y": int64(s.RawAcceleration.Y),
			"raw_z": int64(s.RawAcceleration.Z),
			"q_w":   s.Orientation.W,
			"q_x":   s.Orientation.X,
			"q_y":   s.Orientation.Y,
			"q_z":   s.Orientation.Z,
		}
	default:
		return nil, fmt.Errorf("sink: unsupported sample type %T", pkt.Sample)
	}

	return influxdb2.NewPoint(iw.measurement, tags, fields, pkt.Received), nil
}

// Consume batches packets from in until it is closed or ctx is done, then
// flushes what is left. Write failures are logged and the batch discarded.
func (iw *InfluxWriter) Consume(ctx context.Context, in <-chan Packet) error {
	size := iw.BatchSize
	if size <= 0 {
		size = 1
	}
	interval := iw.FlushInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	batch := make([]*write.Point, 0, size)
	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		if err := iw.w.WritePoint(ctx, batch...); err != nil {
			slog.Error("[Influx] write failed", "points", len(batch), "error", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			// The caller's context is gone; give the final flush its own deadline.
			fctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			flush(fctx)
			cancel()
			return nil
		case <-ticker.C:
			flush(ctx)
		case pkt, ok := <-in:
			if !ok {
				flush(ctx)
				return nil
			}
			p, err := iw.Point(pkt)
			if err != nil {
				slog.Warn("[Influx] skipping packet", "error", err)
				continue
			}
			batch = append(batch, p)
			if len(batch) >= size {
				flush(ctx)
			}
		}
	}
}
