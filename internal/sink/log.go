package sink

import (
	"log/slog"

	"github.com/chaz8081/jumpsense/internal/sensor"
)

// LogSink logs every sample at debug level.
type LogSink struct {
	log *slog.Logger
}

// NewLogSink returns a LogSink writing to l, or to slog.Default if l is nil.
func NewLogSink(l *slog.Logger) *LogSink {
	if l == nil {
		l = slog.Default()
	}
	return &LogSink{log: l}
}

var _ sensor.Sink = (*LogSink)(nil)

func (ls *LogSink) OnSample(s sensor.Sample) {
	switch v := s.(type) {
	case sensor.TimestampedSample:
		ls.log.Debug("[Sample] timestamped",
			"t_ms", v.TimestampMillis,
			"raw", v.RawAcceleration,
			"linear", v.LinearAcceleration,
		)
	case sensor.IdentifiedOrientationSample:
		ls.log.Debug("[Sample] orientation",
			"sensor_id", v.SensorID,
			"raw", v.RawAcceleration,
			"q", v.Orientation,
		)
	}
}

// Tee returns a Sink that forwards each sample to every sink in order.
func Tee(sinks ...sensor.Sink) sensor.Sink {
	return sensor.SinkFunc(func(s sensor.Sample) {
		for _, sk := range sinks {
			sk.OnSample(s)
		}
	})
}
