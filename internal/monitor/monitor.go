// Package monitor renders a live terminal status view of a sensor session.
package monitor

import (
	"context"
	"fmt"
	"sort"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/chaz8081/jumpsense/internal/ble"
	"github.com/chaz8081/jumpsense/internal/sensor"
	"github.com/chaz8081/jumpsense/internal/sink"
)

// StatusMsg carries a session status snapshot.
type StatusMsg ble.Status

// PacketMsg carries one received sample.
type PacketMsg sink.Packet

// Controls starts and stops sample delivery. *ble.Session implements it.
type Controls interface {
	StartReceivingSensorData() error
	StopReceivingSensorData()
}

// AttachMsg hands the model its Controls once the session exists.
type AttachMsg struct {
	Controls Controls
}

type errMsg struct{ err error }

type sensorRow struct {
	latest sink.Packet
	count  uint64
}

// Model is the bubbletea model for the monitor view.
type Model struct {
	session  string
	controls Controls
	status   ble.Status
	seen     bool // at least one StatusMsg received
	sensors  map[string]*sensorRow
	lastErr  error
	quitting bool
}

// New returns a monitor model for the given session id. controls may be nil,
// in which case the start and stop keys do nothing.
func New(session string, controls Controls) Model {
	return Model{
		session:  session,
		controls: controls,
		sensors:  make(map[string]*sensorRow),
	}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "s":
			if m.controls != nil {
				return m, start(m.controls)
			}
		case "x":
			if m.controls != nil {
				return m, stop(m.controls)
			}
		}
	case AttachMsg:
		m.controls = msg.Controls
	case errMsg:
		m.lastErr = msg.err
	case StatusMsg:
		m.status = ble.Status(msg)
		m.seen = true
		if m.status.State == ble.StateStreaming {
			m.lastErr = nil
		}
	case PacketMsg:
		if msg.Sample == nil {
			return m, nil
		}
		key := sensorKey(msg.Sample)
		row, ok := m.sensors[key]
		if !ok {
			row = &sensorRow{}
			m.sensors[key] = row
		}
		row.latest = sink.Packet(msg)
		row.count++
	}
	return m, nil
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "jumpsense  session %s\n\n", m.session)

	if !m.seen {
		b.WriteString("waiting for session status...\n")
	} else {
		radio := "on"
		if !m.status.RadioAvailable {
			radio = "OFF"
		}
		fmt.Fprintf(&b, "state      %s\n", m.status.State)
		fmt.Fprintf(&b, "radio      %s\n", radio)
		fmt.Fprintf(&b, "reconnect  %t\n", m.status.AutoReconnect)
		fmt.Fprintf(&b, "sensors    %d discovered, %d connected\n", m.status.Discovered, m.status.Connected)
		fmt.Fprintf(&b, "frames     %d delivered, %d dropped\n", m.status.FramesDelivered, m.status.FramesDropped)
		if m.status.ScanTimedOut {
			b.WriteString("scan timed out, press s to rescan\n")
		}
	}
	if m.lastErr != nil {
		fmt.Fprintf(&b, "error      %v\n", m.lastErr)
	}

	b.WriteString("\n")
	if len(m.sensors) == 0 {
		b.WriteString("no samples yet\n")
	}
	keys := make([]string, 0, len(m.sensors))
	for k := range m.sensors {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		row := m.sensors[k]
		fmt.Fprintf(&b, "%-10s %8d  %s  %s\n", k, row.count,
			row.latest.Received.Format("15:04:05.000"), describe(row.latest.Sample))
	}

	if m.controls != nil {
		b.WriteString("\ns: start  x: stop  q: quit\n")
	} else {
		b.WriteString("\nq: quit\n")
	}
	return b.String()
}

// sensorKey groups samples by unit: revision A has one unit, revision B
// units are told apart by sensor id.
func sensorKey(s sensor.Sample) string {
	if o, ok := s.(sensor.IdentifiedOrientationSample); ok {
		return fmt.Sprintf("sensor %d", o.SensorID)
	}
	return "sensor"
}

func describe(s sensor.Sample) string {
	switch v := s.(type) {
	case sensor.TimestampedSample:
		return fmt.Sprintf("t=%5dms raw=(%d,%d,%d) lin=(%d,%d,%d)", v.TimestampMillis,
			v.RawAcceleration.X, v.RawAcceleration.Y, v.RawAcceleration.Z,
			v.LinearAcceleration.X, v.LinearAcceleration.Y, v.LinearAcceleration.Z)
	case sensor.IdentifiedOrientationSample:
		q := v.Orientation
		return fmt.Sprintf("raw=(%d,%d,%d) q=(%.3f,%.3f,%.3f,%.3f)",
			v.RawAcceleration.X, v.RawAcceleration.Y, v.RawAcceleration.Z, q.W, q.X, q.Y, q.Z)
	default:
		return ""
	}
}

func start(c Controls) tea.Cmd {
	return func() tea.Msg {
		if err := c.StartReceivingSensorData(); err != nil {
			return errMsg{err}
		}
		return nil
	}
}

func stop(c Controls) tea.Cmd {
	return func() tea.Msg {
		c.StopReceivingSensorData()
		return nil
	}
}

// Sender is the subset of *tea.Program used to push messages.
type Sender interface {
	Send(msg tea.Msg)
}

// Forward sends packets from in to p until in is closed or ctx is done.
func Forward(ctx context.Context, p Sender, in <-chan sink.Packet) {
	for {
		select {
		case <-ctx.Done():
			return
		case pkt, ok := <-in:
			if !ok {
				return
			}
			p.Send(PacketMsg(pkt))
		}
	}
}
