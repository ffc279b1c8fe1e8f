package ble

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/chaz8081/jumpsense/internal/ble/protocol"
	"github.com/chaz8081/jumpsense/internal/sensor"
)

// ErrSessionClosed is returned by commands issued after Close.
var ErrSessionClosed = errors.New("ble: session closed")

// State is the lifecycle state of a Session.
type State int

const (
	StateIdle State = iota
	StateScanning
	StateConnecting
	StateStreaming
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// SessionConfig configures a Session. It is fixed for the session's lifetime
// apart from AutoReconnect, which Start/StopReceivingSensorData toggle.
type SessionConfig struct {
	RequiredSensorCount int
	AutoReconnect       bool
	Revision            sensor.Revision
	ServiceUUIDs        []string
	ScanTimeout         time.Duration // 0 waits forever
	ReconnectMax        int           // max rescan backoff in seconds
}

// DefaultSessionConfig returns the configuration of a single revision A unit.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		RequiredSensorCount: 1,
		Revision:            sensor.RevisionA,
		ServiceUUIDs:        []string{DefaultServiceUUID},
		ReconnectMax:        30,
	}
}

// Status is an observable snapshot of a Session.
type Status struct {
	State           State
	AutoReconnect   bool
	RadioAvailable  bool
	ScanTimedOut    bool
	Discovered      int
	Connected       int
	FramesDelivered uint64
	FramesDropped   uint64
}

// SessionOption customizes a Session.
type SessionOption func(*Session)

// WithStatusFunc registers f to be called after every lifecycle change.
// f runs outside the session lock and may call Status.
func WithStatusFunc(f func(Status)) SessionOption {
	return func(s *Session) { s.onStatus = f }
}

// WithQuaternionTransform replaces the revision B payload transform.
func WithQuaternionTransform(t protocol.QuaternionTransform) SessionOption {
	return func(s *Session) { s.decoder.Transform = t }
}

// WithLogger sets the logger; the session id is attached to every record.
func WithLogger(l *slog.Logger) SessionOption {
	return func(s *Session) { s.log = l }
}

// WithSessionID overrides the generated session id. Empty ids are ignored.
func WithSessionID(id string) SessionOption {
	return func(s *Session) {
		if id != "" {
			s.id = id
		}
	}
}

// Session owns the connect/reconnect lifecycle for a set of sensor units and
// forwards decoded frames to a sensor.Sink. It implements EventHandler and
// registers itself with the transport on construction.
//
// All state is guarded by mu. Transport requests and sink calls are made
// after mu is released, so a transport may call back synchronously.
type Session struct {
	id        string
	transport Transport
	cfg       SessionConfig
	decoder   protocol.Decoder
	sink      sensor.Sink
	onStatus  func(Status)
	log       *slog.Logger

	delivered atomic.Uint64
	dropped   atomic.Uint64

	mu             sync.Mutex
	state          State
	autoReconnect  bool
	radioAvailable bool
	scanTimedOut   bool
	closed         bool
	registry       *Registry
	peers          map[string]PeripheralStatus // peripherals we asked for
	failures       int                         // consecutive losses without reaching Streaming
	scanGen        uint64
	scanTimer      *time.Timer
	rescanTimer    *time.Timer
}

// Compile-time check that Session implements EventHandler.
var _ EventHandler = (*Session)(nil)

// NewSession creates a session, registers it with the transport and starts
// scanning for the configured service UUIDs.
func NewSession(t Transport, cfg SessionConfig, sink sensor.Sink, opts ...SessionOption) (*Session, error) {
	if t == nil {
		return nil, errors.New("ble: transport must not be nil")
	}
	if sink == nil {
		return nil, errors.New("ble: sink must not be nil")
	}
	if cfg.RequiredSensorCount <= 0 {
		return nil, fmt.Errorf("ble: required sensor count must be > 0, got %d", cfg.RequiredSensorCount)
	}
	if cfg.Revision.FrameSize() == 0 {
		return nil, fmt.Errorf("ble: unsupported revision %v", cfg.Revision)
	}
	if len(cfg.ServiceUUIDs) == 0 {
		cfg.ServiceUUIDs = []string{DefaultServiceUUID}
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = 30
	}

	s := &Session{
		id:             uuid.NewString(),
		transport:      t,
		cfg:            cfg,
		decoder:        protocol.Decoder{Revision: cfg.Revision},
		sink:           sink,
		log:            slog.Default(),
		state:          StateIdle,
		autoReconnect:  cfg.AutoReconnect,
		radioAvailable: true,
		registry:       NewRegistry(),
		peers:          make(map[string]PeripheralStatus),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("session", s.id)

	t.SetHandler(s)

	s.mu.Lock()
	s.enterScanningLocked()
	s.mu.Unlock()

	if err := t.StartScanning(cfg.ServiceUUIDs); err != nil {
		s.scanFailed(err)
		return nil, fmt.Errorf("ble: start scanning: %w", err)
	}
	s.log.Info("[BLE] scanning", "required", cfg.RequiredSensorCount, "revision", cfg.Revision)
	// The transport may already have reported events from StartScanning.
	s.emit(s.Status())
	return s, nil
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Status returns a snapshot of the session state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

// StartReceivingSensorData enables auto-reconnect and connects to the
// currently discovered peripherals if their count matches. Otherwise an idle
// or disconnected session (re)enters Scanning; a connecting or streaming
// session keeps its connections.
func (s *Session) StartReceivingSensorData() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.autoReconnect = true
	s.radioAvailable = true
	s.stopRescanTimerLocked()

	var ops []func()
	switch {
	case s.registry.IsReady(s.cfg.RequiredSensorCount):
		s.stopScanTimerLocked()
		ops = s.connectDiscoveredLocked()
	case s.state == StateIdle || s.state == StateDisconnected:
		ops = s.rescanLocked()
	}
	st := s.statusLocked()
	s.mu.Unlock()

	s.log.Info("[BLE] start receiving sensor data")
	s.emit(st)
	s.run(ops)
	return nil
}

// StopReceivingSensorData disables auto-reconnect and disconnects every
// peripheral. Connections still in flight are dropped when they complete.
func (s *Session) StopReceivingSensorData() {
	s.mu.Lock()
	s.autoReconnect = false
	s.state = StateDisconnected
	clear(s.peers)
	s.stopScanTimerLocked()
	s.stopRescanTimerLocked()
	st := s.statusLocked()
	s.mu.Unlock()

	s.log.Info("[BLE] stop receiving sensor data")
	s.disconnectAll()
	s.emit(st)
}

// Close stops receiving, ends scanning and rejects further commands.
func (s *Session) Close() error {
	s.StopReceivingSensorData()

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	if err := s.transport.StopScanning(); err != nil {
		return fmt.Errorf("ble: stop scanning: %w", err)
	}
	return nil
}

// PeripheralDiscovered records p and connects once the required count is met.
func (s *Session) PeripheralDiscovered(p Peripheral) {
	s.mu.Lock()
	isNew := s.registry.Record(p)
	ops := s.maybeConnectLocked()
	st := s.statusLocked()
	s.mu.Unlock()

	if isNew {
		s.log.Info("[BLE] discovered peripheral", "peripheral", p.ID, "name", p.Name, "rssi", p.RSSI, "discovered", st.Discovered)
	}
	s.emit(st)
	s.run(ops)
}

// DiscoveryRefreshed re-evaluates readiness.
func (s *Session) DiscoveryRefreshed() {
	s.mu.Lock()
	ops := s.maybeConnectLocked()
	st := s.statusLocked()
	s.mu.Unlock()

	s.log.Debug("[BLE] discovery refreshed", "discovered", st.Discovered)
	s.emit(st)
	s.run(ops)
}

// PeripheralReady promotes a requested peripheral to streaming. A peripheral
// that is no longer wanted is disconnected instead.
func (s *Session) PeripheralReady(p Peripheral) {
	s.mu.Lock()
	status, wanted := s.peers[p.ID]
	if s.closed || !wanted || status == PeripheralDisconnected {
		s.mu.Unlock()
		s.log.Info("[BLE] dropping unwanted connection", "peripheral", p.ID)
		if err := s.transport.Disconnect(p); err != nil {
			s.log.Warn("[BLE] disconnect failed", "peripheral", p.ID, "error", err)
		}
		return
	}
	if status == PeripheralConnected {
		s.mu.Unlock()
		return
	}
	s.peers[p.ID] = PeripheralConnected
	s.state = StateStreaming
	s.failures = 0
	st := s.statusLocked()
	s.mu.Unlock()

	s.log.Info("[BLE] peripheral ready", "peripheral", p.ID, "connected", st.Connected)
	if err := s.transport.EnableNotifications(p); err != nil {
		s.log.Warn("[BLE] enable notifications failed", "peripheral", p.ID, "error", err)
		s.lose(p, "notifications unavailable")
		return
	}
	s.emit(st)
}

// PeripheralDisconnected handles an unsolicited disconnect.
func (s *Session) PeripheralDisconnected(p Peripheral) {
	s.lose(p, "disconnected")
}

// ConnectFailed handles a failed connect request. There is no per-peripheral
// retry; recovery goes through the auto-reconnect rescan.
func (s *Session) ConnectFailed(p Peripheral, err error) {
	s.log.Warn("[BLE] connect failed", "peripheral", p.ID, "error", err)
	s.lose(p, "connect failed")
}

// PoweredOff marks the radio unavailable and drops all connections. There is
// no automatic recovery; StartReceivingSensorData retries.
func (s *Session) PoweredOff() {
	s.mu.Lock()
	s.radioAvailable = false
	s.state = StateDisconnected
	clear(s.peers)
	s.stopScanTimerLocked()
	s.stopRescanTimerLocked()
	st := s.statusLocked()
	s.mu.Unlock()

	s.log.Error("[BLE] radio powered off")
	s.disconnectAll()
	s.emit(st)
}

// Notification decodes one frame from p and forwards it to the sink.
// Frames from peripherals that are not streaming and malformed frames are
// dropped.
func (s *Session) Notification(p Peripheral, data []byte) {
	s.mu.Lock()
	streaming := s.peers[p.ID] == PeripheralConnected
	dec := s.decoder
	s.mu.Unlock()

	if !streaming {
		s.dropped.Add(1)
		s.log.Debug("[BLE] frame from inactive peripheral dropped", "peripheral", p.ID)
		return
	}

	sample, err := dec.Decode(data)
	if err != nil {
		s.dropped.Add(1)
		s.log.Debug("[BLE] frame dropped", "peripheral", p.ID, "error", err)
		return
	}
	s.delivered.Add(1)
	s.sink.OnSample(sample)
}

// lose moves the session to Disconnected after a wanted peripheral drops
// and schedules a rescan when auto-reconnect is on.
func (s *Session) lose(p Peripheral, reason string) {
	s.mu.Lock()
	if _, wanted := s.peers[p.ID]; !wanted || s.closed {
		s.mu.Unlock()
		s.log.Debug("[BLE] ignoring event for unwanted peripheral", "peripheral", p.ID, "reason", reason)
		return
	}
	clear(s.peers)
	s.state = StateDisconnected
	var ops []func()
	if s.autoReconnect {
		s.failures++
		ops = s.scheduleRescanLocked()
	}
	st := s.statusLocked()
	s.mu.Unlock()

	s.log.Warn("[BLE] peripheral lost", "peripheral", p.ID, "reason", reason, "auto_reconnect", st.AutoReconnect)
	s.disconnectAll()
	s.emit(st)
	s.run(ops)
}

// maybeConnectLocked issues connects when scanning and exactly the required
// number of peripherals is discovered.
func (s *Session) maybeConnectLocked() []func() {
	if s.state != StateScanning || s.closed {
		return nil
	}
	if !s.registry.IsReady(s.cfg.RequiredSensorCount) {
		return nil
	}
	s.stopScanTimerLocked()
	return s.connectDiscoveredLocked()
}

// connectDiscoveredLocked requests a connection to every discovered
// peripheral not already requested.
func (s *Session) connectDiscoveredLocked() []func() {
	var ops []func()
	for _, p := range s.registry.Handles() {
		if st, ok := s.peers[p.ID]; ok && (st == PeripheralConnecting || st == PeripheralConnected) {
			continue
		}
		s.peers[p.ID] = PeripheralConnecting
		ops = append(ops, s.connectOp(p))
	}
	if len(ops) > 0 && s.state != StateStreaming {
		s.state = StateConnecting
	}
	return ops
}

func (s *Session) connectOp(p Peripheral) func() {
	return func() {
		s.mu.Lock()
		pending := !s.closed && s.peers[p.ID] == PeripheralConnecting
		s.mu.Unlock()
		if !pending {
			s.log.Debug("[BLE] skipping stale connect", "peripheral", p.ID)
			return
		}
		s.log.Info("[BLE] connecting", "peripheral", p.ID)
		if err := s.transport.Connect(p); err != nil {
			s.ConnectFailed(p, err)
		}
	}
}

// scheduleRescanLocked re-enters Scanning now, or after a backoff when
// previous attempts kept failing.
func (s *Session) scheduleRescanLocked() []func() {
	delay := rescanDelay(s.failures, s.cfg.ReconnectMax)
	if delay == 0 {
		return s.rescanLocked()
	}
	s.stopRescanTimerLocked()
	s.log.Info("[BLE] rescan backoff", "attempt", s.failures, "delay", delay)
	s.rescanTimer = time.AfterFunc(delay, s.rescanNow)
	return nil
}

func (s *Session) rescanNow() {
	s.mu.Lock()
	if s.closed || !s.autoReconnect || !s.radioAvailable || s.state != StateDisconnected {
		s.mu.Unlock()
		return
	}
	ops := s.rescanLocked()
	st := s.statusLocked()
	s.mu.Unlock()

	s.emit(st)
	s.run(ops)
}

// rescanLocked clears the registry and asks the transport to scan again.
func (s *Session) rescanLocked() []func() {
	s.registry.Clear()
	s.enterScanningLocked()
	return []func(){func() {
		if err := s.transport.StartScanning(s.cfg.ServiceUUIDs); err != nil {
			s.scanFailed(err)
		}
	}}
}

func (s *Session) enterScanningLocked() {
	s.state = StateScanning
	s.scanTimedOut = false
	s.stopScanTimerLocked()
	if s.cfg.ScanTimeout > 0 {
		gen := s.scanGen
		s.scanTimer = time.AfterFunc(s.cfg.ScanTimeout, func() { s.scanExpired(gen) })
	}
}

func (s *Session) scanExpired(gen uint64) {
	s.mu.Lock()
	if gen != s.scanGen || s.state != StateScanning {
		s.mu.Unlock()
		return
	}
	s.scanTimedOut = true
	s.state = StateDisconnected
	st := s.statusLocked()
	s.mu.Unlock()

	s.log.Warn("[BLE] scan timed out", "timeout", s.cfg.ScanTimeout, "discovered", st.Discovered, "required", s.cfg.RequiredSensorCount)
	if err := s.transport.StopScanning(); err != nil {
		s.log.Warn("[BLE] stop scanning failed", "error", err)
	}
	s.emit(st)
}

func (s *Session) scanFailed(err error) {
	s.mu.Lock()
	s.radioAvailable = false
	s.state = StateDisconnected
	s.stopScanTimerLocked()
	st := s.statusLocked()
	s.mu.Unlock()

	s.log.Error("[BLE] scanning failed", "error", err)
	s.emit(st)
}

// stopScanTimerLocked invalidates any pending scan timeout.
func (s *Session) stopScanTimerLocked() {
	s.scanGen++
	if s.scanTimer != nil {
		s.scanTimer.Stop()
		s.scanTimer = nil
	}
}

func (s *Session) stopRescanTimerLocked() {
	if s.rescanTimer != nil {
		s.rescanTimer.Stop()
		s.rescanTimer = nil
	}
}

func (s *Session) disconnectAll() {
	if err := s.transport.DisconnectAll(); err != nil {
		s.log.Warn("[BLE] disconnect all failed", "error", err)
	}
}

func (s *Session) run(ops []func()) {
	for _, op := range ops {
		op()
	}
}

func (s *Session) emit(st Status) {
	if s.onStatus != nil {
		s.onStatus(st)
	}
}

func (s *Session) statusLocked() Status {
	connected := 0
	for _, st := range s.peers {
		if st == PeripheralConnected {
			connected++
		}
	}
	return Status{
		State:           s.state,
		AutoReconnect:   s.autoReconnect,
		RadioAvailable:  s.radioAvailable,
		ScanTimedOut:    s.scanTimedOut,
		Discovered:      s.registry.Len(),
		Connected:       connected,
		FramesDelivered: s.delivered.Load(),
		FramesDropped:   s.dropped.Load(),
	}
}

// rescanDelay returns the wait before rescan attempt n (1-based). The first
// attempt is immediate.
func rescanDelay(attempt, maxSeconds int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	return backoffDelay(attempt-2, maxSeconds)
}

// backoffDelay returns the delay for attempt n, capped at maxSeconds.
func backoffDelay(attempt int, maxSeconds int) time.Duration {
	max := time.Duration(maxSeconds) * time.Second
	if attempt >= 31 {
		return max
	}
	delay := time.Duration(1<<uint(attempt)) * time.Second
	if delay > max {
		return max
	}
	return delay
}
