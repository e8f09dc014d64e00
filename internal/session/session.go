// Package session holds the server-side state machine for one live viewer
// connection: lifecycle, current subscription scope, running statistics, and
// deviation alerts.
package session

import (
	"fmt"
	"sync"

	"sensorhub/internal/protocol"
	"sensorhub/internal/stats"
	"sensorhub/pkg/types"
)

// State is the lifecycle position of a session.
type State int

const (
	StateConnected State = iota // transport accepted, no join yet
	StateJoined                 // join validated, no live stream selected
	StateStreaming              // subscribed to a live stream
	StateClosed                 // terminal
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateJoined:
		return "joined"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is the outbound half of a viewer connection. Implementations must
// serialize writes internally and bound how long a write may block.
type Conn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// Session is mutated by the protocol router handling its commands and by the
// registry fan-out path; the mutex serializes the two so a delivery never
// observes a half-updated subscription or accumulator.
type Session struct {
	id        string
	conn      Conn
	tolerance float64

	mu       sync.Mutex
	state    State
	groupID  int64
	sensorID int64
	rtypeID  int64
	acc      *stats.Accumulator
	last     *types.Reading
	alerts   []types.AlertRecord
}

// New creates a session in the connected state. tolerance is the configured
// deviation fraction used for alert bounds.
func New(id string, conn Conn, tolerance float64) *Session {
	return &Session{
		id:        id,
		conn:      conn,
		tolerance: tolerance,
		state:     StateConnected,
		acc:       stats.New(),
	}
}

// ID returns the opaque session identity.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Scope returns the joined group and sensor. joined is false before a
// successful join.
func (s *Session) Scope() (groupID, sensorID int64, joined bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.groupID, s.sensorID, s.state == StateJoined || s.state == StateStreaming
}

// RTypeID returns the reading type of the current stream, zero until the
// first stream command.
func (s *Session) RTypeID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rtypeID
}

// Join records a validated group/sensor scope and advances to joined. The
// membership check happens in the router before this is called; a rejected
// join never reaches here, so the state stays untouched for the retry loop.
func (s *Session) Join(groupID, sensorID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateClosed:
		return ErrSessionClosed
	case StateJoined, StateStreaming:
		return ErrAlreadyJoined
	}

	s.groupID = groupID
	s.sensorID = sensorID
	s.state = StateJoined
	return nil
}

// BeginStream selects the live stream for this session. A session may only
// stream the sensor it joined; anything else is rejected without touching
// state. The accumulator resets even when re-selecting the same stream.
func (s *Session) BeginStream(sensorID, rtypeID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateClosed:
		return ErrSessionClosed
	case StateConnected:
		return ErrNotJoined
	}
	if sensorID != s.sensorID {
		return ErrSensorOutOfScope
	}

	s.rtypeID = rtypeID
	s.acc.Reset()
	s.last = nil
	s.state = StateStreaming
	return nil
}

// Deliver pushes one live reading to the viewer, updating the running
// statistics and checking the deviation bounds computed from the mean as it
// stood before this reading. Returns the write error so the caller can drop
// the session; alerted reports whether an AlertRecord was generated.
func (s *Session) Deliver(r types.Reading) (alerted bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateStreaming {
		return false, nil
	}
	// A stream change and the registry re-index are separate steps; a fan-out
	// pass for the old key may still reach this session in between. Drop
	// anything that is not the current stream so the fresh window never
	// ingests an old-stream value.
	if r.SensorID != s.sensorID || r.RTypeID != s.rtypeID {
		return false, nil
	}

	lo, hi, checkable := s.acc.Bounds(s.tolerance)
	s.acc.Ingest(r.Val)

	var prior types.Reading
	if s.last != nil {
		prior = *s.last
	}
	last := r
	s.last = &last

	if err := s.conn.WriteJSON(protocol.NewReadingResponse(r)); err != nil {
		return false, err
	}

	if checkable && (r.Val < lo || r.Val > hi) {
		msg := fmt.Sprintf("reading %g deviates from the running mean: outside [%g, %g]", r.Val, lo, hi)
		s.alerts = append(s.alerts, types.AlertRecord{Current: r, Prior: prior, Message: msg})
		if err := s.conn.WriteJSON(protocol.NewErrorResponse(msg)); err != nil {
			return true, err
		}
		return true, nil
	}
	return false, nil
}

// Send writes a protocol response to the viewer.
func (s *Session) Send(v interface{}) error {
	return s.conn.WriteJSON(v)
}

// Close moves the session to its terminal state and closes the transport.
// Safe to call any number of times.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	s.mu.Unlock()
	return s.conn.Close()
}

// Alerts returns a copy of the session-local alert history.
func (s *Session) Alerts() []types.AlertRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.AlertRecord, len(s.alerts))
	copy(out, s.alerts)
	return out
}

// ClearAlerts discards the alert history; the viewer drives this explicitly.
func (s *Session) ClearAlerts() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = nil
}

// StatsSnapshot returns the current accumulator values.
func (s *Session) StatsSnapshot() (count int64, mean, min, max float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acc.Count(), s.acc.Mean(), s.acc.Min(), s.acc.Max()
}
