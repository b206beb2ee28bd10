// Package session models a cluster client session: its lifecycle state,
// its response channel back to the client, and the activity bookkeeping
// the sequencer uses to detect timeouts.
package session

import (
	"sync"

	"github.com/cuemby/conductor/pkg/transport"
)

// State is a cluster session's lifecycle stage.
type State int

const (
	Init State = iota
	Connected
	Open
	Closed
)

func (s State) String() string {
	switch s {
	case Init:
		return "INIT"
	case Connected:
		return "CONNECTED"
	case Open:
		return "OPEN"
	case Closed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// CloseReason records why a session was torn down.
type CloseReason int

const (
	CloseReasonUnspecified CloseReason = iota
	CloseReasonUserAction
	CloseReasonTimeout
	CloseReasonServiceShutdown
)

func (r CloseReason) String() string {
	switch r {
	case CloseReasonUserAction:
		return "USER_ACTION"
	case CloseReasonTimeout:
		return "TIMEOUT"
	case CloseReasonServiceShutdown:
		return "SERVICE_SHUTDOWN"
	default:
		return "UNSPECIFIED"
	}
}

// ClusterSession tracks a single client's session with the sequencer.
type ClusterSession struct {
	ID                   int64
	ResponsePublication  transport.Publication
	ResponseStreamID     int32
	ResponseChannel      string

	// ConnectCorrelationID is the correlation id of the SessionConnectMsg
	// that created this session, carried into the session-open log event
	// so a client can match its connect request to the opened record.
	ConnectCorrelationID int64

	mu                sync.Mutex
	state             State
	lastActivityMs    int64
	lastCorrelationID int64
	closeReason       CloseReason
}

// NewClusterSession builds a session in the Init state, parked until
// notifySessionOpened succeeds on the response publication.
func NewClusterSession(id int64, responsePub transport.Publication, responseStreamID int32, responseChannel string, connectCorrelationID int64, nowMs int64) *ClusterSession {
	return &ClusterSession{
		ID:                   id,
		ResponsePublication:  responsePub,
		ResponseStreamID:     responseStreamID,
		ResponseChannel:      responseChannel,
		ConnectCorrelationID: connectCorrelationID,
		state:                Init,
		lastActivityMs:       nowMs,
	}
}

// State returns the session's current lifecycle stage.
func (s *ClusterSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastActivityMs returns the wall-clock timestamp of the last recorded activity.
func (s *ClusterSession) LastActivityMs() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivityMs
}

// LastCorrelationID returns the correlation id of the most recently processed request.
func (s *ClusterSession) LastCorrelationID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCorrelationID
}

// TouchActivity stamps the session's last-activity clock and correlation id.
func (s *ClusterSession) TouchActivity(nowMs, correlationID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivityMs = nowMs
	s.lastCorrelationID = correlationID
}

// MarkConnected transitions INIT -> CONNECTED after notifySessionOpened
// succeeds. It is a no-op if the session is not currently INIT.
func (s *ClusterSession) MarkConnected(nowMs int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Init {
		return false
	}
	s.state = Connected
	s.lastActivityMs = nowMs
	return true
}

// MarkOpen transitions CONNECTED -> OPEN after the first session-open log
// event commits.
func (s *ClusterSession) MarkOpen(nowMs int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Connected {
		return false
	}
	s.state = Open
	s.lastActivityMs = nowMs
	return true
}

// Close transitions the session to CLOSED, recording reason. Idempotent:
// calling Close on an already-closed session leaves the original reason
// in place and returns false.
func (s *ClusterSession) Close(reason CloseReason) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Closed {
		return false
	}
	s.state = Closed
	s.closeReason = reason
	return true
}

// CloseReasonValue returns the reason recorded by Close, or
// CloseReasonUnspecified if the session is not yet closed.
func (s *ClusterSession) CloseReasonValue() CloseReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeReason
}

// IsExpired reports whether an INIT/pending session has exceeded timeoutMs
// of inactivity as of nowMs.
func (s *ClusterSession) IsExpired(nowMs, timeoutMs int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return nowMs-s.lastActivityMs > timeoutMs
}
