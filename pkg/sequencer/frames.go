package sequencer

// Cluster ingress messages (client -> sequencer), carried as opaque `any`
// frames over the ingress Subscription.

// SessionConnectMsg requests a new cluster session.
type SessionConnectMsg struct {
	CorrelationID    int64
	ResponseStreamID int32
	ResponseChannel  string
}

// SessionMessageMsg carries an application payload to append to the log.
type SessionMessageMsg struct {
	CorrelationID int64
	SessionID     int64
	Payload       []byte
}

// KeepAliveMsg refreshes a session's activity clock.
type KeepAliveMsg struct {
	CorrelationID int64
	SessionID     int64
}

// SessionCloseMsg requests a user-initiated session close.
type SessionCloseMsg struct {
	SessionID int64
}

// Log events (sequencer -> replicated log), one per append.

// SessionOpenEvent precedes every other log event for its session. It
// carries the correlation id of the SessionConnectMsg that opened the
// session, so the logged order (open, message, message, close) still lets
// a reader tie the open record back to the original connect request.
type SessionOpenEvent struct {
	SessionID     int64
	CorrelationID int64
	TimestampMs   int64
}

// SessionMessageEvent carries a forwarded application payload, its
// timestamp overwritten with the sequencer's cached wall-clock.
type SessionMessageEvent struct {
	SessionID     int64
	CorrelationID int64
	TimestampMs   int64
	Payload       []byte
}

// SessionCloseEvent succeeds all prior message events for its session.
type SessionCloseEvent struct {
	SessionID   int64
	Reason      string
	TimestampMs int64
}

// TimerEvent records a fired timer's correlation id in the log.
type TimerEvent struct {
	CorrelationID int64
	TimestampMs   int64
}

// Session responses (sequencer -> client, over a session's own response
// publication).

// SessionEventMsg is the notifySessionOpened acknowledgement.
type SessionEventMsg struct {
	CorrelationID int64
	SessionID     int64
	Code          string
}

const (
	SessionEventOpened = "OPENED"

	CloseReasonUserAction = "USER_ACTION"
	CloseReasonTimeout    = "TIMEOUT"
)
