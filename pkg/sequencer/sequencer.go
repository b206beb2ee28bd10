// Package sequencer implements the cluster sequencer agent: the single
// cooperatively-scheduled agent that accepts cluster client ingress,
// orders it into a replicated log, and drives session lifecycle.
package sequencer

import (
	"sync/atomic"

	"github.com/cuemby/conductor/pkg/clock"
	"github.com/cuemby/conductor/pkg/conderrs"
	"github.com/cuemby/conductor/pkg/log"
	"github.com/cuemby/conductor/pkg/metrics"
	"github.com/cuemby/conductor/pkg/session"
	"github.com/cuemby/conductor/pkg/timer"
	"github.com/cuemby/conductor/pkg/transport"
)

const (
	// MaxSendAttempts bounds how many times a log append is retried via
	// tryClaim before the caller gives up.
	MaxSendAttempts = 3

	DefaultIngressPollLimit              = 10
	DefaultTimerPollLimit                = 10
	DefaultPendingSessionTimeoutMs int64 = 5000
)

// ResponsePublicationFactory opens the per-session response publication a
// newly connected client expects acknowledgements on — the cluster-side
// analogue of the conductor's AddExclusivePublication.
type ResponsePublicationFactory interface {
	OpenResponsePublication(channel string, streamID int32) (transport.Publication, error)
}

// Config tunes an Agent's work cycle.
type Config struct {
	IngressPollLimit        int
	TimerPollLimit          int
	PendingSessionTimeoutMs int64
}

// DefaultConfig returns the documented default tunables.
func DefaultConfig() Config {
	return Config{
		IngressPollLimit:        DefaultIngressPollLimit,
		TimerPollLimit:          DefaultTimerPollLimit,
		PendingSessionTimeoutMs: DefaultPendingSessionTimeoutMs,
	}
}

// Agent is the sequencer's single work-cycle agent.
type Agent struct {
	cfg      Config
	clk      clock.Clock
	ingress  transport.Subscription
	logPub   transport.Publication
	timers   *timer.Service
	respFactory ResponsePublicationFactory

	nowMs int64

	pendingSessions []*session.ClusterSession
	sessions        map[int64]*session.ClusterSession
	nextSessionID   atomic.Int64
}

// New builds a sequencer Agent.
func New(cfg Config, clk clock.Clock, ingress transport.Subscription, logPub transport.Publication, timers *timer.Service, respFactory ResponsePublicationFactory) *Agent {
	return &Agent{
		cfg:         cfg,
		clk:         clk,
		ingress:     ingress,
		logPub:      logPub,
		timers:      timers,
		respFactory: respFactory,
		sessions:    make(map[int64]*session.ClusterSession),
	}
}

// RoleName identifies this agent for logging and error reporting.
func (a *Agent) RoleName() string { return "cluster-sequencer" }

// OnClose is a no-op: the sequencer owns no externally-visible resources
// beyond its injected collaborators, which the caller is responsible for
// closing.
func (a *Agent) OnClose() {}

// DoWork runs one cooperative work cycle: cache wall-clock, process pending
// sessions, poll ingress, poll timers. Returns the total fragment/event
// count processed, for the idle strategy's back-off decision.
func (a *Agent) DoWork() (int, error) {
	a.nowMs = a.clk.Now().UnixMilli()

	workCount := a.processPendingSessions()

	if a.ingress != nil {
		workCount += a.ingress.Poll(a.onIngressFragment, a.cfg.IngressPollLimit)
	}

	limit := a.cfg.TimerPollLimit
	if limit <= 0 {
		limit = DefaultTimerPollLimit
	}
	var timerErr error
	workCount += a.timers.Poll(a.nowMs, limit, func(correlationID int64) {
		if err := a.onExpireTimer(correlationID); err != nil {
			timerErr = err
		}
	})
	metrics.TimerServiceDepth.Set(float64(a.timers.Len()))

	return workCount, timerErr
}

func (a *Agent) onIngressFragment(frame any) transport.ControlledAction {
	switch f := frame.(type) {
	case SessionConnectMsg:
		a.onSessionConnect(f)
		return transport.Continue
	case SessionMessageMsg:
		return a.onSessionMessage(f)
	case KeepAliveMsg:
		a.onKeepAlive(f)
		return transport.Continue
	case SessionCloseMsg:
		a.onSessionClose(f)
		return transport.Continue
	default:
		return transport.Continue
	}
}

// onSessionConnect opens a response publication, mints a session id, parks
// the new session in INIT in the pending list.
func (a *Agent) onSessionConnect(msg SessionConnectMsg) {
	var respPub transport.Publication
	if a.respFactory != nil {
		pub, err := a.respFactory.OpenResponsePublication(msg.ResponseChannel, msg.ResponseStreamID)
		if err != nil {
			log.WithCorrelationID(msg.CorrelationID).Warn().Err(err).Msg("failed to open response publication")
			return
		}
		respPub = pub
	}

	id := a.nextSessionID.Add(1)
	s := session.NewClusterSession(id, respPub, msg.ResponseStreamID, msg.ResponseChannel, msg.CorrelationID, a.nowMs)
	a.pendingSessions = append(a.pendingSessions, s)
}

// onSessionMessage appends the forwarded payload to the log, stamping the
// cached wall-clock, up to MaxSendAttempts. Unknown sessions are dropped
// (CONTINUE); a CONNECTED session first has its session-open event
// appended and transitions to OPEN as soon as that append succeeds, before
// the message itself is attempted.
func (a *Agent) onSessionMessage(msg SessionMessageMsg) transport.ControlledAction {
	s, ok := a.sessions[msg.SessionID]
	if !ok {
		return transport.Continue
	}

	if s.State() == session.Connected {
		openEvt := SessionOpenEvent{SessionID: s.ID, CorrelationID: s.ConnectCorrelationID, TimestampMs: a.nowMs}
		if !a.tryAppend(openEvt) {
			return transport.Abort
		}
		s.MarkOpen(a.nowMs)
	}

	event := SessionMessageEvent{
		SessionID:     s.ID,
		CorrelationID: msg.CorrelationID,
		TimestampMs:   a.nowMs,
		Payload:       msg.Payload,
	}
	if !a.tryAppend(event) {
		return transport.Abort
	}

	s.TouchActivity(a.nowMs, msg.CorrelationID)
	return transport.Continue
}

func (a *Agent) onKeepAlive(msg KeepAliveMsg) {
	if s, ok := a.sessions[msg.SessionID]; ok {
		s.TouchActivity(a.nowMs, msg.CorrelationID)
	}
}

// onSessionClose closes the session object and appends a close event with
// reason USER_ACTION; the session is removed from the live map only if the
// append succeeds.
func (a *Agent) onSessionClose(msg SessionCloseMsg) {
	s, ok := a.sessions[msg.SessionID]
	if !ok {
		return
	}
	s.Close(session.CloseReasonUserAction)
	if a.tryAppend(SessionCloseEvent{SessionID: s.ID, Reason: CloseReasonUserAction, TimestampMs: a.nowMs}) {
		log.WithSessionID(s.ID).Debug().Msg("session closed")
		delete(a.sessions, msg.SessionID)
	}
}

// processPendingSessions iterates the pending list in reverse so a removal
// (swap-with-last) never disturbs entries not yet visited in this pass.
func (a *Agent) processPendingSessions() int {
	processed := 0
	for i := len(a.pendingSessions) - 1; i >= 0; i-- {
		s := a.pendingSessions[i]
		if s.State() != session.Init {
			a.removePending(i)
			continue
		}

		if a.notifySessionOpened(s) {
			s.MarkConnected(a.nowMs)
			a.sessions[s.ID] = s
			a.removePending(i)
			processed++
			continue
		}

		if s.IsExpired(a.nowMs, a.cfg.PendingSessionTimeoutMs) {
			s.Close(session.CloseReasonTimeout)
			a.removePending(i)
			metrics.PendingSessionsExpiredTotal.Inc()
			processed++
		}
	}
	return processed
}

func (a *Agent) removePending(i int) {
	last := len(a.pendingSessions) - 1
	a.pendingSessions[i] = a.pendingSessions[last]
	a.pendingSessions = a.pendingSessions[:last]
}

// notifySessionOpened claims a buffer on the session's response publication,
// encodes the opened event, and commits. Returns false (leaving the session
// pending) if the response publication is unavailable or back-pressured.
func (a *Agent) notifySessionOpened(s *session.ClusterSession) bool {
	if s.ResponsePublication == nil {
		return false
	}
	claim, err := s.ResponsePublication.TryClaim(sessionEventEncodedLength)
	if err != nil {
		return false
	}
	claim.SetFrame(SessionEventMsg{SessionID: s.ID, Code: SessionEventOpened})
	if err := claim.Commit(); err != nil {
		return false
	}
	return true
}

// onExpireTimer encodes a timer event into the log; failure here is fatal
// to the work iteration.
func (a *Agent) onExpireTimer(correlationID int64) error {
	event := TimerEvent{CorrelationID: correlationID, TimestampMs: a.nowMs}
	if !a.tryAppend(event) {
		metrics.LogAppendFailuresTotal.Inc()
		return conderrs.New(conderrs.UnableToAppend, "timer event %d exhausted %d attempts", correlationID, MaxSendAttempts)
	}
	return nil
}

// tryAppend attempts to claim and commit frame on the log publication up to
// MaxSendAttempts times, log append primitive.
func (a *Agent) tryAppend(frame any) bool {
	t := metrics.NewTimer()
	for attempt := 0; attempt < MaxSendAttempts; attempt++ {
		claim, err := a.logPub.TryClaim(logFrameEncodedLength)
		if err != nil {
			continue
		}
		claim.SetFrame(frame)
		if err := claim.Commit(); err != nil {
			continue
		}
		t.ObserveDuration(metrics.LogAppendDuration)
		return true
	}
	return false
}

// sessionEventEncodedLength and logFrameEncodedLength stand in for the
// real wire codec's ENCODED_LENGTH/BLOCK_LENGTH framing math (out of scope
// ); in-memory transports ignore the requested length.
const (
	sessionEventEncodedLength = 64
	logFrameEncodedLength     = 256
)
