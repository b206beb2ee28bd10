// Package conductor implements the client conductor agent: the single
// cooperatively-scheduled agent that mediates between the public client
// API and the out-of-process media driver, enforcing keep-alive and
// inter-service liveness while serving registration calls under a
// client-wide lock.
package conductor

import (
	"sync"
	"time"

	"github.com/cuemby/conductor/pkg/clock"
	"github.com/cuemby/conductor/pkg/conderrs"
	"github.com/cuemby/conductor/pkg/driver"
	"github.com/cuemby/conductor/pkg/log"
	"github.com/cuemby/conductor/pkg/logbuffers"
	"github.com/cuemby/conductor/pkg/metrics"
	"github.com/cuemby/conductor/pkg/registry"
	"github.com/cuemby/conductor/pkg/resources"
	"github.com/rs/zerolog"
)

// ClientLock abstracts the per-client lock every registration call serializes
// on. Production conductors use a real sync.Mutex; a conductor embedded
// inside the cluster sequencer's own agent uses NoopLock because the
// sequencer never touches it from more than one goroutine.
type ClientLock interface {
	TryLock() bool
	Lock()
	Unlock()
}

// NoopLock satisfies ClientLock without ever contending, for single-threaded
// embedding.
type NoopLock struct{}

func (NoopLock) TryLock() bool { return true }
func (NoopLock) Lock()         {}
func (NoopLock) Unlock()       {}

// DriverLiveness reads the driver's last-known-good heartbeat timestamp.
// The counters file that backs it in the real system is out of scope; this
// is the injected read side of that timestamp.
type DriverLiveness interface {
	TimeOfLastDriverKeepaliveMs() int64
}

// Config tunes a ClientConductor's timeout and resource-lifecycle
// behavior. Defaults mirror documented values.
type Config struct {
	KeepAliveInterval     time.Duration
	DriverTimeout         time.Duration
	InterServiceTimeout   time.Duration
	ResourceLinger        time.Duration
	ResourceCheckInterval time.Duration
	PendingTimeout        time.Duration // awaitResponse deadline (driverTimeoutNs)
	DriverEventPollLimit  int

	MaxKeyLength   int
	MaxLabelLength int
}

// DefaultConfig returns documented defaults.
func DefaultConfig() Config {
	return Config{
		KeepAliveInterval:     500 * time.Millisecond,
		DriverTimeout:         10 * time.Second,
		InterServiceTimeout:   10 * time.Second,
		ResourceLinger:        3 * time.Second,
		ResourceCheckInterval: time.Second,
		PendingTimeout:        5 * time.Second,
		DriverEventPollLimit:  10,
		MaxKeyLength:          408,
		MaxLabelLength:        380,
	}
}

// ClientConductor is the C5 agent.
type ClientConductor struct {
	cfg Config
	clk clock.Clock

	lock ClientLock

	proxy    *driver.Proxy
	events   *driver.EventsAdapter
	liveness DriverLiveness

	registry   *registry.Registry
	logBuffers *logbuffers.Cache

	errorHandler func(error)

	mu sync.Mutex // guards the mutable fields below, independent of the client API lock

	closed                 bool
	timeOfLastServiceNs    int64
	timeOfLastKeepAliveNs  int64
	lastDriverExceptionErr *conderrs.Error
	lastReceivedCorrID     int64
	pendingPubChannels     map[int64]string

	logger zerolog.Logger
}

// New builds a ClientConductor. lock may be NoopLock{} for single-threaded
// embedding (e.g. inside the cluster sequencer); liveness may be nil, in
// which case checkLiveness always treats the driver as alive.
func New(cfg Config, clk clock.Clock, lock ClientLock, proxy *driver.Proxy, events *driver.EventsAdapter, liveness DriverLiveness, logBuffers *logbuffers.Cache, errorHandler func(error)) *ClientConductor {
	if errorHandler == nil {
		errorHandler = func(error) {}
	}
	c := &ClientConductor{
		cfg:                cfg,
		clk:                clk,
		lock:               lock,
		proxy:              proxy,
		events:             events,
		liveness:           liveness,
		registry:           registry.New(),
		logBuffers:         logBuffers,
		errorHandler:       errorHandler,
		pendingPubChannels: make(map[int64]string),
		logger:             log.WithComponent("conductor"),
	}
	c.timeOfLastServiceNs = clk.NanoTime()
	c.timeOfLastKeepAliveNs = clk.NanoTime()
	c.wireEvents()
	return c
}

func (c *ClientConductor) wireEvents() {
	c.events.OnNewPublication = func(e driver.NewPublicationEvt) { c.onNewPublication(e, e.Exclusive) }
	c.events.OnNewSubscription = c.onNewSubscription
	c.events.OnNewCounter = c.onNewCounter
	c.events.OnOperationSuccess = c.onOperationSuccess
	c.events.OnAvailableImage = c.onAvailableImage
	c.events.OnUnavailableImage = c.onUnavailableImage
	c.events.OnError = c.onError
	c.events.OnChannelEndpointError = c.onChannelEndpointError
}

// RoleName identifies this agent for logging and error reporting.
func (c *ClientConductor) RoleName() string { return "client-conductor" }

// OnClose is invoked once by the agent.Runner loop after it stops; it
// performs the same forced teardown Close does, tolerating a conductor
// that was never explicitly closed by a caller.
func (c *ClientConductor) OnClose() {
	_ = c.Close()
}

// DoWork runs one work cycle: if closed, nothing to do; otherwise
// onCheckTimeouts, then drain a bounded batch of driver events.
func (c *ClientConductor) DoWork() (int, error) {
	if !c.lock.TryLock() {
		return 0, nil
	}
	defer c.lock.Unlock()

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return 0, nil
	}

	work := 0
	if err := c.onCheckTimeouts(); err != nil {
		return work, err
	}

	work += c.events.Poll(c.cfg.DriverEventPollLimit)
	return work, nil
}

// onCheckTimeouts runs the inter-service watchdog, liveness check, and
// lingering-resource sweep, gated on the IDLE_SLEEP threshold so they don't
// run every single tick.
const idleSleepNs = int64(1 * time.Millisecond)

func (c *ClientConductor) onCheckTimeouts() error {
	now := c.clk.NanoTime()

	c.mu.Lock()
	sinceService := now - c.timeOfLastServiceNs
	if sinceService <= idleSleepNs {
		c.mu.Unlock()
		return nil
	}
	c.timeOfLastServiceNs = now
	c.mu.Unlock()

	if sinceService > c.cfg.InterServiceTimeout.Nanoseconds() {
		lingeringBefore := c.logBuffers.LingeringCount()
		c.forceCloseResources(now)
		if c.logBuffers.LingeringCount() > lingeringBefore {
			time.Sleep(time.Millisecond)
		}
		c.markClosed()
		err := conderrs.New(conderrs.ServiceTimeout, "no service for %s, exceeding interServiceTimeout", time.Duration(sinceService))
		c.errorHandler(err)
		return err
	}

	if err := c.checkLiveness(now); err != nil {
		c.markClosed()
		c.errorHandler(err)
		return err
	}

	c.checkLingeringResources(now)
	return nil
}

func (c *ClientConductor) checkLiveness(now int64) error {
	c.mu.Lock()
	sinceKeepAlive := now - c.timeOfLastKeepAliveNs
	c.mu.Unlock()

	if sinceKeepAlive <= c.cfg.KeepAliveInterval.Nanoseconds() {
		return nil
	}

	if c.liveness != nil {
		lastDriverMs := c.liveness.TimeOfLastDriverKeepaliveMs()
		nowMs := c.clk.Now().UnixMilli()
		if nowMs-lastDriverMs > c.cfg.DriverTimeout.Milliseconds() {
			metrics.DriverTimeoutsTotal.Inc()
			return conderrs.New(conderrs.DriverTimeout, "driver heartbeat stale by %dms", nowMs-lastDriverMs)
		}
	}

	if err := c.proxy.SendClientKeepalive(); err != nil {
		c.logger.Warn().Err(err).Msg("failed to send client keepalive")
	}
	c.mu.Lock()
	c.timeOfLastKeepAliveNs = now
	c.mu.Unlock()
	return nil
}

func (c *ClientConductor) checkLingeringResources(now int64) {
	released := c.logBuffers.CheckLingering(now, c.cfg.ResourceLinger.Nanoseconds())
	metrics.LingeringResources.Set(float64(c.logBuffers.LingeringCount()))
	if released > 0 {
		c.logger.Debug().Int("released", released).Msg("released lingering log buffers")
	}
}

func (c *ClientConductor) markClosed() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// forceCloseResources iterates the registry, force-closes every entry, then
// clears it.
func (c *ClientConductor) forceCloseResources(now int64) {
	c.registry.ForEach(func(_ int64, entry *resources.Entry) {
		entry.ForceClose(c.proxy, c.logBuffers, now)
	})
	c.registry.Clear()
	metrics.RegistrySize.Set(0)
}

// Close performs the user-initiated shutdown path: force close every
// resource, optionally wait for the driver to observe the removals, then
// physically delete remaining lingering resources without waiting out their
// linger window. Idempotent.
func (c *ClientConductor) Close() error {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	before := c.logBuffers.LingeringCount()
	c.forceCloseResources(c.clk.NanoTime())
	if c.logBuffers.LingeringCount() > before {
		time.Sleep(time.Millisecond)
	}
	c.logBuffers.DeleteAllLingeringNow()
	return nil
}

// rememberPubChannel records the channel a publication request was made on,
// so the event handler can stamp it onto the resulting Publication —
// NewPublicationEvt itself doesn't echo the channel back, since the driver
// already knows it.
func (c *ClientConductor) rememberPubChannel(correlationID int64, channel string) {
	c.mu.Lock()
	c.pendingPubChannels[correlationID] = channel
	c.mu.Unlock()
}

func (c *ClientConductor) takePubChannel(correlationID int64) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	channel := c.pendingPubChannels[correlationID]
	delete(c.pendingPubChannels, correlationID)
	return channel
}

// LogBufferCache exposes the conductor's log-buffer cache for metrics
// sampling (pkg/metrics.LingeringSource). Safe to sample from another
// goroutine: Cache guards every method with its own mutex, unlike
// Registry, which is only safe under the client lock the conductor itself
// already holds when it reports RegistrySize inline.
func (c *ClientConductor) LogBufferCache() *logbuffers.Cache { return c.logBuffers }

func (c *ClientConductor) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
