package conductor

import (
	"sync"
	"testing"
	"time"

	"github.com/cuemby/conductor/pkg/clock"
	"github.com/cuemby/conductor/pkg/conderrs"
	"github.com/cuemby/conductor/pkg/driver"
	"github.com/cuemby/conductor/pkg/logbuffers"
	"github.com/cuemby/conductor/pkg/resources"
	"github.com/cuemby/conductor/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBuffers struct {
	mu     sync.Mutex
	closed bool
}

func (b *fakeBuffers) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *fakeBuffers) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

type fakeFactory struct {
	mu      sync.Mutex
	mapped  map[int64]int
	buffers map[int64]*fakeBuffers
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{mapped: make(map[int64]int), buffers: make(map[int64]*fakeBuffers)}
}

func (f *fakeFactory) Map(registrationID int64, path string) (logbuffers.Buffers, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mapped[registrationID]++
	b := &fakeBuffers{}
	f.buffers[registrationID] = b
	return b, nil
}

func (f *fakeFactory) mapCount(registrationID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mapped[registrationID]
}

// harness wires a ClientConductor to an in-memory command/events transport
// pair a test can drive as the fake driver side.
type harness struct {
	conductor *ClientConductor
	commandSub transport.Subscription
	eventsPub  transport.Publication
	factory    *fakeFactory
}

func newHarness(t *testing.T, clk clock.Clock, cfg Config) *harness {
	t.Helper()
	commandPub, commandSub := transport.NewChannelPair(16)
	eventsPub, eventsSub := transport.NewChannelPair(16)

	proxy := driver.NewProxy(commandPub)
	events := driver.NewEventsAdapter(eventsSub)
	factory := newFakeFactory()
	cache := logbuffers.NewCache(factory)

	c := New(cfg, clk, &sync.Mutex{}, proxy, events, nil, cache, nil)
	return &harness{conductor: c, commandSub: commandSub, eventsPub: eventsPub, factory: factory}
}

// nextCommandCorrelationID drains one command frame off the transport and
// returns the correlation id the conductor minted for it, simulating the
// driver observing the request.
func (h *harness) nextCommandCorrelationID(t *testing.T) int64 {
	t.Helper()
	var corrID int64
	n := h.commandSub.Poll(func(frame any) transport.ControlledAction {
		switch f := frame.(type) {
		case driver.AddPublicationCmd:
			corrID = f.CorrelationID
		case driver.AddSubscriptionCmd:
			corrID = f.CorrelationID
		case driver.AddCounterCmd:
			corrID = f.CorrelationID
		case driver.RemovePublicationCmd:
			corrID = f.CorrelationID
		case driver.RemoveSubscriptionCmd:
			corrID = f.CorrelationID
		case driver.RemoveCounterCmd:
			corrID = f.CorrelationID
		}
		return transport.Continue
	}, 1)
	require.Equal(t, 1, n, "expected exactly one command frame")
	return corrID
}

func TestHappyPathPublicationRegistration(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	h := newHarness(t, clk, DefaultConfig())

	var wg sync.WaitGroup
	wg.Add(1)
	var pub *resources.Publication
	var err error
	go func() {
		defer wg.Done()
		pub, err = h.conductor.AddPublication("aeron:udp?endpoint=localhost:40123", 7)
	}()

	corrID := h.nextCommandCorrelationID(t)
	_, offerErr := h.eventsPub.Offer(driver.NewPublicationEvt{
		CorrelationID:            corrID,
		RegistrationID:           17,
		StreamID:                 7,
		ChannelStatusIndicatorID: 3,
		LogFileName:              "/tmp/log-17",
	})
	require.NoError(t, offerErr)

	wg.Wait()
	require.NoError(t, err)
	require.NotNil(t, pub)
	assert.Equal(t, int64(17), pub.RegistrationID)
	assert.Equal(t, 1, pub.LogBuffers.RefCount())
	assert.Equal(t, 1, h.factory.mapCount(17))
}

func TestAddPublicationSharesSameChannelAndStream(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	h := newHarness(t, clk, DefaultConfig())

	done := make(chan struct{})
	var first *resources.Publication
	go func() {
		first, _ = h.conductor.AddPublication("aeron:ipc", 5)
		close(done)
	}()
	corrID := h.nextCommandCorrelationID(t)
	_, _ = h.eventsPub.Offer(driver.NewPublicationEvt{CorrelationID: corrID, RegistrationID: 1, StreamID: 5, LogFileName: "/tmp/log-1"})
	<-done

	second, err := h.conductor.AddPublication("aeron:ipc", 5)
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestAddExclusivePublicationReturnsDistinctResources(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	h := newHarness(t, clk, DefaultConfig())

	requestOne := func(regID int64) *resources.Publication {
		done := make(chan struct{})
		var pub *resources.Publication
		go func() {
			pub, _ = h.conductor.AddExclusivePublication("aeron:ipc", 5)
			close(done)
		}()
		corrID := h.nextCommandCorrelationID(t)
		_, _ = h.eventsPub.Offer(driver.NewPublicationEvt{CorrelationID: corrID, RegistrationID: regID, StreamID: 5, Exclusive: true, LogFileName: "/tmp/log"})
		<-done
		return pub
	}

	first := requestOne(1)
	second := requestOne(2)
	assert.NotSame(t, first, second)
}

func TestAddPublicationDriverTimeout(t *testing.T) {
	// Uses the real system clock rather than a Manual one: awaitResponse
	// blocks the calling goroutine for its whole deadline window, so
	// there is no safe point from which a test could advance a Manual
	// clock concurrently. A short real deadline keeps this fast.
	cfg := DefaultConfig()
	cfg.PendingTimeout = 30 * time.Millisecond
	h := newHarness(t, clock.NewSystem(), cfg)

	start := time.Now()
	_, err := h.conductor.AddPublication("aeron:udp?endpoint=localhost:1", 1)
	elapsed := time.Since(start)

	require.Error(t, err)
	kind, ok := conderrs.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, conderrs.DriverTimeout, kind)
	assert.GreaterOrEqual(t, elapsed, cfg.PendingTimeout)
}

func TestReleaseMovesSharedLogBufferToLingeringThenReleases(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	h := newHarness(t, clk, DefaultConfig())

	acquire := func(channel string, stream int32, regID int64) *resources.Publication {
		done := make(chan struct{})
		var pub *resources.Publication
		go func() {
			pub, _ = h.conductor.AddExclusivePublication(channel, stream)
			close(done)
		}()
		corrID := h.nextCommandCorrelationID(t)
		_, _ = h.eventsPub.Offer(driver.NewPublicationEvt{CorrelationID: corrID, RegistrationID: regID, StreamID: stream, Exclusive: true, LogFileName: "/tmp/shared-log"})
		<-done
		return pub
	}

	// Two exclusive publications deliberately mapped onto the same
	// registration id to simulate two resources sharing one log file,
	// scenario 3.
	p1 := acquire("aeron:ipc", 9, 42)
	p2Done := make(chan struct{})
	var p2 *resources.Publication
	go func() {
		p2, _ = h.conductor.AddExclusivePublication("aeron:ipc", 10)
		close(p2Done)
	}()
	corrID := h.nextCommandCorrelationID(t)
	_, _ = h.eventsPub.Offer(driver.NewPublicationEvt{CorrelationID: corrID, RegistrationID: 42, StreamID: 10, Exclusive: true, LogFileName: "/tmp/shared-log"})
	<-p2Done

	require.Equal(t, 2, p1.LogBuffers.RefCount())

	h.conductor.AsyncReleasePublication(p1)
	h.conductor.AsyncReleasePublication(p2)

	// drain the two RemovePublication commands the releases generated
	h.commandSub.Poll(func(any) transport.ControlledAction { return transport.Continue }, 2)

	assert.Equal(t, 0, p1.LogBuffers.RefCount())

	buffers := h.factory.buffers[42]
	require.NotNil(t, buffers)
	assert.False(t, buffers.isClosed(), "should still be lingering, not yet released")

	clk.Advance(3100 * time.Millisecond)
	released := h.conductor.logBuffers.CheckLingering(clk.NanoTime(), DefaultConfig().ResourceLinger.Nanoseconds())
	assert.Equal(t, 1, released)
	assert.True(t, buffers.isClosed())
}

func TestAddCounterRejectsOversizedKey(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	h := newHarness(t, clk, DefaultConfig())

	_, err := h.conductor.AddCounter(1, make([]byte, 1000), nil)
	require.Error(t, err)
	kind, ok := conderrs.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, conderrs.InvalidArgument, kind)
}

func TestCloseIsIdempotent(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	h := newHarness(t, clk, DefaultConfig())

	require.NoError(t, h.conductor.Close())
	require.NoError(t, h.conductor.Close())
	assert.True(t, h.conductor.isClosed())
}

func TestAddPublicationOnClosedConductorFails(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	h := newHarness(t, clk, DefaultConfig())
	require.NoError(t, h.conductor.Close())

	_, err := h.conductor.AddPublication("aeron:ipc", 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, conderrs.ErrAlreadyClosed)
}

func TestDoWorkSendsKeepAliveAfterInterval(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	cfg := DefaultConfig()
	cfg.KeepAliveInterval = 10 * time.Millisecond
	h := newHarness(t, clk, cfg)

	clk.Advance(2 * time.Millisecond) // past idleSleepNs so onCheckTimeouts runs
	_, err := h.conductor.DoWork()
	require.NoError(t, err)

	clk.Advance(20 * time.Millisecond)
	_, err = h.conductor.DoWork()
	require.NoError(t, err)

	n := h.commandSub.Poll(func(frame any) transport.ControlledAction {
		_, ok := frame.(driver.ClientKeepaliveCmd)
		assert.True(t, ok)
		return transport.Continue
	}, 10)
	assert.Equal(t, 1, n)
}
