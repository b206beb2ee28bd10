package conductor

import (
	"time"

	"github.com/cuemby/conductor/pkg/conderrs"
	"github.com/cuemby/conductor/pkg/metrics"
	"github.com/cuemby/conductor/pkg/resources"
)

// AddPublication submits a shared-publication registration and awaits the
// driver's acknowledgement. Two calls for the same (channel, streamID) pair
// return the same Publication rather than registering twice.
func (c *ClientConductor) AddPublication(channel string, streamID int32) (*resources.Publication, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.isClosed() {
		return nil, conderrs.ErrAlreadyClosed
	}

	if existing := c.registry.FindPublicationByChannelAndStream(channel, streamID); existing != nil {
		return existing.Publication, nil
	}

	correlationID, err := c.proxy.AddPublication(channel, streamID)
	if err != nil {
		return nil, err
	}
	c.rememberPubChannel(correlationID, channel)
	if err := c.awaitResponse(correlationID); err != nil {
		return nil, err
	}
	entry := c.registry.Get(correlationID)
	if entry == nil {
		return nil, conderrs.New(conderrs.Registration, "no entry registered for correlation id %d", correlationID)
	}
	metrics.RegistrySize.Set(float64(c.registry.Len()))
	return entry.Publication, nil
}

// AddExclusivePublication submits an exclusive-publication registration.
// Unlike AddPublication, two calls for the same (channel, streamID) always
// return distinct resources.
func (c *ClientConductor) AddExclusivePublication(channel string, streamID int32) (*resources.Publication, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.isClosed() {
		return nil, conderrs.ErrAlreadyClosed
	}

	correlationID, err := c.proxy.AddExclusivePublication(channel, streamID)
	if err != nil {
		return nil, err
	}
	c.rememberPubChannel(correlationID, channel)
	if err := c.awaitResponse(correlationID); err != nil {
		return nil, err
	}
	entry := c.registry.Get(correlationID)
	if entry == nil {
		return nil, conderrs.New(conderrs.Registration, "no entry registered for correlation id %d", correlationID)
	}
	metrics.RegistrySize.Set(float64(c.registry.Len()))
	return entry.Publication, nil
}

// AddSubscription pre-inserts a Subscription shell into the registry
// before submitting the request, so that an onAvailableImage racing ahead
// of onNewSubscription can still resolve it.
func (c *ClientConductor) AddSubscription(channel string, streamID int32, onAvailable resources.AvailableImageHandler, onUnavailable resources.UnavailableImageHandler) (*resources.Subscription, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.isClosed() {
		return nil, conderrs.ErrAlreadyClosed
	}

	correlationID, err := c.proxy.AddSubscription(channel, streamID)
	if err != nil {
		return nil, err
	}

	sub := resources.NewSubscription(correlationID, channel, streamID)
	sub.OnAvailableImage = onAvailable
	sub.OnUnavailableImage = onUnavailable
	c.registry.RegisterResult(correlationID, &resources.Entry{Kind: resources.KindSubscription, Subscription: sub})

	if err := c.awaitResponse(correlationID); err != nil {
		c.registry.Remove(correlationID)
		return nil, err
	}
	metrics.RegistrySize.Set(float64(c.registry.Len()))
	return sub, nil
}

// AddCounter validates key/label lengths then submits and awaits the
// registration.
func (c *ClientConductor) AddCounter(typeID int32, key, label []byte) (*resources.Counter, error) {
	if len(key) > c.cfg.MaxKeyLength {
		return nil, conderrs.New(conderrs.InvalidArgument, "counter key length %d exceeds max %d", len(key), c.cfg.MaxKeyLength)
	}
	if len(label) > c.cfg.MaxLabelLength {
		return nil, conderrs.New(conderrs.InvalidArgument, "counter label length %d exceeds max %d", len(label), c.cfg.MaxLabelLength)
	}

	c.lock.Lock()
	defer c.lock.Unlock()
	if c.isClosed() {
		return nil, conderrs.ErrAlreadyClosed
	}

	correlationID, err := c.proxy.AddCounter(typeID, key, label)
	if err != nil {
		return nil, err
	}

	counter := &resources.Counter{CorrelationID: correlationID, TypeID: typeID, Key: key, Label: label}
	c.registry.RegisterResult(correlationID, &resources.Entry{Kind: resources.KindCounter, Counter: counter})

	if err := c.awaitResponse(correlationID); err != nil {
		c.registry.Remove(correlationID)
		return nil, err
	}
	metrics.RegistrySize.Set(float64(c.registry.Len()))
	return counter, nil
}

// ReleasePublication synchronously removes a publication: drop it from the
// registry, release its log-buffer refcount, and await the driver's ack.
func (c *ClientConductor) ReleasePublication(pub *resources.Publication) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.isClosed() {
		return conderrs.ErrAlreadyClosed
	}
	return c.releasePublicationLocked(pub, true)
}

// AsyncReleasePublication is the fire-and-forget variant used during
// forced teardown; it does not await the driver's response.
func (c *ClientConductor) AsyncReleasePublication(pub *resources.Publication) {
	c.lock.Lock()
	defer c.lock.Unlock()
	_ = c.releasePublicationLocked(pub, false)
}

func (c *ClientConductor) releasePublicationLocked(pub *resources.Publication, await bool) error {
	c.registry.Remove(pub.CorrelationID)
	if pub.LogBuffers != nil {
		c.logBuffers.Release(pub.LogBuffers, c.clk.NanoTime())
	}
	correlationID, err := c.proxy.RemovePublication(pub.RegistrationID)
	if err != nil {
		return err
	}
	metrics.RegistrySize.Set(float64(c.registry.Len()))
	if !await {
		return nil
	}
	return c.awaitResponse(correlationID)
}

// ReleaseSubscription synchronously removes a subscription.
func (c *ClientConductor) ReleaseSubscription(sub *resources.Subscription) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.isClosed() {
		return conderrs.ErrAlreadyClosed
	}
	return c.releaseSubscriptionLocked(sub, true)
}

// AsyncReleaseSubscription is the fire-and-forget teardown variant.
func (c *ClientConductor) AsyncReleaseSubscription(sub *resources.Subscription) {
	c.lock.Lock()
	defer c.lock.Unlock()
	_ = c.releaseSubscriptionLocked(sub, false)
}

func (c *ClientConductor) releaseSubscriptionLocked(sub *resources.Subscription, await bool) error {
	c.registry.Remove(sub.CorrelationID)
	correlationID, err := c.proxy.RemoveSubscription(sub.RegistrationID)
	if err != nil {
		return err
	}
	metrics.RegistrySize.Set(float64(c.registry.Len()))
	if !await {
		return nil
	}
	return c.awaitResponse(correlationID)
}

// ReleaseCounter synchronously removes a counter.
func (c *ClientConductor) ReleaseCounter(counter *resources.Counter) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.isClosed() {
		return conderrs.ErrAlreadyClosed
	}
	return c.releaseCounterLocked(counter, true)
}

// AsyncReleaseCounter is the fire-and-forget teardown variant.
func (c *ClientConductor) AsyncReleaseCounter(counter *resources.Counter) {
	c.lock.Lock()
	defer c.lock.Unlock()
	_ = c.releaseCounterLocked(counter, false)
}

func (c *ClientConductor) releaseCounterLocked(counter *resources.Counter, await bool) error {
	c.registry.Remove(counter.CorrelationID)
	correlationID, err := c.proxy.RemoveCounter(counter.RegistrationID)
	if err != nil {
		return err
	}
	metrics.RegistrySize.Set(float64(c.registry.Len()))
	if !await {
		return nil
	}
	return c.awaitResponse(correlationID)
}

// AddDestination submits and awaits a manual-MDC destination add.
func (c *ClientConductor) AddDestination(pub *resources.Publication, channel string) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.isClosed() {
		return conderrs.ErrAlreadyClosed
	}
	correlationID, err := c.proxy.AddDestination(pub.RegistrationID, channel)
	if err != nil {
		return err
	}
	return c.awaitResponse(correlationID)
}

// RemoveDestination submits and awaits a manual-MDC destination removal.
func (c *ClientConductor) RemoveDestination(pub *resources.Publication, channel string) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.isClosed() {
		return conderrs.ErrAlreadyClosed
	}
	correlationID, err := c.proxy.RemoveDestination(pub.RegistrationID, channel)
	if err != nil {
		return err
	}
	return c.awaitResponse(correlationID)
}

// awaitResponse clears any stale pending exception, sets a deadline of
// driverTimeoutNs, and polls driver events until correlationID has been
// observed — returning the recorded driver exception if one arrived for it,
// or a driver-timeout once the deadline passes.
//
// The caller already holds the client lock; this loop services events
// itself rather than relying on DoWork, a single-threaded inline poll that
// keeps the registration call synchronous from the caller's perspective.
func (c *ClientConductor) awaitResponse(correlationID int64) error {
	c.mu.Lock()
	c.lastDriverExceptionErr = nil // clear any stale pending exception
	c.mu.Unlock()

	timer := metrics.NewTimer()
	deadline := c.clk.NanoTime() + c.cfg.PendingTimeout.Nanoseconds()

	for {
		if exc := c.takeException(correlationID); exc != nil {
			return exc
		}
		if c.hasReceived(correlationID) {
			timer.ObserveDuration(metrics.DriverRoundTripDuration)
			return nil
		}

		c.events.Poll(c.cfg.DriverEventPollLimit)

		if c.clk.NanoTime() >= deadline {
			metrics.DriverTimeoutsTotal.Inc()
			return conderrs.New(conderrs.DriverTimeout, "no response for correlation id %d within %s", correlationID, c.cfg.PendingTimeout).WithCorrelation(correlationID)
		}

		time.Sleep(time.Millisecond)
	}
}
