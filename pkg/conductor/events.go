package conductor

import (
	"sync/atomic"

	"github.com/cuemby/conductor/pkg/conderrs"
	"github.com/cuemby/conductor/pkg/driver"
	"github.com/cuemby/conductor/pkg/resources"
)

// onNewPublication handles both shared and exclusive publication
// registrations: construct the resource, install it at the
// correlation id that requested it — not the driver's own registration id,
// which differs — and bind its log buffer and publication-limit counter.
func (c *ClientConductor) onNewPublication(e driver.NewPublicationEvt, exclusive bool) {
	buffers, err := c.logBuffers.Acquire(e.RegistrationID, e.LogFileName)
	if err != nil {
		c.recordException(conderrs.Wrap(conderrs.Registration, err, "mapping log buffers for %d", e.RegistrationID).WithCorrelation(e.CorrelationID))
		return
	}

	pub := &resources.Publication{
		RegistrationID:           e.RegistrationID,
		CorrelationID:            e.CorrelationID,
		Channel:                  c.takePubChannel(e.CorrelationID),
		StreamID:                 e.StreamID,
		ChannelStatusIndicatorID: e.ChannelStatusIndicatorID,
		PublicationLimit:         new(atomic.Int64),
		LogBuffers:               buffers,
	}

	kind := resources.KindSharedPublication
	if exclusive || e.Exclusive {
		kind = resources.KindExclusivePublication
	}

	c.registry.RegisterResult(e.CorrelationID, &resources.Entry{Kind: kind, Publication: pub})
	c.markReceived(e.CorrelationID)
}

// onNewSubscription locates the Subscription pre-registered by
// AddSubscription and attaches the status-indicator id the driver assigned.
func (c *ClientConductor) onNewSubscription(e driver.NewSubscriptionEvt) {
	entry := c.registry.Get(e.CorrelationID)
	if entry == nil || entry.Kind != resources.KindSubscription {
		return
	}
	entry.Subscription.ChannelStatusIndicatorID = e.ChannelStatusIndicatorID
	entry.Subscription.RegistrationID = e.RegistrationID
	c.markReceived(e.CorrelationID)
}

func (c *ClientConductor) onNewCounter(e driver.NewCounterEvt) {
	entry := c.registry.Get(e.CorrelationID)
	if entry != nil && entry.Kind == resources.KindCounter {
		entry.Counter.RegistrationID = e.RegistrationID
	}
	c.markReceived(e.CorrelationID)
}

// onOperationSuccess acknowledges a synchronous remove/destination call
// that has no resource payload of its own.
func (c *ClientConductor) onOperationSuccess(e driver.OperationSuccessEvt) {
	c.markReceived(e.CorrelationID)
}

// onAvailableImage looks up the owning subscription by its registration id,
// skips if the image is already tracked, builds the Image, invokes the
// available-image handler (routing any panic to the error sink rather than
// the work loop), then tracks it.
func (c *ClientConductor) onAvailableImage(e driver.AvailableImageEvt) {
	entry := c.findSubscriptionByRegistrationID(e.SubscriptionRegistrationID)
	if entry == nil {
		return
	}
	sub := entry.Subscription
	if sub.HasImage(e.CorrelationID) {
		return
	}

	buffers, err := c.logBuffers.Acquire(e.CorrelationID, e.LogFileName)
	if err != nil {
		c.recordException(conderrs.Wrap(conderrs.Registration, err, "mapping image log buffers for %d", e.CorrelationID))
		return
	}

	img := &resources.Image{
		CorrelationID:              e.CorrelationID,
		SubscriptionRegistrationID: e.SubscriptionRegistrationID,
		SessionID:                  e.SessionID,
		SourceIdentity:             e.SourceIdentity,
		SubscriberPositionID:       e.SubscriberPositionID,
		LogBuffers:                 buffers,
	}

	if sub.OnAvailableImage != nil {
		c.invokeImageHandler(func() { sub.OnAvailableImage(img) })
	}
	sub.AddImage(img)
}

// onUnavailableImage removes the image from its subscription and invokes
// the unavailable handler, symmetric with onAvailableImage's panic
// isolation.
func (c *ClientConductor) onUnavailableImage(e driver.UnavailableImageEvt) {
	entry := c.findSubscriptionByRegistrationID(e.SubscriptionRegistrationID)
	if entry == nil {
		return
	}
	sub := entry.Subscription
	img := sub.RemoveImage(e.CorrelationID)
	if img == nil {
		return
	}
	if c.logBuffers != nil && img.LogBuffers != nil {
		c.logBuffers.Release(img.LogBuffers, c.clk.NanoTime())
	}
	if sub.OnUnavailableImage != nil {
		c.invokeImageHandler(func() { sub.OnUnavailableImage(img) })
	}
}

// invokeImageHandler runs fn, routing any panic to the error sink instead of
// letting it propagate into the work loop.
func (c *ClientConductor) invokeImageHandler(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.errorHandler(conderrs.New(conderrs.ChannelEndpoint, "image handler panicked: %v", r))
		}
	}()
	fn()
}

// onChannelEndpointError fans a driver-reported endpoint failure out to
// every registry entry whose status indicator matches.
func (c *ClientConductor) onChannelEndpointError(e driver.ChannelEndpointErrorEvt) {
	for _, entry := range c.registry.ByChannelStatusIndicator(e.StatusIndicatorID) {
		c.errorHandler(conderrs.New(conderrs.ChannelEndpoint, "%s", e.Message).WithCorrelation(entry.CorrelationID()))
	}
}

// onError stashes the driver's reported failure as the pending exception
// consulted by the next awaitResponse for the same correlation id.
func (c *ClientConductor) onError(e driver.ErrorEvt) {
	c.recordException(conderrs.New(conderrs.Registration, "%s", e.Message).WithCorrelation(e.CorrelationID))
	c.markReceived(e.CorrelationID)
}

func (c *ClientConductor) recordException(err *conderrs.Error) {
	c.mu.Lock()
	c.lastDriverExceptionErr = err
	c.mu.Unlock()
}

func (c *ClientConductor) takeException(correlationID int64) *conderrs.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastDriverExceptionErr != nil && c.lastDriverExceptionErr.CorrelationID == correlationID {
		err := c.lastDriverExceptionErr
		c.lastDriverExceptionErr = nil
		return err
	}
	return nil
}

func (c *ClientConductor) markReceived(correlationID int64) {
	c.mu.Lock()
	c.lastReceivedCorrID = correlationID
	c.mu.Unlock()
}

func (c *ClientConductor) hasReceived(correlationID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastReceivedCorrID == correlationID
}

func (c *ClientConductor) findSubscriptionByRegistrationID(registrationID int64) *resources.Entry {
	var found *resources.Entry
	c.registry.ForEach(func(_ int64, entry *resources.Entry) {
		if found != nil {
			return
		}
		if entry.Kind == resources.KindSubscription && entry.Subscription.RegistrationID == registrationID {
			found = entry
		}
	})
	return found
}
