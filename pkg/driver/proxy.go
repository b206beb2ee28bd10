// Package driver implements the client conductor's transport to the
// out-of-process media driver: a command Publication the client writes
// registration requests to, and an events Subscription the driver
// acknowledges and pushes image lifecycle notifications on.
package driver

import (
	"sync/atomic"

	"github.com/cuemby/conductor/pkg/transport"
)

// Proxy mints correlation ids and offers command frames on the driver's
// command Publication. Every mutating call is fire-and-forget at this
// layer — the conductor decides whether and how long to wait for a
// response via its own awaitResponse loop.
type Proxy struct {
	commandPub transport.Publication
	nextID     atomic.Int64
}

// NewProxy builds a Proxy writing to commandPub.
func NewProxy(commandPub transport.Publication) *Proxy {
	return &Proxy{commandPub: commandPub}
}

func (p *Proxy) nextCorrelationID() int64 {
	return p.nextID.Add(1)
}

// offer submits frame, retrying through the caller's idle strategy is the
// caller's job — Proxy itself never blocks or retries so that back
// pressure is always visible to whoever is driving the work cycle.
func (p *Proxy) offer(frame any) error {
	_, err := p.commandPub.Offer(frame)
	return err
}

// AddPublication requests a new shared publication for (channel, streamID).
func (p *Proxy) AddPublication(channel string, streamID int32) (int64, error) {
	id := p.nextCorrelationID()
	return id, p.offer(AddPublicationCmd{CorrelationID: id, Channel: channel, StreamID: streamID})
}

// AddExclusivePublication requests a new exclusive publication.
func (p *Proxy) AddExclusivePublication(channel string, streamID int32) (int64, error) {
	id := p.nextCorrelationID()
	return id, p.offer(AddPublicationCmd{CorrelationID: id, Channel: channel, StreamID: streamID, Exclusive: true})
}

// AddSubscription requests a new subscription.
func (p *Proxy) AddSubscription(channel string, streamID int32) (int64, error) {
	id := p.nextCorrelationID()
	return id, p.offer(AddSubscriptionCmd{CorrelationID: id, Channel: channel, StreamID: streamID})
}

// AddCounter requests a new application counter.
func (p *Proxy) AddCounter(typeID int32, key, label []byte) (int64, error) {
	id := p.nextCorrelationID()
	return id, p.offer(AddCounterCmd{CorrelationID: id, TypeID: typeID, Key: key, Label: label})
}

// RemovePublication is idempotent at the transport layer: the driver
// tolerates removing an id it no longer knows about.
func (p *Proxy) RemovePublication(registrationID int64) (int64, error) {
	id := p.nextCorrelationID()
	return id, p.offer(RemovePublicationCmd{CorrelationID: id, RegistrationID: registrationID})
}

func (p *Proxy) RemoveSubscription(registrationID int64) (int64, error) {
	id := p.nextCorrelationID()
	return id, p.offer(RemoveSubscriptionCmd{CorrelationID: id, RegistrationID: registrationID})
}

func (p *Proxy) RemoveCounter(registrationID int64) (int64, error) {
	id := p.nextCorrelationID()
	return id, p.offer(RemoveCounterCmd{CorrelationID: id, RegistrationID: registrationID})
}

func (p *Proxy) AddDestination(registrationID int64, channel string) (int64, error) {
	id := p.nextCorrelationID()
	return id, p.offer(AddDestinationCmd{CorrelationID: id, RegistrationID: registrationID, Channel: channel})
}

func (p *Proxy) RemoveDestination(registrationID int64, channel string) (int64, error) {
	id := p.nextCorrelationID()
	return id, p.offer(RemoveDestinationCmd{CorrelationID: id, RegistrationID: registrationID, Channel: channel})
}

// SendClientKeepalive sends a fire-and-forget heartbeat.
func (p *Proxy) SendClientKeepalive() error {
	return p.offer(ClientKeepaliveCmd{})
}

// AsyncRemovePublication/Subscription/Counter satisfy resources.AsyncRemover
// for ForceClose's fire-and-forget teardown path; errors are swallowed
// because there is no caller left to report them to.
func (p *Proxy) AsyncRemovePublication(registrationID int64)  { _, _ = p.RemovePublication(registrationID) }
func (p *Proxy) AsyncRemoveSubscription(registrationID int64) { _, _ = p.RemoveSubscription(registrationID) }
func (p *Proxy) AsyncRemoveCounter(registrationID int64)      { _, _ = p.RemoveCounter(registrationID) }
