// Package loopdriver stands in for the out-of-process media driver so that
// cmd/conductor can run a client conductor end to end without a second
// process: it drains the conductor's command stream and immediately
// answers with the acknowledgement the real driver would eventually send.
package loopdriver

import (
	"strconv"
	"sync/atomic"

	"github.com/cuemby/conductor/pkg/agent"
	"github.com/cuemby/conductor/pkg/clock"
	"github.com/cuemby/conductor/pkg/driver"
	"github.com/cuemby/conductor/pkg/log"
	"github.com/cuemby/conductor/pkg/logbuffers"
	"github.com/cuemby/conductor/pkg/transport"
)

// Driver answers a conductor's command stream on its own agent.Runner
// goroutine. It is deliberately simplistic — every request succeeds — since
// exercising driver failure modes is the job of pkg/conductor's own tests
// against a scripted EventsAdapter, not this stand-in.
type Driver struct {
	clk       clock.Clock
	cmdSub    transport.Subscription
	eventsPub transport.Publication

	nextRegistrationID atomic.Int64
	lastKeepaliveMs    atomic.Int64
}

// New builds a Driver draining cmdSub and replying on eventsPub.
func New(clk clock.Clock, cmdSub transport.Subscription, eventsPub transport.Publication) *Driver {
	d := &Driver{clk: clk, cmdSub: cmdSub, eventsPub: eventsPub}
	d.lastKeepaliveMs.Store(clk.Now().UnixMilli())
	return d
}

// TimeOfLastDriverKeepaliveMs implements conductor.DriverLiveness.
func (d *Driver) TimeOfLastDriverKeepaliveMs() int64 {
	return d.lastKeepaliveMs.Load()
}

// RoleName identifies this agent for logging and error reporting.
func (d *Driver) RoleName() string { return "loopback-driver" }

// OnClose is a no-op: the driver owns no resources beyond the channels its
// caller supplied.
func (d *Driver) OnClose() {}

var _ agent.Agent = (*Driver)(nil)

// DoWork drains one bounded batch of command frames, answering each.
func (d *Driver) DoWork() (int, error) {
	return d.cmdSub.Poll(d.onCommand, 32), nil
}

func (d *Driver) onCommand(frame any) transport.ControlledAction {
	switch f := frame.(type) {
	case driver.AddPublicationCmd:
		regID := d.nextRegistrationID.Add(1)
		d.reply(driver.NewPublicationEvt{
			CorrelationID:             f.CorrelationID,
			RegistrationID:            regID,
			StreamID:                  f.StreamID,
			PublicationLimitCounterID: int32(regID),
			ChannelStatusIndicatorID:  int32(regID),
			LogFileName:               logFileName(regID),
			Exclusive:                 f.Exclusive,
		})
	case driver.AddSubscriptionCmd:
		regID := d.nextRegistrationID.Add(1)
		d.reply(driver.NewSubscriptionEvt{
			CorrelationID:            f.CorrelationID,
			RegistrationID:           regID,
			ChannelStatusIndicatorID: int32(regID),
		})
	case driver.AddCounterCmd:
		regID := d.nextRegistrationID.Add(1)
		d.reply(driver.NewCounterEvt{CorrelationID: f.CorrelationID, RegistrationID: regID})
	case driver.RemovePublicationCmd:
		d.reply(driver.OperationSuccessEvt{CorrelationID: f.CorrelationID})
	case driver.RemoveSubscriptionCmd:
		d.reply(driver.OperationSuccessEvt{CorrelationID: f.CorrelationID})
	case driver.RemoveCounterCmd:
		d.reply(driver.OperationSuccessEvt{CorrelationID: f.CorrelationID})
	case driver.AddDestinationCmd:
		d.reply(driver.OperationSuccessEvt{CorrelationID: f.CorrelationID})
	case driver.RemoveDestinationCmd:
		d.reply(driver.OperationSuccessEvt{CorrelationID: f.CorrelationID})
	case driver.ClientKeepaliveCmd:
		d.lastKeepaliveMs.Store(d.clk.Now().UnixMilli())
	}
	return transport.Continue
}

func (d *Driver) reply(evt any) {
	if _, err := d.eventsPub.Offer(evt); err != nil {
		log.WithComponent("loopback-driver").Warn().Err(err).Msg("failed to offer driver event")
	}
}

func logFileName(registrationID int64) string {
	return "loopback-term-" + strconv.FormatInt(registrationID, 10) + ".log"
}

// BufferFactory implements logbuffers.Factory with an in-memory stand-in
// for the driver's memory-mapped term buffers — there is nothing to mmap
// when the "driver" is this in-process loop, so mapping just allocates a
// closable handle the cache can refcount.
type BufferFactory struct{}

// Map satisfies logbuffers.Factory.
func (BufferFactory) Map(registrationID int64, path string) (logbuffers.Buffers, error) {
	return mappedBuffers{}, nil
}

type mappedBuffers struct{}

func (mappedBuffers) Close() error { return nil }

var _ logbuffers.Factory = BufferFactory{}
