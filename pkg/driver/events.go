package driver

import (
	"github.com/cuemby/conductor/pkg/transport"
)

// EventsAdapter polls the driver's events Subscription and dispatches each
// frame by type to the corresponding callback. A nil callback silently
// drops the event — callers wire up only the handlers they need.
type EventsAdapter struct {
	sub transport.Subscription

	OnNewPublication         func(NewPublicationEvt)
	OnNewSubscription        func(NewSubscriptionEvt)
	OnNewCounter             func(NewCounterEvt)
	OnOperationSuccess       func(OperationSuccessEvt)
	OnAvailableImage         func(AvailableImageEvt)
	OnUnavailableImage       func(UnavailableImageEvt)
	OnError                  func(ErrorEvt)
	OnChannelEndpointError   func(ChannelEndpointErrorEvt)
}

// NewEventsAdapter builds an EventsAdapter polling sub.
func NewEventsAdapter(sub transport.Subscription) *EventsAdapter {
	return &EventsAdapter{sub: sub}
}

// Poll drains up to limit frames, dispatching each. It never returns Abort
// or Break from an individual frame — driver events are independent, so an
// unknown frame type simply counts as consumed and moves on, consistent
// with a "no retry budget at this layer" policy. A panicking callback is
// not recovered here; it propagates out of Poll.
func (a *EventsAdapter) Poll(limit int) int {
	return a.sub.Poll(func(frame any) transport.ControlledAction {
		switch f := frame.(type) {
		case NewPublicationEvt:
			if a.OnNewPublication != nil {
				a.OnNewPublication(f)
			}
		case NewSubscriptionEvt:
			if a.OnNewSubscription != nil {
				a.OnNewSubscription(f)
			}
		case NewCounterEvt:
			if a.OnNewCounter != nil {
				a.OnNewCounter(f)
			}
		case OperationSuccessEvt:
			if a.OnOperationSuccess != nil {
				a.OnOperationSuccess(f)
			}
		case AvailableImageEvt:
			if a.OnAvailableImage != nil {
				a.OnAvailableImage(f)
			}
		case UnavailableImageEvt:
			if a.OnUnavailableImage != nil {
				a.OnUnavailableImage(f)
			}
		case ErrorEvt:
			if a.OnError != nil {
				a.OnError(f)
			}
		case ChannelEndpointErrorEvt:
			if a.OnChannelEndpointError != nil {
				a.OnChannelEndpointError(f)
			}
		}
		return transport.Continue
	}, limit)
}
