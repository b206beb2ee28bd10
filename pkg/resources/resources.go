// Package resources holds the polymorphic resource set the client
// conductor registers by correlation id: shared and exclusive
// publications, subscriptions, and counters, represented as a tagged sum
// dispatched on Kind rather than an inheritance hierarchy.
package resources

import (
	"sync"
	"sync/atomic"

	"github.com/cuemby/conductor/pkg/logbuffers"
)

// NoIDAllocated is the sentinel used wherever a status-indicator or
// position-counter id has not (yet, or ever) been assigned. Preserved
// verbatim from the source system rather than remapped to -1's usual Go
// idiom of "not found", because downstream wire frames compare against it
// directly.
const NoIDAllocated int32 = -1

// Kind tags which variant an Entry holds.
type Kind int

const (
	KindSharedPublication Kind = iota
	KindExclusivePublication
	KindSubscription
	KindCounter
)

func (k Kind) String() string {
	switch k {
	case KindSharedPublication:
		return "shared-publication"
	case KindExclusivePublication:
		return "exclusive-publication"
	case KindSubscription:
		return "subscription"
	case KindCounter:
		return "counter"
	default:
		return "unknown"
	}
}

// Publication is a send handle bound to a channel and stream id, shared
// (many local writers, ref-counted at the driver) or exclusive (this
// client is the only writer).
type Publication struct {
	RegistrationID           int64
	CorrelationID            int64
	Channel                  string
	StreamID                 int32
	ChannelStatusIndicatorID int32
	PublicationLimit         *atomic.Int64
	LogBuffers               *logbuffers.Cached

	mu     sync.Mutex
	closed bool
}

// IsClosed reports whether ForceClose has already run.
func (p *Publication) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Image is a per-remote-source view of a subscribed stream.
type Image struct {
	CorrelationID              int64 // the image's own driver-assigned id
	SubscriptionRegistrationID int64
	SessionID                  int32
	SourceIdentity             string
	SubscriberPositionID       int32
	LogBuffers                 *logbuffers.Cached
}

// AvailableImageHandler is invoked when a new Image becomes available.
// Exceptions (panics recovered by the caller) are routed to the error
// sink, never propagated into the conductor's work loop.
type AvailableImageHandler func(img *Image)

// UnavailableImageHandler is invoked when an Image goes away.
type UnavailableImageHandler func(img *Image)

// Subscription is a receive handle holding zero or more Images, one per
// remote publication.
type Subscription struct {
	RegistrationID           int64
	CorrelationID            int64
	Channel                  string
	StreamID                 int32
	ChannelStatusIndicatorID int32

	OnAvailableImage   AvailableImageHandler
	OnUnavailableImage UnavailableImageHandler

	mu     sync.Mutex
	images map[int64]*Image // keyed by Image.CorrelationID
	closed bool
}

// NewSubscription builds an empty Subscription shell, ready to be
// pre-inserted into the registry before the driver's onNewSubscription
// event assigns its status-indicator id.
func NewSubscription(correlationID int64, channel string, streamID int32) *Subscription {
	return &Subscription{
		CorrelationID:            correlationID,
		Channel:                  channel,
		StreamID:                 streamID,
		ChannelStatusIndicatorID: NoIDAllocated,
		images:                   make(map[int64]*Image),
	}
}

// AddImage tracks img unless an image with the same correlation id is
// already tracked (onAvailableImage must be idempotent per redelivery).
func (s *Subscription) AddImage(img *Image) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.images[img.CorrelationID]; exists {
		return false
	}
	s.images[img.CorrelationID] = img
	return true
}

// RemoveImage stops tracking the image with the given correlation id,
// returning it if it was present.
func (s *Subscription) RemoveImage(imageCorrelationID int64) *Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	img, ok := s.images[imageCorrelationID]
	if !ok {
		return nil
	}
	delete(s.images, imageCorrelationID)
	return img
}

// HasImage reports whether an image with the given correlation id is
// already tracked.
func (s *Subscription) HasImage(imageCorrelationID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.images[imageCorrelationID]
	return ok
}

// Images returns a snapshot of currently tracked images.
func (s *Subscription) Images() []*Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Image, 0, len(s.images))
	for _, img := range s.images {
		out = append(out, img)
	}
	return out
}

// Counter is a driver-allocated named metric cell.
type Counter struct {
	RegistrationID int64
	CorrelationID  int64
	TypeID         int32
	Key            []byte
	Label          []byte
}

// Entry is the tagged sum the registry stores per correlation id.
type Entry struct {
	Kind         Kind
	Publication  *Publication // KindSharedPublication or KindExclusivePublication
	Subscription *Subscription
	Counter      *Counter
}

// CorrelationID returns the correlation id that produced this entry,
// regardless of kind.
func (e *Entry) CorrelationID() int64 {
	switch e.Kind {
	case KindSharedPublication, KindExclusivePublication:
		return e.Publication.CorrelationID
	case KindSubscription:
		return e.Subscription.CorrelationID
	case KindCounter:
		return e.Counter.CorrelationID
	default:
		return 0
	}
}

// ChannelStatusIndicatorID returns the entry's status indicator id, or
// NoIDAllocated if it has none (counters never do).
func (e *Entry) ChannelStatusIndicatorID() int32 {
	switch e.Kind {
	case KindSharedPublication, KindExclusivePublication:
		return e.Publication.ChannelStatusIndicatorID
	case KindSubscription:
		return e.Subscription.ChannelStatusIndicatorID
	default:
		return NoIDAllocated
	}
}

// AsyncRemover submits the driver-side removal for a resource without
// awaiting a response, used by ForceClose.
type AsyncRemover interface {
	AsyncRemovePublication(registrationID int64)
	AsyncRemoveSubscription(registrationID int64)
	AsyncRemoveCounter(registrationID int64)
}

// ForceClose marks the entry closed, asynchronously tells the driver to
// remove it, and releases its log-buffer reference if it holds one.
// Idempotent for publications and subscriptions: a second call observes the
// already-closed state and does nothing further. A counter carries no
// closed flag, so every call on a counter entry re-sends its removal.
func (e *Entry) ForceClose(remover AsyncRemover, cache *logbuffers.Cache, nowNs int64) {
	switch e.Kind {
	case KindSharedPublication, KindExclusivePublication:
		p := e.Publication
		p.mu.Lock()
		alreadyClosed := p.closed
		p.closed = true
		p.mu.Unlock()
		if alreadyClosed {
			return
		}
		remover.AsyncRemovePublication(p.RegistrationID)
		if p.LogBuffers != nil && cache != nil {
			cache.Release(p.LogBuffers, nowNs)
		}
	case KindSubscription:
		s := e.Subscription
		s.mu.Lock()
		alreadyClosed := s.closed
		s.closed = true
		s.mu.Unlock()
		if alreadyClosed {
			return
		}
		remover.AsyncRemoveSubscription(s.RegistrationID)
	case KindCounter:
		remover.AsyncRemoveCounter(e.Counter.RegistrationID)
	}
}
