// Package transport defines the capability sets the conductor and sequencer
// use to talk to their external collaborators — the driver's command/event
// rings, the cluster's ingress/timer/log channels — without committing to
// any one wire representation or inheritance hierarchy. Frames are opaque
// `any` values: framing and byte-level codecs belong to the external wire
// contract, which this module does not own.
package transport

import (
	"errors"
	"sync"
)

// ErrBackPressured is returned by Offer/TryClaim when the transport has no
// room; callers back off via an clock.IdleStrategy rather than retrying
// immediately.
var ErrBackPressured = errors.New("transport: back pressured")

// ErrClosed is returned once a transport has been closed.
var ErrClosed = errors.New("transport: closed")

// ControlledAction tells a Subscription's poll loop what to do with the
// fragment just handled.
type ControlledAction int

const (
	// Continue means the fragment was consumed; advance to the next one.
	Continue ControlledAction = iota
	// Abort means the fragment must be redelivered on the next Poll —
	// used when a handler could not make progress (e.g. the log
	// publication briefly back-pressured) and must retry the same
	// fragment before consuming anything past it.
	Abort
	// Break stops the poll loop immediately without consuming the current
	// fragment, leaving it for the next Poll call.
	Break
)

// FragmentHandler processes one polled frame.
type FragmentHandler func(frame any) ControlledAction

// Publication is the write side of a transport: a single producer offering
// frames, optionally via the claim/commit two-phase form used when the
// frame must be built in place (e.g. the cluster log).
type Publication interface {
	// Offer enqueues frame and returns a monotonically increasing
	// position on success, or ErrBackPressured if the transport is full.
	Offer(frame any) (int64, error)
	// TryClaim reserves space for a frame without publishing it yet.
	// The caller fills in BufferClaim.SetFrame then calls Commit (or
	// Abort to give up without publishing).
	TryClaim(length int) (BufferClaim, error)
}

// BufferClaim is an in-flight reservation returned by Publication.TryClaim.
type BufferClaim interface {
	// Frame returns the frame set so far (nil until SetFrame is called).
	Frame() any
	// SetFrame stores the frame to publish on Commit.
	SetFrame(frame any)
	// Commit publishes the claimed frame.
	Commit() error
	// Abort discards the claim without publishing anything.
	Abort()
}

// Subscription is the read side of a transport: a single consumer polling
// a bounded batch of frames per call.
type Subscription interface {
	// Poll delivers up to limit frames to handler, stopping early on
	// Break or when a handler returns Abort (the aborted fragment is
	// left for the next Poll). It returns the number of frames consumed.
	Poll(handler FragmentHandler, limit int) int
	// Close releases the subscription; further Poll calls deliver any
	// frames still buffered, then return 0.
	Close()
}

// channelTransport is the in-memory Publication+Subscription pair used for
// the driver's command/event rings and, in tests, for cluster ingress and
// timer channels. It never blocks: Offer fails fast with ErrBackPressured
// when the buffered channel is full, mirroring a lock-free ring buffer
// refusing to grow.
type channelTransport struct {
	frames chan any
	mu     sync.Mutex
	pos    int64
	closed bool
}

// NewChannelPair returns a (Publication, Subscription) pair backed by a
// bounded in-memory channel of the given capacity.
func NewChannelPair(capacity int) (Publication, Subscription) {
	ct := &channelTransport{frames: make(chan any, capacity)}
	return ct, ct
}

func (c *channelTransport) Offer(frame any) (int64, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return -1, ErrClosed
	}
	c.mu.Unlock()

	select {
	case c.frames <- frame:
		c.mu.Lock()
		c.pos++
		pos := c.pos
		c.mu.Unlock()
		return pos, nil
	default:
		return -1, ErrBackPressured
	}
}

func (c *channelTransport) TryClaim(length int) (BufferClaim, error) {
	// The in-memory transport has no fixed-size backing buffer to
	// pre-reserve; refusing a claim when the channel is already full
	// still gives callers the same back-pressure signal Offer does.
	select {
	case <-closedSignal(c):
		return nil, ErrClosed
	default:
	}
	if len(c.frames) >= cap(c.frames) {
		return nil, ErrBackPressured
	}
	return &channelClaim{pub: c, length: length}, nil
}

func closedSignal(c *channelTransport) <-chan struct{} {
	ch := make(chan struct{})
	c.mu.Lock()
	if c.closed {
		close(ch)
	}
	c.mu.Unlock()
	return ch
}

func (c *channelTransport) Poll(handler FragmentHandler, limit int) int {
	consumed := 0
	for consumed < limit {
		select {
		case frame, ok := <-c.frames:
			if !ok {
				return consumed
			}
			switch handler(frame) {
			case Continue:
				consumed++
			case Abort:
				// Put the frame back at the front for the next Poll.
				c.requeueFront(frame)
				return consumed
			case Break:
				c.requeueFront(frame)
				return consumed
			}
		default:
			return consumed
		}
	}
	return consumed
}

// requeueFront pushes frame back so the next Poll sees it first. The
// channel is not a deque, so this drains and rebuilds; safe because
// Poll/Offer on a given transport are each single-producer/single-consumer
// per data-flow guarantee.
func (c *channelTransport) requeueFront(frame any) {
	pending := []any{frame}
	for {
		select {
		case f := <-c.frames:
			pending = append(pending, f)
		default:
			for _, f := range pending {
				c.frames <- f
			}
			return
		}
	}
}

func (c *channelTransport) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.frames)
	}
}

type channelClaim struct {
	pub    *channelTransport
	length int
	frame  any
}

func (cc *channelClaim) Frame() any          { return cc.frame }
func (cc *channelClaim) SetFrame(frame any)  { cc.frame = frame }
func (cc *channelClaim) Abort()              {}
func (cc *channelClaim) Commit() error {
	_, err := cc.pub.Offer(cc.frame)
	return err
}
