// Package agent defines the cooperative scheduling convention shared by the
// client conductor and the cluster sequencer: a single-threaded unit of
// work that reports how much it did each cycle so a generic runner can back
// off through an clock.IdleStrategy. There is no ambient task scheduling —
// every agent owns exactly one goroutine for its entire lifetime.
package agent

import (
	"sync"
	"sync/atomic"

	"github.com/cuemby/conductor/pkg/clock"
	"github.com/cuemby/conductor/pkg/log"
)

// Agent is a cooperatively-scheduled unit of work.
type Agent interface {
	// DoWork performs one bounded unit of work and returns how many
	// items it processed (fragments polled, timeouts fired, ...). A
	// non-nil error is routed to the Runner's ErrorHandler; DoWork is
	// expected to keep running afterwards unless it is a fatal kind the
	// caller recognizes and reacts to by calling Close.
	DoWork() (int, error)
	// RoleName identifies the agent in logs and metrics.
	RoleName() string
	// OnClose releases resources once the runner loop has exited.
	OnClose()
}

// ErrorHandler receives errors returned by DoWork.
type ErrorHandler func(error)

// Runner drives a single Agent on its own goroutine, applying an
// IdleStrategy between cycles.
type Runner struct {
	agent        Agent
	idle         clock.IdleStrategy
	errorHandler ErrorHandler

	running atomic.Bool
	done    chan struct{}
	once    sync.Once
}

// NewRunner builds a Runner for agent. If errorHandler is nil, errors are
// logged and otherwise swallowed (the agent keeps running).
func NewRunner(a Agent, idle clock.IdleStrategy, errorHandler ErrorHandler) *Runner {
	if errorHandler == nil {
		errorHandler = func(err error) {
			log.WithComponent(a.RoleName()).Error().Err(err).Msg("agent error")
		}
	}
	return &Runner{
		agent:        a,
		idle:         idle,
		errorHandler: errorHandler,
		done:         make(chan struct{}),
	}
}

// Start launches the runner's goroutine. Safe to call once.
func (r *Runner) Start() {
	r.running.Store(true)
	go r.loop()
}

// Close signals the loop to stop and blocks until OnClose has run.
func (r *Runner) Close() {
	if r.running.CompareAndSwap(true, false) {
		<-r.done
	}
}

func (r *Runner) loop() {
	defer r.once.Do(func() {
		r.agent.OnClose()
		close(r.done)
	})

	for r.running.Load() {
		n, err := r.agent.DoWork()
		if err != nil {
			r.errorHandler(err)
		}
		r.idle.Idle(n)
	}
}
