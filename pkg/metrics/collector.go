package metrics

import (
	"time"

	"github.com/hashicorp/raft"
)

// RegistrySource reports the live resource count tracked by a conductor's
// registry (pkg/registry.Registry satisfies this).
type RegistrySource interface {
	Len() int
}

// LingeringSource reports how many log buffers are in their linger window
// (pkg/logbuffers.Cache satisfies this).
type LingeringSource interface {
	LingeringCount() int
}

// SessionCounts reports the current session population by lifecycle state,
// keyed by session.State.String().
type SessionCounts func() map[string]int

// Collector periodically samples conductor/sequencer state into the
// package's prometheus gauges on a background ticker.
type Collector struct {
	registry  RegistrySource
	lingering LingeringSource
	raftNode  *raft.Raft
	sessions  SessionCounts
	stopCh    chan struct{}
}

// NewCollector builds a Collector. Any source may be nil to skip that
// metric family (e.g. a client-only conductor has no raft node to sample).
func NewCollector(registry RegistrySource, lingering LingeringSource, raftNode *raft.Raft, sessions SessionCounts) *Collector {
	return &Collector{
		registry:  registry,
		lingering: lingering,
		raftNode:  raftNode,
		sessions:  sessions,
		stopCh:    make(chan struct{}),
	}
}

// Start begins sampling on a 15s ticker.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts sampling.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	if c.registry != nil {
		RegistrySize.Set(float64(c.registry.Len()))
	}
	if c.lingering != nil {
		LingeringResources.Set(float64(c.lingering.LingeringCount()))
	}
	if c.sessions != nil {
		for state, count := range c.sessions() {
			SessionsByState.WithLabelValues(state).Set(float64(count))
		}
	}
	if c.raftNode != nil {
		c.collectRaftMetrics()
	}
}

func (c *Collector) collectRaftMetrics() {
	if c.raftNode.State() == raft.Leader {
		RaftLeader.Set(1)
	} else {
		RaftLeader.Set(0)
	}
	RaftLogIndex.Set(float64(c.raftNode.LastIndex()))
	RaftAppliedIndex.Set(float64(c.raftNode.AppliedIndex()))
}
