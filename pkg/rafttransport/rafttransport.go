// Package rafttransport backs the cluster sequencer's log publication with a
// real hashicorp/raft group: TryClaim/Commit map onto raft.Apply and its
// future.
package rafttransport

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/conductor/pkg/conderrs"
	"github.com/cuemby/conductor/pkg/transport"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

// Config describes a single-member raft group to bootstrap.
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string
}

// NewRaftNode bootstraps a single-node raft group backed by raft-boltdb log
// and stable stores and a file snapshot store. The returned io.Closer shuts
// the node down.
func NewRaftNode(cfg Config, fsm raft.FSM) (*raft.Raft, io.Closer, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create data dir: %w", err)
	}

	raftConfig := raft.DefaultConfig()
	raftConfig.LocalID = raft.ServerID(cfg.NodeID)

	addr, err := net.ResolveTCPAddr("tcp", cfg.BindAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve bind address: %w", err)
	}
	transportLayer, err := raft.NewTCPTransport(cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, nil, fmt.Errorf("create raft transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(cfg.DataDir, 2, os.Stderr)
	if err != nil {
		return nil, nil, fmt.Errorf("create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-log.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("create log store: %w", err)
	}

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-stable.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("create stable store: %w", err)
	}

	node, err := raft.NewRaft(raftConfig, fsm, logStore, stableStore, snapshotStore, transportLayer)
	if err != nil {
		return nil, nil, fmt.Errorf("create raft node: %w", err)
	}

	configuration := raft.Configuration{
		Servers: []raft.Server{
			{ID: raftConfig.LocalID, Address: transportLayer.LocalAddr()},
		},
	}
	if err := node.BootstrapCluster(configuration).Error(); err != nil {
		return nil, nil, fmt.Errorf("bootstrap cluster: %w", err)
	}

	return node, raftCloser{node}, nil
}

type raftCloser struct{ node *raft.Raft }

func (c raftCloser) Close() error {
	return c.node.Shutdown().Error()
}

// logPublication implements transport.Publication over a single raft group:
// every claimed frame becomes one raft log entry.
type logPublication struct {
	node         *raft.Raft
	applyTimeout time.Duration
}

// NewRaftLogPublication wraps node as a transport.Publication. Commit blocks
// on the raft apply future; TryClaim refuses up front when this node is not
// currently the leader so back pressure is visible before any work is done.
func NewRaftLogPublication(node *raft.Raft, applyTimeout time.Duration) transport.Publication {
	return &logPublication{node: node, applyTimeout: applyTimeout}
}

func (p *logPublication) Offer(frame any) (int64, error) {
	data, err := json.Marshal(frame)
	if err != nil {
		return 0, conderrs.Wrap(conderrs.InvalidArgument, err, "encode log frame")
	}
	if p.node.State() != raft.Leader {
		return 0, conderrs.New(conderrs.UnableToAppend, "not leader")
	}
	future := p.node.Apply(data, p.applyTimeout)
	if err := future.Error(); err != nil {
		return 0, conderrs.Wrap(conderrs.UnableToAppend, err, "raft apply")
	}
	return int64(p.node.LastIndex()), nil
}

func (p *logPublication) TryClaim(length int) (transport.BufferClaim, error) {
	if p.node.State() != raft.Leader {
		return nil, conderrs.New(conderrs.UnableToAppend, "not leader, refusing claim")
	}
	return &logClaim{pub: p}, nil
}

// logClaim defers the actual raft.Apply call to Commit, since raft has no
// notion of claiming space ahead of encoding a frame.
type logClaim struct {
	pub   *logPublication
	frame any
}

func (c *logClaim) Frame() any         { return c.frame }
func (c *logClaim) SetFrame(f any)     { c.frame = f }
func (c *logClaim) Abort()             {}
func (c *logClaim) Commit() error {
	_, err := c.pub.Offer(c.frame)
	return err
}
