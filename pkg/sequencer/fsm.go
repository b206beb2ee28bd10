package sequencer

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/hashicorp/raft"
)

// LogFSM is the Raft state machine backing the sequencer's log publication
// (pkg/rafttransport.NewRaftLogPublication). The sequencer is the sole
// writer and reader of its own commit acknowledgements here — the wider
// cluster's consumption of the committed event stream is an external
// collaborator out of scope — so Apply only has to track what has been
// durably committed, not replay it into any domain state.
type LogFSM struct {
	mu      sync.Mutex
	applied int64
	last    any
}

// NewLogFSM builds an empty LogFSM.
func NewLogFSM() *LogFSM {
	return &LogFSM{}
}

// Apply decodes and counts one committed log entry. The decoded frame is
// kept in an unexported field that nothing reads; AppliedCount is the only
// application-visible effect.
func (f *LogFSM) Apply(log *raft.Log) interface{} {
	var frame any
	if err := json.Unmarshal(log.Data, &frame); err != nil {
		return fmt.Errorf("sequencer: decode log entry at index %d: %w", log.Index, err)
	}

	f.mu.Lock()
	f.applied++
	f.last = frame
	f.mu.Unlock()
	return nil
}

// AppliedCount reports how many entries this FSM has applied.
func (f *LogFSM) AppliedCount() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.applied
}

// Snapshot captures the applied count; there is no broader state to
// checkpoint since Apply performs no domain mutation.
func (f *LogFSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &logFSMSnapshot{applied: f.applied}, nil
}

// Restore replays a prior snapshot's applied count.
func (f *LogFSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	var snap logFSMSnapshot
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return fmt.Errorf("sequencer: decode FSM snapshot: %w", err)
	}
	f.mu.Lock()
	f.applied = snap.Applied
	f.mu.Unlock()
	return nil
}

type logFSMSnapshot struct {
	Applied int64 `json:"applied"`
}

func (s *logFSMSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s); err != nil {
			return err
		}
		return sink.Close()
	}()
	if err != nil {
		sink.Cancel()
	}
	return err
}

func (s *logFSMSnapshot) Release() {}
