package sequencer

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"

	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogFSMAppliesAndCounts(t *testing.T) {
	fsm := NewLogFSM()

	data, err := json.Marshal(SessionOpenEvent{SessionID: 1, TimestampMs: 10})
	require.NoError(t, err)

	result := fsm.Apply(&raft.Log{Index: 1, Data: data})
	assert.Nil(t, result)
	assert.Equal(t, int64(1), fsm.AppliedCount())
}

func TestLogFSMSnapshotRoundTrip(t *testing.T) {
	fsm := NewLogFSM()
	data, _ := json.Marshal(TimerEvent{CorrelationID: 42})
	fsm.Apply(&raft.Log{Index: 1, Data: data})
	fsm.Apply(&raft.Log{Index: 2, Data: data})

	snap, err := fsm.Snapshot()
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, snap.Persist(&fakeSnapshotSink{Buffer: &buf}))

	restored := NewLogFSM()
	require.NoError(t, restored.Restore(io.NopCloser(&buf)))
	assert.Equal(t, int64(2), restored.AppliedCount())
}

type fakeSnapshotSink struct {
	*bytes.Buffer
}

func (f *fakeSnapshotSink) ID() string           { return "snap-1" }
func (f *fakeSnapshotSink) Cancel() error        { return nil }
func (f *fakeSnapshotSink) Close() error         { return nil }
