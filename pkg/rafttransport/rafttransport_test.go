package rafttransport

import (
	"io"
	"testing"
	"time"

	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingFSM struct {
	applied [][]byte
}

func (f *recordingFSM) Apply(log *raft.Log) interface{} {
	f.applied = append(f.applied, log.Data)
	return nil
}
func (f *recordingFSM) Snapshot() (raft.FSMSnapshot, error) { return noopSnapshot{}, nil }
func (f *recordingFSM) Restore(rc io.ReadCloser) error {
	return rc.Close()
}

type noopSnapshot struct{}

func (noopSnapshot) Persist(sink raft.SnapshotSink) error { return sink.Close() }
func (noopSnapshot) Release()                             {}

func waitForLeader(t *testing.T, node *raft.Raft) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if node.State() == raft.Leader {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("raft node never became leader")
}

func TestSingleNodeBootstrapBecomesLeaderAndApplies(t *testing.T) {
	fsm := &recordingFSM{}
	cfg := Config{NodeID: "node-1", BindAddr: "127.0.0.1:0", DataDir: t.TempDir()}

	// raft.NewTCPTransport with port 0 picks an ephemeral port. The
	// advertised address NewRaftNode resolves from BindAddr keeps port 0,
	// which a single-member group never needs to dial.
	node, closer, err := NewRaftNode(cfg, fsm)
	require.NoError(t, err)
	defer closer.Close()

	waitForLeader(t, node)

	pub := NewRaftLogPublication(node, 2*time.Second)
	pos, err := pub.Offer(map[string]string{"hello": "world"})
	require.NoError(t, err)
	assert.Greater(t, pos, int64(0))
	assert.Len(t, fsm.applied, 1)
}

func TestClaimCommitAppliesLikeOffer(t *testing.T) {
	fsm := &recordingFSM{}
	cfg := Config{NodeID: "node-1", BindAddr: "127.0.0.1:0", DataDir: t.TempDir()}

	node, closer, err := NewRaftNode(cfg, fsm)
	require.NoError(t, err)
	defer closer.Close()

	waitForLeader(t, node)

	pub := NewRaftLogPublication(node, 2*time.Second)
	claim, err := pub.TryClaim(64)
	require.NoError(t, err)
	claim.SetFrame(map[string]string{"claimed": "yes"})
	require.NoError(t, claim.Commit())
	assert.Len(t, fsm.applied, 1)
}
