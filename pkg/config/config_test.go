package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadClientWithMissingPathReturnsDefaults(t *testing.T) {
	cfg, err := LoadClient("")
	require.NoError(t, err)
	assert.Equal(t, DefaultClient(), cfg)

	cfg, err = LoadClient(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultClient(), cfg)
}

func TestLoadClientMergesYAMLOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
keepAliveIntervalMs: 250
metricsAddr: "0.0.0.0:9999"
`), 0o644))

	cfg, err := LoadClient(path)
	require.NoError(t, err)

	assert.Equal(t, int64(250), cfg.KeepAliveIntervalMs)
	assert.Equal(t, "0.0.0.0:9999", cfg.MetricsAddr)
	// Fields absent from the YAML keep their defaults.
	assert.Equal(t, DefaultClient().DriverTimeoutMs, cfg.DriverTimeoutMs)
}

func TestLoadClientRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.yaml")
	require.NoError(t, os.WriteFile(path, []byte("not: [valid"), 0o644))

	_, err := LoadClient(path)
	assert.Error(t, err)
}

func TestLoadSequencerWithMissingPathReturnsDefaults(t *testing.T) {
	cfg, err := LoadSequencer("")
	require.NoError(t, err)
	assert.Equal(t, DefaultSequencer(), cfg)
}

func TestLoadSequencerMergesYAMLOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sequencer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
nodeId: "sequencer-7"
raftBindAddr: "10.0.0.1:7946"
`), 0o644))

	cfg, err := LoadSequencer(path)
	require.NoError(t, err)

	assert.Equal(t, "sequencer-7", cfg.NodeID)
	assert.Equal(t, "10.0.0.1:7946", cfg.RaftBindAddr)
	assert.Equal(t, DefaultSequencer().DataDir, cfg.DataDir)
}

func TestLoadSequencerGeneratesNodeIDWhenBlank(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sequencer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`nodeId: ""`), 0o644))

	cfg, err := LoadSequencer(path)
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.NodeID)
	assert.NotEqual(t, DefaultSequencer().NodeID, cfg.NodeID)
}

func TestClientToConductorConfigConvertsMillisToDurations(t *testing.T) {
	c := DefaultClient()
	out := c.ToConductorConfig()

	assert.Equal(t, 500*time.Millisecond, out.KeepAliveInterval)
	assert.Equal(t, 10*time.Second, out.DriverTimeout)
	assert.Equal(t, 10*time.Second, out.InterServiceTimeout)
	assert.Equal(t, 3*time.Second, out.ResourceLinger)
	assert.Equal(t, time.Second, out.ResourceCheckInterval)
	assert.Equal(t, 5*time.Second, out.PendingTimeout)
	assert.Equal(t, c.DriverEventPollLimit, out.DriverEventPollLimit)
	assert.Equal(t, c.MaxKeyLength, out.MaxKeyLength)
	assert.Equal(t, c.MaxLabelLength, out.MaxLabelLength)
}

func TestSequencerConversions(t *testing.T) {
	s := DefaultSequencer()

	seqCfg := s.ToSequencerConfig()
	assert.Equal(t, s.IngressPollLimit, seqCfg.IngressPollLimit)
	assert.Equal(t, s.TimerPollLimit, seqCfg.TimerPollLimit)
	assert.Equal(t, s.PendingSessionTimeoutMs, seqCfg.PendingSessionTimeoutMs)

	raftCfg := s.ToRaftConfig()
	assert.Equal(t, s.NodeID, raftCfg.NodeID)
	assert.Equal(t, s.RaftBindAddr, raftCfg.BindAddr)
	assert.Equal(t, s.DataDir, raftCfg.DataDir)

	assert.Equal(t, 2*time.Second, s.RaftApplyTimeout())
}
