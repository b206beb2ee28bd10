package session

import (
	"testing"

	"github.com/cuemby/conductor/pkg/transport"
	"github.com/stretchr/testify/assert"
)

func TestLifecycleTransitions(t *testing.T) {
	pub, _ := transport.NewChannelPair(1)
	s := NewClusterSession(1, pub, 10, "aeron:udp?endpoint=localhost:41000", 5, 100)

	assert.Equal(t, int64(5), s.ConnectCorrelationID)
	assert.Equal(t, Init, s.State())
	assert.False(t, s.MarkOpen(200), "cannot open before connected")

	assert.True(t, s.MarkConnected(150))
	assert.Equal(t, Connected, s.State())
	assert.False(t, s.MarkConnected(160), "already connected")

	assert.True(t, s.MarkOpen(200))
	assert.Equal(t, Open, s.State())

	assert.True(t, s.Close(CloseReasonUserAction))
	assert.Equal(t, Closed, s.State())
	assert.Equal(t, CloseReasonUserAction, s.CloseReasonValue())

	assert.False(t, s.Close(CloseReasonTimeout), "close is idempotent")
	assert.Equal(t, CloseReasonUserAction, s.CloseReasonValue(), "first reason sticks")
}

func TestTouchActivityAndExpiry(t *testing.T) {
	pub, _ := transport.NewChannelPair(1)
	s := NewClusterSession(1, pub, 10, "aeron:ipc", 5, 1000)

	assert.False(t, s.IsExpired(1000, 5000))
	assert.True(t, s.IsExpired(7000, 5000))

	s.TouchActivity(6000, 42)
	assert.Equal(t, int64(6000), s.LastActivityMs())
	assert.Equal(t, int64(42), s.LastCorrelationID())
	assert.False(t, s.IsExpired(10999, 5000))
	assert.True(t, s.IsExpired(11001, 5000))
}

func TestStateStringer(t *testing.T) {
	assert.Equal(t, "INIT", Init.String())
	assert.Equal(t, "CONNECTED", Connected.String())
	assert.Equal(t, "OPEN", Open.String())
	assert.Equal(t, "CLOSED", Closed.String())
}
