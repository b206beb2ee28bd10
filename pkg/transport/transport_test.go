package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelPairOfferAndPoll(t *testing.T) {
	pub, sub := NewChannelPair(4)

	for i := 0; i < 3; i++ {
		_, err := pub.Offer(i)
		require.NoError(t, err)
	}

	var got []int
	n := sub.Poll(func(frame any) ControlledAction {
		got = append(got, frame.(int))
		return Continue
	}, 10)

	assert.Equal(t, 3, n)
	assert.Equal(t, []int{0, 1, 2}, got)
}

func TestChannelPairBackPressure(t *testing.T) {
	pub, _ := NewChannelPair(1)
	_, err := pub.Offer("a")
	require.NoError(t, err)

	_, err = pub.Offer("b")
	assert.ErrorIs(t, err, ErrBackPressured)
}

func TestChannelPairAbortRedeliversSameFragment(t *testing.T) {
	pub, sub := NewChannelPair(4)
	_, _ = pub.Offer("first")
	_, _ = pub.Offer("second")

	attempts := 0
	n := sub.Poll(func(frame any) ControlledAction {
		attempts++
		if frame.(string) == "first" && attempts == 1 {
			return Abort
		}
		return Continue
	}, 10)
	assert.Equal(t, 0, n)

	var order []string
	sub.Poll(func(frame any) ControlledAction {
		order = append(order, frame.(string))
		return Continue
	}, 10)
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestChannelClaimCommit(t *testing.T) {
	pub, sub := NewChannelPair(2)

	claim, err := pub.TryClaim(16)
	require.NoError(t, err)
	claim.SetFrame("claimed")
	require.NoError(t, claim.Commit())

	var got any
	sub.Poll(func(frame any) ControlledAction {
		got = frame
		return Continue
	}, 1)
	assert.Equal(t, "claimed", got)
}

func TestChannelPairCloseStopsPoll(t *testing.T) {
	_, sub := NewChannelPair(1)
	sub.Close()
	n := sub.Poll(func(any) ControlledAction { return Continue }, 1)
	assert.Equal(t, 0, n)
}
