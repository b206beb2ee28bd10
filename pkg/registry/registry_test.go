package registry

import (
	"testing"

	"github.com/cuemby/conductor/pkg/resources"
	"github.com/stretchr/testify/assert"
)

func entryFor(correlationID int64) *resources.Entry {
	return &resources.Entry{
		Kind:        resources.KindSharedPublication,
		Publication: &resources.Publication{RegistrationID: correlationID, CorrelationID: correlationID},
	}
}

func TestRegisterGetRemove(t *testing.T) {
	r := New()
	r.RegisterResult(1, entryFor(1))
	r.RegisterResult(2, entryFor(2))

	assert.Equal(t, 2, r.Len())
	assert.NotNil(t, r.Get(1))
	assert.Nil(t, r.Get(99))

	r.Remove(1)
	assert.Equal(t, 1, r.Len())
	assert.Nil(t, r.Get(1))
	assert.NotNil(t, r.Get(2))
}

func TestForEachToleratesRemovalDuringPass(t *testing.T) {
	r := New()
	for i := int64(1); i <= 5; i++ {
		r.RegisterResult(i, entryFor(i))
	}

	visited := 0
	r.ForEach(func(correlationID int64, entry *resources.Entry) {
		visited++
		r.Remove(correlationID)
	})

	assert.Equal(t, 5, visited)
	assert.Equal(t, 0, r.Len())
}

func TestClearEmptiesRegistry(t *testing.T) {
	r := New()
	r.RegisterResult(1, entryFor(1))
	r.Clear()
	assert.Equal(t, 0, r.Len())
	assert.Nil(t, r.Get(1))
}

func TestFindPublicationByChannelAndStreamSharesExistingResource(t *testing.T) {
	r := New()
	entry := entryFor(1)
	entry.Publication.Channel = "aeron:udp?endpoint=localhost:40123"
	entry.Publication.StreamID = 7
	r.RegisterResult(1, entry)

	found := r.FindPublicationByChannelAndStream("aeron:udp?endpoint=localhost:40123", 7)
	assert.Same(t, entry, found)

	assert.Nil(t, r.FindPublicationByChannelAndStream("aeron:udp?endpoint=localhost:40123", 8))
}

func TestByChannelStatusIndicator(t *testing.T) {
	r := New()
	a := entryFor(1)
	a.Publication.ChannelStatusIndicatorID = 42
	b := entryFor(2)
	b.Publication.ChannelStatusIndicatorID = 42
	c := entryFor(3)
	c.Publication.ChannelStatusIndicatorID = 7
	r.RegisterResult(1, a)
	r.RegisterResult(2, b)
	r.RegisterResult(3, c)

	matches := r.ByChannelStatusIndicator(42)
	assert.Len(t, matches, 2)
}
