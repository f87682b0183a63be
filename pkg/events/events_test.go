package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, sub Subscriber) *Event {
	t.Helper()
	select {
	case ev := <-sub:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestBrokerFanOut(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	s1 := b.Subscribe()
	s2 := b.Subscribe()
	assert.Equal(t, 2, b.SubscriberCount())

	b.Publish(&Event{Type: EventPlanRefreshed, Node: "rs1:16020"})

	for _, sub := range []Subscriber{s1, s2} {
		ev := receive(t, sub)
		assert.Equal(t, EventPlanRefreshed, ev.Type)
		assert.Equal(t, "rs1:16020", ev.Node)
		assert.NotEmpty(t, ev.ID)
		assert.False(t, ev.Timestamp.IsZero())
	}
}

func TestBrokerUnsubscribe(t *testing.T) {
	b := NewBroker()
	sub := b.Subscribe()
	b.Unsubscribe(sub)
	b.Unsubscribe(sub)

	_, open := <-sub
	assert.False(t, open)
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestPublishNeverBlocks(t *testing.T) {
	b := NewBroker()
	// not started, so the buffer fills up
	for i := 0; i < 300; i++ {
		b.Publish(&Event{Type: EventCompactionAdmitted})
	}
	assert.Equal(t, int64(300-256), b.Dropped())

	b.Stop()
	b.Stop()
	b.Publish(&Event{Type: EventCompactionAdmitted})
}

func TestNilBroker(t *testing.T) {
	var b *Broker
	require.NotPanics(t, func() {
		b.Publish(&Event{Type: EventNodeJoined})
	})
}
