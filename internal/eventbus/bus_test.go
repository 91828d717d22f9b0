package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFansOut(t *testing.T) {
	t.Parallel()

	b := New()
	a, unsubA := b.Subscribe(4)
	c, unsubC := b.Subscribe(4)
	defer unsubA()
	defer unsubC()

	b.Publish(Event{Type: TypePollNotified, Data: "pincode:110077"})

	for _, ch := range []<-chan Event{a, c} {
		e := <-ch
		assert.Equal(t, TypePollNotified, e.Type)
		assert.False(t, e.Time.IsZero())
	}
}

func TestPublishDropsForSlowSubscriber(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "one"})
	b.Publish(Event{Type: "two"})

	assert.EqualValues(t, 1, b.Dropped())
	e := <-ch
	assert.Equal(t, "one", e.Type)
	select {
	case extra := <-ch:
		t.Fatalf("unexpected event %q", extra.Type)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	_, ok := <-ch
	require.False(t, ok)
	b.Publish(Event{Type: "after"})
}
