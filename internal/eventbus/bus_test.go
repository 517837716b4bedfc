package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSubscribePublishReceives(t *testing.T) {
	b := New()
	ch, unsubscribe := b.Subscribe()
	defer unsubscribe()

	b.Publish(TopicNew, map[string]string{"external_id": "1"})

	select {
	case evt := <-ch:
		require.Equal(t, TopicNew, evt.Topic)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	_, unsubscribe := b.Subscribe()
	require.Equal(t, 1, b.SubscriberCount())
	unsubscribe()
	require.Equal(t, 0, b.SubscriberCount())
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	b := New()
	ch, unsubscribe := b.Subscribe()
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBufferSize*2; i++ {
			b.Publish(TopicProgress, i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
	<-ch // drain one to avoid an unused-variable style complaint from a linter, not required for the test
}

func TestThrottleAllowsFirstThenGatesUntilInterval(t *testing.T) {
	th := NewThrottle(50 * time.Millisecond)
	require.True(t, th.Allow())
	require.False(t, th.Allow())
	time.Sleep(60 * time.Millisecond)
	require.True(t, th.Allow())
}
