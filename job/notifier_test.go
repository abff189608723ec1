package job

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifierDeliversToAllSubscribers(t *testing.T) {
	n := NewNotifier()
	a := n.Subscribe()
	b := n.Subscribe()
	defer n.Unsubscribe(a)
	defer n.Unsubscribe(b)

	n.Publish("job-1", StatusRunning, StatusSuccess, "")

	for _, ch := range []chan StatusEvent{a, b} {
		select {
		case ev := <-ch:
			assert.Equal(t, "job-1", ev.JobID)
			assert.Equal(t, StatusRunning, ev.OldStatus)
			assert.Equal(t, StatusSuccess, ev.NewStatus)
			assert.NotEmpty(t, ev.EventID)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestNotifierSlowSubscriberDoesNotBlock(t *testing.T) {
	n := NewNotifier()
	ch := n.Subscribe()
	defer n.Unsubscribe(ch)

	// Fill the buffer and keep publishing; Publish must never stall
	done := make(chan struct{})
	go func() {
		for i := 0; i < SubscriberChannelBufferSize*2; i++ {
			n.Publish("job-1", StatusRunning, StatusFailed, "")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	n := NewNotifier()
	ch := n.Subscribe()
	n.Unsubscribe(ch)

	n.Publish("job-1", StatusPending, StatusRunning, "")

	select {
	case ev := <-ch:
		t.Fatalf("unexpected event after unsubscribe: %+v", ev)
	default:
	}
}

func TestStatusTerminality(t *testing.T) {
	require.True(t, StatusSuccess.IsTerminal())
	require.True(t, StatusFailed.IsTerminal())
	require.True(t, StatusCancelled.IsTerminal())
	require.False(t, StatusPending.IsTerminal())
	require.False(t, StatusRunning.IsTerminal())

	assert.True(t, IsValidStatus("running"))
	assert.False(t, IsValidStatus("paused"))
}
