package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, sub Subscriber) *Event {
	t.Helper()
	select {
	case e := <-sub:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestPublishReachesAllSubscribers(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	first := b.Subscribe()
	second := b.Subscribe()
	assert.Equal(t, 2, b.SubscriberCount())

	b.Publish(&Event{Type: EventRenewalSuccess, Message: "renewed"})

	for _, sub := range []Subscriber{first, second} {
		e := receive(t, sub)
		assert.Equal(t, EventRenewalSuccess, e.Type)
		assert.Equal(t, "renewed", e.Message)
		assert.NotEmpty(t, e.ID)
		assert.False(t, e.Timestamp.IsZero())
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	kept := b.Subscribe()
	dropped := b.Subscribe()
	b.Unsubscribe(dropped)
	assert.Equal(t, 1, b.SubscriberCount())

	b.Publish(&Event{Type: EventExpiryWarning})
	receive(t, kept)

	// The unsubscribed channel is closed and drained.
	_, open := <-dropped
	assert.False(t, open)
}

func TestSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	slow := b.Subscribe()
	// Fill the slow subscriber's buffer so further deliveries drop.
	for i := 0; i < cap(slow)+10; i++ {
		b.Publish(&Event{Type: EventRenewalFailed})
	}

	fast := b.Subscribe()
	b.Publish(&Event{Type: EventRenewalSuccess, Message: "still flowing"})

	for {
		e := receive(t, fast)
		if e.Type == EventRenewalSuccess {
			assert.Equal(t, "still flowing", e.Message)
			return
		}
	}
}

func TestPublishAfterStopDoesNotBlock(t *testing.T) {
	b := NewBroker()
	b.Start()
	b.Stop()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			b.Publish(&Event{Type: EventRenewalFailed})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked after Stop")
	}
}

func TestPublishKeepsCallerEventID(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	b.Publish(&Event{ID: "evt-1", Type: EventRenewalSuccess})

	e := receive(t, sub)
	require.Equal(t, "evt-1", e.ID)
}
