package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func receive[T any](t *testing.T, sub *Subscription[T]) T {
	t.Helper()
	select {
	case v := <-sub.C():
		return v
	case <-time.After(time.Second):
		t.Fatal("no value received in time")
	}
	var zero T
	return zero
}

func TestBroadcaster_Fanout_To_All_Subscribers(t *testing.T) {
	req := require.New(t)
	b := NewBroadcaster[int](4)
	sub1 := b.Subscribe()
	sub2 := b.Subscribe()

	// When two values are published
	req.Equal(2, b.Publish(context.Background(), 1))
	req.Equal(2, b.Publish(context.Background(), 2))

	// Then both subscribers see both, in order
	req.Equal(1, receive(t, sub1))
	req.Equal(2, receive(t, sub1))
	req.Equal(1, receive(t, sub2))
	req.Equal(2, receive(t, sub2))
}

func TestBroadcaster_No_Replay_For_Late_Subscriber(t *testing.T) {
	req := require.New(t)
	b := NewBroadcaster[string](4)
	early := b.Subscribe()

	b.Publish(context.Background(), "before")
	late := b.Subscribe()
	b.Publish(context.Background(), "after")

	req.Equal("before", receive(t, early))
	req.Equal("after", receive(t, early))
	req.Equal("after", receive(t, late))
	req.Len(late.C(), 0)
}

func TestBroadcaster_Unsubscribed_Is_Skipped(t *testing.T) {
	req := require.New(t)
	b := NewBroadcaster[int](1)
	stays := b.Subscribe()
	leaves := b.Subscribe()

	// Given a subscriber with a full buffer leaves
	b.Publish(context.Background(), 1)
	leaves.Unsubscribe()
	leaves.Unsubscribe()
	req.Equal(1, receive(t, stays))

	// When publishing again, the departed subscriber does not block the stream
	done := make(chan int, 1)
	go func() { done <- b.Publish(context.Background(), 2) }()

	select {
	case n := <-done:
		req.Equal(1, n)
	case <-time.After(time.Second):
		req.Fail("publish blocked on an unsubscribed subscriber")
	}
	req.Equal(2, receive(t, stays))
	req.Equal(1, b.Len())
}

func TestBroadcaster_Publish_Honours_Context(t *testing.T) {
	req := require.New(t)
	b := NewBroadcaster[int](1)
	_ = b.Subscribe()
	b.Publish(context.Background(), 1)

	// Given the only subscriber never drains
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	// Then publish gives up with the context
	req.Equal(0, b.Publish(ctx, 2))
}

func TestBroadcaster_TryPublish_Drops_When_Full(t *testing.T) {
	req := require.New(t)
	b := NewBroadcaster[int](1)
	sub := b.Subscribe()

	req.Equal(1, b.TryPublish(1))
	req.Equal(0, b.TryPublish(2))
	req.Equal(1, receive(t, sub))
}

func TestBroadcaster_Close_Ends_Subscriptions(t *testing.T) {
	req := require.New(t)
	b := NewBroadcaster[int](0)
	sub := b.Subscribe()

	b.Close()
	b.Close()

	select {
	case <-sub.Done():
	default:
		req.Fail("subscription should be done after close")
	}
	req.Equal(0, b.Publish(context.Background(), 1))

	late := b.Subscribe()
	select {
	case <-late.Done():
	default:
		req.Fail("subscribing to a closed broadcaster should return a finished subscription")
	}
	late.Unsubscribe()
}
