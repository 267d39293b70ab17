package stream

import (
	"context"
	"testing"
	"time"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := s.Subscribe(ctx)
	b := s.Subscribe(ctx)
	if got := s.Subscribers(); got != 2 {
		t.Fatalf("subscribers = %d, want 2", got)
	}

	s.Publish(Event{Type: EventLogin, UserID: "u-1"})

	for _, ch := range []<-chan Event{a, b} {
		select {
		case evt := <-ch:
			if evt.Type != EventLogin || evt.UserID != "u-1" {
				t.Fatalf("unexpected event %+v", evt)
			}
			if evt.Timestamp.IsZero() {
				t.Fatal("publish must stamp the event")
			}
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_ = s.Subscribe(ctx) // never drained

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			s.Publish(Event{Type: EventLogout})
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestUnsubscribeOnContextCancel(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	ch := s.Subscribe(ctx)
	cancel()

	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				if got := s.Subscribers(); got != 0 {
					t.Fatalf("subscribers = %d after cancel, want 0", got)
				}
				return
			}
		case <-deadline:
			t.Fatal("channel not closed after context cancel")
		}
	}
}
