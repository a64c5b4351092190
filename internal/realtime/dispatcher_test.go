package realtime

import (
	"context"
	"testing"
	"time"
)

func TestPublishReachesOnlyTheEventsRecipient(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	aliceEvents, unsubscribeAlice := dispatcher.Subscribe(ctx, "alice")
	defer unsubscribeAlice()
	bobEvents, unsubscribeBob := dispatcher.Subscribe(ctx, "bob")
	defer unsubscribeBob()

	dispatcher.Publish(Event{UserID: "alice", Table: "messages", Action: ActionInsert, RowID: "m-1"})

	select {
	case event := <-aliceEvents:
		if event.RowID != "m-1" {
			t.Fatalf("unexpected event %#v", event)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected alice to receive the event")
	}

	select {
	case event := <-bobEvents:
		t.Fatalf("bob should not receive alice's event, got %#v", event)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestPublishFansOutToAllSubscribersOfOneUser(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first, cancelFirst := dispatcher.Subscribe(ctx, "alice")
	defer cancelFirst()
	second, cancelSecond := dispatcher.Subscribe(ctx, "alice")
	defer cancelSecond()

	dispatcher.Publish(Event{UserID: "alice", Table: "notifications", Action: ActionInsert, RowID: "n-1"})

	for i, stream := range []<-chan Event{first, second} {
		select {
		case event := <-stream:
			if event.RowID != "n-1" {
				t.Fatalf("subscriber %d got unexpected event %#v", i, event)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d missed the event", i)
		}
	}
}

func TestPublishNeverBlocksOnFullSubscriberBuffer(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, unsubscribe := dispatcher.Subscribe(ctx, "alice")
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			dispatcher.Publish(Event{UserID: "alice", Table: "messages", Action: ActionInsert})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("publish blocked on a slow subscriber")
	}

	// The buffer holds at most its capacity; overflow was dropped.
	received := 0
	for {
		select {
		case <-events:
			received++
			continue
		default:
		}
		break
	}
	if received == 0 || received > 16 {
		t.Fatalf("expected between 1 and 16 buffered events, got %d", received)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, unsubscribe := dispatcher.Subscribe(ctx, "alice")
	unsubscribe()
	unsubscribe() // idempotent

	dispatcher.Publish(Event{UserID: "alice", Table: "messages", Action: ActionInsert})
	select {
	case event := <-events:
		t.Fatalf("expected no delivery after unsubscribe, got %#v", event)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestPublishDropsEventsWithoutRecipientOrTable(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, unsubscribe := dispatcher.Subscribe(ctx, "alice")
	defer unsubscribe()

	dispatcher.Publish(Event{UserID: "", Table: "messages"})
	dispatcher.Publish(Event{UserID: "alice", Table: ""})

	select {
	case event := <-events:
		t.Fatalf("expected malformed events dropped, got %#v", event)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestSubscribeWithEmptyUserIDReturnsClosedStream(t *testing.T) {
	dispatcher := NewDispatcher()
	events, cancel := dispatcher.Subscribe(context.Background(), "")
	defer cancel()
	if _, ok := <-events; ok {
		t.Fatalf("expected closed stream for empty user id")
	}
}
