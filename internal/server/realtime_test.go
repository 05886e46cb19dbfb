package server

import (
	"context"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/clipshare/internal/moderation"
)

func TestAuditDispatcherPublishesToEverySubscriber(t *testing.T) {
	dispatcher := NewAuditDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first, firstCleanup := dispatcher.Subscribe(ctx)
	defer firstCleanup()
	second, secondCleanup := dispatcher.Subscribe(ctx)
	defer secondCleanup()

	dispatcher.PublishAudit(moderation.AdminLog{ID: "log-1", Action: moderation.ActionFeatureClip, Details: "Featured clip clip-1"})

	for index, stream := range []<-chan AuditMessage{first, second} {
		select {
		case received := <-stream:
			if received.EventType != RealtimeEventAudit {
				t.Fatalf("subscriber %d: expected event type %s, got %s", index, RealtimeEventAudit, received.EventType)
			}
			if received.Entry.ID != "log-1" || received.Entry.Action != moderation.ActionFeatureClip {
				t.Fatalf("subscriber %d: unexpected entry %+v", index, received.Entry)
			}
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("subscriber %d: expected audit message within deadline", index)
		}
	}
}

func TestAuditDispatcherDropsMessagesForSlowSubscribers(t *testing.T) {
	dispatcher := NewAuditDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx)
	defer cleanup()

	for index := 0; index < dispatcher.bufferSize*2; index++ {
		dispatcher.PublishAudit(moderation.AdminLog{ID: "log"})
	}
	if len(stream) != dispatcher.bufferSize {
		t.Fatalf("expected buffered messages to cap at %d, got %d", dispatcher.bufferSize, len(stream))
	}
}

func TestAuditDispatcherUnsubscribesWhenContextEnds(t *testing.T) {
	dispatcher := NewAuditDispatcher()
	ctx, cancel := context.WithCancel(context.Background())

	_, cleanup := dispatcher.Subscribe(ctx)
	defer cleanup()
	if dispatcher.SubscriberCount() != 1 {
		t.Fatalf("expected one subscriber, got %d", dispatcher.SubscriberCount())
	}

	cancel()
	deadline := time.Now().Add(time.Second)
	for dispatcher.SubscriberCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("expected subscriber to be removed after context cancellation")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
