package server

import (
	"context"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/clipshare/internal/moderation"
)

const (
	RealtimeEventAudit     = "audit"
	realtimeEventHeartbeat = "heartbeat"
	realtimeSourceBackend  = "clipshare-backend"
)

type AuditMessage struct {
	EventType string
	Entry     moderation.AdminLog
	Timestamp time.Time
}

// AuditDispatcher fans committed audit entries out to connected admin feeds. Slow
// subscribers lose messages instead of blocking moderation requests.
type AuditDispatcher struct {
	mu          sync.RWMutex
	subscribers map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
}

var _ moderation.AuditNotifier = (*AuditDispatcher)(nil)

type realtimeSubscriber struct {
	id     int64
	stream chan AuditMessage
}

func NewAuditDispatcher() *AuditDispatcher {
	return &AuditDispatcher{
		subscribers: make(map[int64]*realtimeSubscriber),
		bufferSize:  16,
	}
}

// Subscribe registers a feed until ctx ends or the returned cleanup runs.
func (d *AuditDispatcher) Subscribe(ctx context.Context) (<-chan AuditMessage, func()) {
	subscriber := &realtimeSubscriber{
		id:     d.nextSequence(),
		stream: make(chan AuditMessage, d.bufferSize),
	}
	d.registerSubscriber(subscriber)
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregisterSubscriber(subscriber.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// PublishAudit implements moderation.AuditNotifier.
func (d *AuditDispatcher) PublishAudit(entry moderation.AdminLog) {
	d.Publish(AuditMessage{
		EventType: RealtimeEventAudit,
		Entry:     entry,
		Timestamp: time.Now().UTC(),
	})
}

func (d *AuditDispatcher) Publish(message AuditMessage) {
	if message.EventType == "" {
		return
	}
	d.mu.RLock()
	if len(d.subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*realtimeSubscriber, 0, len(d.subscribers))
	for _, subscriber := range d.subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

func (d *AuditDispatcher) SubscriberCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers)
}

func (d *AuditDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *AuditDispatcher) registerSubscriber(subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subscribers[subscriber.id] = subscriber
}

func (d *AuditDispatcher) unregisterSubscriber(subscriberID int64) {
	d.mu.Lock()
	delete(d.subscribers, subscriberID)
	d.mu.Unlock()
}
