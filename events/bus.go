// Package events fans pipeline notifications out to subscribers without
// ever blocking the publisher.
package events

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Type names a notification kind.
type Type string

const (
	// TypeMessageSent is published once an outbound message has been handed to the transport.
	TypeMessageSent Type = "message_sent"
	// TypeDownloadCompleted is published when an attachment finished downloading.
	TypeDownloadCompleted Type = "download_completed"
	// TypeDownloadFailed is published when an attachment download gave up.
	TypeDownloadFailed Type = "download_failed"
	// TypeMessageStored is published after an inbound message was accepted for persistence.
	TypeMessageStored Type = "message_stored"
)

// Event is one notification. MessageID correlates it with a persisted message.
type Event struct {
	Type      Type
	MessageID string
	Path      string
	Err       error
}

// Bus is a non-blocking fan-out of events.
type Bus struct {
	mu          sync.RWMutex
	nextID      int
	subscribers map[int]chan Event
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[int]chan Event)}
}

// Subscribe registers a buffered subscriber. The returned func unsubscribes and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subscribers[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers event to every subscriber with room in its buffer.
func (b *Bus) Publish(event Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			logrus.WithFields(logrus.Fields{
				"function":   "Publish",
				"subscriber": id,
				"event":      event.Type,
				"message_id": event.MessageID,
			}).Warn("Subscriber buffer full, dropping event")
		}
	}
}

// MessageSent publishes a TypeMessageSent event.
func (b *Bus) MessageSent(messageID string) {
	b.Publish(Event{Type: TypeMessageSent, MessageID: messageID})
}

// DownloadCompleted publishes a TypeDownloadCompleted event.
func (b *Bus) DownloadCompleted(messageID, path string) {
	b.Publish(Event{Type: TypeDownloadCompleted, MessageID: messageID, Path: path})
}
