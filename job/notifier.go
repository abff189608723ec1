package job

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// SubscriberChannelBufferSize is the buffer size for subscriber channels
const SubscriberChannelBufferSize = 100

// StatusEvent is published once per job status change
type StatusEvent struct {
	EventID   string    `json:"event_id"`
	JobID     string    `json:"job_id"`
	OldStatus Status    `json:"old_status"`
	NewStatus Status    `json:"new_status"`
	Message   string    `json:"message,omitempty"`
	At        time.Time `json:"at"`
}

// Notifier fans status-change events out to in-process subscribers.
// Dashboard shaping, webhook and email delivery live behind these
// subscriptions, outside this core.
type Notifier struct {
	mu          sync.RWMutex
	subscribers []chan StatusEvent
}

// NewNotifier creates a notifier with no subscribers
func NewNotifier() *Notifier {
	return &Notifier{subscribers: make([]chan StatusEvent, 0)}
}

// Subscribe returns a channel that receives status events.
// The caller is responsible for calling Unsubscribe when done.
// The returned channel is buffered to prevent blocking the publisher.
func (n *Notifier) Subscribe() chan StatusEvent {
	n.mu.Lock()
	defer n.mu.Unlock()

	ch := make(chan StatusEvent, SubscriberChannelBufferSize)
	n.subscribers = append(n.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber channel.
// The channel is NOT closed by this method - callers should close it
// themselves after unsubscribing if needed.
func (n *Notifier) Unsubscribe(ch chan StatusEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for i, sub := range n.subscribers {
		if sub == ch {
			n.subscribers = append(n.subscribers[:i], n.subscribers[i+1:]...)
			return
		}
	}
}

// Publish sends one status-change event to all subscribers.
// Uses non-blocking send so a slow subscriber never stalls the publisher.
func (n *Notifier) Publish(jobID string, oldStatus, newStatus Status, message string) {
	event := StatusEvent{
		EventID:   uuid.NewString(),
		JobID:     jobID,
		OldStatus: oldStatus,
		NewStatus: newStatus,
		Message:   message,
		At:        time.Now(),
	}

	n.mu.RLock()
	defer n.mu.RUnlock()

	for _, ch := range n.subscribers {
		select {
		case ch <- event:
		default:
			// Channel full, skip (non-blocking)
		}
	}
}
