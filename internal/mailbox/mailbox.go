// ABOUTME: Per-identity FIFO of messages waiting for their recipient to connect
// ABOUTME: Drain is an atomic swap; undelivered remainders can be requeued

package mailbox

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/2389/parlor-gateway/internal/chat"
	"github.com/2389/parlor-gateway/internal/store"
)

// Mailbox holds queued messages for offline identities.
type Mailbox struct {
	queues map[string][]chat.Message
	mu     sync.Mutex
	writer *store.Writer
	logger *slog.Logger
}

// New creates an empty Mailbox. writer may be nil.
func New(writer *store.Writer, logger *slog.Logger) *Mailbox {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Mailbox{
		queues: make(map[string][]chat.Message),
		writer: writer,
		logger: logger.With("component", "mailbox"),
	}
	writer.BindJSON(&m.mu, func() any { return m.queues })
	return m
}

// Load replaces the queues with the persisted offline document.
func (m *Mailbox) Load(ctx context.Context, backend store.Backend) error {
	queues := make(map[string][]chat.Message)
	if _, err := store.Load(ctx, backend, store.DocOffline, &queues); err != nil {
		return fmt.Errorf("loading offline mailbox: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.queues = queues
	return nil
}

// Enqueue appends msg to identity's queue.
func (m *Mailbox) Enqueue(identity string, msg chat.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.queues[identity] = append(m.queues[identity], msg.Clone())
	m.persistLocked()

	m.logger.Debug("message queued", "identity", identity, "message_id", msg.ID, "pending", len(m.queues[identity]))
}

// Drain removes and returns identity's queue in enqueue order.
// Anything enqueued after Drain returns lands in a fresh queue.
func (m *Mailbox) Drain(identity string) []chat.Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	queued, ok := m.queues[identity]
	if !ok {
		return nil
	}
	delete(m.queues, identity)
	m.persistLocked()
	return queued
}

// Requeue puts msgs back at the front of identity's queue, ahead of anything
// enqueued since the drain.
func (m *Mailbox) Requeue(identity string, msgs []chat.Message) {
	if len(msgs) == 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	merged := make([]chat.Message, 0, len(msgs)+len(m.queues[identity]))
	merged = append(merged, msgs...)
	merged = append(merged, m.queues[identity]...)
	m.queues[identity] = merged
	m.persistLocked()

	m.logger.Warn("messages requeued", "identity", identity, "count", len(msgs))
}

// Remove deletes the queued message with messageID for identity.
func (m *Mailbox) Remove(identity, messageID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	queue := m.queues[identity]
	for i, msg := range queue {
		if msg.ID != messageID {
			continue
		}
		queue = append(queue[:i:i], queue[i+1:]...)
		if len(queue) == 0 {
			delete(m.queues, identity)
		} else {
			m.queues[identity] = queue
		}
		m.persistLocked()
		return true
	}
	return false
}

// Pending returns how many messages are queued for identity.
func (m *Mailbox) Pending(identity string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.queues[identity])
}

func (m *Mailbox) persistLocked() {
	m.writer.Notify()
}
