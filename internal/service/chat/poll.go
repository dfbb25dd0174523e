package chat

import (
	"context"
	"sync"
	"time"

	"github.com/zhouzirui/duet/backend/internal/model/chat"
)

// notifier broadcasts "session has new messages" to every waiter at once.
// Each session has a generation channel; publishing closes it and drops
// it, so all current waiters wake and later subscribers get a fresh one.
// Waiters hold nothing but the channel reference, so a timed-out waiter
// leaves no registration behind.
type notifier struct {
	mu   sync.Mutex
	gens map[string]chan struct{}
}

func newNotifier() *notifier {
	return &notifier{gens: make(map[string]chan struct{})}
}

func (n *notifier) subscribe(sessionID string) <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	ch, ok := n.gens[sessionID]
	if !ok {
		ch = make(chan struct{})
		n.gens[sessionID] = ch
	}
	return ch
}

func (n *notifier) publish(sessionID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if ch, ok := n.gens[sessionID]; ok {
		close(ch)
		delete(n.gens, sessionID)
	}
}

// WaitForMessages returns messages newer than the cursor, suspending up to
// maxWait for an append when none exist yet. A single append wakes every
// waiter on the session. On timeout the result is empty, not an error.
func (s *Service) WaitForMessages(ctx context.Context, sessionID string, since int64, maxWait time.Duration) ([]chat.Message, error) {
	deadline := time.NewTimer(maxWait)
	defer deadline.Stop()

	for {
		messages, err := s.store.MessagesSince(ctx, sessionID, since)
		if err != nil {
			return nil, err
		}
		if len(messages) > 0 {
			return messages, nil
		}

		wake := s.notify.subscribe(sessionID)

		// Re-check after subscribing: an append between the first read and
		// the subscription would otherwise be missed until the next one.
		messages, err = s.store.MessagesSince(ctx, sessionID, since)
		if err != nil {
			return nil, err
		}
		if len(messages) > 0 {
			return messages, nil
		}

		select {
		case <-wake:
		case <-deadline.C:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
