package queue

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/connect-cards/constants"
)

type EventType string

const (
	EventEnqueued      EventType = "enqueued"
	EventStatusChanged EventType = "status_changed"
	EventRetried       EventType = "retried"
	EventRemoved       EventType = "removed"
	EventReset         EventType = "reset"
)

// Event describes one queue mutation. ItemID is zero for EventReset.
type Event struct {
	Type   EventType
	ItemID uuid.UUID
	From   constants.QueueStatus
	Status constants.QueueStatus
	Err    *ItemError
	At     time.Time
}

// Settled reports whether the event moved an item to complete, duplicate or failed.
func (e Event) Settled() bool {
	return e.Type == EventStatusChanged &&
		(e.Status.IsTerminal() || e.Status == constants.StatusFailed)
}

// Subscriber receives events after the mutation is visible through the Manager.
type Subscriber func(Event)

func (m *Manager) Subscribe(fn Subscriber) (unsubscribe func()) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	return func() {
		m.subMu.Lock()
		delete(m.subs, id)
		m.subMu.Unlock()
	}
}

func (m *Manager) publish(events ...Event) {
	if len(events) == 0 {
		return
	}
	m.subMu.RLock()
	subs := make([]Subscriber, 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.subMu.RUnlock()

	for _, ev := range events {
		for _, fn := range subs {
			m.deliver(fn, ev)
		}
	}
}

func (m *Manager) deliver(fn Subscriber, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("queue.subscriber.panic", "event", ev.Type, "item_id", ev.ItemID, "panic", r)
		}
	}()
	fn(ev)
}
