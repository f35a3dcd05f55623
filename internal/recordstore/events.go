package recordstore

import (
	"time"

	"go.uber.org/zap"
)

type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// ChangeEvent describes one committed mutation. Seq increases by one per
// event and survives restarts of durable backends.
type ChangeEvent struct {
	Seq        uint64    `json:"seq"`
	Collection string    `json:"collection"`
	Action     Action    `json:"action"`
	RecordID   string    `json:"recordId"`
	At         time.Time `json:"at"`
}

func (s *Store) eventLocked(collection string, action Action, id string) ChangeEvent {
	s.eventCounter++
	return ChangeEvent{
		Seq:        s.eventCounter,
		Collection: collection,
		Action:     action,
		RecordID:   id,
		At:         s.now().UTC(),
	}
}

// Subscribe registers a listener for change events. The returned cancel
// func closes the channel. A subscriber whose buffer is full misses events
// rather than blocking writers.
func (s *Store) Subscribe() (<-chan ChangeEvent, func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.nextSubID++
	id := s.nextSubID
	ch := make(chan ChangeEvent, s.eventBuffer)
	s.subscribers[id] = ch
	return ch, func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if existing, ok := s.subscribers[id]; ok {
			close(existing)
			delete(s.subscribers, id)
		}
	}
}

func (s *Store) publish(events []ChangeEvent) {
	if len(events) == 0 {
		return
	}
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for id, ch := range s.subscribers {
		for _, evt := range events {
			select {
			case ch <- evt:
			default:
				s.dropped++
				s.logger.Warn("dropping change event for slow subscriber",
					zap.Uint64("subscriber", id),
					zap.Uint64("seq", evt.Seq))
			}
		}
	}
}

// Dropped reports how many events were discarded for slow subscribers.
func (s *Store) Dropped() uint64 {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	return s.dropped
}

// Subscribers reports the number of open subscriptions.
func (s *Store) Subscribers() int {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	return len(s.subscribers)
}
