// Package projection builds the local timeline of one conversation.
// Handles ordering and deduplication.
// Does not talk to the network or to the UI.
package projection

import (
	"konnekt-chat/domain"
)

// Timeline holds the messages of one conversation in arrival order.
// It is not safe for concurrent use; the owning session serializes access.
//
// The history is authoritative and kept exactly as returned. A live message
// is dropped only when it repeats a message already known: by server id, or,
// without one, by content against a history entry not matched yet.
type Timeline struct {
	ChatID   string
	messages []domain.Message
	ids      map[string]struct{}
	// unmatched counts id-less history entries per identity that no live
	// message has been matched against yet
	unmatched map[string]int
}

func NewTimeline(chatID string) *Timeline {
	return &Timeline{
		ChatID:    chatID,
		ids:       make(map[string]struct{}),
		unmatched: make(map[string]int),
	}
}

// Replace swaps the whole list for msgs, typically a history page.
func (t *Timeline) Replace(msgs []domain.Message) {
	t.messages = append([]domain.Message{}, msgs...)
	t.ids = make(map[string]struct{}, len(msgs))
	t.unmatched = make(map[string]int)
	for _, m := range msgs {
		if m.ID != "" {
			t.ids[m.ID] = struct{}{}
			continue
		}
		t.unmatched[m.Identity()]++
	}
}

// Append adds msg at the end unless it repeats a known message.
// It reports whether msg was added.
func (t *Timeline) Append(msg domain.Message) bool {
	if msg.ID != "" {
		if _, ok := t.ids[msg.ID]; ok {
			return false
		}
		t.ids[msg.ID] = struct{}{}
	} else if key := msg.Identity(); t.unmatched[key] > 0 {
		t.unmatched[key]--
		return false
	}
	t.messages = append(t.messages, msg)
	return true
}

// Contains reports whether a message with the same server id, or without
// one the same content, is in the list.
func (t *Timeline) Contains(msg domain.Message) bool {
	if msg.ID != "" {
		_, ok := t.ids[msg.ID]
		return ok
	}
	key := msg.Identity()
	for _, m := range t.messages {
		if m.ID == "" && m.Identity() == key {
			return true
		}
	}
	return false
}

func (t *Timeline) Len() int {
	return len(t.messages)
}

// Messages returns a copy; callers may keep it.
func (t *Timeline) Messages() []domain.Message {
	return append([]domain.Message{}, t.messages...)
}
