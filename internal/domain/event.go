package domain

import "context"

type EventName string

const (
	EventPlaylistsUpdated        EventName = "playlistsUpdated"
	EventPlaylistInfoUpdated     EventName = "playlistInfoUpdated"
	EventPlaylistContentsUpdated EventName = "playlistContentsUpdated"
	EventBlacklistUpdated        EventName = "blacklistUpdated"
	EventWhitelistUpdated        EventName = "whitelistUpdated"
	EventQuotaAvailableUpdated   EventName = "quotaAvailableUpdated"
)

// Event is a change notification. Payload is the playlist id or the
// username depending on Name.
type Event struct {
	Name    EventName `json:"event"`
	Payload string    `json:"payload,omitempty"`
}

// Notifier delivers events to external listeners. Delivery is best effort.
type Notifier interface {
	Emit(ctx context.Context, ev Event) error
}

// EventSet collects events during a unit of work, dropping duplicates while
// keeping first-seen order.
type EventSet struct {
	events []Event
	seen   map[Event]struct{}
}

func (s *EventSet) Add(name EventName, payload string) {
	ev := Event{Name: name, Payload: payload}
	if s.seen == nil {
		s.seen = make(map[Event]struct{})
	}
	if _, ok := s.seen[ev]; ok {
		return
	}
	s.seen[ev] = struct{}{}
	s.events = append(s.events, ev)
}

func (s *EventSet) Events() []Event {
	return s.events
}

func (s *EventSet) Reset() {
	s.events = nil
	s.seen = nil
}
