package services

import (
	"sync"
	"time"
)

type EventType string

const (
	EventMessage EventType = "message"
	EventRefresh EventType = "refresh"
)

type MessageLevel string

const (
	LevelSuccess MessageLevel = "success"
	LevelError   MessageLevel = "error"
)

// Event is what the UI receives over /api/events. Message events carry
// Level and Text; refresh events carry the affected Paths and Trigger.
type Event struct {
	Type    EventType    `json:"type"`
	Level   MessageLevel `json:"level,omitempty"`
	Text    string       `json:"text,omitempty"`
	Paths   []string     `json:"paths,omitempty"`
	Trigger uint64       `json:"trigger,omitempty"`
	At      time.Time    `json:"at"`
}

// Notifier is the publishing side of EventHub, as used by services.
type Notifier interface {
	Success(text string)
	Error(text string)
	Refresh(paths ...string)
}

const subscriberBuffer = 64

// EventHub fans events out to every subscriber. Slow subscribers drop
// events rather than block publishers.
type EventHub struct {
	mu          sync.Mutex
	nextID      int
	subscribers map[int]chan Event
	trigger     uint64
}

func NewEventHub() *EventHub {
	return &EventHub{subscribers: make(map[int]chan Event)}
}

func (h *EventHub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan Event, subscriberBuffer)
	h.subscribers[id] = ch

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subscribers[id]; ok {
			delete(h.subscribers, id)
			close(sub)
		}
	}
}

func (h *EventHub) Publish(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if event.At.IsZero() {
		event.At = time.Now()
	}
	for _, ch := range h.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

func (h *EventHub) Success(text string) {
	h.Publish(Event{Type: EventMessage, Level: LevelSuccess, Text: text})
}

func (h *EventHub) Error(text string) {
	h.Publish(Event{Type: EventMessage, Level: LevelError, Text: text})
}

// Refresh bumps the refresh trigger and tells listeners which folders to
// reload.
func (h *EventHub) Refresh(paths ...string) {
	h.mu.Lock()
	h.trigger++
	trigger := h.trigger
	h.mu.Unlock()

	h.Publish(Event{Type: EventRefresh, Paths: paths, Trigger: trigger})
}

// Trigger returns the current refresh trigger value.
func (h *EventHub) Trigger() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.trigger
}

type nopNotifier struct{}

func (nopNotifier) Success(string)    {}
func (nopNotifier) Error(string)      {}
func (nopNotifier) Refresh(...string) {}
