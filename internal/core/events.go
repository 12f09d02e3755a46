package core

import (
	"sync"
)

// Event событие backend -> front-end (например, fs://change).
type Event struct {
	Name    string      `json:"event"`
	Payload interface{} `json:"payload,omitempty"`
}

// EventHub рассылает события всем подписанным транспортам.
type EventHub struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan Event
	buffer int
}

// NewEventHub создает hub с буфером на подписчика.
func NewEventHub(buffer int) *EventHub {
	if buffer <= 0 {
		buffer = 64
	}
	return &EventHub{subs: make(map[int]chan Event), buffer: buffer}
}

// Subscribe возвращает канал событий и функцию отписки.
func (h *EventHub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	ch := make(chan Event, h.buffer)
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Emit отправляет событие без блокировки: медленный подписчик теряет события.
func (h *EventHub) Emit(name string, payload interface{}) {
	ev := Event{Name: name, Payload: payload}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
