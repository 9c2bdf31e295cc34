package session

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/lox/gaspvt/internal/pvterr"
)

// historySize bounds the notifications kept for late subscribers.
const historySize = 100

// Notification is a user-facing message about a failure. Row is -1 for
// failures that concern the whole calculation.
type Notification struct {
	Time    time.Time `json:"time"`
	Kind    string    `json:"kind"`
	Row     int       `json:"row"`
	Stage   string    `json:"stage,omitempty"`
	Message string    `json:"message"`
}

type hub struct {
	mu      sync.Mutex
	subs    map[chan Notification]struct{}
	history []Notification
}

func newHub() *hub {
	return &hub{subs: make(map[chan Notification]struct{})}
}

func (h *hub) publish(n Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.history = append(h.history, n)
	if len(h.history) > historySize {
		h.history = h.history[len(h.history)-historySize:]
	}
	for ch := range h.subs {
		select {
		case ch <- n:
		default:
			// Slow subscriber; it can catch up from History.
		}
	}
}

func (h *hub) subscribe() (<-chan Notification, func()) {
	ch := make(chan Notification, 16)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *hub) snapshot() []Notification {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Notification, len(h.history))
	copy(out, h.history)
	return out
}

// Subscribe streams notifications until the returned cancel func is called.
func (s *Session) Subscribe() (<-chan Notification, func()) {
	return s.events.subscribe()
}

// Notifications returns the most recent notifications, oldest first.
func (s *Session) Notifications() []Notification {
	return s.events.snapshot()
}

func (s *Session) report(err error, row int, stage string) {
	n := Notification{
		Time:    time.Now(),
		Kind:    pvterr.KindOf(err).String(),
		Row:     row,
		Stage:   stage,
		Message: err.Error(),
	}
	fields := log.Fields{"session": s.ID, "kind": n.Kind}
	if row >= 0 {
		fields["row"] = row
	}
	if stage != "" {
		fields["stage"] = stage
	}
	log.WithFields(fields).Warn(n.Message)
	s.events.publish(n)
}
