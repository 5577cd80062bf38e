// Package live fans out session events (log lines, order updates, market
// data, status changes) to in-process subscribers such as WebSocket clients
// and gRPC streams.
package live

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Event types emitted on the bus.
const (
	EventLog         = "log"
	EventOrderUpdate = "order_update"
	EventMarketData  = "market_data"
	EventStatus      = "status"
	EventParams      = "params"
	// EventConnection is sent once to a newly connected client.
	EventConnection = "connection_status"
)

// Log levels carried in the type field of a log event.
const (
	LevelInfo    = "info"
	LevelSuccess = "success"
	LevelWarning = "warning"
	LevelError   = "error"
)

// Event is one message on the bus.
type Event struct {
	Type string    `json:"type"`
	Data any       `json:"data"`
	Time time.Time `json:"time"`
}

// LogEntry is the payload of a log event.
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Message   string `json:"message"`
	Type      string `json:"type"`
}

// NewEvent stamps data with the current time.
func NewEvent(typ string, data any) Event {
	return Event{Type: typ, Data: data, Time: time.Now()}
}

// LogEvent builds a log event with an HH:MM:SS timestamp.
func LogEvent(level, msg string, now time.Time) Event {
	return Event{
		Type: EventLog,
		Data: LogEntry{Timestamp: now.Format("15:04:05"), Message: msg, Type: level},
		Time: now,
	}
}

// Publisher accepts events for delivery.
type Publisher interface {
	Publish(Event)
}

type discard struct{}

func (discard) Publish(Event) {}

// Discard is a Publisher that drops every event.
var Discard Publisher = discard{}

// Bus is a non-blocking pub/sub hub. A subscriber whose buffer is full
// misses events rather than stalling the publisher.
type Bus struct {
	mu        sync.Mutex
	nextSubID int
	subs      map[int]chan Event
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Publish delivers evt to every subscriber that has buffer space.
func (b *Bus) Publish(evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			// Slow subscriber, drop event.
		}
	}
}

// Subscribe creates a new subscription channel.
func (b *Bus) Subscribe(bufSize int) (id int, ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id = b.nextSubID
	b.nextSubID++
	c := make(chan Event, bufSize)
	b.subs[id] = c
	return id, c
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		close(ch)
		delete(b.subs, id)
	}
}

// Subscribers returns the number of active subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Notifier writes user-facing messages to both the structured log and the
// bus as log events.
type Notifier struct {
	pub Publisher
	log *slog.Logger
	now func() time.Time
}

// NewNotifier returns a Notifier. A nil pub drops events.
func NewNotifier(pub Publisher, log *slog.Logger) *Notifier {
	if pub == nil {
		pub = Discard
	}
	if log == nil {
		log = slog.Default()
	}
	return &Notifier{pub: pub, log: log, now: time.Now}
}

// Info logs msg at info level and emits an "info" log event.
func (n *Notifier) Info(msg string, args ...any) { n.emit(slog.LevelInfo, LevelInfo, msg, args) }

// Success logs msg at info level and emits a "success" log event.
func (n *Notifier) Success(msg string, args ...any) {
	n.emit(slog.LevelInfo, LevelSuccess, msg, args)
}

// Warn logs msg at warn level and emits a "warning" log event.
func (n *Notifier) Warn(msg string, args ...any) { n.emit(slog.LevelWarn, LevelWarning, msg, args) }

// Error logs msg at error level and emits an "error" log event.
func (n *Notifier) Error(msg string, args ...any) { n.emit(slog.LevelError, LevelError, msg, args) }

func (n *Notifier) emit(lvl slog.Level, eventLevel, msg string, args []any) {
	n.log.Log(context.Background(), lvl, msg, args...)
	n.pub.Publish(LogEvent(eventLevel, msg, n.now()))
}
