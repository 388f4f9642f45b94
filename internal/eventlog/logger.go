// Package eventlog provides unified diagnostics logging for the controller.
// It captures hold events (acquired, silenced, fallback, failure), screen
// signals, and activation-delay events in a JSON lines file, and keeps an
// in-memory tail for the status API.
package eventlog

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// EventType represents the type of event.
type EventType string

// Hold event types.
const (
	HoldAcquired     EventType = "hold_acquired"
	HoldSilenced     EventType = "hold_silenced"
	HoldReleased     EventType = "hold_released"
	StrategyFallback EventType = "strategy_fallback"
	AcquireFailed    EventType = "acquire_failed"
	BackoffWait      EventType = "backoff_wait"
)

// Screen and activation event types.
const (
	ScreenOn       EventType = "screen_on"
	ScreenOff      EventType = "screen_off"
	DelayScheduled EventType = "delay_scheduled"
	DelayCancelled EventType = "delay_cancelled"
	DelayCompleted EventType = "delay_completed"
)

// Controller lifecycle event types.
const (
	ControllerStarted EventType = "controller_started"
	ControllerStopped EventType = "controller_stopped"
)

// Event represents a single log entry with type-specific details.
type Event struct {
	Timestamp time.Time `json:"ts"`
	Type      EventType `json:"type"`
	Message   string    `json:"msg,omitempty"`
	Details   any       `json:"details,omitempty"`
}

// HoldDetails contains hold-specific event details.
type HoldDetails struct {
	Method        string `json:"method,omitempty"`
	DeviceAddress string `json:"device,omitempty"`
	Reason        string `json:"reason,omitempty"`
	Error         string `json:"error,omitempty"`
	WaitMs        int64  `json:"wait_ms,omitempty"`
}

// DelayDetails contains activation-delay event details.
type DelayDetails struct {
	DelayMs    int64  `json:"delay_ms,omitempty"`
	Generation uint64 `json:"generation,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// tailSize is how many recent events are kept in memory for the API.
const tailSize = 200

// Logger writes events to a rotating JSON lines file and keeps a bounded
// in-memory tail. A nil *Logger is valid and discards everything, so
// callers don't need to guard every Log call.
type Logger struct {
	mu      sync.Mutex
	out     io.WriteCloser
	encoder *json.Encoder
	tail    []Event
}

// NewLogger creates an event logger writing to filePath with rotation.
// An empty path keeps only the in-memory tail.
func NewLogger(filePath string) *Logger {
	l := &Logger{}
	if filePath != "" {
		out := &lumberjack.Logger{
			Filename:   filePath,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}
		l.out = out
		l.encoder = json.NewEncoder(out)
	}
	return l
}

// Log records an event.
func (l *Logger) Log(eventType EventType, message string, details any) {
	if l == nil {
		return
	}
	event := Event{
		Timestamp: time.Now(),
		Type:      eventType,
		Message:   message,
		Details:   details,
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.tail = append(l.tail, event)
	if len(l.tail) > tailSize {
		l.tail = l.tail[len(l.tail)-tailSize:]
	}
	if l.encoder != nil {
		_ = l.encoder.Encode(&event)
	}
}

// Recent returns up to limit most recent events, newest last.
func (l *Logger) Recent(limit int) []Event {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if limit <= 0 || limit > len(l.tail) {
		limit = len(l.tail)
	}
	out := make([]Event, limit)
	copy(out, l.tail[len(l.tail)-limit:])
	return out
}

// Close flushes and closes the underlying file.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.out == nil {
		return nil
	}
	err := l.out.Close()
	l.out = nil
	l.encoder = nil
	return err
}
