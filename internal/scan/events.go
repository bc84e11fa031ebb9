package scan

import (
	"time"

	"github.com/cyberguard/cyberguard/internal/models"
)

// EventType identifies a scan lifecycle transition.
type EventType string

// Event types.
const (
	EventCreated   EventType = "created"
	EventProgress  EventType = "progress"
	EventCompleted EventType = "completed"
)

// Event describes one transition of a scan.
type Event struct {
	Type EventType
	Scan models.ScanResult
	At   time.Time
}

// Observer receives scan events. Observers are called synchronously from
// the goroutine that caused the transition and must not block.
type Observer interface {
	ScanEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// ScanEvent implements Observer.
func (f ObserverFunc) ScanEvent(e Event) { f(e) }
