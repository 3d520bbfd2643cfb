package discovery

import (
	"fmt"
	"time"
)

type EventKind int

const (
	EventBeat EventKind = iota
	EventFailure
	EventRetry
	EventReregistered
	EventStopped
)

func (k EventKind) String() string {
	switch k {
	case EventBeat:
		return "beat"
	case EventFailure:
		return "failure"
	case EventRetry:
		return "retry"
	case EventReregistered:
		return "reregistered"
	case EventStopped:
		return "stopped"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event reports something that happened in a heartbeat loop.
type Event struct {
	Kind    EventKind
	ID      string
	At      time.Time
	Err     error
	Attempt int           // retry events: attempts made so far
	Delay   time.Duration // retry events: wait before the next attempt
}
