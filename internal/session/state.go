package session

import (
	"time"

	"github.com/srg/zonelog/internal/metric"
)

// State is the connection-lifecycle state of one session. A session owns
// its State exclusively; other goroutines observe it through Session.State.
type State int32

const (
	StateDiscovering State = iota
	StateConnecting
	StateSubscribing
	StateStreaming
	StateDisconnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDiscovering:
		return "discovering"
	case StateConnecting:
		return "connecting"
	case StateSubscribing:
		return "subscribing"
	case StateStreaming:
		return "streaming"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Transition is reported to the supervisor on every state change. A
// report with From == To == StateDiscovering is the periodic "still
// searching" liveness signal.
type Transition struct {
	Family   metric.Family
	Device   metric.DeviceIdentity
	From, To State
	Err      error
	// Attempts is the diagnostic reconnection counter at report time.
	Attempts uint64
	At       time.Time
}
