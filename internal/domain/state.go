package domain

import "fmt"

// ConnectionState is the lifecycle state of one negotiated session.
type ConnectionState int

const (
	StateIdle ConnectionState = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateFailed
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the session can no longer recover on its own.
func (s ConnectionState) Terminal() bool {
	return s == StateFailed || s == StateClosed
}

// MarshalText renders the state by name in JSON status events.
func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Lifecycle is the coarse progress of either the code or the connection, as
// shown by the presentation layer.
type Lifecycle int

const (
	LifecycleNever Lifecycle = iota
	LifecycleInProgress
	LifecycleActive
	LifecycleFailed
)

func (l Lifecycle) String() string {
	switch l {
	case LifecycleNever:
		return "never"
	case LifecycleInProgress:
		return "in_progress"
	case LifecycleActive:
		return "active"
	case LifecycleFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (l Lifecycle) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// ConnectionLifecycle folds a ConnectionState into its display lifecycle.
func ConnectionLifecycle(s ConnectionState) Lifecycle {
	switch s {
	case StateIdle:
		return LifecycleNever
	case StateConnecting:
		return LifecycleInProgress
	case StateConnected:
		return LifecycleActive
	default:
		return LifecycleFailed
	}
}

func (s *ConnectionState) UnmarshalText(b []byte) error {
	for c := StateIdle; c <= StateClosed; c++ {
		if c.String() == string(b) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown connection state %q", b)
}

func (l *Lifecycle) UnmarshalText(b []byte) error {
	for c := LifecycleNever; c <= LifecycleFailed; c++ {
		if c.String() == string(b) {
			*l = c
			return nil
		}
	}
	return fmt.Errorf("unknown lifecycle %q", b)
}
