package domain

import "time"

// PairingCode is an opaque short token issued by the relay.
type PairingCode struct {
	Value    string
	IssuedAt time.Time
}

func (c PairingCode) String() string {
	return c.Value
}

// IsZero reports whether no code has been issued.
func (c PairingCode) IsZero() bool {
	return c.Value == ""
}
