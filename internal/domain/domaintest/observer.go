package domaintest

import (
	"sync"

	"pixelstreamer/native/internal/domain"
)

// Observer records every notification in order.
type Observer struct {
	mu sync.Mutex

	States    []domain.ConnectionState
	Requested int
	Issued    []domain.PairingCode
	Revoked   []domain.PairingCode
	Failed    []error
	Exhausted []domain.PairingCode
	Warnings  []error
	Toggles   map[domain.MediaKind]bool
}

func (o *Observer) OnConnectionState(state domain.ConnectionState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.States = append(o.States, state)
}

func (o *Observer) OnCodeRequested() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Requested++
}

func (o *Observer) OnCodeIssued(code domain.PairingCode) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Issued = append(o.Issued, code)
}

func (o *Observer) OnCodeRevoked(code domain.PairingCode) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Revoked = append(o.Revoked, code)
}

func (o *Observer) OnCodeFailed(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Failed = append(o.Failed, err)
}

func (o *Observer) OnPollExhausted(code domain.PairingCode) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Exhausted = append(o.Exhausted, code)
}

func (o *Observer) OnWarning(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Warnings = append(o.Warnings, err)
}

func (o *Observer) OnDeviceToggled(kind domain.MediaKind, enabled bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.Toggles == nil {
		o.Toggles = make(map[domain.MediaKind]bool)
	}
	o.Toggles[kind] = enabled
}

// StateLog returns a copy of the observed connection states.
func (o *Observer) StateLog() []domain.ConnectionState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]domain.ConnectionState(nil), o.States...)
}

// WarningCount returns how many warnings were reported.
func (o *Observer) WarningCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.Warnings)
}

// RevokedCodes returns the values of revoked codes.
func (o *Observer) RevokedCodes() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, 0, len(o.Revoked))
	for _, c := range o.Revoked {
		out = append(out, c.Value)
	}
	return out
}
