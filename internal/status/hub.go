// Package status fans lifecycle notifications out to the presentation layer.
package status

import (
	"sync"
	"sync/atomic"
	"time"

	"pixelstreamer/native/internal/domain"
	"pixelstreamer/native/internal/logging"

	"github.com/rs/zerolog"
)

// EventType names a notification on the status feed.
type EventType string

const (
	EventCodeRequested   EventType = "code_requested"
	EventCodeIssued      EventType = "code_issued"
	EventCodeRevoked     EventType = "code_revoked"
	EventCodeFailed      EventType = "code_failed"
	EventPollExhausted   EventType = "poll_exhausted"
	EventConnectionState EventType = "connection_state"
	EventWarning         EventType = "warning"
	EventDeviceToggled   EventType = "device_toggled"
)

// Event is one notification, delivered verbatim to every subscriber.
type Event struct {
	Type    EventType               `json:"type"`
	Code    string                  `json:"code,omitempty"`
	State   *domain.ConnectionState `json:"state,omitempty"`
	Kind    *domain.MediaKind       `json:"kind,omitempty"`
	Enabled *bool                   `json:"enabled,omitempty"`
	Message string                  `json:"message,omitempty"`
	At      time.Time               `json:"at"`
}

// Snapshot is the latest observed value of everything the UI displays.
type Snapshot struct {
	CodeLifecycle       domain.Lifecycle       `json:"codeLifecycle"`
	Code                string                 `json:"code,omitempty"`
	CodeText            string                 `json:"codeText"`
	ConnectionLifecycle domain.Lifecycle       `json:"connectionLifecycle"`
	State               domain.ConnectionState `json:"state"`
	VideoEnabled        bool                   `json:"videoEnabled"`
	AudioEnabled        bool                   `json:"audioEnabled"`
	LastWarning         string                 `json:"lastWarning,omitempty"`
}

// EventHandler receives events. Handlers must not block.
type EventHandler func(Event)

// Hub implements domain.StatusObserver. Events are delivered to subscribers
// in publish order; the hub itself only remembers the latest snapshot.
type Hub struct {
	// pubMu serializes publishers so subscribers see one total order.
	pubMu sync.Mutex

	subscribers map[string]EventHandler
	subMu       sync.RWMutex

	snap atomic.Pointer[Snapshot]
	now  func() time.Time
	log  zerolog.Logger
}

// NewHub creates a hub with both devices enabled.
func NewHub() *Hub {
	h := &Hub{
		subscribers: make(map[string]EventHandler),
		now:         time.Now,
		log:         logging.Component("status"),
	}
	h.snap.Store(&Snapshot{
		VideoEnabled: true,
		AudioEnabled: true,
	})
	return h
}

// Subscribe registers an event subscriber under id, replacing any previous one.
func (h *Hub) Subscribe(id string, handler EventHandler) {
	h.subMu.Lock()
	defer h.subMu.Unlock()
	h.subscribers[id] = handler
}

// Unsubscribe removes an event subscriber.
func (h *Hub) Unsubscribe(id string) {
	h.subMu.Lock()
	defer h.subMu.Unlock()
	delete(h.subscribers, id)
}

// Snapshot returns the latest display state. The returned value is a copy.
func (h *Hub) Snapshot() Snapshot {
	return *h.snap.Load()
}

func (h *Hub) OnCodeRequested() {
	h.publish(Event{Type: EventCodeRequested}, func(s *Snapshot) {
		s.CodeLifecycle = domain.LifecycleInProgress
		s.Code = ""
		s.CodeText = ""
	})
}

func (h *Hub) OnCodeIssued(code domain.PairingCode) {
	h.publish(Event{Type: EventCodeIssued, Code: code.Value}, func(s *Snapshot) {
		s.CodeLifecycle = domain.LifecycleActive
		s.Code = code.Value
		s.CodeText = code.Value
	})
}

func (h *Hub) OnCodeRevoked(code domain.PairingCode) {
	h.publish(Event{Type: EventCodeRevoked, Code: code.Value}, func(s *Snapshot) {
		if s.Code != code.Value {
			return
		}
		s.CodeLifecycle = domain.LifecycleNever
		s.Code = ""
		s.CodeText = ""
	})
}

func (h *Hub) OnCodeFailed(err error) {
	h.publish(Event{Type: EventCodeFailed, Message: errText(err)}, func(s *Snapshot) {
		s.CodeLifecycle = domain.LifecycleFailed
		s.Code = ""
		s.CodeText = domain.GenerationFailedText
	})
}

func (h *Hub) OnPollExhausted(code domain.PairingCode) {
	h.publish(Event{Type: EventPollExhausted, Code: code.Value}, func(s *Snapshot) {
		s.ConnectionLifecycle = domain.LifecycleFailed
	})
}

func (h *Hub) OnConnectionState(state domain.ConnectionState) {
	st := state
	h.publish(Event{Type: EventConnectionState, State: &st}, func(s *Snapshot) {
		s.State = state
		s.ConnectionLifecycle = domain.ConnectionLifecycle(state)
	})
}

func (h *Hub) OnWarning(err error) {
	msg := errText(err)
	h.publish(Event{Type: EventWarning, Message: msg}, func(s *Snapshot) {
		s.LastWarning = msg
	})
}

func (h *Hub) OnDeviceToggled(kind domain.MediaKind, enabled bool) {
	k, e := kind, enabled
	h.publish(Event{Type: EventDeviceToggled, Kind: &k, Enabled: &e}, func(s *Snapshot) {
		switch kind {
		case domain.KindVideo:
			s.VideoEnabled = enabled
		case domain.KindAudio:
			s.AudioEnabled = enabled
		}
	})
}

func (h *Hub) publish(ev Event, update func(*Snapshot)) {
	h.pubMu.Lock()
	defer h.pubMu.Unlock()

	next := *h.snap.Load()
	update(&next)
	h.snap.Store(&next)

	ev.At = h.now()
	h.log.Debug().Str("event", string(ev.Type)).Str("code", ev.Code).Str("detail", ev.Message).Msg("publish")

	h.subMu.RLock()
	defer h.subMu.RUnlock()
	for _, handler := range h.subscribers {
		handler(ev)
	}
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
