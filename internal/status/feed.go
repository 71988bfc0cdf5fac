package status

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"pixelstreamer/native/internal/domain"
	"pixelstreamer/native/internal/logging"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	feedBuffer   = 64
	pingInterval = 15 * time.Second
	writeTimeout = 5 * time.Second
)

// Commander executes presentation-layer commands. Implementations must return
// promptly; long work belongs on their own goroutines.
type Commander interface {
	GenerateCode()
	DeleteCode()
	ToggleDevice(kind domain.MediaKind)
}

// message is the envelope for everything sent over the feed.
type message struct {
	Type     string    `json:"type"`
	Event    *Event    `json:"event,omitempty"`
	Snapshot *Snapshot `json:"snapshot,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// command is what the presentation layer sends.
type command struct {
	Command string `json:"command"`
	Kind    string `json:"kind,omitempty"`
}

// FeedServer exposes the hub over WebSocket and accepts UI commands.
type FeedServer struct {
	hub      *Hub
	cmd      Commander
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

// NewFeedServer creates a WebSocket handler bound to hub and cmd.
func NewFeedServer(hub *Hub, cmd Commander) *FeedServer {
	return &FeedServer{
		hub: hub,
		cmd: cmd,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: logging.Component("status"),
	}
}

// Handler returns the HTTP mux serving /ws and /status.
func (s *FeedServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWS)
	mux.HandleFunc("/status", s.serveSnapshot)
	return mux
}

func (s *FeedServer) serveSnapshot(w http.ResponseWriter, r *http.Request) {
	snap := s.hub.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snap)
}

type feedClient struct {
	id     string
	conn   *websocket.Conn
	events chan Event
	stale  atomic.Bool
	closed chan struct{}
	once   sync.Once
	mu     sync.Mutex
}

func (c *feedClient) close() {
	c.once.Do(func() {
		close(c.closed)
		c.conn.Close()
	})
}

func (s *FeedServer) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade")
		return
	}

	c := &feedClient{
		id:     uuid.NewString(),
		conn:   conn,
		events: make(chan Event, feedBuffer),
		closed: make(chan struct{}),
	}
	s.log.Info().Str("client", c.id).Str("remote", r.RemoteAddr).Msg("feed client connected")

	s.hub.Subscribe(c.id, func(ev Event) {
		select {
		case c.events <- ev:
		default:
			// Slow reader: drop and resync from the snapshot.
			c.stale.Store(true)
		}
	})

	snap := s.hub.Snapshot()
	s.write(c, message{Type: "snapshot", Snapshot: &snap})

	go s.writeLoop(c)
	go s.pingLoop(c)
	s.readLoop(c)

	s.hub.Unsubscribe(c.id)
	c.close()
	s.log.Info().Str("client", c.id).Msg("feed client disconnected")
}

func (s *FeedServer) write(c *feedClient, msg message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteJSON(msg); err != nil {
		select {
		case <-c.closed:
		default:
			s.log.Debug().Err(err).Str("client", c.id).Msg("feed write")
		}
		return false
	}
	return true
}

func (s *FeedServer) writeLoop(c *feedClient) {
	defer c.close()

	for {
		select {
		case <-c.closed:
			return
		case ev := <-c.events:
			if c.stale.Swap(false) {
				snap := s.hub.Snapshot()
				if !s.write(c, message{Type: "snapshot", Snapshot: &snap}) {
					return
				}
				continue
			}
			if !s.write(c, message{Type: "event", Event: &ev}) {
				return
			}
		}
	}
}

func (s *FeedServer) pingLoop(c *feedClient) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.mu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeTimeout))
			c.mu.Unlock()
			if err != nil {
				c.close()
				return
			}
		}
	}
}

func (s *FeedServer) readLoop(c *feedClient) {
	for {
		var cmd command
		if err := c.conn.ReadJSON(&cmd); err != nil {
			select {
			case <-c.closed:
			default:
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.log.Debug().Err(err).Str("client", c.id).Msg("feed read")
				}
			}
			return
		}
		s.dispatch(c, cmd)
	}
}

func (s *FeedServer) dispatch(c *feedClient, cmd command) {
	s.log.Debug().Str("client", c.id).Str("command", cmd.Command).Str("kind", cmd.Kind).Msg("command")

	switch cmd.Command {
	case "generate":
		s.cmd.GenerateCode()
	case "delete":
		s.cmd.DeleteCode()
	case "toggle":
		kind, ok := domain.ParseMediaKind(cmd.Kind)
		if !ok {
			s.write(c, message{Type: "error", Error: "unknown device kind: " + cmd.Kind})
			return
		}
		s.cmd.ToggleDevice(kind)
	default:
		s.write(c, message{Type: "error", Error: "unknown command: " + cmd.Command})
	}
}
