package web

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/marlapps/marlapps/internal/update"
)

// shellEvent is one message pushed to connected shell contexts.
type shellEvent struct {
	Type   string              `json:"type"` // theme-change, update-state, hello
	Theme  string              `json:"theme,omitempty"`
	Status string              `json:"status,omitempty"`
	Update *update.CheckResult `json:"update,omitempty"`
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     allowWSOrigin,
}

func allowWSOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	originURL, err := url.Parse(origin)
	if err != nil || originURL.Host == "" {
		return false
	}
	return strings.EqualFold(originURL.Host, r.Host)
}

// hub fans shell events out to every connected websocket client. Each
// client gets a buffered outbox and its own writer goroutine; a client
// that stops draining gets dropped rather than blocking the broadcast.
type hub struct {
	mu      sync.Mutex
	clients map[string]chan shellEvent
}

func newHub() *hub {
	return &hub{clients: make(map[string]chan shellEvent)}
}

func (h *hub) register() (id string, outbox chan shellEvent) {
	id = uuid.NewString()
	outbox = make(chan shellEvent, 32)
	h.mu.Lock()
	h.clients[id] = outbox
	h.mu.Unlock()
	return id, outbox
}

func (h *hub) unregister(id string) {
	h.mu.Lock()
	if ch, ok := h.clients[id]; ok {
		delete(h.clients, id)
		close(ch)
	}
	h.mu.Unlock()
}

func (h *hub) broadcast(ev shellEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.clients {
		select {
		case ch <- ev:
		default:
			// Slow client: drop it instead of stalling everyone.
			delete(h.clients, id)
			close(ch)
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.clients {
		delete(h.clients, id)
		close(ch)
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// handleShellWS attaches one shell context to the event hub and greets it
// with the current theme so new contexts render consistently.
func (s *Server) handleShellWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	id, outbox := s.hub.register()
	defer s.hub.unregister(id)
	s.log.Debug("shell context connected", "client", id)

	hello := shellEvent{Type: "hello"}
	if s.cfg.Theme != nil {
		hello.Theme = s.cfg.Theme.Current()
	}
	if err := conn.WriteJSON(hello); err != nil {
		return
	}

	// Reader goroutine: we ignore client payloads but need to notice
	// disconnects.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-outbox:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-done:
			return
		case <-s.baseCtx.Done():
			return
		}
	}
}
