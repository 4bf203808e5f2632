package fakeauthority

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	dto "github.com/park285/skyquest-client/pkg/skyquestdto"
)

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type hubClient struct {
	conn      *websocket.Conn
	sessionID string
	out       chan []byte
	done      chan struct{}
}

// Hub is the push side of the fake authority. Clients attach over /ws and
// may name their session in the query string or with a register envelope.
type Hub struct {
	mu      sync.Mutex
	clients map[*hubClient]struct{}
	logger  *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{clients: make(map[*hubClient]struct{}), logger: logger}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		h.logger.Warn("hub_accept_failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	c := &hubClient{
		conn:      conn,
		sessionID: r.URL.Query().Get("sessionId"),
		out:       make(chan []byte, 32),
		done:      make(chan struct{}),
	}
	h.add(c)
	defer h.remove(c)

	ctx := r.Context()
	go h.writeLoop(ctx, c)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		if env.Type == dto.FeedRegister {
			var p dto.RegisterPayload
			if err := json.Unmarshal(env.Payload, &p); err == nil && p.SessionID != "" {
				h.mu.Lock()
				c.sessionID = p.SessionID
				h.mu.Unlock()
				h.logger.Debug("hub_registered", zap.String("session_id", p.SessionID))
			}
		}
	}
}

func (h *Hub) writeLoop(ctx context.Context, c *hubClient) {
	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		case msg := <-c.out:
			wctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := c.conn.Write(wctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (h *Hub) add(c *hubClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("hub_client_joined", zap.String("session_id", c.sessionID), zap.Int("clients", n))
}

func (h *Hub) remove(c *hubClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.done)
	}
	h.mu.Unlock()
}

func encode(typ string, payload any) ([]byte, error) {
	env := envelope{Type: typ}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}

// Broadcast queues an envelope for every client and returns how many were
// reached. Slow clients drop messages instead of blocking the hub.
func (h *Hub) Broadcast(typ string, payload any) (int, error) {
	return h.send(func(*hubClient) bool { return true }, typ, payload)
}

// SendTo queues an envelope for clients registered with sessionID.
func (h *Hub) SendTo(sessionID, typ string, payload any) (int, error) {
	return h.send(func(c *hubClient) bool { return c.sessionID == sessionID }, typ, payload)
}

// SendRaw queues data verbatim to every client.
func (h *Hub) SendRaw(data []byte) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for c := range h.clients {
		select {
		case c.out <- data:
			n++
		default:
		}
	}
	return n
}

func (h *Hub) send(match func(*hubClient) bool, typ string, payload any) (int, error) {
	msg, err := encode(typ, payload)
	if err != nil {
		return 0, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for c := range h.clients {
		if !match(c) {
			continue
		}
		select {
		case c.out <- msg:
			n++
		default:
			h.logger.Warn("hub_client_slow", zap.String("session_id", c.sessionID), zap.String("type", typ))
		}
	}
	return n, nil
}

// Clients reports the number of attached clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Registered reports whether any client is attached for sessionID.
func (h *Hub) Registered(sessionID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.sessionID == sessionID {
			return true
		}
	}
	return false
}

// DropAll closes every connection as a restarting server would.
func (h *Hub) DropAll() int {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c.conn)
	}
	h.mu.Unlock()
	for _, conn := range conns {
		_ = conn.Close(websocket.StatusGoingAway, "server restart")
	}
	return len(conns)
}
