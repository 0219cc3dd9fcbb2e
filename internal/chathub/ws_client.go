package chathub

import (
	"encoding/json"
	"sync"
	"time"

	"carelink/backend/internal/models"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 32768
	sendBuffer     = 256
)

// ClientOptions tunes the pumps. Zero values fall back to the defaults above.
type ClientOptions struct {
	WriteWait  time.Duration
	PongWait   time.Duration
	PingPeriod time.Duration
	ReadLimit  int64
	SendBuffer int
}

func (o ClientOptions) withDefaults() ClientOptions {
	if o.WriteWait <= 0 {
		o.WriteWait = writeWait
	}
	if o.PongWait <= 0 {
		o.PongWait = pongWait
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = (o.PongWait * 9) / 10
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = maxMessageSize
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = sendBuffer
	}
	return o
}

// WebSocketClient implements Client over a gorilla/websocket connection.
type WebSocketClient struct {
	UserID   string
	Role     models.Role
	UserName string
	Conn     *websocket.Conn
	Hub      *ManagerService

	opts ClientOptions
	send chan models.Event

	mu     sync.RWMutex
	closed bool
}

func NewWebSocketClient(hub *ManagerService, conn *websocket.Conn, userID string, role models.Role, name string, opts ClientOptions) *WebSocketClient {
	opts = opts.withDefaults()
	return &WebSocketClient{
		UserID:   userID,
		Role:     role,
		UserName: name,
		Conn:     conn,
		Hub:      hub,
		opts:     opts,
		send:     make(chan models.Event, opts.SendBuffer),
	}
}

func (c *WebSocketClient) GetUserID() string    { return c.UserID }
func (c *WebSocketClient) GetRole() models.Role { return c.Role }
func (c *WebSocketClient) GetUserName() string  { return c.UserName }

func (c *WebSocketClient) TrySend(ev models.Event) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClientClosed
	}
	select {
	case c.send <- ev:
		return nil
	default:
		return ErrBackpressure
	}
}

// Run starts the pumps.
func (c *WebSocketClient) Run() {
	go c.writePump()
	go c.readPump()
}

// Close closes the send channel, which makes writePump close the socket.
func (c *WebSocketClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *WebSocketClient) readPump() {
	defer func() {
		c.Hub.Disconnect(c)
		c.Close()
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.opts.ReadLimit)
	c.Conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Hub.Heartbeat(c)
		return c.Conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Str("module", "chathub.ws").Str("user", c.UserID).Err(err).Msg("read error")
			}
			break
		}

		var ev models.Event
		if err := json.Unmarshal(message, &ev); err != nil || ev.Name == "" {
			log.Debug().Str("module", "chathub.ws").Str("user", c.UserID).Msg("undecodable frame")
			c.Hub.sendError(c, "Invalid payload")
			continue
		}
		c.Hub.HandleEvent(c, ev)
	}
}

// writePump writes one JSON text frame per event and pings on every tick.
func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(c.opts.PingPeriod)

	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteJSON(ev); err != nil {
				log.Debug().Str("module", "chathub.ws").Str("user", c.UserID).Err(err).Msg("write error")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
