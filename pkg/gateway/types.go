package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// SessionHeader carries the session id on requests and responses.
const SessionHeader = "X-Session-Id"

// ChatRequest is the body of POST /chat and of each websocket frame.
type ChatRequest struct {
	Message         string `json:"message"`
	SessionID       string `json:"session_id,omitempty"`
	EnableStreaming bool   `json:"enable_streaming,omitempty"`
}

// ChatResponse is the buffered reply to POST /chat.
type ChatResponse struct {
	Response  string `json:"response"`
	SessionID string `json:"session_id"`
}

// SessionStatusResponse is the body of GET /chat/session/{id}. CreatedAt is
// unix seconds with a fractional part.
type SessionStatusResponse struct {
	SessionID    string  `json:"session_id"`
	MessageCount int     `json:"message_count"`
	CreatedAt    float64 `json:"created_at"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// Stream event and websocket frame types.
const (
	EventSession  = "session"
	EventToken    = "token"
	EventDone     = "done"
	EventResponse = "response"
	EventError    = "error"
)

// Frame is one websocket message sent to a client.
type Frame struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Content   string `json:"content,omitempty"`
	Error     string `json:"error,omitempty"`
	Kind      string `json:"kind,omitempty"`
}

// ClientInfo represents information about a connected client
type ClientInfo struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id,omitempty"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActivity time.Time `json:"last_activity"`
	IPAddress    string    `json:"ip_address"`
	Idle         bool      `json:"idle"`
}

// Client represents a connected WebSocket client
type Client struct {
	ID           string
	Conn         *websocket.Conn
	SessionID    string
	ConnectedAt  time.Time
	LastActivity time.Time
	IPAddress    string
	RateLimiter  *ClientRateLimiter

	writeMu sync.Mutex
}

// WriteFrame serializes writes to the connection.
func (c *Client) WriteFrame(f Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.Conn.WriteJSON(f)
}
