package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/chatproxy/internal/tracing"
	"github.com/harun/chatproxy/pkg/chat"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// handleWebSocket upgrades the connection and serves chat turns, one per
// inbound frame, in order.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown() {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}
	conn.SetReadLimit(s.maxFrameBytes())

	clientID, err := gonanoid.New()
	if err != nil {
		clientID = tracing.NewTraceID()
	}

	ip := clientAddress(r)
	var limiter *ClientRateLimiter
	if s.limiters != nil {
		limiter = s.limiters.Get(ip)
	}

	client := &Client{
		ID:           clientID,
		Conn:         conn,
		ConnectedAt:  time.Now(),
		LastActivity: time.Now(),
		IPAddress:    ip,
		RateLimiter:  limiter,
	}
	s.clients.Add(client)

	s.logger.Info().
		Str("clientId", clientID).
		Str("ip", ip).
		Msg("Client connected")

	ctx, cancel := context.WithCancel(tracing.WithClientID(context.WithoutCancel(r.Context()), clientID))
	s.handleClient(ctx, cancel, client)
}

// handleClient reads frames until the connection closes. The session id is
// sticky: a frame without one continues the client's last session.
func (s *Server) handleClient(ctx context.Context, cancel context.CancelFunc, client *Client) {
	defer func() {
		cancel()
		client.Conn.Close()
		s.clients.Remove(client.ID)
		s.logger.Info().Str("clientId", client.ID).Msg("Client disconnected")
	}()

	var sessionID string
	for {
		_, message, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Error().Err(err).Str("clientId", client.ID).Msg("WebSocket error")
			}
			return
		}

		s.clients.UpdateActivity(client.ID, "")

		req, err := s.decodeChatRequest(message)
		if err != nil {
			s.sendFrame(client, Frame{Type: EventError, Error: err.Error(), SessionID: sessionID})
			continue
		}
		if req.SessionID == "" {
			req.SessionID = sessionID
		}

		if id, ok := s.serveFrame(ctx, client, req); ok {
			sessionID = id
			s.clients.UpdateActivity(client.ID, id)
		}
	}
}

// serveFrame runs one turn and reports the session it used.
func (s *Server) serveFrame(ctx context.Context, client *Client, req ChatRequest) (string, bool) {
	if !s.enter() {
		s.sendFrame(client, Frame{Type: EventError, Error: "server is shutting down"})
		return "", false
	}
	defer s.inFlightReqs.Done()

	if client.RateLimiter != nil {
		if ok, reason := client.RateLimiter.Acquire(); !ok {
			s.sendFrame(client, Frame{Type: EventError, Error: reason, Kind: "rate_limit", SessionID: req.SessionID})
			return "", false
		}
		defer client.RateLimiter.RecordRequestEnd()
	}

	ctx = tracing.NewRequestContext(ctx)
	logger := tracing.LoggerFromContext(ctx, s.logger)

	result, err := s.chat.SubmitTurn(ctx, chat.TurnRequest{
		SessionID: req.SessionID,
		Message:   req.Message,
		Streaming: req.EnableStreaming,
	})
	if err != nil {
		_, resp := errorResponse(err)
		frame := Frame{Type: EventError, Error: resp.Error, Kind: resp.Kind}
		if result != nil {
			frame.SessionID = result.SessionID
		}
		logger.Warn().Err(err).Msg("WebSocket turn failed")
		s.sendFrame(client, frame)
		if result != nil {
			return result.SessionID, true
		}
		return "", false
	}

	if result.Stream == nil {
		s.sendFrame(client, Frame{Type: EventResponse, SessionID: result.SessionID, Content: result.Reply})
		return result.SessionID, true
	}

	stream := result.Stream
	defer stream.Close()

	if !s.sendFrame(client, Frame{Type: EventSession, SessionID: result.SessionID}) {
		return result.SessionID, true
	}
	for fragment, err := range stream.Fragments() {
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return result.SessionID, true
			}
			_, resp := errorResponse(err)
			s.sendFrame(client, Frame{Type: EventError, SessionID: result.SessionID, Error: resp.Error, Kind: resp.Kind})
			return result.SessionID, true
		}
		if !s.sendFrame(client, Frame{Type: EventToken, SessionID: result.SessionID, Content: fragment}) {
			return result.SessionID, true
		}
	}
	if stream.Committed() {
		s.sendFrame(client, Frame{Type: EventDone, SessionID: result.SessionID})
	}
	return result.SessionID, true
}

func (s *Server) sendFrame(client *Client, f Frame) bool {
	if err := client.WriteFrame(f); err != nil {
		s.logger.Debug().Err(err).Str("clientId", client.ID).Msg("Failed to send frame")
		return false
	}
	return true
}
