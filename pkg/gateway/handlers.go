package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/harun/chatproxy/internal/tracing"
	"github.com/harun/chatproxy/pkg/backend"
	"github.com/harun/chatproxy/pkg/chat"
	"github.com/harun/chatproxy/pkg/orchestrator"
	"github.com/harun/chatproxy/pkg/session"
)

// decodeChatRequest reads, schema-checks and decodes a chat request body.
func (s *Server) decodeChatRequest(body []byte) (ChatRequest, error) {
	var req ChatRequest
	if err := s.validator.Validate(body); err != nil {
		return req, fmt.Errorf("%w: %v", chat.ErrValidation, err)
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return req, fmt.Errorf("%w: %v", chat.ErrValidation, err)
	}
	return req, nil
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := tracing.LoggerFromContext(ctx, s.logger)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxFrameBytes()))
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponse{Error: "failed to read request body"})
		return
	}

	req, err := s.decodeChatRequest(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	sessionID := req.SessionID
	if header := r.Header.Get(SessionHeader); header != "" {
		sessionID = header
	}

	result, err := s.chat.SubmitTurn(ctx, chat.TurnRequest{
		SessionID: sessionID,
		Message:   req.Message,
		Streaming: req.EnableStreaming,
	})
	if result != nil {
		w.Header().Set(SessionHeader, result.SessionID)
	}
	if err != nil {
		status, resp := errorResponse(err)
		if result != nil {
			resp.SessionID = result.SessionID
		}
		logger.Warn().Err(err).Int("status", status).Msg("Chat turn failed")
		writeError(w, status, resp)
		return
	}

	if result.Stream != nil {
		s.writeEventStream(ctx, w, result.Stream)
		return
	}

	writeJSON(w, http.StatusOK, ChatResponse{
		Response:  result.Reply,
		SessionID: result.SessionID,
	})
}

// writeEventStream relays a stream as server-sent events: one session event,
// token events, then done or error.
func (s *Server) writeEventStream(ctx context.Context, w http.ResponseWriter, stream *orchestrator.Stream) {
	logger := tracing.LoggerFromContext(ctx, s.logger)
	defer stream.Close()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, ErrorResponse{Error: "streaming unsupported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	send := func(event string, data any) bool {
		payload, err := json.Marshal(data)
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
			logger.Debug().Err(err).Msg("Client went away during stream")
			return false
		}
		flusher.Flush()
		return true
	}

	if !send(EventSession, map[string]string{"session_id": stream.SessionID()}) {
		return
	}

	for fragment, err := range stream.Fragments() {
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			_, resp := errorResponse(err)
			resp.SessionID = stream.SessionID()
			send(EventError, resp)
			return
		}
		if !send(EventToken, map[string]string{"content": fragment}) {
			return
		}
	}

	if stream.Committed() {
		send(EventDone, map[string]string{"session_id": stream.SessionID()})
	}
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	status, err := s.chat.SessionStatus(id)
	if err != nil {
		code, resp := errorResponse(err)
		writeError(w, code, resp)
		return
	}

	w.Header().Set(SessionHeader, status.SessionID)
	writeJSON(w, http.StatusOK, SessionStatusResponse{
		SessionID:    status.SessionID,
		MessageCount: status.MessageCount,
		CreatedAt:    float64(status.CreatedAt.UnixMicro()) / 1e6,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := "ok"
	code := http.StatusOK
	if s.shuttingDown() {
		status = "shutting_down"
		code = http.StatusServiceUnavailable
	}
	health := map[string]any{
		"status":            status,
		"active_sessions":   s.chat.ActiveSessions(),
		"websocket_clients": s.clients.Count(),
		"clients":           s.GetConnectedClients(),
	}
	if s.limiters != nil {
		health["rate_limited_clients"] = s.limiters.Len()
	}
	writeJSON(w, code, health)
}

// errorResponse maps a service error to an HTTP status and body.
func errorResponse(err error) (int, ErrorResponse) {
	switch {
	case errors.Is(err, chat.ErrValidation):
		return http.StatusBadRequest, ErrorResponse{Error: err.Error()}
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound, ErrorResponse{Error: session.ErrNotFound.Error()}
	case errors.Is(err, backend.ErrBackend):
		return http.StatusBadGateway, ErrorResponse{Error: err.Error(), Kind: string(backend.KindOf(err))}
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, ErrorResponse{Error: "request cancelled"}
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: "internal error"}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, resp ErrorResponse) {
	writeJSON(w, status, resp)
}
