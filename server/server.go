// Package server exposes the assistant over a websocket: one connection is
// one conversation session, streamed chunks go out as they become readable.
package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xhad/dealwise/pkg/app"
	"github.com/xhad/dealwise/pkg/generate"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Be careful with this in production
	},
}

// Message is the wire envelope in both directions.
type Message struct {
	Type    string      `json:"type"`
	Content string      `json:"content"`
	Data    interface{} `json:"data,omitempty"`
}

type WSServer struct {
	app    *app.App
	logger *zap.Logger
}

func NewWSServer(a *app.App, logger *zap.Logger) *WSServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSServer{
		app:    a,
		logger: logger.With(zap.String("component", "ws_server")),
	}
}

// Start blocks serving websocket connections on addr.
func (s *WSServer) Start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	s.logger.Info("websocket server listening", zap.String("addr", addr))
	return http.ListenAndServe(addr, mux)
}

func (s *WSServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	// One session per connection; retrieval memory follows the socket.
	sessionID := uuid.NewString()
	s.logger.Debug("connection opened", zap.String("session_id", sessionID))

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("connection read failed", zap.Error(err))
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.sendMessage(conn, "error", "invalid message", nil)
			continue
		}

		s.handleMessage(r.Context(), conn, sessionID, msg)
	}
}

func (s *WSServer) handleMessage(ctx context.Context, conn *websocket.Conn, sessionID string, msg Message) {
	switch msg.Type {
	case "query", "":
		s.handleQuery(ctx, conn, sessionID, msg.Content)
	case "tool_result":
		s.handleToolResult(ctx, conn, sessionID, msg.Content)
	default:
		s.sendMessage(conn, "error", "unknown message type: "+msg.Type, nil)
	}
}

func (s *WSServer) handleQuery(ctx context.Context, conn *websocket.Conn, sessionID, query string) {
	if query == "" {
		s.sendMessage(conn, "error", "empty query", nil)
		return
	}

	resp, err := s.app.Generator.GenerateStreaming(ctx, query, func(chunk generate.StreamChunk) error {
		kind := "stream"
		if chunk.Cached {
			kind = "cached"
		}
		return s.sendMessage(conn, kind, chunk.Content, nil)
	}, generate.GenerateOptions{SessionID: sessionID})
	if err != nil {
		s.sendMessage(conn, "error", err.Error(), nil)
		return
	}

	s.sendMessage(conn, "response", "", map[string]interface{}{
		"sources": resp.Sources,
		"cached":  resp.Cached,
	})
}

// handleToolResult feeds external tool output through the reactive retrieval
// path and returns any incremental context found.
func (s *WSServer) handleToolResult(ctx context.Context, conn *websocket.Conn, sessionID, toolResult string) {
	retrieval := s.app.Generator.AugmentFromToolResult(ctx, sessionID, toolResult)
	if retrieval == nil {
		s.sendMessage(conn, "augment", "", nil)
		return
	}

	s.sendMessage(conn, "augment", retrieval.Context, map[string]interface{}{
		"sources": retrieval.Sources,
	})
}

func (s *WSServer) sendMessage(conn *websocket.Conn, msgType, content string, data interface{}) error {
	msg := Message{Type: msgType, Content: content, Data: data}
	if err := conn.WriteJSON(msg); err != nil {
		s.logger.Debug("failed to send message", zap.Error(err))
		return err
	}
	return nil
}
