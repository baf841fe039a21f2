package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	chatService "github.com/devhaln/pagepal/backend/internal/service/chat"
)

// Handler runs chat rounds over a websocket connection, one round per
// inbound chat message.
type Handler struct {
	chatSvc  *chatService.Service
	upgrader websocket.Upgrader
}

func New(chatSvc *chatService.Service) *Handler {
	return &Handler{
		chatSvc: chatSvc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes registers the websocket endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/{sessionID}", h.handleWebSocket)
}

type inboundMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// ChatMessage is the payload of an inbound chat message.
type ChatMessage struct {
	Message string `json:"message"`
	Stream  *bool  `json:"stream,omitempty"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade failed for session=%s: %v", sessionID, err)
		return
	}
	defer conn.Close()

	log.Printf("[ws] connection opened for session=%s", sessionID)

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[ws] read error for session=%s: %v", sessionID, err)
			}
			return
		}

		switch inbound.Type {
		case "chat":
			h.handleChatMessage(r, conn, sessionID, inbound)
		case "ping":
			h.send(conn, outgoingMessage{Type: "pong", SessionID: sessionID, Timestamp: now()})
		default:
			h.sendError(conn, sessionID, "unknown message type: "+inbound.Type)
		}
	}
}

func (h *Handler) handleChatMessage(r *http.Request, conn *websocket.Conn, sessionID string, inbound inboundMessage) {
	var payload ChatMessage
	if err := json.Unmarshal(inbound.Data, &payload); err != nil {
		h.sendError(conn, sessionID, "invalid chat payload")
		return
	}
	if strings.TrimSpace(payload.Message) == "" {
		h.sendError(conn, sessionID, "message is required")
		return
	}

	streaming := payload.Stream == nil || *payload.Stream

	if !streaming {
		reply, err := h.chatSvc.Ask(r.Context(), sessionID, payload.Message)
		if err != nil {
			h.sendError(conn, sessionID, err.Error())
			return
		}
		h.send(conn, outgoingMessage{Type: "message", SessionID: sessionID, Data: reply, Timestamp: now()})
		return
	}

	chunks, errc := h.chatSvc.Stream(r.Context(), sessionID, payload.Message)

	h.send(conn, outgoingMessage{Type: "start", SessionID: sessionID, Timestamp: now()})

	var full strings.Builder
	for chunk := range chunks {
		full.WriteString(chunk)
		h.send(conn, outgoingMessage{Type: "delta", SessionID: sessionID, Data: chunk, Timestamp: now()})
	}

	if err := <-errc; err != nil {
		h.sendError(conn, sessionID, err.Error())
		return
	}

	h.send(conn, outgoingMessage{Type: "message", SessionID: sessionID, Data: full.String(), Timestamp: now()})
}

func (h *Handler) send(conn *websocket.Conn, msg outgoingMessage) {
	if err := conn.WriteJSON(msg); err != nil {
		log.Printf("[ws] write failed: %v", err)
	}
}

func (h *Handler) sendError(conn *websocket.Conn, sessionID, message string) {
	h.send(conn, outgoingMessage{Type: "error", SessionID: sessionID, Data: message, Timestamp: now()})
}

func now() int64 {
	return time.Now().UnixMilli()
}
