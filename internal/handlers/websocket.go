package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"WeGo/server/internal/appMiddleware"
	"WeGo/server/internal/pool"
	"WeGo/server/internal/services"
	apperrors "WeGo/server/pkg/errors"

	"github.com/gorilla/websocket"
)

const (
	wsReadLimit = 64 * 1024
	wsPongWait  = 60 * time.Second
)

type WSHandler struct {
	hub      *pool.Hub
	chats    *services.ChatService
	users    *services.UserService
	dms      *services.DMService
	auth     *appMiddleware.AuthMiddleware
	upgrader websocket.Upgrader
}

func NewWSHandler(hub *pool.Hub, chats *services.ChatService, users *services.UserService,
	dms *services.DMService, auth *appMiddleware.AuthMiddleware) *WSHandler {
	return &WSHandler{
		hub:   hub,
		chats: chats,
		users: users,
		dms:   dms,
		auth:  auth,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// inboundFrame is what clients send: an event name and its payload.
type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Serve upgrades the connection. Auth rides in as a token query param since
// browsers cannot set headers on websocket requests.
func (h *WSHandler) Serve(w http.ResponseWriter, r *http.Request) {
	userID, err := h.auth.ParseToken(r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
		return
	}
	user, err := h.users.GetUserByID(r.Context(), userID)
	if err != nil {
		http.Error(w, "User not found", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Websocket upgrade failed for user %d: %v", userID, err)
		return
	}

	client := pool.NewClient(userID, conn)
	// The request context dies with the handshake; connection lifecycle work
	// uses its own context.
	h.hub.Add(context.Background(), client)
	go client.WritePump()
	h.readLoop(client, user.Username)
}

func (h *WSHandler) readLoop(c *pool.Client, username string) {
	defer h.hub.Remove(context.Background(), c)

	c.Conn.SetReadLimit(wsReadLimit)
	c.Conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		var frame inboundFrame
		if err := c.Conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("Connection %s read error: %v", c.ID, err)
			}
			return
		}
		h.dispatch(c, username, frame)
	}
}

func (h *WSHandler) dispatch(c *pool.Client, username string, frame inboundFrame) {
	ctx := context.Background()
	switch frame.Event {
	case "user:join":
		// Presence is already established at upgrade time; kept for protocol
		// compatibility with older clients.

	case "chat:join":
		var req struct {
			ChatID int `json:"chatId"`
		}
		if !h.decode(c, frame.Data, &req) {
			return
		}
		if _, err := h.chats.GetChat(ctx, c.UserID, req.ChatID); err != nil {
			h.sendError(c, err)
			return
		}
		h.hub.Subscribe(req.ChatID, c)
		h.sendParticipants(ctx, c, req.ChatID)

	case "chat:leave":
		var req struct {
			ChatID int `json:"chatId"`
		}
		if !h.decode(c, frame.Data, &req) {
			return
		}
		h.hub.Unsubscribe(req.ChatID, c)

	case "chat:getParticipants":
		var req struct {
			ChatID int `json:"chatId"`
		}
		if !h.decode(c, frame.Data, &req) {
			return
		}
		h.sendParticipants(ctx, c, req.ChatID)

	case "message:send":
		var req struct {
			ChatID  int    `json:"chatId"`
			Content string `json:"content"`
			Type    string `json:"type"`
			FileURL string `json:"fileUrl"`
		}
		if !h.decode(c, frame.Data, &req) {
			return
		}
		msg, err := h.chats.SendMessage(ctx, c.UserID, req.ChatID, req.Content, req.Type, req.FileURL, c.ID)
		if err != nil {
			h.sendError(c, err)
			return
		}
		h.send(c, services.EventMessageSent, services.MessageEvent{ChatID: req.ChatID, Message: msg})

	case "message:read":
		var req struct {
			ChatID     int   `json:"chatId"`
			MessageIDs []int `json:"messageIds"`
		}
		if !h.decode(c, frame.Data, &req) {
			return
		}
		if _, err := h.chats.MarkRead(ctx, c.UserID, req.ChatID, req.MessageIDs); err != nil {
			h.sendError(c, err)
		}

	case "chat:typing", "chat:stopTyping":
		var req struct {
			ChatID int `json:"chatId"`
		}
		if !h.decode(c, frame.Data, &req) {
			return
		}
		h.hub.ToChat(req.ChatID, frame.Event, map[string]any{
			"chatId":   req.ChatID,
			"userId":   c.UserID,
			"username": username,
			"isTyping": frame.Event == services.EventChatTyping,
		}, c.ID)

	case "dm:send":
		var req struct {
			To   int    `json:"to"`
			Text string `json:"text"`
		}
		if !h.decode(c, frame.Data, &req) {
			return
		}
		// the sender is whoever authenticated, whatever the payload claims
		view, err := h.dms.Send(ctx, c.UserID, req.To, req.Text)
		if err != nil {
			h.sendError(c, err)
			return
		}
		h.send(c, services.EventDMSent, view)

	case "activity:update":
		var req struct {
			ActivityID int             `json:"activityId"`
			Data       json.RawMessage `json:"data"`
		}
		if !h.decode(c, frame.Data, &req) {
			return
		}
		h.chats.NotifyActivityChange(req.ActivityID, req.Data)

	default:
		log.Printf("Connection %s sent unknown event %q", c.ID, frame.Event)
	}
}

func (h *WSHandler) sendParticipants(ctx context.Context, c *pool.Client, chatID int) {
	participants, err := h.chats.GetParticipants(ctx, c.UserID, chatID)
	if err != nil {
		h.sendError(c, err)
		return
	}
	h.send(c, services.EventChatParticipants, map[string]any{
		"chatId":       chatID,
		"participants": participants,
	})
}

func (h *WSHandler) decode(c *pool.Client, raw json.RawMessage, dst any) bool {
	if err := json.Unmarshal(raw, dst); err != nil {
		h.send(c, services.EventError, map[string]string{"message": "Invalid payload"})
		return false
	}
	return true
}

func (h *WSHandler) send(c *pool.Client, event string, data any) {
	frame, err := json.Marshal(pool.Frame{Event: event, Data: data})
	if err != nil {
		log.Printf("Failed to marshal %s frame: %v", event, err)
		return
	}
	if !c.TrySend(frame) {
		log.Printf("Dropped %s frame for connection %s (buffer full)", event, c.ID)
	}
}

func (h *WSHandler) sendError(c *pool.Client, err error) {
	h.send(c, services.EventError, map[string]string{"message": apperrors.MessageOf(err)})
}
