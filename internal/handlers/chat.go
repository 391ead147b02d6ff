package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"WeGo/server/internal/appMiddleware"
	"WeGo/server/internal/services"
	apperrors "WeGo/server/pkg/errors"

	"github.com/go-chi/chi/v5"
)

type ChatHandler struct {
	chats *services.ChatService
	dms   *services.DMService
}

func NewChatHandler(chats *services.ChatService, dms *services.DMService) *ChatHandler {
	return &ChatHandler{chats: chats, dms: dms}
}

func (h *ChatHandler) Routes(r chi.Router) {
	r.Post("/direct", h.CreateDirectChat)
	r.Post("/group", h.CreateGroupChat)
	r.Get("/", h.ListChats)
	r.Get("/unread-count", h.UnreadCount)
	r.Get("/{chatId}", h.GetChat)
	r.Put("/{chatId}", h.UpdateGroupInfo)
	r.Delete("/{chatId}", h.LeaveChat)
	r.Delete("/{chatId}/destroy", h.DeleteGroup)
	r.Get("/{chatId}/messages", h.GetMessages)
	r.Post("/{chatId}/messages", h.SendMessage)
	r.Put("/{chatId}/messages/{messageId}", h.EditMessage)
	r.Delete("/{chatId}/messages/{messageId}", h.DeleteMessage)
	r.Put("/{chatId}/read", h.MarkRead)
	r.Get("/{chatId}/participants", h.GetParticipants)
	r.Post("/{chatId}/participants", h.AddParticipant)
	r.Delete("/{chatId}/participants/{userId}", h.RemoveParticipant)
	r.Put("/{chatId}/participants/{userId}/role", h.UpdateRole)
	r.Put("/{chatId}/mute", h.SetMuted)
}

func authedUser(w http.ResponseWriter, r *http.Request) (int, bool) {
	userID, ok := appMiddleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, apperrors.Unauthorized("Not authenticated"))
		return 0, false
	}
	return userID, true
}

func urlInt(r *http.Request, name string) (int, error) {
	v, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil || v < 1 {
		return 0, apperrors.InvalidArg("Invalid " + name)
	}
	return v, nil
}

func queryInt(r *http.Request, name, def string) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		v = def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func (h *ChatHandler) CreateDirectChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := authedUser(w, r)
	if !ok {
		return
	}
	var req struct {
		RecipientID int `json:"recipientId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, apperrors.InvalidArg("Invalid request body"))
		return
	}
	chat, created, err := h.chats.CreateDirectChat(r.Context(), userID, req.RecipientID)
	if err != nil {
		respondError(w, err)
		return
	}
	status := http.StatusOK
	message := "Chat already exists"
	if created {
		status = http.StatusCreated
		message = "Chat created successfully"
	}
	respondJSON(w, status, map[string]any{"message": message, "chat": chat})
}

func (h *ChatHandler) CreateGroupChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := authedUser(w, r)
	if !ok {
		return
	}
	var req struct {
		Name              string `json:"name"`
		Description       string `json:"description"`
		MaxMembers        int    `json:"maxMembers"`
		RelatedActivityID *int   `json:"relatedActivityId"`
		ParticipantIDs    []int  `json:"participantIds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, apperrors.InvalidArg("Invalid request body"))
		return
	}
	chat, err := h.chats.CreateGroupChat(r.Context(), userID, services.CreateGroupParams{
		Name:              req.Name,
		Description:       req.Description,
		MaxMembers:        req.MaxMembers,
		RelatedActivityID: req.RelatedActivityID,
		MemberIDs:         req.ParticipantIDs,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"message": "Group chat created successfully", "chat": chat})
}

func (h *ChatHandler) ListChats(w http.ResponseWriter, r *http.Request) {
	userID, ok := authedUser(w, r)
	if !ok {
		return
	}
	page := queryInt(r, "page", "1")
	limit := queryInt(r, "limit", "20")
	chatType := r.URL.Query().Get("type")

	list, err := h.chats.ListChats(r.Context(), userID, chatType, page, limit)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, list)
}

func (h *ChatHandler) GetChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := authedUser(w, r)
	if !ok {
		return
	}
	chatID, err := urlInt(r, "chatId")
	if err != nil {
		respondError(w, err)
		return
	}
	chat, err := h.chats.GetChat(r.Context(), userID, chatID)
	if err != nil {
		respondError(w, err)
		return
	}
	page := queryInt(r, "page", "1")
	limit := queryInt(r, "limit", "50")
	msgs, err := h.chats.GetMessages(r.Context(), userID, chatID, page, limit)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"chat":     chat,
		"messages": msgs.Messages,
		"messagesPagination": map[string]any{
			"total":      msgs.Total,
			"page":       msgs.Page,
			"limit":      msgs.Limit,
			"totalPages": msgs.TotalPages,
			"hasMore":    msgs.HasMore,
		},
	})
}

// LeaveChat removes the caller from the chat; ownership succession and
// last-participant deletion follow the removal rules.
func (h *ChatHandler) LeaveChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := authedUser(w, r)
	if !ok {
		return
	}
	chatID, err := urlInt(r, "chatId")
	if err != nil {
		respondError(w, err)
		return
	}
	if err := h.chats.LeaveChat(r.Context(), userID, chatID); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"message": "You left the chat"})
}

func (h *ChatHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := authedUser(w, r)
	if !ok {
		return
	}
	chatID, err := urlInt(r, "chatId")
	if err != nil {
		respondError(w, err)
		return
	}
	page := queryInt(r, "page", "1")
	limit := queryInt(r, "limit", "50")

	msgs, err := h.chats.GetMessages(r.Context(), userID, chatID, page, limit)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"messages": msgs.Messages,
		"pagination": map[string]any{
			"total":      msgs.Total,
			"page":       msgs.Page,
			"limit":      msgs.Limit,
			"totalPages": msgs.TotalPages,
			"hasMore":    msgs.HasMore,
		},
	})
}

func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := authedUser(w, r)
	if !ok {
		return
	}
	chatID, err := urlInt(r, "chatId")
	if err != nil {
		respondError(w, err)
		return
	}
	var req struct {
		Content string `json:"content"`
		Type    string `json:"type"`
		FileURL string `json:"fileUrl"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, apperrors.InvalidArg("Invalid request body"))
		return
	}
	msg, err := h.chats.SendMessage(r.Context(), userID, chatID, req.Content, req.Type, req.FileURL, "")
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"message": "Message sent", "messageData": msg})
}

func (h *ChatHandler) EditMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := authedUser(w, r)
	if !ok {
		return
	}
	chatID, err := urlInt(r, "chatId")
	if err != nil {
		respondError(w, err)
		return
	}
	messageID, err := urlInt(r, "messageId")
	if err != nil {
		respondError(w, err)
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, apperrors.InvalidArg("Invalid request body"))
		return
	}
	msg, err := h.chats.EditMessage(r.Context(), userID, chatID, messageID, req.Content)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"message": "Message updated", "messageData": msg})
}

func (h *ChatHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := authedUser(w, r)
	if !ok {
		return
	}
	chatID, err := urlInt(r, "chatId")
	if err != nil {
		respondError(w, err)
		return
	}
	messageID, err := urlInt(r, "messageId")
	if err != nil {
		respondError(w, err)
		return
	}
	if _, err := h.chats.DeleteMessage(r.Context(), userID, chatID, messageID); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"message": "Message deleted"})
}

func (h *ChatHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := authedUser(w, r)
	if !ok {
		return
	}
	chatID, err := urlInt(r, "chatId")
	if err != nil {
		respondError(w, err)
		return
	}
	var req struct {
		MessageIDs []int `json:"messageIds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, apperrors.InvalidArg("Invalid request body"))
		return
	}
	unread, err := h.chats.MarkRead(r.Context(), userID, chatID, req.MessageIDs)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"message": "Messages marked as read", "unreadCount": unread})
}

func (h *ChatHandler) GetParticipants(w http.ResponseWriter, r *http.Request) {
	userID, ok := authedUser(w, r)
	if !ok {
		return
	}
	chatID, err := urlInt(r, "chatId")
	if err != nil {
		respondError(w, err)
		return
	}
	participants, err := h.chats.GetParticipants(r.Context(), userID, chatID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"participants": participants})
}

func (h *ChatHandler) AddParticipant(w http.ResponseWriter, r *http.Request) {
	userID, ok := authedUser(w, r)
	if !ok {
		return
	}
	chatID, err := urlInt(r, "chatId")
	if err != nil {
		respondError(w, err)
		return
	}
	var req struct {
		UserID int    `json:"userId"`
		Role   string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, apperrors.InvalidArg("Invalid request body"))
		return
	}
	chat, err := h.chats.AddParticipant(r.Context(), userID, chatID, req.UserID, req.Role)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"message": "Participant added", "chat": chat})
}

func (h *ChatHandler) RemoveParticipant(w http.ResponseWriter, r *http.Request) {
	userID, ok := authedUser(w, r)
	if !ok {
		return
	}
	chatID, err := urlInt(r, "chatId")
	if err != nil {
		respondError(w, err)
		return
	}
	targetID, err := urlInt(r, "userId")
	if err != nil {
		respondError(w, err)
		return
	}
	if err := h.chats.RemoveParticipant(r.Context(), userID, chatID, targetID); err != nil {
		respondError(w, err)
		return
	}
	message := "Participant removed"
	if userID == targetID {
		message = "You left the chat"
	}
	respondJSON(w, http.StatusOK, map[string]any{"message": message})
}

func (h *ChatHandler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := authedUser(w, r)
	if !ok {
		return
	}
	chatID, err := urlInt(r, "chatId")
	if err != nil {
		respondError(w, err)
		return
	}
	targetID, err := urlInt(r, "userId")
	if err != nil {
		respondError(w, err)
		return
	}
	var req struct {
		Role string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, apperrors.InvalidArg("Invalid request body"))
		return
	}
	chat, err := h.chats.UpdateRole(r.Context(), userID, chatID, targetID, req.Role)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"message": "Role updated", "chat": chat})
}

func (h *ChatHandler) SetMuted(w http.ResponseWriter, r *http.Request) {
	userID, ok := authedUser(w, r)
	if !ok {
		return
	}
	chatID, err := urlInt(r, "chatId")
	if err != nil {
		respondError(w, err)
		return
	}
	var req struct {
		IsMuted bool `json:"isMuted"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, apperrors.InvalidArg("Invalid request body"))
		return
	}
	if err := h.chats.SetMuted(r.Context(), userID, chatID, req.IsMuted); err != nil {
		respondError(w, err)
		return
	}
	message := "Chat unmuted"
	if req.IsMuted {
		message = "Chat muted"
	}
	respondJSON(w, http.StatusOK, map[string]any{"message": message})
}

func (h *ChatHandler) UpdateGroupInfo(w http.ResponseWriter, r *http.Request) {
	userID, ok := authedUser(w, r)
	if !ok {
		return
	}
	chatID, err := urlInt(r, "chatId")
	if err != nil {
		respondError(w, err)
		return
	}
	var req struct {
		Name        *string `json:"name"`
		Description *string `json:"description"`
		MaxMembers  *int    `json:"maxMembers"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, apperrors.InvalidArg("Invalid request body"))
		return
	}
	chat, err := h.chats.UpdateGroupInfo(r.Context(), userID, chatID, services.UpdateGroupParams{
		Name:        req.Name,
		Description: req.Description,
		MaxMembers:  req.MaxMembers,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"message": "Group chat updated", "chat": chat})
}

func (h *ChatHandler) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	userID, ok := authedUser(w, r)
	if !ok {
		return
	}
	chatID, err := urlInt(r, "chatId")
	if err != nil {
		respondError(w, err)
		return
	}
	if err := h.chats.DeleteGroup(r.Context(), userID, chatID); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"message": "Group chat deleted successfully"})
}

func (h *ChatHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	userID, ok := authedUser(w, r)
	if !ok {
		return
	}
	total, err := h.chats.UnreadTotal(r.Context(), userID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"unreadCount": total})
}

// DMHistory returns the direct-message thread with another user.
func (h *ChatHandler) DMHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := authedUser(w, r)
	if !ok {
		return
	}
	otherID, err := urlInt(r, "userId")
	if err != nil {
		respondError(w, err)
		return
	}
	limit := queryInt(r, "limit", "50")
	msgs, err := h.dms.History(r.Context(), userID, otherID, limit)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}
