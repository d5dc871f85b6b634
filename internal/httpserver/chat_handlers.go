package httpserver

import (
	"encoding/json"
	"net/http"
	"strconv"

	"chatcore/internal/domain"
	"chatcore/internal/service"
)

type privateChatRequest struct {
	UserID int64 `json:"user_id"`
}

type updateChatRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description"`
}

type addParticipantRequest struct {
	UserID int64 `json:"user_id"`
}

type setRoleRequest struct {
	Role domain.Role `json:"role"`
}

type markReadResponse struct {
	ChatID int64 `json:"chat_id"`
	Count  int64 `json:"count"`
}

// @Summary      List chats
// @Description  Chats of the current user, most recently active first
// @Tags         chats
// @Security     BearerAuth
// @Produce      json
// @Success      200  {array}  service.ChatView
// @Router       /chats [get]
func handleListChats(chatSvc *service.ChatService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentUser := CurrentUser(r)
		if currentUser == nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		chats, err := chatSvc.ListChatsForUser(r.Context(), currentUser.ID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, chats)
	}
}

// @Summary      Create chat
// @Tags         chats
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        input body service.CreateChatInput true "Chat input"
// @Success      201  {object}  service.ChatView
// @Failure      400  {object}  errorResponse
// @Router       /chats [post]
func handleCreateChat(chatSvc *service.ChatService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentUser := CurrentUser(r)
		if currentUser == nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		var req service.CreateChatInput
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		chat, err := chatSvc.CreateChat(r.Context(), req, currentUser.ID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, chat)
	}
}

// @Summary      Open private chat
// @Description  Returns the private chat with the given user, creating it on first use
// @Tags         chats
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        input body privateChatRequest true "Other user"
// @Success      200  {object}  service.ChatView
// @Failure      400  {object}  errorResponse
// @Failure      404  {object}  errorResponse
// @Router       /chats/private [post]
func handleGetOrCreatePrivateChat(chatSvc *service.ChatService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentUser := CurrentUser(r)
		if currentUser == nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		var req privateChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID <= 0 {
			writeError(w, http.StatusBadRequest, "user_id is required")
			return
		}
		chat, err := chatSvc.GetOrCreatePrivateChat(r.Context(), currentUser.ID, req.UserID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, chat)
	}
}

// @Summary      Get chat
// @Tags         chats
// @Security     BearerAuth
// @Produce      json
// @Param        chatID  path  int  true  "Chat ID"
// @Success      200  {object}  service.ChatView
// @Failure      403  {object}  errorResponse
// @Failure      404  {object}  errorResponse
// @Router       /chats/{chatID} [get]
func handleGetChat(chatSvc *service.ChatService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentUser := CurrentUser(r)
		if currentUser == nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		chatID, ok := idParam(r, "chatID")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid chat id")
			return
		}
		chat, err := chatSvc.GetChat(r.Context(), chatID, currentUser.ID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, chat)
	}
}

// @Summary      Update group chat
// @Tags         chats
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        chatID  path  int  true  "Chat ID"
// @Param        input body updateChatRequest true "Chat info"
// @Success      200  {object}  service.ChatView
// @Failure      403  {object}  errorResponse
// @Router       /chats/{chatID} [patch]
func handleUpdateChat(chatSvc *service.ChatService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentUser := CurrentUser(r)
		if currentUser == nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		chatID, ok := idParam(r, "chatID")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid chat id")
			return
		}
		var req updateChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if err := chatSvc.UpdateChat(r.Context(), chatID, req.Name, req.Description, currentUser.ID); err != nil {
			writeServiceError(w, r, err)
			return
		}
		chat, err := chatSvc.GetChat(r.Context(), chatID, currentUser.ID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, chat)
	}
}

// @Summary      Add participant
// @Tags         chats
// @Security     BearerAuth
// @Accept       json
// @Param        chatID  path  int  true  "Chat ID"
// @Param        input body addParticipantRequest true "User to add"
// @Success      204
// @Failure      403  {object}  errorResponse
// @Failure      409  {object}  errorResponse
// @Router       /chats/{chatID}/participants [post]
func handleAddParticipant(chatSvc *service.ChatService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentUser := CurrentUser(r)
		if currentUser == nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		chatID, ok := idParam(r, "chatID")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid chat id")
			return
		}
		var req addParticipantRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID <= 0 {
			writeError(w, http.StatusBadRequest, "user_id is required")
			return
		}
		if err := chatSvc.AddParticipant(r.Context(), chatID, req.UserID, currentUser.ID); err != nil {
			writeServiceError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// @Summary      Remove participant
// @Description  Members may remove themselves; admins remove members; the owner removes anyone
// @Tags         chats
// @Security     BearerAuth
// @Param        chatID  path  int  true  "Chat ID"
// @Param        userID  path  int  true  "User ID"
// @Success      204
// @Failure      403  {object}  errorResponse
// @Failure      404  {object}  errorResponse
// @Router       /chats/{chatID}/participants/{userID} [delete]
func handleRemoveParticipant(chatSvc *service.ChatService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentUser := CurrentUser(r)
		if currentUser == nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		chatID, ok := idParam(r, "chatID")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid chat id")
			return
		}
		userID, ok := idParam(r, "userID")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid user id")
			return
		}
		if err := chatSvc.RemoveParticipant(r.Context(), chatID, userID, currentUser.ID); err != nil {
			writeServiceError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// @Summary      Set participant role
// @Tags         chats
// @Security     BearerAuth
// @Accept       json
// @Param        chatID  path  int  true  "Chat ID"
// @Param        userID  path  int  true  "User ID"
// @Param        input body setRoleRequest true "New role"
// @Success      204
// @Failure      400  {object}  errorResponse
// @Failure      403  {object}  errorResponse
// @Router       /chats/{chatID}/participants/{userID}/role [put]
func handleSetParticipantRole(chatSvc *service.ChatService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentUser := CurrentUser(r)
		if currentUser == nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		chatID, ok := idParam(r, "chatID")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid chat id")
			return
		}
		userID, ok := idParam(r, "userID")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid user id")
			return
		}
		var req setRoleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if err := chatSvc.SetParticipantRole(r.Context(), chatID, userID, req.Role, currentUser.ID); err != nil {
			writeServiceError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// @Summary      List messages
// @Description  One page of messages, oldest first; page 0 is the newest page
// @Tags         messages
// @Security     BearerAuth
// @Produce      json
// @Param        chatID     path   int  true   "Chat ID"
// @Param        page       query  int  false  "Page, 0-based"
// @Param        page_size  query  int  false  "Page size"
// @Success      200  {array}  service.MessageView
// @Router       /chats/{chatID}/messages [get]
func handleListMessages(chatSvc *service.ChatService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentUser := CurrentUser(r)
		if currentUser == nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		chatID, ok := idParam(r, "chatID")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid chat id")
			return
		}
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))

		msgs, err := chatSvc.ListMessages(r.Context(), chatID, currentUser.ID, page, pageSize)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, msgs)
	}
}

// @Summary      Mark chat read
// @Tags         messages
// @Security     BearerAuth
// @Produce      json
// @Param        chatID  path  int  true  "Chat ID"
// @Success      200  {object}  markReadResponse
// @Failure      403  {object}  errorResponse
// @Router       /chats/{chatID}/read [post]
func handleMarkChatRead(chatSvc *service.ChatService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentUser := CurrentUser(r)
		if currentUser == nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		chatID, ok := idParam(r, "chatID")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid chat id")
			return
		}
		n, err := chatSvc.MarkRead(r.Context(), chatID, currentUser.ID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, markReadResponse{ChatID: chatID, Count: n})
	}
}
