package handlers

import (
	"net/http"
	"strings"

	"formation-booking/internal/logger"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// PresenceHandler ведёт реестр активных сессий пользователей
type PresenceHandler struct {
	registry SessionRegistry
	log      *logger.Logger
}

// NewPresenceHandler создает обработчик присутствия
func NewPresenceHandler(registry SessionRegistry, log *logger.Logger) *PresenceHandler {
	return &PresenceHandler{registry: registry, log: log}
}

type registerSessionRequest struct {
	SessionID string    `json:"session_id"`
	UserID    uuid.UUID `json:"user_id"`
	Roles     []string  `json:"roles"`
}

// Register отмечает сессию пользователя активной
func (h *PresenceHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerSessionRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.SessionID) == "" || req.UserID == uuid.Nil {
		writeErrorResponse(w, http.StatusBadRequest, "session_id and user_id are required")
		return
	}

	if err := h.registry.Register(req.SessionID, req.UserID, req.Roles); err != nil {
		writeErrorResponse(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	writeJSONResponse(w, http.StatusCreated, map[string]interface{}{
		"session_id": req.SessionID,
		"sessions":   h.registry.Count(),
	})
}

// Remove закрывает сессию
func (h *PresenceHandler) Remove(w http.ResponseWriter, r *http.Request) {
	h.registry.Remove(chi.URLParam(r, "sessionID"))
	w.WriteHeader(http.StatusNoContent)
}

// ActiveUsers возвращает пользователей онлайн с любой из ролей ?role=
func (h *PresenceHandler) ActiveUsers(w http.ResponseWriter, r *http.Request) {
	roles := r.URL.Query()["role"]
	if len(roles) == 0 {
		writeErrorResponse(w, http.StatusBadRequest, "at least one role is required")
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"roles": roles,
		"users": h.registry.FindUsersByRoles(roles...),
	})
}
