package httpserver

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"dmcore/internal/service"
)

type messageCreateRequest struct {
	Content string `json:"content"`
}

func handleSendMessage(svc *service.ConversationService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req messageCreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}
		msg, err := svc.Send(r.Context(), chi.URLParam(r, "conversationID"), CurrentUserID(r), req.Content)
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusCreated, msg)
	}
}

func handleListMessages(svc *service.ConversationService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		msgs, err := svc.ListMessages(r.Context(), chi.URLParam(r, "conversationID"), CurrentUserID(r))
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, msgs)
	}
}
