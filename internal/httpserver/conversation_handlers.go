package httpserver

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"dmcore/internal/service"
)

type conversationCreateRequest struct {
	ParticipantID string `json:"participant_id"`
}

func handleFindOrCreateConversation(svc *service.ConversationService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req conversationCreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}
		conv, created, err := svc.FindOrCreate(r.Context(), CurrentUserID(r), req.ParticipantID)
		if err != nil {
			writeError(w, log, err)
			return
		}
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		writeJSON(w, status, conv)
	}
}

func handleListConversations(svc *service.ConversationService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		convs, err := svc.ListConversations(r.Context(), CurrentUserID(r))
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, convs)
	}
}

func handleGetConversation(svc *service.ConversationService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conv, err := svc.GetConversation(r.Context(), chi.URLParam(r, "conversationID"), CurrentUserID(r))
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, conv)
	}
}

func handleDeleteConversation(svc *service.ConversationService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Delete(r.Context(), chi.URLParam(r, "conversationID"), CurrentUserID(r)); err != nil {
			writeError(w, log, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleMarkConversationRead(svc *service.ConversationService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := svc.MarkRead(r.Context(), chi.URLParam(r, "conversationID"), CurrentUserID(r))
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int64{"marked": n})
	}
}
