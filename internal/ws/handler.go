package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"dmcore/internal/domain"
	"dmcore/internal/security"
	"dmcore/internal/service"
)

const (
	maxFrameSize = 64 << 10
	eventTimeout = 15 * time.Second
)

type wsAuthError struct {
	status int
	msg    string
}

func (e wsAuthError) Error() string {
	return e.msg
}

func normalizeAllowedOrigins(origins []string) map[string]struct{} {
	res := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		o := strings.TrimSpace(strings.ToLower(origin))
		if o != "" {
			res[o] = struct{}{}
		}
	}
	return res
}

func makeCheckOrigin(allowedOrigins []string) func(r *http.Request) bool {
	allowed := normalizeAllowedOrigins(allowedOrigins)
	if len(allowed) == 0 {
		return func(r *http.Request) bool {
			return false
		}
	}

	return func(r *http.Request) bool {
		origin := strings.TrimSpace(strings.ToLower(r.Header.Get("Origin")))
		if origin == "" {
			return false
		}
		if _, ok := allowed[origin]; ok {
			return true
		}

		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return false
		}
		_, ok := allowed[fmt.Sprintf("%s://%s", u.Scheme, u.Host)]
		return ok
	}
}

func extractTokenFromWSRequest(r *http.Request) (string, error) {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		if token := strings.TrimSpace(authHeader[len("Bearer "):]); token != "" {
			return token, nil
		}
	}

	// browsers cannot set headers on a websocket handshake
	if protocolHeader := r.Header.Get("Sec-WebSocket-Protocol"); protocolHeader != "" {
		parts := strings.Split(protocolHeader, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if len(parts) >= 2 && strings.EqualFold(parts[0], "bearer") && parts[1] != "" {
			return parts[1], nil
		}
	}

	return "", wsAuthError{status: http.StatusUnauthorized, msg: "missing bearer token"}
}

type clientEvent struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
}

// MakeHandler returns an HTTP handler for the /ws endpoint.
// Authenticates via Bearer token (Authorization header or Sec-WebSocket-Protocol),
// flushes queued events, then dispatches client events:
//   - message   -> send through the conversation service
//   - mark_read -> mark the other participant's messages read
//   - typing    -> forward a typing indicator to the other participant
func MakeHandler(
	hub *Hub,
	tokens *security.TokenService,
	svc *service.ConversationService,
	allowedOrigins []string,
	log *zap.Logger,
) http.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	checkOrigin := makeCheckOrigin(allowedOrigins)
	upgrader := websocket.Upgrader{
		CheckOrigin:  checkOrigin,
		Subprotocols: []string{"bearer"},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if !checkOrigin(r) {
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}

		tokenStr, err := extractTokenFromWSRequest(r)
		if err != nil {
			var authErr wsAuthError
			if errors.As(err, &authErr) {
				http.Error(w, authErr.msg, authErr.status)
				return
			}
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		userID, err := tokens.Subject(tokenStr)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.SetReadLimit(maxFrameSize)

		ctx := r.Context()
		c := hub.register(userID, conn)
		defer hub.unregister(userID, c)
		log.Debug("ws: connected", zap.String("user_id", userID))

		hub.flushPending(ctx, userID, c)

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				break
			}
			var ev clientEvent
			if err := json.Unmarshal(data, &ev); err != nil {
				sendError(c, "invalid event")
				continue
			}
			if ev.ConversationID == "" {
				sendError(c, "conversation_id is required")
				continue
			}
			handleEvent(ctx, hub, svc, log, c, userID, ev)
		}
	}
}

// handleEvent runs one client event under its own deadline.
func handleEvent(
	parent context.Context,
	hub *Hub,
	svc *service.ConversationService,
	log *zap.Logger,
	c *client,
	userID string,
	ev clientEvent,
) {
	ctx, cancel := context.WithTimeout(parent, eventTimeout)
	defer cancel()

	switch ev.Type {
	case "message":
		if _, err := svc.Send(ctx, ev.ConversationID, userID, ev.Content); err != nil {
			log.Debug("ws: send message", zap.String("user_id", userID), zap.Error(err))
			sendError(c, errorText(err, "failed to send message"))
		}

	case "mark_read":
		if _, err := svc.MarkRead(ctx, ev.ConversationID, userID); err != nil {
			log.Debug("ws: mark_read", zap.String("user_id", userID), zap.Error(err))
			sendError(c, errorText(err, "failed to mark messages as read"))
		}

	case "typing":
		participants, err := svc.Participants(ctx, ev.ConversationID, userID)
		if err != nil {
			sendError(c, errorText(err, "not allowed for this conversation"))
			return
		}
		others := make([]string, 0, 1)
		for _, p := range participants {
			if p != userID {
				others = append(others, p)
			}
		}
		hub.SendToUsers(others, map[string]any{
			"type":            "typing",
			"conversation_id": ev.ConversationID,
			"user_id":         userID,
		})

	default:
		log.Debug("ws: unknown event type", zap.String("type", ev.Type), zap.String("user_id", userID))
		sendError(c, "unknown event type")
	}
}

// errorText keeps client errors readable and hides server-side detail.
func errorText(err error, fallback string) string {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return err.Error()
	case errors.Is(err, domain.ErrNotAParticipant):
		return "not allowed for this conversation"
	case errors.Is(err, domain.ErrNotFound):
		return "conversation not found"
	}
	return fallback
}

func sendError(c *client, msg string) {
	_ = c.writeJSON(map[string]any{
		"type":    "error",
		"message": msg,
	})
}
