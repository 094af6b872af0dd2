package httpserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"dmcore/internal/config"
	"dmcore/internal/logging"
	"dmcore/internal/security"
	"dmcore/internal/service"
)

// Deps are the collaborators the router serves.
type Deps struct {
	Config        *config.Config
	Log           *zap.Logger
	Tokens        *security.TokenService
	Conversations *service.ConversationService
	// WebSocket is mounted at /ws when set. RequestTimeout does not apply.
	WebSocket http.Handler
	// RequestTimeout bounds every non-websocket request.
	// Zero means DefaultRequestTimeout.
	RequestTimeout time.Duration
}

const DefaultRequestTimeout = 60 * time.Second

// NewRouter constructs the main HTTP router and wires routes and middleware.
func NewRouter(d Deps) http.Handler {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger(log))
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.Config.HTTP.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	timeout := d.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	limiter := newSenderLimiter(d.Config.Messages.RatePerSecond, d.Config.Messages.RateBurst)
	svc := d.Conversations

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(timeout))

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
		})

		r.Route("/api", func(r chi.Router) {
			r.Use(AuthMiddleware(d.Tokens))

			r.Route("/conversations", func(r chi.Router) {
				r.Post("/", handleFindOrCreateConversation(svc, log))
				r.Get("/", handleListConversations(svc, log))
				r.Get("/{conversationID}", handleGetConversation(svc, log))
				r.Delete("/{conversationID}", handleDeleteConversation(svc, log))
				r.Post("/{conversationID}/read", handleMarkConversationRead(svc, log))
				r.Get("/{conversationID}/messages", handleListMessages(svc, log))
				r.With(limiter.Middleware).Post("/{conversationID}/messages", handleSendMessage(svc, log))
			})
		})
	})

	if d.WebSocket != nil {
		r.Get("/ws", d.WebSocket.ServeHTTP)
	}

	return r
}

// writeJSON is a small helper to send JSON responses.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}
