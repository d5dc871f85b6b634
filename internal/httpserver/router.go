package httpserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"chatcore/internal/config"
	"chatcore/internal/metrics"
	"chatcore/internal/service"

	_ "chatcore/docs"
	httpSwagger "github.com/swaggo/http-swagger"
)

// Deps are the collaborators the router wires into handlers.
type Deps struct {
	Config   *config.Config
	Log      *zap.Logger
	Auth     *service.AuthService
	Users    *service.UserService
	Chats    *service.ChatService
	Realtime http.Handler
}

// NewRouter constructs the main HTTP router and wires routes and middleware.
func NewRouter(d Deps) http.Handler {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.Config.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"message": d.Config.AppName,
			"version": "1.0.0",
			"docs":    "/docs",
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	r.Handle("/metrics", metrics.Handler())

	r.Get("/docs/*", httpSwagger.Handler(
		httpSwagger.URL("/docs/doc.json"),
	))

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", handleRegister(d.Auth))
			r.Post("/login", handleLogin(d.Auth))
		})

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(d.Auth))

			r.Post("/auth/logout", handleLogout(d.Auth))
			r.Get("/auth/me", handleMe())

			r.Route("/users", func(r chi.Router) {
				r.Get("/search", handleSearchUsers(d.Users))
				r.Get("/online", handleListOnlineUsers(d.Users))
				r.Patch("/me", handleUpdateProfile(d.Users))
				r.Get("/{userID}", handleGetUser(d.Users))
			})

			r.Route("/chats", func(r chi.Router) {
				r.Get("/", handleListChats(d.Chats))
				r.Post("/", handleCreateChat(d.Chats))
				r.Post("/private", handleGetOrCreatePrivateChat(d.Chats))
				r.Get("/{chatID}", handleGetChat(d.Chats))
				r.Patch("/{chatID}", handleUpdateChat(d.Chats))
				r.Post("/{chatID}/participants", handleAddParticipant(d.Chats))
				r.Delete("/{chatID}/participants/{userID}", handleRemoveParticipant(d.Chats))
				r.Put("/{chatID}/participants/{userID}/role", handleSetParticipantRole(d.Chats))
				r.Get("/{chatID}/messages", handleListMessages(d.Chats))
				r.Post("/{chatID}/read", handleMarkChatRead(d.Chats))
			})
		})
	})

	if d.Realtime != nil {
		r.Get("/ws", d.Realtime.ServeHTTP)
	}

	return r
}

// requestLogger logs one line per request once the handler has finished.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("ip", r.RemoteAddr),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
			}
			if ww.Status() >= http.StatusInternalServerError {
				log.Error("http request", fields...)
				return
			}
			log.Info("http request", fields...)
		})
	}
}

// writeJSON is a small helper to send JSON responses.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}
