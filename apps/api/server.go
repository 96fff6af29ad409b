package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mahaj/snappy-realtime/pkg/auth"
	"github.com/mahaj/snappy-realtime/pkg/model"
	"github.com/mahaj/snappy-realtime/pkg/receipt"
	"github.com/mahaj/snappy-realtime/pkg/snowflake"
	"github.com/mahaj/snappy-realtime/pkg/store"
)

var (
	errForbidden  = errors.New("not a member of this chat")
	errBadRequest = errors.New("bad request")
)

// OnlineDirectory answers who is online on the gateway.
type OnlineDirectory interface {
	OnlineUsers(ctx context.Context) ([]string, error)
	IsOnline(ctx context.Context, user string) (bool, error)
}

// Server is the REST boundary. Every mutation is durable before the
// response is written and before its event is published.
type Server struct {
	store    store.Store
	receipts *receipt.Coordinator
	events   Publisher
	online   OnlineDirectory
	issuer   *auth.Issuer
	ids      *snowflake.Node
	log      *slog.Logger
}

func NewServer(st store.Store, events Publisher, online OnlineDirectory, issuer *auth.Issuer, ids *snowflake.Node, cfg receipt.Config, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		store:    st,
		receipts: receipt.NewCoordinator(st, EventNotifier{Events: events}, cfg, log),
		events:   events,
		online:   online,
		issuer:   issuer,
		ids:      ids,
		log:      log.With("component", "api"),
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(CORSMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Public endpoint
	r.Post("/login", s.Login)

	// Protected endpoints
	r.Group(func(r chi.Router) {
		r.Use(s.issuer.Middleware)

		r.Get("/presence", s.OnlineUsers)
		r.Get("/presence/{userID}", s.UserPresence)

		r.Get("/chats", s.ListChats)
		r.Post("/chats", s.CreateChat)
		r.Get("/chats/{chatID}", s.GetChat)
		r.Delete("/chats/{chatID}", s.DeleteChat)

		r.Get("/chats/{chatID}/messages", s.History)
		r.Post("/chats/{chatID}/messages", s.SendMessage)
		r.Post("/chats/{chatID}/messages/{messageID}/delete", s.DeleteMessage)
		r.Post("/chats/{chatID}/read", s.MarkRead)
	})
	return r
}

func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*") // Allow all for dev, or specific origin
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization")

		if r.Method == http.MethodOptions {
			return
		}

		next.ServeHTTP(w, r)
	})
}

type LoginRequest struct {
	UserID string `json:"user_id"`
}

type LoginResponse struct {
	Token string `json:"token"`
}

// Login issues a token for a user id. Accounts live outside this service.
func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	token, err := s.issuer.GenerateToken(req.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, LoginResponse{Token: token})
}

// member loads chatID and checks that the caller belongs to it.
func (s *Server) member(r *http.Request) (model.Chat, string, error) {
	claims, _ := auth.FromContext(r.Context())
	chat, err := s.store.GetChat(r.Context(), chi.URLParam(r, "chatID"))
	if err != nil {
		return model.Chat{}, "", err
	}
	if claims == nil || !chat.HasMember(claims.UserID) {
		return model.Chat{}, "", errForbidden
	}
	return chat, claims.UserID, nil
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, errForbidden):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, errBadRequest):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
