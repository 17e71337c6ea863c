package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/wolfeidau/storefront/internal/catalog"
	httpmiddleware "github.com/wolfeidau/storefront/internal/http"
	"github.com/wolfeidau/storefront/internal/session"
	"github.com/wolfeidau/storefront/internal/state"
)

// maxRequestBytes bounds form submissions.
const maxRequestBytes = 64 << 10

// SessionController is the session state the shell renders and mutates.
type SessionController interface {
	State() state.Snapshot
	Login(ctx context.Context, emailAddress, password string) error
	Register(ctx context.Context, displayName, emailAddress, password string) error
	Logout()
	RequireSession() (*session.Session, error)
}

// PageFetcher retrieves catalog pages.
type PageFetcher interface {
	FetchPage(ctx context.Context, page, pageSize int) (*catalog.PageResult[catalog.Product], error)
}

// Notifications returns toasts waiting to be shown.
type Notifications interface {
	Drain() []state.Notification
}

// Config holds server configuration
type Config struct {
	CORSOrigins []string
}

// Server exposes the session contract to a browser UI as a JSON API.
//
// There is one controller per process, the server acts for a single local user
// the same way one browser profile would.
type Server struct {
	controller    SessionController
	fetcher       PageFetcher
	notifications Notifications
	config        Config
}

// NewServer creates a new server, notifications may be nil.
func NewServer(controller SessionController, fetcher PageFetcher, notifications Notifications, config Config) *Server {
	return &Server{
		controller:    controller,
		fetcher:       fetcher,
		notifications: notifications,
		config:        config,
	}
}

type loginRequest struct {
	EmailAddress string `json:"email"`
	Password     string `json:"password"`
}

type registerRequest struct {
	DisplayName  string `json:"firstName"`
	EmailAddress string `json:"email"`
	Password     string `json:"password"`
}

type errorResponse struct {
	Error string          `json:"error"`
	State *state.Snapshot `json:"state,omitempty"`
}

// Handler returns the HTTP handler for the server
func (s *Server) Handler(log zerolog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("GET /api/session", s.getSession)
	mux.HandleFunc("POST /api/login", s.login)
	mux.HandleFunc("POST /api/register", s.register)
	mux.HandleFunc("POST /api/logout", s.logout)
	mux.HandleFunc("GET /api/products", s.products)
	mux.HandleFunc("GET /api/notifications", s.drainNotifications)

	var handler http.Handler = mux
	if len(s.config.CORSOrigins) > 0 {
		handler = cors.New(cors.Options{
			AllowedOrigins:   s.config.CORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost},
			AllowedHeaders:   []string{"Content-Type", "Authorization"},
			AllowCredentials: true,
		}).Handler(handler)
	}

	handler = httpmiddleware.AccessLogMiddleware(log)(handler)
	return httpmiddleware.ClientIPMiddleware()(handler)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.controller.State())
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := s.controller.Login(r.Context(), req.EmailAddress, req.Password); err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("login rejected")
		s.writeFailure(w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, s.controller.State())
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := s.controller.Register(r.Context(), req.DisplayName, req.EmailAddress, req.Password); err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("registration rejected")
		s.writeFailure(w, http.StatusUnprocessableEntity, err)
		return
	}

	writeJSON(w, http.StatusOK, s.controller.State())
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	s.controller.Logout()
	writeJSON(w, http.StatusOK, s.controller.State())
}

func (s *Server) products(w http.ResponseWriter, r *http.Request) {
	if _, err := s.controller.RequireSession(); err != nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: err.Error()})
		return
	}

	page, err := intParam(r, "page", 1)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "page must be a number"})
		return
	}

	limit, err := intParam(r, "limit", catalog.DefaultPageSize)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a number"})
		return
	}

	result, err := s.fetcher.FetchPage(r.Context(), page, limit)
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("catalog fetch failed")

		status := http.StatusInternalServerError
		if errors.Is(err, catalog.ErrFetchFailed) {
			status = http.StatusBadGateway
		}
		writeJSON(w, status, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) drainNotifications(w http.ResponseWriter, r *http.Request) {
	items := []state.Notification{}
	if s.notifications != nil {
		if drained := s.notifications.Drain(); drained != nil {
			items = drained
		}
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) writeFailure(w http.ResponseWriter, status int, err error) {
	snap := s.controller.State()
	writeJSON(w, status, errorResponse{Error: err.Error(), State: &snap})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return false
	}
	return true
}

func intParam(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
