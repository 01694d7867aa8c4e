package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/ajitpratap0/cityscope/internal/metrics"
	"github.com/ajitpratap0/cityscope/internal/models"
	"github.com/ajitpratap0/cityscope/internal/store"
)

const maxBodyBytes = 1 << 20 // 1 MB limit

// Trigger schedules a generation run for a city.
type Trigger interface {
	Trigger(ctx context.Context, id string) (bool, error)
}

// Server is an HTTP API server that exposes city operations.
type Server struct {
	store     store.Store
	gen       Trigger
	logger    *slog.Logger
	authToken string // empty = no auth required
}

// NewServer creates a new Server with the given dependencies.
func NewServer(st store.Store, gen Trigger, logger *slog.Logger, authToken string) *Server {
	return &Server{
		store:     st,
		gen:       gen,
		logger:    logger,
		authToken: authToken,
	}
}

// Handler returns an http.Handler with all routes registered.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	// Health check and metrics need no auth.
	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.auth)
		r.Get("/cities", s.handleListCities)
		r.Post("/cities", s.handleCreateCity)
		r.Get("/cities/{id}", s.handleGetCity)
		r.Delete("/cities/{id}", s.handleDeleteCity)
		r.Post("/cities/{id}/generate", s.handleGenerate)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// --- middleware ---

// auth wraps a handler with Bearer token authentication when authToken is set.
func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.authToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
			s.writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- handlers ---

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListCities(w http.ResponseWriter, r *http.Request) {
	cities, err := s.store.List(r.Context())
	if err != nil {
		s.logger.Error("failed to list cities", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list cities")
		return
	}
	if cities == nil {
		cities = []models.City{}
	}
	s.writeJSON(w, http.StatusOK, cities)
}

func (s *Server) handleGetCity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	city, err := s.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "city not found")
			return
		}
		s.logger.Error("failed to get city", "id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get city")
		return
	}
	s.writeJSON(w, http.StatusOK, city)
}

func (s *Server) handleCreateCity(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req models.NewCity
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	city := models.City{
		ID:        req.ID,
		Name:      req.Name,
		Continent: req.Continent,
		Country:   req.Country,
		Status:    models.StatusNone,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.Create(r.Context(), city); err != nil {
		if errors.Is(err, store.ErrConflict) {
			s.writeError(w, http.StatusConflict, "city with the same id already exists")
			return
		}
		s.logger.Error("failed to create city", "id", city.ID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to create city")
		return
	}

	s.logger.Info("city created", "city_id", city.ID, "name", city.Name)
	s.writeJSON(w, http.StatusCreated, city)
}

func (s *Server) handleDeleteCity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "city not found")
			return
		}
		s.logger.Error("failed to delete city", "id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to delete city")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// generateResponse is returned by POST /cities/{id}/generate.
type generateResponse struct {
	OK      bool `json:"ok"`
	Started bool `json:"started"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	started, err := s.gen.Trigger(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "city not found")
			return
		}
		s.logger.Error("failed to trigger generation", "id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to start generation")
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	s.writeJSON(w, http.StatusAccepted, generateResponse{OK: true, Started: started})
}

// --- helpers ---

// writeJSON encodes v as JSON and writes it to w with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(v); encErr != nil {
		s.logger.Error("failed to encode response", "error", encErr)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// Shutdown gracefully shuts down an http.Server with the given timeout.
// This is a convenience helper used by the serve command.
func Shutdown(srv *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return srv.Shutdown(ctx)
}
