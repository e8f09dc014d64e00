// Package api is the HTTP surface: the catalog endpoints viewers use to
// discover groups, sensors, and reading types, the upload endpoint sensors
// post readings to, and the health and metrics endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"sensorhub/internal/ingest"
	"sensorhub/internal/registry"
	"sensorhub/pkg/interfaces"
	"sensorhub/pkg/types"
)

// Server handles HTTP only; all domain behavior lives behind the injected
// dependencies.
type Server struct {
	store      interfaces.Store
	registry   *registry.Registry
	dispatcher *ingest.Dispatcher
	router     *mux.Router
	log        *zap.Logger
}

// NewServer wires the routes.
func NewServer(store interfaces.Store, reg *registry.Registry, dispatcher *ingest.Dispatcher, log *zap.Logger) *Server {
	s := &Server{
		store:      store,
		registry:   reg,
		dispatcher: dispatcher,
		router:     mux.NewRouter(),
		log:        log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.corsMiddleware, s.jsonMiddleware)
	api.HandleFunc("/groups", s.listGroups).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/groups/{groupid}/sensors", s.listSensors).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/rtypes", s.listRTypes).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/readings", s.uploadReading).Methods(http.MethodPost, http.MethodOptions)

	s.router.Handle("/health", s.jsonMiddleware(http.HandlerFunc(s.healthCheck))).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Router exposes the mux so the application can mount the websocket endpoint
// alongside the API.
func (s *Server) Router() *mux.Router {
	return s.router
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

type HealthResponse struct {
	Status    string         `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Database  string         `json:"database"`
	Sessions  map[string]int `json:"sessions"`
}

func (s *Server) listGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.store.ListGroups(r.Context())
	if err != nil {
		s.sendError(w, "failed to list groups", http.StatusInternalServerError)
		return
	}
	if groups == nil {
		groups = []types.Group{}
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{"groups": groups})
}

func (s *Server) listSensors(w http.ResponseWriter, r *http.Request) {
	groupID, err := strconv.ParseInt(mux.Vars(r)["groupid"], 10, 64)
	if err != nil {
		s.sendError(w, "invalid group id", http.StatusBadRequest)
		return
	}

	sensors, err := s.store.ListSensors(r.Context(), groupID)
	if err != nil {
		s.sendError(w, "failed to list sensors", http.StatusInternalServerError)
		return
	}
	if sensors == nil {
		sensors = []types.Sensor{}
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{"sensors": sensors})
}

func (s *Server) listRTypes(w http.ResponseWriter, r *http.Request) {
	rtypes, err := s.store.ListRTypes(r.Context())
	if err != nil {
		s.sendError(w, "failed to list reading types", http.StatusInternalServerError)
		return
	}
	if rtypes == nil {
		rtypes = []types.RType{}
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{"rtypes": rtypes})
}

// uploadReading accepts one reading from a sensor. 202 means accepted into
// the pipeline, not yet necessarily persisted.
func (s *Server) uploadReading(w http.ResponseWriter, r *http.Request) {
	var reading types.Reading
	if err := json.NewDecoder(r.Body).Decode(&reading); err != nil {
		s.sendError(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	if err := s.dispatcher.Submit(reading); err != nil {
		switch {
		case errors.Is(err, types.ErrMissingField):
			s.sendError(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, ingest.ErrChannelFull):
			s.sendError(w, "ingest pipeline saturated, retry later", http.StatusServiceUnavailable)
		default:
			s.sendError(w, "failed to accept reading", http.StatusInternalServerError)
		}
		return
	}
	s.sendJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"
	if err := s.store.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		dbStatus = err.Error()
	}

	resp := HealthResponse{
		Status:    status,
		Timestamp: time.Now(),
		Database:  dbStatus,
		Sessions:  s.registry.Stats(),
	}

	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	s.sendJSON(w, code, resp)
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v interface{}) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug("response encode failed", zap.Error(err))
	}
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.sendJSON(w, code, ErrorResponse{Error: message, Code: code})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
