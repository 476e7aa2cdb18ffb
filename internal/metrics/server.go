package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/systmms/vaultconfig/internal/logging"
)

// Source is the resolved environment served by the agent
type Source interface {
	Healthy() error
	Map() map[string]string
}

// ServerConfig holds configuration for the agent HTTP server
type ServerConfig struct {
	// Address is the listen address, ":0" picks a free port
	Address string

	// ExposeValues serves property values, not just keys
	ExposeValues bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultServerConfig returns the default agent server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:      ":9102",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Server serves metrics, health and the resolved properties
type Server struct {
	config   ServerConfig
	source   Source
	gatherer prometheus.Gatherer
	logger   *logging.Logger

	server   *http.Server
	listener net.Listener
	done     chan error
}

// NewServer creates an agent server. gatherer is usually Recorder.Registry().
func NewServer(config ServerConfig, source Source, gatherer prometheus.Gatherer, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Server{
		config:   config,
		source:   source,
		gatherer: gatherer,
		logger:   logger.Named("agent"),
	}
}

// Route registers the agent endpoints
func (s *Server) Route(r *mux.Router) {
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.GetHealth).Methods(http.MethodGet)
	r.HandleFunc("/v1/properties", s.GetProperties).Methods(http.MethodGet)
	r.HandleFunc("/v1/properties/{key}", s.GetProperty).Methods(http.MethodGet)
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	s.Route(r)
	return r
}

// GetHealth answers 200 while the source is healthy and 503 otherwise
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.source.Healthy(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetProperties lists property keys, with values when exposed
func (s *Server) GetProperties(w http.ResponseWriter, r *http.Request) {
	props := s.source.Map()
	if s.config.ExposeValues {
		writeJSON(w, http.StatusOK, map[string]interface{}{"properties": props})
		return
	}

	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	writeJSON(w, http.StatusOK, map[string]interface{}{"keys": keys})
}

// GetProperty returns one value. Without ExposeValues it only reports
// whether the key exists.
func (s *Server) GetProperty(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	value, ok := s.source.Map()[key]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "property not found", "key": key})
		return
	}
	if !s.config.ExposeValues {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "property values are not exposed", "key": key})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": value})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// Start listens on the configured address and serves in the background
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return err
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	s.done = make(chan error, 1)

	go func() {
		err := s.server.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		if err != nil {
			s.logger.Error("Agent server error: %v", err)
		}
		s.done <- err
	}()

	s.logger.Info("Agent listening on %s", ln.Addr())
	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}
	s.server = nil
	return <-s.done
}

// Addr returns the bound address once started
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}
