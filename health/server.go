package health

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/siffror/iiot-machine-health/errors"
)

// Server exposes the monitor over HTTP:
//
//	GET /healthz    aggregated service status (503 when unhealthy)
//	GET /components per-component statuses
type Server struct {
	serviceName string
	port        int
	monitor     *Monitor
	server      *http.Server
	listener    net.Listener
	mu          sync.Mutex
}

// NewServer creates a health server for the given monitor. Port 0
// asks the OS for an ephemeral port.
func NewServer(serviceName string, port int, monitor *Monitor) *Server {
	return &Server{
		serviceName: serviceName,
		port:        port,
		monitor:     monitor,
	}
}

// Start starts the health HTTP server. It blocks until the server
// stops, so callers run it in a goroutine.
func (s *Server) Start() error {
	s.mu.Lock()

	if s.server != nil {
		s.mu.Unlock()
		return errors.WrapInvalid(
			fmt.Errorf("server already running"),
			"HealthServer", "Start", "cannot start server that is already running")
	}
	if s.monitor == nil {
		s.mu.Unlock()
		return errors.WrapFatal(
			fmt.Errorf("nil monitor"),
			"HealthServer", "Start", "monitor not provided")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleOverall)
	mux.HandleFunc("/components", s.handleComponents)

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		s.mu.Unlock()
		return errors.WrapFatal(err, "HealthServer", "Start",
			fmt.Sprintf("failed to listen on port %d", s.port))
	}

	s.listener = listener
	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	srv := s.server
	s.mu.Unlock()

	if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
		return errors.WrapFatal(err, "HealthServer", "Start", "serve health endpoint")
	}
	return nil
}

// Stop stops the health server.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		err := s.server.Close()
		s.server = nil
		s.listener = nil
		if err != nil {
			return errors.WrapTransient(err, "HealthServer", "Stop",
				"failed to stop HTTP server")
		}
	}
	return nil
}

// Port returns the bound port, which matters when the server was
// started with port 0 in tests.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
			return addr.Port
		}
	}
	return s.port
}

func (s *Server) handleOverall(w http.ResponseWriter, _ *http.Request) {
	overall := s.monitor.Overall(s.serviceName)

	code := http.StatusOK
	if overall.IsUnhealthy() {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, overall)
}

func (s *Server) handleComponents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.monitor.Statuses())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
