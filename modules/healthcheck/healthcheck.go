// Package healthcheck serves the liveness and readiness endpoints plus the
// Prometheus metrics and config dump surfaces.
package healthcheck

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"
	"github.com/grafana/dskit/services"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/atomic"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Port int `yaml:"port"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.IntVar(&cfg.Port, prefix+".port", 8080, "Port for the liveness/readiness HTTP server.")
}

// Server exposes /healthz, /readyz, /metrics and /config. Liveness is a flag
// owned by the supervisor; readiness delegates to a check function so it
// always reflects the current broker state.
type Server struct {
	services.Service

	cfg    Config
	logger log.Logger

	live       *atomic.Bool
	draining   *atomic.Bool
	readyCheck func() error
	configDump interface{}

	listener net.Listener
	srv      *http.Server
}

func New(cfg Config, readyCheck func() error, configDump interface{}, logger log.Logger) *Server {
	s := &Server{
		cfg:        cfg,
		logger:     log.With(logger, "component", "healthcheck"),
		live:       atomic.NewBool(true),
		draining:   atomic.NewBool(false),
		readyCheck: readyCheck,
		configDump: configDump,
	}
	s.Service = services.NewBasicService(s.starting, s.running, s.stopping)
	return s
}

// SetLive flips the liveness flag. True from construction until the
// supervisor reaches stopped.
func (s *Server) SetLive(v bool) {
	s.live.Store(v)
}

// SetDraining forces readiness to false for the rest of the process
// lifetime. The supervisor calls it the moment shutdown begins, before the
// pipeline drains, so traffic stops routing while the broker is still up.
func (s *Server) SetDraining() {
	s.draining.Store(true)
}

func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/healthz", s.healthzHandler).Methods(http.MethodGet)
	router.HandleFunc("/readyz", s.readyzHandler).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/config", s.configHandler).Methods(http.MethodGet)
	return router
}

func (s *Server) starting(context.Context) error {
	listener, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(s.cfg.Port)))
	if err != nil {
		return fmt.Errorf("failed to listen on healthcheck port %d: %w", s.cfg.Port, err)
	}
	s.listener = listener
	s.srv = &http.Server{
		Handler:      s.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return nil
}

func (s *Server) running(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.Serve(s.listener)
	}()
	level.Info(s.logger).Log("msg", "healthcheck server started", "port", s.cfg.Port)

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *Server) stopping(_ error) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}

func (s *Server) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, s.live.Load())
}

func (s *Server) readyzHandler(w http.ResponseWriter, _ *http.Request) {
	if s.draining.Load() {
		writeStatus(w, false)
		return
	}
	writeStatus(w, s.readyCheck() == nil)
}

func (s *Server) configHandler(w http.ResponseWriter, _ *http.Request) {
	out, err := yaml.Marshal(s.configDump)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write(out)
}

func writeStatus(w http.ResponseWriter, healthy bool) {
	w.Header().Set("Content-Type", "application/json")
	status := "healthy"
	code := http.StatusOK
	if !healthy {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
}
