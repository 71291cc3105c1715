// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package httpapi serves operational HTTP endpoints: Prometheus metrics and
// a read-only JSON status view of every rule's current selection and health.
// It is a deliberately narrow server — no auth, no mutation, no TLS, no websockets, scoped down to the
// day-2 operability this daemon actually needs.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"forwardkit.dev/smartforward/internal/errors"
	"forwardkit.dev/smartforward/internal/forwarder"
	"forwardkit.dev/smartforward/internal/logging"
	"forwardkit.dev/smartforward/internal/metrics"
	"forwardkit.dev/smartforward/internal/registry"
)

// serverConfig sets conservative timeouts: this surface has no request
// body to bound and no auth layer to protect, but still deserves slowloris
// and keep-alive limits.
type serverConfig struct {
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
}

func defaultServerConfig() serverConfig {
	return serverConfig{
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// Server serves Prometheus metrics and a read-only status view over one gorilla/mux
// router, on up to two listen addresses (metrics and control may share an
// address, differ, or either may be disabled by leaving it empty).
type Server struct {
	router      *mux.Router
	metricsAddr string
	controlAddr string
	logger      *logging.Logger
}

// NewServer builds the router. An empty metricsAddr disables /metrics; an
// empty controlAddr disables /status. forwarders may be nil if byte-counter
// detail in /status is not needed.
func NewServer(metricsAddr, controlAddr string, collector *metrics.Collector, reg *registry.Registry, forwarders map[string]*forwarder.Unified, logger *logging.Logger) (*Server, error) {
	if logger == nil {
		logger = logging.New(logging.DefaultConfig())
	}

	router := mux.NewRouter()

	if metricsAddr != "" {
		promReg := prometheus.NewRegistry()
		if err := collector.Register(promReg); err != nil {
			return nil, errors.Wrap(err, errors.KindBind, "httpapi: register metrics")
		}
		router.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	if controlAddr != "" {
		h := &statusHandler{registry: reg, forwarders: forwarders}
		router.HandleFunc("/status", h.handle).Methods(http.MethodGet)
	}

	return &Server{
		router:      router,
		metricsAddr: metricsAddr,
		controlAddr: controlAddr,
		logger:      logger.WithComponent("httpapi"),
	}, nil
}

// Run starts whichever of the metrics/control listeners are configured and
// blocks until ctx is canceled, shutting each server down gracefully.
func (s *Server) Run(ctx context.Context) error {
	var servers []*http.Server

	cfg := defaultServerConfig()
	newServer := func(addr string) *http.Server {
		return &http.Server{
			Addr:              addr,
			Handler:           s.router,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
			ReadTimeout:       cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       cfg.IdleTimeout,
		}
	}

	switch {
	case s.metricsAddr == "" && s.controlAddr == "":
		<-ctx.Done()
		return nil
	case s.metricsAddr == s.controlAddr:
		servers = append(servers, newServer(s.metricsAddr))
	default:
		if s.metricsAddr != "" {
			servers = append(servers, newServer(s.metricsAddr))
		}
		if s.controlAddr != "" {
			servers = append(servers, newServer(s.controlAddr))
		}
	}

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		srv := srv
		s.logger.Info("http surface listening", "addr", srv.Addr)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- errors.Wrapf(err, errors.KindBind, "httpapi: serve %s", srv.Addr)
				return
			}
			errCh <- nil
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("http surface shutdown failed", "addr", srv.Addr, "error", err)
		}
	}
	return nil
}

// statusHandler answers GET /status with every rule's current
// selection, candidate health, and forwarder byte counters, read-only.
type statusHandler struct {
	registry   *registry.Registry
	forwarders map[string]*forwarder.Unified
}

type ruleStatus struct {
	Name       string              `json:"name"`
	Selected   string              `json:"selected"`
	Candidates []candidateStatus   `json:"candidates"`
	Bytes      map[string][]uint64 `json:"bytes,omitempty"` // proto -> [sent, received]
}

type candidateStatus struct {
	Target    string `json:"target"`
	Healthy   bool   `json:"healthy"`
	FailCount int    `json:"fail_count"`
}

type statusResponse struct {
	Rules []ruleStatus `json:"rules"`
}

func (h *statusHandler) handle(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{}

	for name, info := range h.registry.All() {
		rs := ruleStatus{Name: name, Selected: info.Selected}
		for _, c := range info.Candidates {
			rs.Candidates = append(rs.Candidates, candidateStatus{
				Target:    c.Original,
				Healthy:   c.Healthy,
				FailCount: c.FailCount,
			})
		}

		if uf, ok := h.forwarders[name]; ok {
			rs.Bytes = make(map[string][]uint64)
			for kind, stats := range uf.Stats() {
				rs.Bytes[kind.String()] = []uint64{stats.BytesSent, stats.BytesReceived}
			}
		}

		resp.Rules = append(resp.Rules, rs)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, "encode status", http.StatusInternalServerError)
	}
}
