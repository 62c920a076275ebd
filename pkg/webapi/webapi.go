// Package webapi serves the operational endpoints of a bootstrap process:
// liveness, cluster readiness and prometheus metrics.
package webapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ClusterStatus is what the readiness endpoint reports about the
// orchestrated cluster.
type ClusterStatus struct {
	Cluster string `json:"cluster"`
	State   string `json:"state"`
	Ready   bool   `json:"ready"`
}

// StatusSource yields the current cluster status.  The orchestrator side
// implements this; the web server never reaches into it beyond this call.
type StatusSource interface {
	ClusterStatus() ClusterStatus
}

type WebServerOptions struct {
	Logger        *zap.Logger
	ListenAddress string
	Version       string
	Status        StatusSource
}

type WebServer struct {
	logger        *zap.Logger
	listenAddress string
	version       string
	status        StatusSource
	httpServer    *http.Server
}

func NewWebServer(opts WebServerOptions) *WebServer {
	return &WebServer{
		logger:        opts.Logger,
		listenAddress: opts.ListenAddress,
		version:       opts.Version,
		status:        opts.Status,
	}
}

func (w *WebServer) handleRoot(rw http.ResponseWriter, r *http.Request) {
	rw.WriteHeader(200)
	_, err := rw.Write([]byte("cbclusterboot internal webapi"))
	if err != nil {
		w.logger.Debug("failed to write generic root response", zap.Error(err))
	}
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

// handleHealth is a plain liveness check; it answers healthy whenever the
// process is up, regardless of what the cluster is doing.
func (w *WebServer) handleHealth(rw http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   w.version,
	}

	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(http.StatusOK)

	err := json.NewEncoder(rw).Encode(resp)
	if err != nil {
		w.logger.Debug("failed to write health response", zap.Error(err))
	}
}

// handleReady reports whether the cluster has reached Running, with a 503
// until it has so load balancers and wait-for scripts can poll it.
func (w *WebServer) handleReady(rw http.ResponseWriter, r *http.Request) {
	status := w.status.ClusterStatus()

	rw.Header().Set("Content-Type", "application/json")
	if status.Ready {
		rw.WriteHeader(http.StatusOK)
	} else {
		rw.WriteHeader(http.StatusServiceUnavailable)
	}

	err := json.NewEncoder(rw).Encode(status)
	if err != nil {
		w.logger.Debug("failed to write ready response", zap.Error(err))
	}
}

func (w *WebServer) router() *mux.Router {
	r := mux.NewRouter()

	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", w.handleHealth).Methods(http.MethodGet)
	if w.status != nil {
		r.HandleFunc("/ready", w.handleReady).Methods(http.MethodGet)
	}
	r.HandleFunc("/", w.handleRoot)

	return r
}

func (w *WebServer) ListenAndServe() error {
	w.httpServer = &http.Server{
		Handler:      w.router(),
		Addr:         w.listenAddress,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return w.httpServer.ListenAndServe()
}

func (w *WebServer) Shutdown(ctx context.Context) error {
	if w.httpServer == nil {
		return nil
	}
	return w.httpServer.Shutdown(ctx)
}
