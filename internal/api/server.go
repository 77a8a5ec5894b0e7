package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"chatbot/internal/host"
	"chatbot/internal/webapp"
	"chatbot/pkg/plugin"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// InstanceManager is the part of the host the admin endpoints drive
type InstanceManager interface {
	Instances() []host.Status
	Start(ctx context.Context, id string) error
	Stop(ctx context.Context, id string) error
	Restart(ctx context.Context, id string) error
	ReloadConfig(id string) error
	Config(id string) (map[string]any, error)
}

// Server serves plugin web mounts, health checks, metrics and the admin API.
//
// The admin API under /api/ requires "Authorization: Bearer <adminToken>".
// Without a token it only answers loopback clients.
type Server struct {
	manager    InstanceManager
	adminToken string
	logger     *zap.Logger
	server     *http.Server
}

// NewServer creates a new API server
func NewServer(manager InstanceManager, mounts http.Handler, health healthcheck.Handler, gatherer prometheus.Gatherer, adminToken string, logger *zap.Logger, port int) *Server {
	s := &Server{
		manager:    manager,
		adminToken: adminToken,
		logger:     logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleSitemap)
	mux.Handle(webapp.BasePath, mounts)
	mux.HandleFunc("/live", health.LiveEndpoint)
	mux.HandleFunc("/ready", health.ReadyEndpoint)
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /api/instances", s.requireAdmin(s.handleListInstances))
	mux.HandleFunc("GET /api/instances/{id}/config", s.requireAdmin(s.handleInstanceConfig))
	mux.HandleFunc("POST /api/instances/{id}/{action}", s.requireAdmin(s.handleInstanceAction))

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the server's root handler
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// requireAdmin guards an admin endpoint
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.adminToken == "" {
			if !isLoopback(r.RemoteAddr) {
				s.logger.Warn("Admin request from non-loopback client rejected",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr))
				s.writeJSON(w, http.StatusForbidden, map[string]string{"error": "admin API is only available from localhost"})
				return
			}
			next(w, r)
			return
		}

		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.adminToken)) != 1 {
			s.logger.Warn("Unauthorized admin request",
				zap.String("path", r.URL.Path),
				zap.String("remote_addr", r.RemoteAddr))
			w.Header().Set("WWW-Authenticate", `Bearer realm="chatbot"`)
			s.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// handleListInstances returns every instance as JSON
func (s *Server) handleListInstances(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.manager.Instances())
}

// handleInstanceConfig returns the active configuration of one instance
func (s *Server) handleInstanceConfig(w http.ResponseWriter, r *http.Request) {
	values, err := s.manager.Config(r.PathValue("id"))
	if err != nil {
		s.writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, values)
}

// handleInstanceAction runs a lifecycle action on one instance
func (s *Server) handleInstanceAction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	action := r.PathValue("action")

	var err error
	switch action {
	case "start":
		err = s.manager.Start(r.Context(), id)
	case "stop":
		err = s.manager.Stop(r.Context(), id)
	case "restart":
		err = s.manager.Restart(r.Context(), id)
	case "reload-config":
		err = s.manager.ReloadConfig(id)
	default:
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown action " + action})
		return
	}

	if err != nil {
		s.logger.Warn("Instance action failed",
			zap.String("id", id),
			zap.String("action", action),
			zap.Error(err))
		s.writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
		return
	}

	s.logger.Info("Instance action completed",
		zap.String("id", id),
		zap.String("action", action),
		zap.String("remote_addr", r.RemoteAddr))
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, host.ErrInstanceNotFound), errors.Is(err, host.ErrNoConfig):
		return http.StatusNotFound
	case errors.Is(err, plugin.ErrAlreadyStarted), errors.Is(err, plugin.ErrNotStarted):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// Endpoint represents an API endpoint with its documentation
type Endpoint struct {
	Path        string `json:"path"`
	Method      string `json:"method"`
	Description string `json:"description"`
}

var endpoints = []Endpoint{
	{Path: "/", Method: "GET", Description: "This sitemap"},
	{Path: webapp.BasePath + "{id}/...", Method: "*", Description: "Plugin web apps"},
	{Path: "/live", Method: "GET", Description: "Liveness check"},
	{Path: "/ready", Method: "GET", Description: "Readiness check (chat connection)"},
	{Path: "/metrics", Method: "GET", Description: "Prometheus metrics"},
	{Path: "/api/instances", Method: "GET", Description: "List plugin instances"},
	{Path: "/api/instances/{id}/config", Method: "GET", Description: "Show an instance's active config"},
	{Path: "/api/instances/{id}/start", Method: "POST", Description: "Start an instance"},
	{Path: "/api/instances/{id}/stop", Method: "POST", Description: "Stop an instance"},
	{Path: "/api/instances/{id}/restart", Method: "POST", Description: "Restart an instance"},
	{Path: "/api/instances/{id}/reload-config", Method: "POST", Description: "Reload an instance's config"},
}

// handleSitemap lists the available endpoints
func (s *Server) handleSitemap(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	preferHTML := strings.Contains(r.Header.Get("Accept"), "text/html")

	if preferHTML {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<!DOCTYPE html>
<html>
<head>
    <title>Chatbot</title>
    <style>
        body { font-family: sans-serif; max-width: 720px; margin: 2em auto; }
        .endpoint { padding: 6px 0; border-bottom: 1px solid #ddd; }
        .method { display: inline-block; width: 4em; font-weight: bold; }
        .path { font-family: monospace; }
    </style>
</head>
<body>
    <h1>Chatbot</h1>
`)
		for _, ep := range endpoints {
			fmt.Fprintf(w, `    <div class="endpoint"><span class="method">%s</span> <span class="path">%s</span> %s</div>
`, ep.Method, ep.Path, ep.Description)
		}
		fmt.Fprint(w, "</body>\n</html>\n")
	} else {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintf(w, "Chatbot\n=======\n\n")
		for _, ep := range endpoints {
			fmt.Fprintf(w, "  %-6s %-40s %s\n", ep.Method, ep.Path, ep.Description)
		}
	}

	s.logger.Debug("Sitemap request served",
		zap.String("remote_addr", r.RemoteAddr),
		zap.Bool("html_format", preferHTML))
}

// Start begins serving HTTP requests
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.server.Addr))
	if s.adminToken == "" {
		s.logger.Warn("ADMIN_TOKEN is not set, the admin API only answers localhost")
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop() error {
	s.logger.Info("Stopping HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	return nil
}
