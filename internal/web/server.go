// Package web serves the valve control API, the status page and the live
// status stream.
package web

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sweeney/valve-panel/internal/logger"
	"github.com/sweeney/valve-panel/internal/metrics"
	"github.com/sweeney/valve-panel/internal/status"
	"github.com/sweeney/valve-panel/internal/valve"
)

// Server serves the control API over HTTP.
type Server struct {
	httpServer *http.Server
	registry   *valve.Registry
	tracker    *status.Tracker
	metrics    *metrics.Metrics
	hub        *Hub
}

// New creates a Server for reg. m may be nil, in which case /metrics is not
// mounted and rejections are not counted.
func New(addr string, reg *valve.Registry, tracker *status.Tracker, m *metrics.Metrics) *Server {
	s := &Server{
		registry: reg,
		tracker:  tracker,
		metrics:  m,
	}
	s.hub = NewHub(s.statusPayload)
	reg.Subscribe(s.hub)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/", s.handleIndex)
	r.Get("/index.html", s.handleIndex)
	r.Get("/index.json", s.handleJSON)

	r.Route("/api/relay", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/ws", s.hub.ServeHTTP)
		r.Get("/all/off", s.handleAll(false))
		r.Post("/all/off", s.handleAll(false))
		r.Get("/all/on", s.handleAll(true))
		r.Post("/all/on", s.handleAll(true))

		r.Get("/{n}", s.handleGet)
		r.Post("/{n}/toggle", s.handleToggle)
		r.Post("/{n}/set", s.handleSet)
		r.Post("/{n}/lock", s.handleLock)
	})

	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	return r
}

// Handler returns the routed handler. Useful for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown closes websocket clients and then gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot(r.Context())
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderHTML(w, snap); err != nil {
		logger.ErrorKV(r.Context(), "Render index failed", "error", err)
	}
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot(r.Context())
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

// requestLogger logs one line per request at debug level.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logger.DebugKV(r.Context(), "HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
	})
}
