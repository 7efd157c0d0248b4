// File: internal/proxy/server.go
package proxy

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/zetavg/session-proxy/internal/config"
)

// Server wraps the HTTP listener around the proxy handler.
type Server struct {
	srv *http.Server
	log *zap.Logger
}

// NewServer builds the router and the underlying http.Server from config.
func NewServer(cfg config.ServerConfig, handler http.Handler, logger *zap.Logger) *Server {
	log := logger.Named("server")

	r := mux.NewRouter()
	r.Handle("/v1", handler).Methods(http.MethodGet)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeJSONError(w, http.StatusNotFound, "not found: "+req.URL.Path)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed: "+req.Method)
	})
	r.Use(requestLogMiddleware(log))

	return &Server{
		srv: &http.Server{
			Addr:    cfg.Addr(),
			Handler: r,
			// No WriteTimeout: large downloads and slow renders stream for
			// longer than any fixed cap we could pick.
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		log: log,
	}
}

// Router exposes the configured handler tree, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.srv.Handler
}

// ListenAndServe blocks serving requests until Shutdown is called or the
// listener fails.
func (s *Server) ListenAndServe() error {
	s.log.Info("Proxy server listening.", zap.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Serve blocks serving requests on an existing listener.
func (s *Server) Serve(l net.Listener) error {
	s.log.Info("Proxy server listening.", zap.String("addr", l.Addr().String()))
	if err := s.srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting new connections and waits for in-flight requests
// to drain, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down proxy server.")
	return s.srv.Shutdown(ctx)
}

// requestLogMiddleware tags each request with an ID and logs its outcome.
func requestLogMiddleware(log *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := uuid.NewString()
			w.Header().Set("X-Request-ID", requestID)

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(rec, r)

			log.Info("Request handled.",
				zap.String("request_id", requestID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

// statusRecorder captures the response status while passing Flush through so
// streamed bodies are not buffered.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
