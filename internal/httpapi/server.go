// v1
// internal/httpapi/server.go
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Server wraps the API's http.Server with the timeouts every endpoint
// tolerates. Websocket connections hijack out of these limits after the
// handshake.
type Server struct {
	HTTP *http.Server
	Log  *slog.Logger
}

func NewServer(addr string, handler http.Handler, log *slog.Logger) *Server {
	hs := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return &Server{HTTP: hs, Log: log.With(slog.String("component", "httpapi"))}
}

func (s *Server) Start() error {
	s.Log.Info("http server starting", slog.String("addr", s.HTTP.Addr))
	return s.HTTP.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	s.Log.Info("http server stopping")
	return s.HTTP.Shutdown(ctx)
}
