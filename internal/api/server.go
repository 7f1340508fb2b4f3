package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/adamw/Draft-Commander/internal/logger"
	"github.com/adamw/Draft-Commander/internal/queue"
	"github.com/adamw/Draft-Commander/internal/templates"
	"github.com/adamw/Draft-Commander/internal/websocket"
)

type Server struct {
	service  *queue.Service
	tpl      *templates.Store
	hub      *websocket.Hub
	inboxDir string
	port     string
	httpSrv  *http.Server
}

func NewServer(service *queue.Service, tpl *templates.Store, hub *websocket.Hub, inboxDir, port string) *Server {
	return &Server{
		service:  service,
		tpl:      tpl,
		hub:      hub,
		inboxDir: inboxDir,
		port:     port,
	}
}

// Start blocks serving HTTP until Shutdown is called or the listener fails.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%s", s.port)

	mux := http.NewServeMux()
	AddRoutes(mux, s.service, s.tpl, s.hub, s.inboxDir)

	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.Logger.Info().Str("addr", addr).Msg("Starting API server")
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
