package nats

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/adamw/Draft-Commander/internal/logger"
	"github.com/adamw/Draft-Commander/internal/queue"
)

// Server consumes submission messages and feeds them into the queue.
type Server struct {
	conn    *nats.Conn
	sub     *nats.Subscription
	service *queue.Service
}

func NewServer(url string, service *queue.Service) (*Server, error) {
	if url == "" {
		url = nats.DefaultURL
	}

	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &Server{
		conn:    conn,
		service: service,
	}, nil
}

func (s *Server) Subscribe() error {
	sub, err := s.conn.Subscribe(SubmitSubject, func(msg *nats.Msg) {
		var sm SubmissionMessage
		if err := json.Unmarshal(msg.Data, &sm); err != nil {
			logger.Logger.Warn().Err(err).Msg("Dropping malformed submission message")
			return
		}

		id, err := s.service.Submit(sm.Folder, queue.Options{
			TemplateID:  sm.TemplateID,
			AutoPublish: sm.AutoPublish,
			Price:       sm.Price,
		})
		if err != nil {
			logger.Logger.Error().Err(err).Str("folder", sm.Folder).Msg("NATS submission rejected")
			return
		}

		logger.Logger.Info().Str("job_id", id).Str("folder", sm.Folder).Msg("Job submitted via NATS")
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to NATS: %w", err)
	}

	s.sub = sub
	return nil
}

func (s *Server) Close() {
	if s.sub != nil {
		s.sub.Unsubscribe()
	}
	if s.conn != nil {
		s.conn.Close()
	}
}
