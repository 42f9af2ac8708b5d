// Package debug provides a sink that logs changes.
package debug

import (
	"context"

	"github.com/edgeflare/pgcrud/pkg/events"
	"go.uber.org/zap"
)

// Sink logs every change at info level.
type Sink struct {
	logger *zap.Logger
}

func (s *Sink) Connect(_ context.Context, _ map[string]any, logger *zap.Logger) error {
	s.logger = logger
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return nil
}

func (s *Sink) Publish(_ context.Context, c events.Change) error {
	s.logger.Info(events.SinkDebug,
		zap.String("id", c.ID),
		zap.String("subject", c.Subject()),
		zap.String("kind", c.Kind.String()),
		zap.Int("rows", len(c.Rows)),
		zap.String("location", c.Location),
		zap.String("request_id", c.RequestID),
		zap.Any("data", c.Rows),
	)
	return nil
}

func (s *Sink) Close() error { return nil }

func init() {
	events.RegisterSink(events.SinkDebug, func() events.Sink { return &Sink{} })
}
