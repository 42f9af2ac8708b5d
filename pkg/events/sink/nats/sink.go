// Package nats publishes changes to a NATS JetStream stream. Subjects are
// <prefix>.<schema>.<table>.<op>.
package nats

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/edgeflare/pgcrud/pkg/events"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

var errConnNotInitialized = errors.New("NATS connection not initialized")

// Config represents NATS configuration
type Config struct {
	Servers       []string `mapstructure:"servers"`
	Stream        string   `mapstructure:"stream"`
	SubjectPrefix string   `mapstructure:"subject_prefix"`
	Username      string   `mapstructure:"username"`
	Password      string   `mapstructure:"password"`
	TLS           struct {
		Enabled  bool   `mapstructure:"enabled"`
		CertFile string `mapstructure:"cert_file"`
		KeyFile  string `mapstructure:"key_file"`
		CAFile   string `mapstructure:"ca_file"`
	} `mapstructure:"tls"`
}

func (c *Config) setDefaults() {
	if len(c.Servers) == 0 {
		c.Servers = []string{nats.DefaultURL}
	}
	c.SubjectPrefix = cmp.Or(c.SubjectPrefix, "pgcrud")
	c.Stream = cmp.Or(c.Stream, c.SubjectPrefix+"-stream")
}

// Subject returns the subject a change is published on.
func (c Config) Subject(ch events.Change) string {
	return c.SubjectPrefix + "." + ch.Subject()
}

// Sink publishes to JetStream.
type Sink struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	logger *zap.Logger
	Config Config
}

// Connect establishes a connection to the first available server and makes
// sure the stream exists.
func (s *Sink) Connect(_ context.Context, config map[string]any, logger *zap.Logger) error {
	if err := events.DecodeConfig(config, &s.Config); err != nil {
		return err
	}
	s.Config.setDefaults()
	s.logger = cmp.Or(logger, zap.NewNop())

	opts := defaultOptions(s.Config)
	var err error
	for _, server := range s.Config.Servers {
		s.nc, err = nats.Connect(server, opts...)
		if err == nil {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("connect to NATS server: %w", err)
	}

	if s.js, err = s.nc.JetStream(); err != nil {
		s.nc.Close()
		return fmt.Errorf("create JetStream context: %w", err)
	}
	if err := s.ensureStream(); err != nil {
		s.nc.Close()
		return fmt.Errorf("ensure stream: %w", err)
	}
	return nil
}

// Publish sends the change with its id as the deduplication id.
func (s *Sink) Publish(ctx context.Context, c events.Change) error {
	if s.js == nil {
		return errConnNotInitialized
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal change: %w", err)
	}

	msg := nats.NewMsg(s.Config.Subject(c))
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, c.ID)
	if c.RequestID != "" {
		msg.Header.Set("X-Request-Id", c.RequestID)
	}
	if _, err := s.js.PublishMsg(msg, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

func (s *Sink) Close() error {
	if s.nc != nil {
		return s.nc.Drain()
	}
	return nil
}

// ensureStream creates or updates the stream
func (s *Sink) ensureStream() error {
	config := &nats.StreamConfig{
		Name:     s.Config.Stream,
		Subjects: []string{s.Config.SubjectPrefix + ".>"},
		Storage:  nats.FileStorage,
		Replicas: 1,
	}

	stream, err := s.js.StreamInfo(s.Config.Stream)
	if err == nil {
		if !streamConfigEqual(stream.Config, *config) {
			if _, err = s.js.UpdateStream(config); err != nil {
				return fmt.Errorf("update stream: %w", err)
			}
			s.logger.Info("updated stream", zap.String("stream", s.Config.Stream))
		}
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("get stream info: %w", err)
	}

	if _, err := s.js.AddStream(config); err != nil {
		return fmt.Errorf("create stream: %w", err)
	}
	s.logger.Info("created stream", zap.String("stream", s.Config.Stream))
	return nil
}

func streamConfigEqual(a, b nats.StreamConfig) bool {
	return a.Name == b.Name && a.Storage == b.Storage && a.Replicas == b.Replicas &&
		slices.Equal(a.Subjects, b.Subjects)
}

func defaultOptions(c Config) []nats.Option {
	opts := []nats.Option{
		nats.Name("pgcrud"),
		nats.Timeout(5 * time.Second),
		nats.PingInterval(10 * time.Second),
		nats.MaxPingsOutstanding(3),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	}

	if c.Username != "" && c.Password != "" {
		opts = append(opts, nats.UserInfo(c.Username, c.Password))
	}

	if c.TLS.Enabled {
		if c.TLS.CAFile != "" {
			opts = append(opts, nats.RootCAs(c.TLS.CAFile))
		}
		if c.TLS.CertFile != "" && c.TLS.KeyFile != "" {
			opts = append(opts, nats.ClientCert(c.TLS.CertFile, c.TLS.KeyFile))
		}
	}
	return opts
}

func init() {
	events.RegisterSink(events.SinkNATS, func() events.Sink { return &Sink{} })
}
