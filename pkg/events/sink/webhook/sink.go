// Package webhook posts changes as JSON to HTTP endpoints.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/edgeflare/pgcrud/pkg/events"
	"github.com/edgeflare/pgcrud/pkg/httputil"
	"go.uber.org/zap"
)

// AuthType represents supported authentication methods
type AuthType string

const (
	AuthTypeNone   AuthType = "none"
	AuthTypeAPIKey AuthType = "apikey"
	AuthTypeBearer AuthType = "bearer"
	AuthTypeBasic  AuthType = "basic"
)

// AuthConfig holds authentication configuration
type AuthConfig struct {
	Type AuthType `mapstructure:"type"`
	// APIKeyName is the header carrying APIKey, X-API-Key by default.
	APIKey     string `mapstructure:"api_key"`
	APIKeyName string `mapstructure:"api_key_name"`
	Username   string `mapstructure:"username"`
	Password   string `mapstructure:"password"`
	Token      string `mapstructure:"token"`
}

// Endpoint is one webhook receiver.
type Endpoint struct {
	URL     string            `mapstructure:"url"`
	Method  string            `mapstructure:"method"`
	Headers map[string]string `mapstructure:"headers"`
}

// Config represents webhook sink configuration
type Config struct {
	Endpoints []Endpoint    `mapstructure:"endpoints"`
	Auth      AuthConfig    `mapstructure:"auth"`
	Timeout   time.Duration `mapstructure:"timeout"`
	// MaxRetries bounds in-request retries of 5xx and 429 responses.
	MaxRetries uint64 `mapstructure:"max_retries"`
}

func (c *Config) setDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Auth.Type == "" {
		c.Auth.Type = AuthTypeNone
	}
	if c.Auth.Type == AuthTypeAPIKey && c.Auth.APIKeyName == "" {
		c.Auth.APIKeyName = "X-API-Key"
	}
	for i := range c.Endpoints {
		if c.Endpoints[i].Method == "" {
			c.Endpoints[i].Method = http.MethodPost
		}
	}
}

func (c *Config) validate() error {
	if len(c.Endpoints) == 0 {
		return errors.New("no endpoints configured")
	}
	for _, e := range c.Endpoints {
		if e.URL == "" {
			return errors.New("endpoint url is required")
		}
	}
	switch c.Auth.Type {
	case AuthTypeNone:
	case AuthTypeAPIKey:
		if c.Auth.APIKey == "" {
			return errors.New("API key authentication requires an API key")
		}
	case AuthTypeBasic:
		if c.Auth.Username == "" || c.Auth.Password == "" {
			return errors.New("basic authentication requires both username and password")
		}
	case AuthTypeBearer:
		if c.Auth.Token == "" {
			return errors.New("bearer authentication requires a token")
		}
	default:
		return fmt.Errorf("unsupported auth type %q", c.Auth.Type)
	}
	return nil
}

// Sink posts every change to each endpoint.
type Sink struct {
	client *http.Client
	logger *zap.Logger
	Config Config
}

func (s *Sink) Connect(_ context.Context, config map[string]any, logger *zap.Logger) error {
	if err := events.DecodeConfig(config, &s.Config); err != nil {
		return err
	}
	s.Config.setDefaults()
	if err := s.Config.validate(); err != nil {
		return err
	}
	s.client = &http.Client{Timeout: s.Config.Timeout}
	s.logger = logger
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.logger.Info("webhook sink initialized",
		zap.Int("num_endpoints", len(s.Config.Endpoints)),
		zap.String("auth_type", string(s.Config.Auth.Type)),
		zap.Duration("timeout", s.Config.Timeout))
	return nil
}

// Publish delivers c to every endpoint and joins the failures.
func (s *Sink) Publish(ctx context.Context, c events.Change) error {
	var errs []error
	for _, endpoint := range s.Config.Endpoints {
		config := httputil.DefaultRequestConfig(endpoint.Method, endpoint.URL)
		config.Client = s.client
		config.Logger = s.logger
		config.Headers = s.headers(endpoint, c)
		config.MaxRetries = s.Config.MaxRetries
		config.RetryEnabled = s.Config.MaxRetries > 0

		if _, err := httputil.Request(ctx, config, c); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", endpoint.URL, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Sink) headers(endpoint Endpoint, c events.Change) http.Header {
	h := make(http.Header)
	for key, value := range endpoint.Headers {
		h.Set(key, value)
	}
	h.Set("X-Pgcrud-Event", c.ID)
	h.Set("X-Pgcrud-Subject", c.Subject())
	if c.RequestID != "" {
		h.Set("X-Request-Id", c.RequestID)
	}

	switch s.Config.Auth.Type {
	case AuthTypeAPIKey:
		h.Set(s.Config.Auth.APIKeyName, s.Config.Auth.APIKey)
	case AuthTypeBasic:
		req := http.Request{Header: h}
		req.SetBasicAuth(s.Config.Auth.Username, s.Config.Auth.Password)
	case AuthTypeBearer:
		h.Set("Authorization", "Bearer "+s.Config.Auth.Token)
	}
	return h
}

func (s *Sink) Close() error {
	if s.client != nil {
		s.client.CloseIdleConnections()
	}
	return nil
}

func init() {
	events.RegisterSink(events.SinkWebhook, func() events.Sink { return &Sink{} })
}
