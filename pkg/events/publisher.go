package events

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/edgeflare/pgcrud/pkg/crud"
	"github.com/edgeflare/pgcrud/pkg/httputil"
	"github.com/edgeflare/pgcrud/pkg/metrics"
	"go.uber.org/zap"
)

var ErrPublisherClosed = errors.New("publisher closed")

// PublisherOptions tunes queueing and retries.
type PublisherOptions struct {
	Logger *zap.Logger
	// QueueSize bounds the changes waiting for delivery. Changes observed
	// while the queue is full are dropped.
	QueueSize int
	// MaxRetries bounds the retries per sink and change.
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// PublishTimeout bounds one delivery attempt.
	PublishTimeout time.Duration
}

type target struct {
	name   string
	sink   Sink
	tables []string
}

func (t target) accepts(c Change) bool {
	return len(t.tables) == 0 || slices.Contains(t.tables, c.Schema+"."+c.Table)
}

// Publisher fans committed changes out to sinks from a background worker.
// It implements crud.Observer; delivery never affects the HTTP response.
type Publisher struct {
	opts    PublisherOptions
	logger  *zap.Logger
	targets []target
	queue   chan Change
	done    chan struct{}
	closed  bool
	mu      sync.RWMutex
}

var _ crud.Observer = (*Publisher)(nil)

// NewPublisher starts a publisher with no sinks.
func NewPublisher(opts PublisherOptions) *Publisher {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = 100 * time.Millisecond
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = 5 * time.Second
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = defaultPublishTimeout
	}

	p := &Publisher{
		opts:   opts,
		logger: opts.Logger,
		queue:  make(chan Change, opts.QueueSize),
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

// Connect creates a sink from cfg, connects it and adds it.
func (p *Publisher) Connect(ctx context.Context, cfg SinkConfig) error {
	sink, err := NewSink(cfg.Type)
	if err != nil {
		return err
	}
	name := cfg.Name
	if name == "" {
		name = cfg.Type
	}
	if err := sink.Connect(ctx, cfg.Config, p.logger.With(zap.String("sink", name))); err != nil {
		return fmt.Errorf("connect sink %s: %w", name, err)
	}
	p.Add(name, sink, cfg.Tables...)
	return nil
}

// Add registers a connected sink. tables limits it to schema.table names.
func (p *Publisher) Add(name string, sink Sink, tables ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.targets = append(p.targets, target{name: name, sink: sink, tables: tables})
	p.logger.Info("event sink added", zap.String("sink", name), zap.Strings("tables", tables))
}

// Sinks returns the names of the added sinks.
func (p *Publisher) Sinks() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, len(p.targets))
	for i, t := range p.targets {
		names[i] = t.name
	}
	return names
}

// Observe implements crud.Observer. Committed mutations are queued without
// blocking the request.
func (p *Publisher) Observe(ctx context.Context, rec crud.Record) {
	c, ok := FromRecord(rec)
	if !ok {
		return
	}
	if id, ok := httputil.RequestID(ctx); ok {
		c.RequestID = id
	}
	if err := p.Enqueue(c); err != nil {
		metrics.PublishErrors.WithLabelValues("queue").Inc()
		p.logger.Warn("change dropped", zap.String("id", c.ID), zap.String("subject", c.Subject()), zap.Error(err))
	}
}

// Enqueue queues c for delivery. It fails when the queue is full or the
// publisher is closed.
func (p *Publisher) Enqueue(c Change) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPublisherClosed
	}
	select {
	case p.queue <- c:
		return nil
	default:
		return fmt.Errorf("queue full (%d)", cap(p.queue))
	}
}

func (p *Publisher) run() {
	defer close(p.done)
	for c := range p.queue {
		p.mu.RLock()
		targets := slices.Clone(p.targets)
		p.mu.RUnlock()

		for _, t := range targets {
			if !t.accepts(c) {
				continue
			}
			if err := p.publish(t, c); err != nil {
				metrics.PublishErrors.WithLabelValues(t.name).Inc()
				p.logger.Error("publish change",
					zap.String("sink", t.name),
					zap.String("id", c.ID),
					zap.String("subject", c.Subject()),
					zap.Error(err),
				)
				continue
			}
			metrics.PublishedEvents.WithLabelValues(t.name).Inc()
		}
	}
}

func (p *Publisher) publish(t target, c Change) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.opts.InitialInterval
	b.MaxInterval = p.opts.MaxInterval
	b.MaxElapsedTime = 0

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		if attempt > 1 {
			p.logger.Debug("retrying publish", zap.String("sink", t.name), zap.Int("attempt", attempt))
		}
		ctx, cancel := context.WithTimeout(context.Background(), p.opts.PublishTimeout)
		defer cancel()
		return t.sink.Publish(ctx, c)
	}, backoff.WithMaxRetries(b, p.opts.MaxRetries))
}

// Close stops accepting changes, delivers the queued ones and closes every
// sink.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	<-p.done

	var errs []error
	for _, t := range p.targets {
		if err := t.sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close sink %s: %w", t.name, err))
		}
	}
	return errors.Join(errs...)
}
