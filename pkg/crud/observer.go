package crud

import (
	"context"
	"time"
)

// Record summarizes one handled request.
type Record struct {
	Entity    string
	Kind      Kind
	Status    int
	Count     int
	Committed bool
	// Body is the response body of data-carrying artifacts (Row or []Row).
	Body     any
	Location string
	Duration time.Duration
	Err      error
}

// Observer is notified after every request, once the response artifact is
// final. Observe runs on the request goroutine and must not block.
type Observer interface {
	Observe(ctx context.Context, rec Record)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, rec Record)

func (f ObserverFunc) Observe(ctx context.Context, rec Record) { f(ctx, rec) }
