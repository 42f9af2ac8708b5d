package crud

import (
	"context"
	"fmt"
	"runtime"
	"sync"
)

// Executor runs engine calls (execute, commit, rollback) to completion.
type Executor interface {
	// Run executes task and returns its error once the task has finished.
	Run(ctx context.Context, task func(context.Context) error) error
	Close()
}

// BlockingExecutor runs tasks inline on the calling goroutine.
type BlockingExecutor struct{}

func (BlockingExecutor) Run(ctx context.Context, task func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return task(ctx)
}

func (BlockingExecutor) Close() {}

type job struct {
	ctx  context.Context
	task func(context.Context) error
	done chan error
}

// TaskExecutor runs tasks on a bounded pool of worker goroutines. The
// caller suspends in Run until its task has completed; a task that already
// started is always awaited, so the session it uses is never released
// underneath it.
type TaskExecutor struct {
	jobs chan job
	quit chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// NewTaskExecutor starts workers goroutines. workers <= 0 uses GOMAXPROCS.
func NewTaskExecutor(workers int) *TaskExecutor {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	e := &TaskExecutor{
		jobs: make(chan job),
		quit: make(chan struct{}),
	}
	e.wg.Add(workers)
	for range workers {
		go e.work()
	}
	return e
}

func (e *TaskExecutor) work() {
	defer e.wg.Done()
	for {
		select {
		case <-e.quit:
			return
		case j := <-e.jobs:
			j.done <- runTask(j.ctx, j.task)
		}
	}
}

func runTask(ctx context.Context, task func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("crud: task panicked: %v", r)
		}
	}()
	return task(ctx)
}

func (e *TaskExecutor) Run(ctx context.Context, task func(context.Context) error) error {
	done := make(chan error, 1)
	select {
	case e.jobs <- job{ctx: ctx, task: task, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.quit:
		return ErrExecutorClosed
	}
	return <-done
}

// Close stops the workers after in-flight tasks complete.
func (e *TaskExecutor) Close() {
	e.once.Do(func() {
		close(e.quit)
		e.wg.Wait()
	})
}
