package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultTimeout bounds the whole post-session task set. Exceeding it is a
// logged degradation, not a session failure.
const DefaultTimeout = 10 * time.Second

// Notifier is the slice of the ops API the coordinator calls at session
// end.
type Notifier interface {
	CallEnded(ctx context.Context, callID string) error
	IndexTranscript(ctx context.Context, callID, wardID string) error
}

// Coordinator runs the closed post-session task set at most once and
// signals completion so the process can exit without cutting the
// notifications short.
type Coordinator struct {
	notifier Notifier
	timeout  time.Duration
	logger   *slog.Logger

	once sync.Once
	done chan struct{}
}

// NewCoordinator creates a Coordinator. timeout <= 0 picks the default.
func NewCoordinator(notifier Notifier, timeout time.Duration, logger *slog.Logger) *Coordinator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		notifier: notifier,
		timeout:  timeout,
		logger:   logger.With("component", "post_session"),
		done:     make(chan struct{}),
	}
}

// Done is closed once the task set has completed or timed out. It never
// closes before Run has been called.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// Run starts the post-session tasks concurrently and waits for them under
// the shared timeout. Each task logs and swallows its own error; a failing
// or hanging task never cancels its siblings and never fails the session.
// Only the first call does anything.
func (c *Coordinator) Run(ctx context.Context, callID, wardID string) {
	c.once.Do(func() {
		defer close(c.done)

		taskCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()

		start := time.Now()
		c.logger.Info("running post-session tasks", "call_id", callID, "ward_id", wardID)

		var g errgroup.Group
		g.Go(func() error {
			if err := c.notifier.CallEnded(taskCtx, callID); err != nil {
				c.logger.Error("call-ended notification failed", "call_id", callID, "error", err)
			}
			return nil
		})
		g.Go(func() error {
			if err := c.notifier.IndexTranscript(taskCtx, callID, wardID); err != nil {
				c.logger.Error("transcript indexing trigger failed", "call_id", callID, "error", err)
			}
			return nil
		})

		finished := make(chan struct{})
		go func() {
			_ = g.Wait()
			close(finished)
		}()

		select {
		case <-finished:
			c.logger.Info("post-session tasks completed", "elapsed", time.Since(start))
		case <-taskCtx.Done():
			c.logger.Warn("post-session tasks timed out", "timeout", c.timeout)
		}
	})
}
