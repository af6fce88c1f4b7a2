package adapter

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/onereach/deskshell/pkg/model"
)

// Window is the host-shell surface of one isolated browser window bound
// to a named partition.
type Window interface {
	ID() string
	Partition() string
	CurrentURL() string
	IsDestroyed() bool
	// ExecFrame evaluates a script payload in the named frame and
	// returns its string result. The payload is opaque to this module.
	ExecFrame(ctx context.Context, frame, script string) (string, error)
	OnDestroyed(fn func())
}

// FrameExecOptions bound one wrapped frame execution.
type FrameExecOptions struct {
	Timeout time.Duration
	Retries int
}

// DefaultFrameExecOptions matches the shell's in-frame script limits.
func DefaultFrameExecOptions() *FrameExecOptions {
	return &FrameExecOptions{Timeout: 5 * time.Second, Retries: 1}
}

// FrameExec wraps Window.ExecFrame with timeout, bounded retry and
// destruction checks. Window destruction at any point yields
// model.ErrWindowDestroyed, which callers treat as cooperative
// cancellation rather than failure.
func FrameExec(ctx context.Context, w Window, frame, script string, opts *FrameExecOptions) (string, error) {
	if opts == nil {
		opts = DefaultFrameExecOptions()
	}

	var lastErr error
	for attempt := 0; attempt <= opts.Retries; attempt++ {
		if w.IsDestroyed() {
			return "", goerr.Wrap(model.ErrWindowDestroyed, "window destroyed before frame exec",
				goerr.V("window", w.ID()), goerr.V("frame", frame))
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}

		execCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
		result, err := w.ExecFrame(execCtx, frame, script)
		cancel()

		if err == nil {
			if w.IsDestroyed() {
				return "", goerr.Wrap(model.ErrWindowDestroyed, "window destroyed during frame exec",
					goerr.V("window", w.ID()))
			}
			return result, nil
		}
		lastErr = err
	}

	return "", goerr.Wrap(lastErr, "frame exec failed",
		goerr.V("frame", frame), goerr.V("retries", opts.Retries))
}
