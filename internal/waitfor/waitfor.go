// Package waitfor polls UI state until a condition holds or a deadline elapses.
package waitfor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"staycheck/internal/ui"

	"go.uber.org/zap"
)

const (
	DefaultTimeout      = 10 * time.Second
	DefaultPollInterval = 200 * time.Millisecond
)

// ErrTimeout matches every *TimeoutError via errors.Is.
var ErrTimeout = errors.New("wait timed out")

// TimeoutError reports a condition that never held before the deadline.
type TimeoutError struct {
	Message string
	Waited  time.Duration
	// LastErr is the last tolerated evaluation error, if any.
	LastErr error
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("timed out after %s: %s", e.Waited.Round(time.Millisecond), e.Message)
	if e.LastErr != nil {
		msg += fmt.Sprintf(" (last error: %v)", e.LastErr)
	}
	return msg
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// Condition is evaluated against live UI state. It must not mutate that state.
type Condition func(ctx context.Context) (bool, error)

// Options tune a single wait.
type Options struct {
	// Message is carried by the TimeoutError so failures are diagnosable.
	Message string
	// PropagateErrors returns evaluation errors immediately, except ui.ErrStillAbsent.
	PropagateErrors bool
	// Timeout overrides the waiter default when > 0.
	Timeout time.Duration
}

// Waiter holds the default deadline and poll cadence.
type Waiter struct {
	Timeout      time.Duration
	PollInterval time.Duration
	Logger       *zap.Logger
}

// New returns a Waiter, falling back to defaults for non-positive durations.
func New(timeout, pollInterval time.Duration, logger *zap.Logger) *Waiter {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Waiter{Timeout: timeout, PollInterval: pollInterval, Logger: logger.Named("waitfor")}
}

// Until evaluates cond immediately and then every PollInterval until it returns true.
func (w *Waiter) Until(ctx context.Context, opts Options, cond Condition) error {
	timeout := w.Timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}

	start := time.Now()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(w.PollInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		ok, err := cond(ctx)
		switch {
		case err == nil && ok:
			return nil
		case err != nil:
			if opts.PropagateErrors && !errors.Is(err, ui.ErrStillAbsent) {
				return err
			}
			lastErr = err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			w.Logger.Debug("wait timed out", zap.String("message", opts.Message), zap.Duration("timeout", timeout), zap.Error(lastErr))
			return &TimeoutError{Message: opts.Message, Waited: time.Since(start), LastErr: lastErr}
		case <-ticker.C:
		}
	}
}

// Visible waits until sel resolves to a rendered element.
func (w *Waiter) Visible(ctx context.Context, b ui.Browser, sel ui.Selector) (ui.Element, error) {
	var found ui.Element
	err := w.Until(ctx, Options{Message: "element not visible: " + sel.String()}, func(ctx context.Context) (bool, error) {
		el, err := b.LocateVisible(ctx, sel)
		if err != nil {
			return false, err
		}
		found = el
		return true, nil
	})
	return found, err
}

// Clickable waits until sel is visible and enabled. Staleness discovered while probing
// clickability is surfaced instead of retried.
func (w *Waiter) Clickable(ctx context.Context, b ui.Browser, sel ui.Selector) (ui.Element, error) {
	var found ui.Element
	opts := Options{Message: "element not clickable: " + sel.String(), PropagateErrors: true}
	err := w.Until(ctx, opts, func(ctx context.Context) (bool, error) {
		el, err := b.LocateVisible(ctx, sel)
		if err != nil {
			// Not attached yet; keep polling.
			return false, fmt.Errorf("%s: %w", sel, ui.ErrStillAbsent)
		}
		ok, err := el.Clickable(ctx)
		if err != nil {
			return false, err
		}
		if ok {
			found = el
		}
		return ok, nil
	})
	return found, err
}

// AllVisible waits until sel matches a non-empty collection whose members are all rendered.
func (w *Waiter) AllVisible(ctx context.Context, b ui.Browser, sel ui.Selector) ([]ui.Element, error) {
	var found []ui.Element
	err := w.Until(ctx, Options{Message: "elements not visible: " + sel.String()}, func(ctx context.Context) (bool, error) {
		els, err := b.LocateAll(ctx, sel)
		if err != nil {
			return false, err
		}
		if len(els) == 0 {
			return false, nil
		}
		for _, el := range els {
			visible, err := el.Visible(ctx)
			if err != nil || !visible {
				return false, err
			}
		}
		found = els
		return true, nil
	})
	return found, err
}

// Text waits until the trimmed text of sel satisfies pred and returns that text.
func (w *Waiter) Text(ctx context.Context, b ui.Browser, sel ui.Selector, message string, pred func(string) bool) (string, error) {
	var text string
	err := w.Until(ctx, Options{Message: message}, func(ctx context.Context) (bool, error) {
		el, err := b.LocateVisible(ctx, sel)
		if err != nil {
			return false, err
		}
		raw, err := el.Text(ctx)
		if err != nil {
			return false, err
		}
		text = strings.TrimSpace(raw)
		return pred(text), nil
	})
	return text, err
}

// NonEmpty is a Text predicate.
func NonEmpty(s string) bool { return s != "" }
