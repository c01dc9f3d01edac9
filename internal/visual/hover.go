package visual

import (
	"context"
	"errors"
	"fmt"
	"time"

	"staycheck/internal/ui"
	"staycheck/internal/waitfor"

	"go.uber.org/zap"
)

const (
	// DefaultSettle bounds each hover transition wait.
	DefaultSettle = 3 * time.Second

	BeforeHoverLabel = "before_hover"
	AfterHoverLabel  = "after_hover"
)

// Locator re-resolves the captured region on every read, so a re-render between
// captures never leaves the probe holding a detached element.
type Locator func(ctx context.Context) (ui.Element, error)

// HoverResult is the outcome of one hover probe.
type HoverResult struct {
	Before  *Snapshot
	After   *Snapshot
	Changed bool
}

// HoverProbe runs NEUTRAL -> SNAPSHOT_BEFORE -> SNAPSHOT_AFTER -> DIFF_EVALUATED.
//
// Neutral is confirmed once two consecutive captures agree. The hover state is confirmed
// once a capture differs from the before snapshot. Settle caps both waits; reaching it
// while waiting for the hover state yields Changed=false rather than an error.
type HoverProbe struct {
	Waiter *waitfor.Waiter
	Store  *Store
	Settle time.Duration
	Logger *zap.Logger
}

func (p *HoverProbe) settle() time.Duration {
	if p.Settle > 0 {
		return p.Settle
	}
	return DefaultSettle
}

func (p *HoverProbe) logger() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}

// Run moves the pointer to neutral, snapshots region, hovers trigger and snapshots region
// again. Both snapshots are persisted.
func (p *HoverProbe) Run(ctx context.Context, b ui.Browser, neutral ui.Selector, trigger ui.Element, region Locator) (*HoverResult, error) {
	log := p.logger()

	if err := b.MoveAway(ctx, neutral); err != nil {
		return nil, &ui.InteractionError{Action: "move pointer away", Selector: neutral.String(), Err: err}
	}

	before, err := p.awaitStable(ctx, region)
	if err != nil {
		return nil, err
	}
	if err := p.Store.persist(before); err != nil {
		return nil, err
	}

	if err := trigger.Hover(ctx); err != nil {
		return nil, err
	}

	after, changed, err := p.awaitChange(ctx, region, before)
	if err != nil {
		return nil, err
	}
	if err := p.Store.persist(after); err != nil {
		return nil, err
	}

	log.Debug("hover probe evaluated", zap.Bool("changed", changed), zap.String("before", before.Path), zap.String("after", after.Path))
	return &HoverResult{Before: before, After: after, Changed: changed}, nil
}

func (p *HoverProbe) awaitStable(ctx context.Context, region Locator) (*Snapshot, error) {
	var prev, stable *Snapshot
	opts := waitfor.Options{Message: "region did not settle in neutral state", PropagateErrors: true, Timeout: p.settle()}
	err := p.Waiter.Until(ctx, opts, func(ctx context.Context) (bool, error) {
		cur, err := p.read(ctx, region, BeforeHoverLabel)
		if err != nil {
			return false, err
		}
		defer func() { prev = cur }()
		if prev == nil {
			return false, nil
		}
		differ, err := Differ(prev, cur)
		if err != nil {
			return false, err
		}
		if !differ {
			stable = cur
		}
		return !differ, nil
	})
	if errors.Is(err, waitfor.ErrTimeout) && prev != nil {
		p.logger().Warn("neutral state not confirmed, using last capture", zap.Duration("settle", p.settle()))
		return prev, nil
	}
	if err != nil {
		return nil, err
	}
	return stable, nil
}

func (p *HoverProbe) awaitChange(ctx context.Context, region Locator, before *Snapshot) (*Snapshot, bool, error) {
	var last *Snapshot
	opts := waitfor.Options{Message: "region did not change on hover", PropagateErrors: true, Timeout: p.settle()}
	err := p.Waiter.Until(ctx, opts, func(ctx context.Context) (bool, error) {
		cur, err := p.read(ctx, region, AfterHoverLabel)
		if err != nil {
			return false, err
		}
		last = cur
		return Differ(before, cur)
	})
	switch {
	case err == nil:
		return last, true, nil
	case errors.Is(err, waitfor.ErrTimeout) && last != nil:
		return last, false, nil
	default:
		return nil, false, err
	}
}

func (p *HoverProbe) read(ctx context.Context, region Locator, label string) (*Snapshot, error) {
	el, err := region(ctx)
	if err != nil {
		return nil, fmt.Errorf("locate %s region: %w: %w", label, err, ui.ErrStillAbsent)
	}
	return p.Store.grab(ctx, el, label)
}
