// Package verify checks that the rendered search results satisfy filter constraints.
package verify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"staycheck/internal/correlation"
	"staycheck/internal/facts"
	"staycheck/internal/recorder"
	"staycheck/internal/ui"
	"staycheck/internal/visual"
	"staycheck/internal/waitfor"

	"go.uber.org/zap"
)

const (
	DefaultGuestsPerBed = 2
	DefaultPriceSuffix  = "lei per night"
	DefaultPinCurrency  = "lei"
)

// FactSink receives the observations made during verification.
type FactSink interface {
	AddFacts(ctx context.Context, facts []facts.Fact) error
}

// Settings wires a Verifier. Only Selectors is required.
type Settings struct {
	Selectors Selectors

	GuestsPerBed int
	PriceSuffix  string
	PinCurrency  string
	// Settle bounds the hover transition waits and the optional popup probe.
	Settle time.Duration
	// Normalizer prepares card and popup text for comparison.
	Normalizer correlation.Normalizer

	Waiter    *waitfor.Waiter
	Snapshots *visual.Store
	Facts     FactSink
	Recorder  *recorder.Recorder
	Logger    *zap.Logger
}

// Verifier runs verification steps against one browser. Its operations are serialised.
type Verifier struct {
	mu sync.Mutex

	browser ui.Browser
	sel     Selectors

	guestsPerBed int
	priceSuffix  string
	pinCurrency  string
	settle       time.Duration
	normalizer   correlation.Normalizer

	waiter    *waitfor.Waiter
	snapshots *visual.Store
	facts     FactSink
	rec       *recorder.Recorder
	logger    *zap.Logger
}

// New returns a Verifier, filling unset settings with defaults.
func New(b ui.Browser, s Settings) *Verifier {
	v := &Verifier{
		browser:      b,
		sel:          s.Selectors,
		guestsPerBed: s.GuestsPerBed,
		priceSuffix:  s.PriceSuffix,
		pinCurrency:  s.PinCurrency,
		settle:       s.Settle,
		normalizer:   s.Normalizer,
		waiter:       s.Waiter,
		snapshots:    s.Snapshots,
		facts:        s.Facts,
		rec:          s.Recorder,
		logger:       s.Logger,
	}
	if v.logger == nil {
		v.logger = zap.NewNop()
	}
	v.logger = v.logger.Named("verify")
	if v.guestsPerBed <= 0 {
		v.guestsPerBed = DefaultGuestsPerBed
	}
	if v.priceSuffix == "" {
		v.priceSuffix = DefaultPriceSuffix
	}
	if v.pinCurrency == "" {
		v.pinCurrency = DefaultPinCurrency
	}
	if v.settle <= 0 {
		v.settle = visual.DefaultSettle
	}
	if v.normalizer == (correlation.Normalizer{}) {
		v.normalizer = correlation.DefaultNormalizer
	}
	if v.waiter == nil {
		v.waiter = waitfor.New(0, 0, v.logger)
	}
	if v.snapshots == nil {
		// An empty dir keeps snapshots in memory only.
		v.snapshots, _ = visual.NewStore("")
	}
	return v
}

// Browser returns the browser the verifier drives.
func (v *Verifier) Browser() ui.Browser { return v.browser }

// WaitForResults waits until the results header carries text and returns it.
func (v *Verifier) WaitForResults(ctx context.Context) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.waitForResults(ctx)
}

func (v *Verifier) waitForResults(ctx context.Context) (string, error) {
	return v.waiter.Text(ctx, v.browser, v.sel.ResultsHeader, "search results header stayed empty", waitfor.NonEmpty)
}

// Check verifies one constraint against the current results view.
func (v *Verifier) Check(ctx context.Context, c Constraint) (err error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	done := v.rec.Track("check", map[string]string{"constraint": c.Describe()})
	defer func() { done(err) }()

	switch c := c.(type) {
	case MinimumGuests:
		return v.verifyAll(ctx, v.guestsCheck(c.N))
	case MinimumBedrooms:
		return v.verifyAll(ctx, v.bedroomsCheck(c.N))
	case LocationContains:
		return v.checkLocation(ctx, c.Location)
	case DateRangeEquals:
		return v.checkDates(ctx, c.CheckIn, c.CheckOut)
	case GuestCountEquals:
		return v.checkGuestCount(ctx, c.N)
	default:
		return fmt.Errorf("unsupported constraint %T", c)
	}
}

func (v *Verifier) checkLocation(ctx context.Context, location string) error {
	header, err := v.waitForResults(ctx)
	if err != nil {
		return err
	}
	if !strings.Contains(header, location) {
		return &AssertionError{Check: "location in results header", Index: NoEntity, Expected: fmt.Sprintf("text containing %q", location), Actual: fmt.Sprintf("%q", header)}
	}

	summary, err := v.summaryText(ctx, v.sel.LocationSummary)
	if err != nil {
		return err
	}
	if !strings.Contains(summary, location) {
		return &AssertionError{Check: "location filter summary", Index: NoEntity, Expected: fmt.Sprintf("text containing %q", location), Actual: fmt.Sprintf("%q", summary)}
	}
	return nil
}

func (v *Verifier) checkDates(ctx context.Context, checkIn, checkOut time.Time) error {
	summary, err := v.summaryText(ctx, v.sel.DateSummary)
	if err != nil {
		return err
	}
	want := ExpectedDateFilter(checkIn, checkOut)
	if got := NormalizeDashes(summary); got != want {
		return &AssertionError{Check: "date filter summary", Index: NoEntity, Expected: fmt.Sprintf("%q", want), Actual: fmt.Sprintf("%q", got)}
	}
	return nil
}

func (v *Verifier) checkGuestCount(ctx context.Context, n int) error {
	summary, err := v.summaryText(ctx, v.sel.GuestsSummary)
	if err != nil {
		return err
	}
	if got, ok := GuestsShown(summary); !ok || got != n {
		return &AssertionError{Check: "guests filter summary", Index: NoEntity, Expected: fmt.Sprintf("%q", GuestsLabel(n)), Actual: fmt.Sprintf("%q", summary)}
	}
	return nil
}

func (v *Verifier) summaryText(ctx context.Context, sel ui.Selector) (string, error) {
	return v.waiter.Text(ctx, v.browser, sel, "filter summary stayed empty: "+sel.String(), waitfor.NonEmpty)
}

// inDetailView opens el in a new view, runs fn there and always closes that view and
// switches back, waiting for restore to be visible again when it is set.
func (v *Verifier) inDetailView(ctx context.Context, el ui.Element, restore *ui.Selector, fn func(ctx context.Context) error) (err error) {
	origin := v.browser.CurrentView()
	if err := el.ScrollIntoView(ctx); err != nil {
		return err
	}
	view, err := el.OpenInNewView(ctx)
	if err != nil {
		return err
	}

	defer func() {
		// Cleanup must run even when ctx is already done.
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), v.waiter.Timeout)
		defer cancel()

		var cleanup []error
		cleanup = append(cleanup, v.browser.CloseView(cctx, view))
		cleanup = append(cleanup, v.browser.SwitchToView(cctx, origin))
		if restore != nil {
			_, werr := v.waiter.AllVisible(cctx, v.browser, *restore)
			cleanup = append(cleanup, werr)
		}
		cerr := errors.Join(cleanup...)
		switch {
		case cerr == nil:
		case err == nil:
			err = fmt.Errorf("restore results view: %w", cerr)
		default:
			v.logger.Warn("restore results view failed", zap.String("view", string(view)), zap.Error(cerr))
		}
	}()

	if err := v.browser.SwitchToView(ctx, view); err != nil {
		return err
	}
	return fn(ctx)
}

// probeOptional looks for an element that may legitimately never appear, for at most the
// settle duration. A failing probe is reported as indeterminate, never as absent.
func (v *Verifier) probeOptional(ctx context.Context, sel ui.Selector) (ui.Presence, ui.Element) {
	presence := ui.Indeterminate
	var found ui.Element
	var lastErr error

	opts := waitfor.Options{Message: "optional element probe: " + sel.String(), Timeout: v.settle}
	err := v.waiter.Until(ctx, opts, func(ctx context.Context) (bool, error) {
		p, el, err := v.browser.Probe(ctx, sel)
		if err != nil {
			presence, lastErr = ui.Indeterminate, err
			return false, nil
		}
		presence, found = p, el
		return p == ui.Present, nil
	})
	if err != nil && !errors.Is(err, waitfor.ErrTimeout) {
		presence, lastErr = ui.Indeterminate, err
	}

	switch presence {
	case ui.Indeterminate:
		v.logger.Warn("optional element probe indeterminate", zap.String("selector", sel.String()), zap.Error(lastErr))
	default:
		v.logger.Debug("optional element probed", zap.String("selector", sel.String()), zap.Stringer("presence", presence))
	}
	v.record(ctx, facts.New("popup_probe", sel.String(), presence.String()))
	return presence, found
}

func (v *Verifier) record(ctx context.Context, fs ...facts.Fact) {
	if v.facts == nil || len(fs) == 0 {
		return
	}
	if err := v.facts.AddFacts(ctx, fs); err != nil {
		v.logger.Debug("failed to record facts", zap.String("predicate", fs[0].Predicate), zap.Error(err))
	}
}
