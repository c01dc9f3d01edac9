package scenario

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"staycheck/internal/correlation"
	"staycheck/internal/recorder"
	"staycheck/internal/ui"
	"staycheck/internal/verify"
	"staycheck/internal/waitfor"

	"go.uber.org/zap"
)

const (
	DefaultBedrooms       = 2
	DefaultAmenity        = "pool"
	DefaultCaptureQuality = 80
)

// PageCapturer saves a JPEG of the current view.
type PageCapturer interface {
	CapturePage(ctx context.Context, path string, quality int) error
}

// StepResult is the outcome of one scenario step.
type StepResult struct {
	Feature    Feature `json:"feature"`
	Step       string  `json:"step"`
	Passed     bool    `json:"passed"`
	Error      string  `json:"error,omitempty"`
	DurationMs int64   `json:"duration_ms"`
	// Capture is the page picture taken when the step failed.
	Capture string `json:"capture,omitempty"`
}

// Report collects the steps of one run. A feature stops at its first failing step.
type Report struct {
	RunID  string       `json:"run_id,omitempty"`
	Search Search       `json:"search"`
	Steps  []StepResult `json:"steps"`
}

// Passed reports whether every executed step passed.
func (r *Report) Passed() bool {
	for _, s := range r.Steps {
		if !s.Passed {
			return false
		}
	}
	return true
}

// Failures returns the failing steps, at most one per feature.
func (r *Report) Failures() []StepResult {
	var out []StepResult
	for _, s := range r.Steps {
		if !s.Passed {
			out = append(out, s)
		}
	}
	return out
}

// Settings wires a Runner.
type Settings struct {
	BaseURL   string
	Selectors Selectors
	// Bedrooms selected in the filter panel by the bedrooms feature.
	Bedrooms int
	// Amenity looked up by the amenities feature; the filter panel always selects pool.
	Amenity  string
	Waiter   *waitfor.Waiter
	Recorder *recorder.Recorder
	Logger   *zap.Logger
	// Capturer and CaptureDir enable a page capture for every failed step.
	Capturer       PageCapturer
	CaptureDir     string
	CaptureQuality int
	// Now is the clock used for default dates.
	Now func() time.Time
}

// Runner drives the home page into a results view and hands it to the verifier.
type Runner struct {
	browser  ui.Browser
	verifier *verify.Verifier
	sel      Selectors
	baseURL  string
	bedrooms int
	amenity  string
	waiter   *waitfor.Waiter
	rec      *recorder.Recorder
	logger   *zap.Logger
	now      func() time.Time

	capturer   PageCapturer
	captureDir string
	quality    int
}

func NewRunner(v *verify.Verifier, s Settings) *Runner {
	r := &Runner{
		browser:  v.Browser(),
		verifier: v,
		sel:      s.Selectors,
		baseURL:  s.BaseURL,
		bedrooms: s.Bedrooms,
		amenity:  s.Amenity,
		waiter:   s.Waiter,
		rec:      s.Recorder,
		logger:   s.Logger,
		now:      s.Now,

		capturer:   s.Capturer,
		captureDir: s.CaptureDir,
		quality:    s.CaptureQuality,
	}
	if r.quality <= 0 || r.quality > 100 {
		r.quality = DefaultCaptureQuality
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	r.logger = r.logger.Named("scenario")
	if r.bedrooms <= 0 {
		r.bedrooms = DefaultBedrooms
	}
	if r.amenity == "" {
		r.amenity = DefaultAmenity
	}
	if r.waiter == nil {
		r.waiter = waitfor.New(0, 0, r.logger)
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// Run executes features in order against search. Failing steps are reported, not returned;
// the error is reserved for an invalid search or a cancelled context.
func (r *Runner) Run(ctx context.Context, search Search, features []Feature) (*Report, error) {
	search = search.WithDefaults(r.now())
	if err := search.Validate(); err != nil {
		return nil, err
	}

	report := &Report{RunID: r.rec.RunID(), Search: search}
	for _, f := range features {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		r.logger.Info("running feature", zap.String("feature", string(f)), zap.String("location", search.Location))
		steps, err := r.plan(f, search)
		if err != nil {
			return report, err
		}
		for _, st := range steps {
			if !r.step(ctx, report, f, st) {
				break
			}
		}
	}
	return report, ctx.Err()
}

type step struct {
	name string
	run  func(ctx context.Context) error
}

func (r *Runner) step(ctx context.Context, report *Report, f Feature, st step) bool {
	done := r.rec.Track(string(f)+"/"+st.name, nil)
	start := time.Now()
	err := st.run(ctx)
	done(err)

	res := StepResult{Feature: f, Step: st.name, Passed: err == nil, DurationMs: time.Since(start).Milliseconds()}
	if err != nil {
		res.Error = err.Error()
		var ae *verify.AssertionError
		if errors.As(err, &ae) {
			r.logger.Warn("step failed", zap.String("feature", string(f)), zap.String("step", st.name), zap.Error(err))
		} else {
			r.logger.Error("step errored", zap.String("feature", string(f)), zap.String("step", st.name), zap.Error(err))
		}
		res.Capture = r.captureFailure(ctx, report, f)
	}
	report.Steps = append(report.Steps, res)
	return err == nil
}

// captureFailure returns the path of the saved picture, or "" when capturing is off or fails.
func (r *Runner) captureFailure(ctx context.Context, report *Report, f Feature) string {
	if r.capturer == nil || r.captureDir == "" {
		return ""
	}
	name := fmt.Sprintf("%02d-%s.jpg", len(report.Steps)+1, f)
	if report.RunID != "" {
		name = report.RunID + "-" + name
	}
	path := filepath.Join(r.captureDir, name)
	if err := r.capturer.CapturePage(ctx, path, r.quality); err != nil {
		r.logger.Warn("failure capture failed", zap.String("path", path), zap.Error(err))
		return ""
	}
	return path
}

func (r *Runner) plan(f Feature, s Search) ([]step, error) {
	steps := r.searchSteps(s)
	v := r.verifier

	switch f {
	case FeatureFilters:
		steps = append(steps,
			step{"verify location", func(ctx context.Context) error {
				return v.Check(ctx, verify.LocationContains{Location: s.City()})
			}},
			step{"verify dates", func(ctx context.Context) error {
				return v.Check(ctx, verify.DateRangeEquals{CheckIn: s.CheckIn, CheckOut: s.CheckOut})
			}},
			step{"verify guest count", func(ctx context.Context) error {
				return v.Check(ctx, verify.GuestCountEquals{N: s.Guests()})
			}},
			step{"verify listings accommodate guests", func(ctx context.Context) error {
				return v.VerifyAllAccommodate(ctx, s.Guests())
			}},
		)

	case FeatureBedrooms:
		steps = append(steps, r.filterSteps(r.bedrooms)...)
		steps = append(steps, step{"verify listings bedrooms", func(ctx context.Context) error {
			return v.VerifyAllHaveAtLeastBedrooms(ctx, r.bedrooms)
		}})

	case FeatureAmenities:
		steps = append(steps, r.filterSteps(0)...)
		steps = append(steps, step{"verify amenity " + r.amenity, func(ctx context.Context) error {
			return v.VerifyAmenity(ctx, r.amenity)
		}})

	case FeatureMap:
		// The first listing's key is threaded from capture into every later step.
		var first correlation.Key
		steps = append(steps,
			step{"capture first listing", func(ctx context.Context) error {
				listing, err := v.CaptureFirstListing(ctx)
				first = listing.Key
				return err
			}},
			step{"verify pin recolors on hover", func(ctx context.Context) error {
				_, err := v.VerifyPinHover(ctx, first)
				return err
			}},
			step{"open pin popup", func(ctx context.Context) error {
				return v.OpenPinPopup(ctx, first)
			}},
			step{"verify popup matches listing", v.VerifyPinPopupMatchesListing},
		)

	default:
		return nil, fmt.Errorf("unknown feature %q", f)
	}
	return steps, nil
}

func (r *Runner) searchSteps(s Search) []step {
	return []step{
		{"open home page", func(ctx context.Context) error {
			return r.browser.Navigate(ctx, r.baseURL)
		}},
		{"enter location", func(ctx context.Context) error {
			el, err := r.waiter.Visible(ctx, r.browser, r.sel.LocationInput)
			if err != nil {
				return err
			}
			return el.Input(ctx, s.Location)
		}},
		{"select dates", func(ctx context.Context) error {
			return r.clickAll(ctx,
				r.sel.CheckInButton,
				ForDate(r.sel.CheckInDate, s.CheckIn),
				ForDate(r.sel.CheckOutDate, s.CheckOut),
			)
		}},
		{"add guests", func(ctx context.Context) error {
			if err := r.click(ctx, r.sel.AddGuestsButton); err != nil {
				return err
			}
			if err := r.clickTimes(ctx, r.sel.AddAdult, s.Adults); err != nil {
				return err
			}
			return r.clickTimes(ctx, r.sel.AddChild, s.Children)
		}},
		{"search", func(ctx context.Context) error {
			if err := r.click(ctx, r.sel.SearchButton); err != nil {
				return err
			}
			_, err := r.verifier.WaitForResults(ctx)
			return err
		}},
	}
}

// filterSteps opens the filter panel, selects bedrooms (when > 0) and pool, and applies.
func (r *Runner) filterSteps(bedrooms int) []step {
	steps := []step{{"open more filters", func(ctx context.Context) error {
		return r.click(ctx, r.sel.MoreFilters)
	}}}
	if bedrooms > 0 {
		steps = append(steps, step{fmt.Sprintf("select %d bedrooms", bedrooms), func(ctx context.Context) error {
			btn, err := r.waiter.Visible(ctx, r.browser, r.sel.AddBedroom)
			if err != nil {
				return err
			}
			if err := btn.ScrollIntoView(ctx); err != nil {
				return err
			}
			for i := 0; i < bedrooms; i++ {
				if err := btn.Click(ctx); err != nil {
					return fmt.Errorf("bedroom click %d of %d: %w", i+1, bedrooms, err)
				}
			}
			return nil
		}})
	}
	return append(steps,
		step{"select pool", func(ctx context.Context) error {
			if err := r.scrollAndClick(ctx, r.sel.ShowMore); err != nil {
				return err
			}
			return r.scrollAndClick(ctx, r.sel.PoolFacility)
		}},
		step{"show places", func(ctx context.Context) error {
			if err := r.click(ctx, r.sel.ShowPlaces); err != nil {
				return err
			}
			_, err := r.verifier.WaitForResults(ctx)
			return err
		}},
	)
}

func (r *Runner) click(ctx context.Context, sel ui.Selector) error {
	el, err := r.waiter.Clickable(ctx, r.browser, sel)
	if err != nil {
		return err
	}
	return el.Click(ctx)
}

func (r *Runner) clickAll(ctx context.Context, sels ...ui.Selector) error {
	for _, sel := range sels {
		if err := r.click(ctx, sel); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) clickTimes(ctx context.Context, sel ui.Selector, n int) error {
	for i := 0; i < n; i++ {
		if err := r.click(ctx, sel); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) scrollAndClick(ctx context.Context, sel ui.Selector) error {
	el, err := r.waiter.Visible(ctx, r.browser, sel)
	if err != nil {
		return err
	}
	if err := el.ScrollIntoView(ctx); err != nil {
		return err
	}
	return r.click(ctx, sel)
}
