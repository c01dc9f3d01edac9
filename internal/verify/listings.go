package verify

import (
	"context"
	"errors"
	"fmt"

	"staycheck/internal/extract"
	"staycheck/internal/facts"
	"staycheck/internal/recorder"
	"staycheck/internal/ui"
	"staycheck/internal/waitfor"

	"go.uber.org/zap"
)

// Tiers and verdicts recorded per listing.
const (
	TierSummary = "summary"
	TierDetail  = "detail"

	VerdictPass     = "pass"
	VerdictEscalate = "escalate"
	VerdictFail     = "fail"
)

// tieredCheck is one per-listing constraint evaluated summary tier first.
type tieredCheck struct {
	name     string
	kind     string
	required int
	// summary decides from card text alone; false means escalate, never fail.
	summary func(text string) (count int, ok bool)
	detail  ui.Selector
}

func (v *Verifier) guestsCheck(required int) tieredCheck {
	return tieredCheck{
		name:     "minimum guests",
		kind:     extract.Guests,
		required: required,
		summary: func(text string) (int, bool) {
			beds := extract.CountOf(text, extract.Beds)
			return beds, beds > 0 && beds*v.guestsPerBed >= required
		},
		detail: v.sel.AccommodatesDetail,
	}
}

func (v *Verifier) bedroomsCheck(required int) tieredCheck {
	return tieredCheck{
		name:     "minimum bedrooms",
		kind:     extract.Bedrooms,
		required: required,
		summary: func(text string) (int, bool) {
			n := extract.CountOf(text, extract.Bedrooms)
			return n, n > 0 && n >= required
		},
		detail: v.sel.BedroomsDetail,
	}
}

// VerifyAllAccommodate checks that every listing sleeps at least required guests.
func (v *Verifier) VerifyAllAccommodate(ctx context.Context, required int) error {
	return v.Check(ctx, MinimumGuests{N: required})
}

// VerifyAllHaveAtLeastBedrooms checks that every listing has at least required bedrooms.
func (v *Verifier) VerifyAllHaveAtLeastBedrooms(ctx context.Context, required int) error {
	return v.Check(ctx, MinimumBedrooms{N: required})
}

// verifyAll walks every rendered listing. Listings are re-queried by index on each step
// since returning from a detail view may re-render the results.
func (v *Verifier) verifyAll(ctx context.Context, chk tieredCheck) error {
	listings, err := v.waiter.AllVisible(ctx, v.browser, v.sel.Listing)
	if err != nil {
		return err
	}
	v.logger.Info("verifying listings", zap.String("check", chk.name), zap.Int("required", chk.required), zap.Int("listings", len(listings)))

	escalated := 0
	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		current, err := v.browser.LocateAll(ctx, v.sel.Listing)
		if err != nil {
			return err
		}
		if i >= len(current) {
			v.logger.Info("all listings verified", zap.String("check", chk.name), zap.Int("listings", i), zap.Int("escalated", escalated))
			return nil
		}

		passed, err := v.summaryTier(ctx, i, current[i], chk)
		if err != nil {
			return err
		}
		if passed {
			continue
		}
		escalated++
		if err := v.detailTier(ctx, i, current[i], chk); err != nil {
			return err
		}
	}
}

func (v *Verifier) summaryTier(ctx context.Context, i int, el ui.Element, chk tieredCheck) (bool, error) {
	text, err := el.Text(ctx)
	switch {
	case errors.Is(err, ui.ErrStale):
		// Treated like missing summary data; the detail tier re-reads the listing.
		v.logger.Debug("listing went stale before summary read", zap.Int("listing", i+1))
	case err != nil:
		return false, err
	}

	count, ok := 0, false
	if err == nil {
		count, ok = chk.summary(text)
	}
	if count > 0 {
		v.record(ctx, facts.New("listing_count", i, chk.kind, count))
	}

	verdict := VerdictEscalate
	if ok {
		verdict = VerdictPass
	}
	v.record(ctx, facts.New("tier_result", i, TierSummary, verdict))
	v.rec.Log(chk.name, tierStatus(verdict), map[string]interface{}{"listing": i, "tier": TierSummary, "count": count})
	v.logger.Debug("summary tier", zap.Int("listing", i+1), zap.String("check", chk.name), zap.Int("count", count), zap.String("verdict", verdict))
	return ok, nil
}

func (v *Verifier) detailTier(ctx context.Context, i int, el ui.Element, chk tieredCheck) error {
	return v.inDetailView(ctx, el, &v.sel.Listing, func(ctx context.Context) error {
		text, err := v.waiter.Text(ctx, v.browser, chk.detail, fmt.Sprintf("listing #%d detail view never showed %s", i+1, chk.kind), waitfor.NonEmpty)
		if err != nil {
			return err
		}

		n, err := extract.RequireDigits(text, chk.kind+" count")
		if err != nil {
			v.record(ctx, facts.New("tier_result", i, TierDetail, VerdictFail))
			return &AssertionError{Check: chk.name, Index: i, Expected: fmt.Sprintf("a %s count", chk.kind), Actual: fmt.Sprintf("%q", text), Err: err}
		}
		v.record(ctx, facts.New("listing_count", i, chk.kind, n))

		if n < chk.required {
			v.record(ctx, facts.New("tier_result", i, TierDetail, VerdictFail))
			v.rec.Log(chk.name, recorder.StatusFail, map[string]interface{}{"listing": i, "tier": TierDetail, "count": n})
			return &AssertionError{Check: chk.name, Index: i, Expected: fmt.Sprintf("at least %d", chk.required), Actual: fmt.Sprintf("%d", n)}
		}

		v.record(ctx, facts.New("tier_result", i, TierDetail, VerdictPass))
		v.rec.Log(chk.name, recorder.StatusPass, map[string]interface{}{"listing": i, "tier": TierDetail, "count": n})
		v.logger.Debug("detail tier passed", zap.Int("listing", i+1), zap.String("check", chk.name), zap.Int("count", n))
		return nil
	})
}

func tierStatus(verdict string) string {
	switch verdict {
	case VerdictPass:
		return recorder.StatusPass
	case VerdictEscalate:
		return recorder.StatusEscalate
	}
	return recorder.StatusFail
}
