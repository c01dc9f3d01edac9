package verify

import (
	"context"
	"fmt"
	"strings"

	"staycheck/internal/ui"

	"go.uber.org/zap"
)

// VerifyAmenity opens the first listing and checks that its facilities section lists amenity.
func (v *Verifier) VerifyAmenity(ctx context.Context, amenity string) (err error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	done := v.rec.Track("amenity", map[string]string{"amenity": amenity})
	defer func() { done(err) }()

	first, err := v.waiter.Visible(ctx, v.browser, v.sel.Listing)
	if err != nil {
		return err
	}

	return v.inDetailView(ctx, first, nil, func(ctx context.Context) error {
		if presence, popup := v.probeOptional(ctx, v.sel.TranslationPopupClose); presence == ui.Present {
			if err := popup.Click(ctx); err != nil {
				return err
			}
		}

		showAll, err := v.waiter.Visible(ctx, v.browser, v.sel.ShowAllAmenities)
		if err != nil {
			return err
		}
		if err := showAll.ScrollIntoView(ctx); err != nil {
			return err
		}
		if showAll, err = v.waiter.Clickable(ctx, v.browser, v.sel.ShowAllAmenities); err != nil {
			return err
		}
		if err := showAll.Click(ctx); err != nil {
			return err
		}

		section, err := v.waiter.Visible(ctx, v.browser, v.sel.AmenitiesSection)
		if err != nil {
			return err
		}
		if err := section.ScrollIntoView(ctx); err != nil {
			return err
		}
		text, err := section.Text(ctx)
		if err != nil {
			return err
		}
		if !strings.Contains(strings.ToLower(text), strings.ToLower(amenity)) {
			return &AssertionError{Check: "amenity listed", Index: 0, Expected: fmt.Sprintf("facilities containing %q", amenity), Actual: fmt.Sprintf("%q", text)}
		}
		v.logger.Info("amenity present", zap.String("amenity", amenity))
		return nil
	})
}
