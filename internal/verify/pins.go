package verify

import (
	"context"
	"fmt"
	"strconv"

	"staycheck/internal/correlation"
	"staycheck/internal/extract"
	"staycheck/internal/facts"
	"staycheck/internal/recorder"
	"staycheck/internal/ui"
	"staycheck/internal/visual"

	"go.uber.org/zap"
)

// CaptureFirstListing reads the first listing card. Its key drives the map steps.
func (v *Verifier) CaptureFirstListing(ctx context.Context) (correlation.Summary, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	el, err := v.waiter.Visible(ctx, v.browser, v.sel.FirstListing)
	if err != nil {
		return correlation.Summary{}, err
	}
	text, err := el.Text(ctx)
	if err != nil {
		return correlation.Summary{}, err
	}
	title, price, err := extract.TitleAndPrice(text, v.priceSuffix)
	if err != nil {
		return correlation.Summary{}, err
	}

	s := correlation.Summary{Index: 0, Key: correlation.KeyOf(title, price), Facts: extract.Facts(text, v.priceSuffix), Text: text}
	v.rec.Log("first listing", recorder.StatusInfo, s.Key)
	v.logger.Info("first listing captured", zap.String("title", s.Key.Title), zap.String("price", s.Key.Price))
	return s, nil
}

// PinSummaries reads the label of every visible map pin. Pins whose label cannot be parsed
// are skipped.
func (v *Verifier) PinSummaries(ctx context.Context) ([]correlation.Summary, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	pins, err := v.waiter.AllVisible(ctx, v.browser, v.sel.MapPin)
	if err != nil {
		return nil, err
	}
	return v.readPins(ctx, pins, true), nil
}

// FindPin returns the single map pin whose label matches key.
func (v *Verifier) FindPin(ctx context.Context, key correlation.Key) (ui.Element, correlation.Summary, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.findPin(ctx, key, true)
}

func (v *Verifier) findPin(ctx context.Context, key correlation.Key, wait bool) (ui.Element, correlation.Summary, error) {
	var pins []ui.Element
	var err error
	if wait {
		pins, err = v.waiter.AllVisible(ctx, v.browser, v.sel.MapPin)
	} else {
		pins, err = v.browser.LocateAll(ctx, v.sel.MapPin)
	}
	if err != nil {
		return nil, correlation.Summary{}, err
	}

	match, err := correlation.FindCorresponding(v.readPins(ctx, pins, wait), key)
	if err != nil {
		return nil, correlation.Summary{}, err
	}
	return pins[match.Index], match, nil
}

// readPins parses pin labels; record adds them to the fact store, which polling callers skip.
func (v *Verifier) readPins(ctx context.Context, pins []ui.Element, record bool) []correlation.Summary {
	out := make([]correlation.Summary, 0, len(pins))
	for i, pin := range pins {
		label, err := pin.Child(ctx, v.sel.PinLabel)
		if err != nil {
			v.logger.Debug("pin without label", zap.Int("pin", i), zap.Error(err))
			continue
		}
		text, err := label.Text(ctx)
		if err != nil {
			v.logger.Debug("pin label unreadable", zap.Int("pin", i), zap.Error(err))
			continue
		}
		title, price, err := extract.PinLabel(text, v.pinCurrency)
		if err != nil {
			v.logger.Debug("pin label not parsed", zap.Int("pin", i), zap.Error(err))
			continue
		}
		if record {
			v.record(ctx, facts.New("pin_label", title.Text, price.Raw))
		}
		out = append(out, correlation.Summary{
			Index: i,
			Key:   correlation.KeyOf(title, price),
			Facts: []extract.Fact{title, price},
			Text:  text,
		})
	}
	return out
}

// VerifyPinHover hovers the first listing and checks that the pin matching key is redrawn.
func (v *Verifier) VerifyPinHover(ctx context.Context, key correlation.Key) (res *visual.HoverResult, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	done := v.rec.Track("pin hover", key)
	defer func() { done(err) }()

	if _, _, err := v.findPin(ctx, key, true); err != nil {
		return nil, err
	}
	listing, err := v.waiter.Visible(ctx, v.browser, v.sel.FirstListing)
	if err != nil {
		return nil, err
	}

	probe := &visual.HoverProbe{Waiter: v.waiter, Store: v.snapshots, Settle: v.settle, Logger: v.logger}
	region := func(ctx context.Context) (ui.Element, error) {
		pin, _, err := v.findPin(ctx, key, false)
		return pin, err
	}
	res, err = probe.Run(ctx, v.browser, v.sel.Neutral, listing, region)
	if err != nil {
		return nil, err
	}

	v.record(ctx,
		facts.New("snapshot", res.Before.Label, res.Before.Path),
		facts.New("snapshot", res.After.Label, res.After.Path),
		facts.New("hover_result", key.Title, strconv.FormatBool(res.Changed)),
	)
	if !res.Changed {
		return res, &AssertionError{Check: "pin hover", Index: NoEntity, Expected: "pin color to change", Actual: "pin color did not change"}
	}
	v.logger.Info("pin recolored on hover", zap.String("title", key.Title))
	return res, nil
}

// OpenPinPopup clicks the pin matching key and waits for its popup card.
func (v *Verifier) OpenPinPopup(ctx context.Context, key correlation.Key) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	pin, _, err := v.findPin(ctx, key, true)
	if err != nil {
		return err
	}
	if err := pin.Click(ctx); err != nil {
		return err
	}
	_, err = v.waiter.Visible(ctx, v.browser, v.sel.PinPopup)
	return err
}

// VerifyPinPopupMatchesListing compares the details on the open pin popup with the first
// listing card.
func (v *Verifier) VerifyPinPopupMatchesListing(ctx context.Context) (err error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	done := v.rec.Track("pin popup details", nil)
	defer func() { done(err) }()

	listingText, err := v.visibleText(ctx, v.sel.FirstListing)
	if err != nil {
		return err
	}
	popupText, err := v.visibleText(ctx, v.sel.PinPopup)
	if err != nil {
		return err
	}

	listing := v.normalizer.Details(listingText, false)
	popup := v.normalizer.Details(popupText, true)
	if !v.normalizer.Equivalent(listing, popup) {
		return &AssertionError{Check: "pin popup details", Index: NoEntity, Expected: fmt.Sprintf("%q", listing), Actual: fmt.Sprintf("%q", popup)}
	}
	return nil
}

func (v *Verifier) visibleText(ctx context.Context, sel ui.Selector) (string, error) {
	el, err := v.waiter.Visible(ctx, v.browser, sel)
	if err != nil {
		return "", err
	}
	return el.Text(ctx)
}
