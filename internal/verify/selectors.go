package verify

import (
	"errors"

	"staycheck/internal/config"
	"staycheck/internal/ui"
)

// Selectors are the elements the verifier reads.
type Selectors struct {
	ResultsHeader   ui.Selector
	LocationSummary ui.Selector
	DateSummary     ui.Selector
	GuestsSummary   ui.Selector
	Listing         ui.Selector
	FirstListing    ui.Selector

	AccommodatesDetail ui.Selector
	BedroomsDetail     ui.Selector

	TranslationPopupClose ui.Selector
	ShowAllAmenities      ui.Selector
	AmenitiesSection      ui.Selector

	MapPin   ui.Selector
	PinLabel ui.Selector
	PinPopup ui.Selector
	Neutral  ui.Selector
}

// SelectorsFrom resolves every verifier selector from configured locators.
func SelectorsFrom(l config.Locators) (Selectors, error) {
	var s Selectors
	var errs []error
	bind := func(dst *ui.Selector, name string) {
		sel, err := l.Selector(name)
		if err != nil {
			errs = append(errs, err)
			return
		}
		*dst = sel
	}

	bind(&s.ResultsHeader, "search_results_header")
	bind(&s.LocationSummary, "location_filter_summary")
	bind(&s.DateSummary, "date_filter_summary")
	bind(&s.GuestsSummary, "guests_filter_summary")
	bind(&s.Listing, "listing_summary")
	bind(&s.FirstListing, "first_listing_summary")
	bind(&s.AccommodatesDetail, "accommodates_guests_summary")
	bind(&s.BedroomsDetail, "bedrooms_in_details")
	bind(&s.TranslationPopupClose, "close_translation_popup")
	bind(&s.ShowAllAmenities, "show_all_amenities_button")
	bind(&s.AmenitiesSection, "parking_and_facilities")
	bind(&s.MapPin, "common_map_marker")
	bind(&s.PinLabel, "pin_label")
	bind(&s.PinPopup, "pin_popup_summary")
	bind(&s.Neutral, "neutral_region")

	return s, errors.Join(errs...)
}
