// Package scenario runs the end-to-end search and verification features.
package scenario

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"staycheck/internal/config"
	"staycheck/internal/ui"
)

// DateLayout fills the {date} placeholder of calendar day locators.
const DateLayout = "01/02/2006"

// Search is the query typed into the home page.
type Search struct {
	Location string    `json:"location"`
	CheckIn  time.Time `json:"check_in"`
	CheckOut time.Time `json:"check_out"`
	Adults   int       `json:"adults"`
	Children int       `json:"children"`
}

// WithDefaults checks in a week from now and stays for a week when dates are unset.
func (s Search) WithDefaults(now time.Time) Search {
	if s.CheckIn.IsZero() {
		y, m, d := now.Date()
		s.CheckIn = time.Date(y, m, d, 0, 0, 0, 0, now.Location()).AddDate(0, 0, 7)
	}
	if s.CheckOut.IsZero() {
		s.CheckOut = s.CheckIn.AddDate(0, 0, 7)
	}
	return s
}

// Guests is the total the guests summary should show.
func (s Search) Guests() int { return s.Adults + s.Children }

// City is the part of Location the results header repeats, e.g. "Rome" for "Rome, Italy".
func (s Search) City() string {
	city, _, _ := strings.Cut(s.Location, ",")
	return strings.TrimSpace(city)
}

func (s Search) Validate() error {
	switch {
	case strings.TrimSpace(s.Location) == "":
		return errors.New("search: location is required")
	case s.Adults < 0 || s.Children < 0:
		return errors.New("search: guest counts must not be negative")
	case s.Guests() == 0:
		return errors.New("search: at least one guest is required")
	case !s.CheckOut.After(s.CheckIn):
		return fmt.Errorf("search: check-out %s is not after check-in %s", s.CheckOut.Format(time.DateOnly), s.CheckIn.Format(time.DateOnly))
	}
	return nil
}

// Feature names one end-to-end scenario.
type Feature string

const (
	FeatureFilters   Feature = "filters"
	FeatureBedrooms  Feature = "bedrooms"
	FeatureAmenities Feature = "amenities"
	FeatureMap       Feature = "map"
)

// AllFeatures in the order they run.
var AllFeatures = []Feature{FeatureFilters, FeatureBedrooms, FeatureAmenities, FeatureMap}

// ParseFeatures reads a comma separated list; "all" or "" selects every feature.
func ParseFeatures(raw string) ([]Feature, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "all" {
		return append([]Feature(nil), AllFeatures...), nil
	}
	var out []Feature
	seen := make(map[Feature]bool)
	for _, part := range strings.Split(raw, ",") {
		f := Feature(strings.ToLower(strings.TrimSpace(part)))
		switch f {
		case FeatureFilters, FeatureBedrooms, FeatureAmenities, FeatureMap:
		default:
			return nil, fmt.Errorf("unknown feature %q", part)
		}
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out, nil
}

// Selectors are the home page and filter panel elements the runner drives.
type Selectors struct {
	LocationInput   ui.Selector
	CheckInButton   ui.Selector
	CheckInDate     ui.Selector
	CheckOutDate    ui.Selector
	AddGuestsButton ui.Selector
	AddAdult        ui.Selector
	AddChild        ui.Selector
	SearchButton    ui.Selector

	MoreFilters  ui.Selector
	AddBedroom   ui.Selector
	ShowMore     ui.Selector
	PoolFacility ui.Selector
	ShowPlaces   ui.Selector
}

// SelectorsFrom resolves the runner selectors from configured locators.
func SelectorsFrom(l config.Locators) (Selectors, error) {
	var s Selectors
	var errs []error
	for _, b := range []struct {
		dst  *ui.Selector
		name string
	}{
		{&s.LocationInput, "location_input_field"},
		{&s.CheckInButton, "check_in_button"},
		{&s.CheckInDate, "check_in_date"},
		{&s.CheckOutDate, "check_out_date"},
		{&s.AddGuestsButton, "add_guests_button"},
		{&s.AddAdult, "add_adult_button"},
		{&s.AddChild, "add_child_button"},
		{&s.SearchButton, "search_for_results_button"},
		{&s.MoreFilters, "more_filters_button"},
		{&s.AddBedroom, "add_bedroom_button"},
		{&s.ShowMore, "show_more_button"},
		{&s.PoolFacility, "pool_facility_button"},
		{&s.ShowPlaces, "show_places_button"},
	} {
		sel, err := l.Selector(b.name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		*b.dst = sel
	}
	return s, errors.Join(errs...)
}

// ForDate fills the {date} placeholder of a calendar locator.
func ForDate(sel ui.Selector, d time.Time) ui.Selector {
	sel.Value = strings.ReplaceAll(sel.Value, "{date}", d.Format(DateLayout))
	return sel
}
