package verify

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Constraint is the predicate checked against the rendered result set.
type Constraint interface {
	Describe() string
	constraint()
}

// MinimumGuests requires every listing to accommodate at least N guests.
type MinimumGuests struct{ N int }

// MinimumBedrooms requires every listing to have at least N bedrooms.
type MinimumBedrooms struct{ N int }

// LocationContains requires the results header and the location summary to mention Location.
type LocationContains struct{ Location string }

// DateRangeEquals requires the date summary to show exactly the stay range.
type DateRangeEquals struct{ CheckIn, CheckOut time.Time }

// GuestCountEquals requires the guests summary to show N guests.
type GuestCountEquals struct{ N int }

func (c MinimumGuests) Describe() string    { return fmt.Sprintf("minimum guests %d", c.N) }
func (c MinimumBedrooms) Describe() string  { return fmt.Sprintf("minimum bedrooms %d", c.N) }
func (c LocationContains) Describe() string { return fmt.Sprintf("location contains %q", c.Location) }
func (c DateRangeEquals) Describe() string {
	return fmt.Sprintf("date range equals %q", ExpectedDateFilter(c.CheckIn, c.CheckOut))
}
func (c GuestCountEquals) Describe() string { return fmt.Sprintf("guest count equals %d", c.N) }

func (MinimumGuests) constraint()    {}
func (MinimumBedrooms) constraint()  {}
func (LocationContains) constraint() {}
func (DateRangeEquals) constraint()  {}
func (GuestCountEquals) constraint() {}

var (
	dashReplacer  = strings.NewReplacer("–", "-", "—", "-")
	guestsPattern = regexp.MustCompile(`\b(\d+)\s+guests?\b`)
)

// NormalizeDashes maps en and em dashes to "-".
func NormalizeDashes(s string) string {
	return dashReplacer.Replace(s)
}

// ExpectedDateFilter renders a stay range the way the date summary shows it:
// "Oct 19 - 26", "Oct 19 - Nov 3" or "Dec 28, 2024 - Jan 5, 2025".
func ExpectedDateFilter(checkIn, checkOut time.Time) string {
	switch {
	case checkIn.Year() != checkOut.Year():
		return checkIn.Format("Jan 2, 2006") + " - " + checkOut.Format("Jan 2, 2006")
	case checkIn.Month() != checkOut.Month():
		return checkIn.Format("Jan 2") + " - " + checkOut.Format("Jan 2")
	default:
		return checkIn.Format("Jan 2") + " - " + checkOut.Format("2")
	}
}

// GuestsLabel is how the guests summary spells n guests.
func GuestsLabel(n int) string {
	if n == 1 {
		return "1 guest"
	}
	return fmt.Sprintf("%d guests", n)
}

// GuestsShown reads the guest count out of a guests summary such as "3 guests, 1 infant".
func GuestsShown(summary string) (int, bool) {
	m := guestsPattern.FindStringSubmatch(summary)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}
