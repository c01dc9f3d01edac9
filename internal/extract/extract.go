// Package extract reads typed facts out of loosely formatted visible text.
package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// Count kinds.
const (
	Beds     = "bed"
	Bedrooms = "bedroom"
	Guests   = "guest"
)

var (
	segmentSplit  = regexp.MustCompile(`[,\n]`)
	nonDigits     = regexp.MustCompile(`\D`)
	ratingPattern = regexp.MustCompile(`(\d+\.\d+)\sout\sof\s(\d+)\saverage\srating,\s(\d+)\sreviews`)

	// compiled caches price patterns by expression.
	compiled sync.Map
)

// Fact is one typed value read from text.
type Fact interface {
	Predicate() string
	Args() []interface{}
}

// Count is an integer count of beds, bedrooms or guests.
type Count struct {
	Kind  string
	Value int
}

// Money keeps the rendered digits (thousands separators included) for exact comparison.
type Money struct {
	Raw string
}

// Title is the display name of an entity.
type Title struct {
	Text string
}

// Rating is a "<score> out of <max> average rating, <n> reviews" claim.
type Rating struct {
	Score    float64
	ScaleMax int
	Reviews  int
	Text     string
}

func (c Count) Predicate() string { return "count" }
func (c Count) Args() []interface{} { return []interface{}{c.Kind, c.Value} }
func (m Money) Predicate() string { return "price" }
func (m Money) Args() []interface{} { return []interface{}{m.Raw} }
func (t Title) Predicate() string { return "title" }
func (t Title) Args() []interface{} { return []interface{}{t.Text} }
func (r Rating) Predicate() string { return "rating" }
func (r Rating) Args() []interface{} { return []interface{}{r.Score, r.ScaleMax, r.Reviews} }
func (r Rating) String() string { return r.Text }

// Amount parses the magnitude, dropping thousands separators.
func (m Money) Amount() (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(m.Raw, ",", ""), 64)
}

// MissingDataError reports an expected fact absent from otherwise-present text.
type MissingDataError struct {
	What string
	Text string
}

func (e *MissingDataError) Error() string {
	return fmt.Sprintf("could not extract %s from %q", e.What, abbreviate(e.Text, 120))
}

// CountOf returns the number in the first comma/newline separated segment that mentions
// unit, or 0 when no segment carries one. 0 means "not enough data", not "none".
func CountOf(text, unit string) int {
	unit = strings.ToLower(unit)
	for _, part := range segmentSplit.Split(text, -1) {
		part = strings.ToLower(strings.TrimSpace(part))
		if !strings.Contains(part, unit) {
			continue
		}
		digits := nonDigits.ReplaceAllString(part, "")
		if digits == "" {
			continue
		}
		n, err := strconv.Atoi(digits)
		if err != nil {
			continue
		}
		return n
	}
	return 0
}

// Digits concatenates every digit in text, as detail panels carry a single number.
func Digits(text string) (int, bool) {
	digits := nonDigits.ReplaceAllString(text, "")
	if digits == "" {
		return 0, false
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return n, true
}

// RequireDigits is Digits for contracts where absence is a failure.
func RequireDigits(text, what string) (int, error) {
	n, ok := Digits(text)
	if !ok {
		return 0, &MissingDataError{What: what, Text: text}
	}
	return n, nil
}

// TitleAndPrice reads the title (first line) and the price immediately preceding suffix,
// e.g. "lei per night".
func TitleAndPrice(text, priceSuffix string) (Title, Money, error) {
	title := strings.TrimSpace(firstLine(text))
	if title == "" {
		return Title{}, Money{}, &MissingDataError{What: "title", Text: text}
	}
	m := suffixPattern(priceSuffix).FindStringSubmatch(text)
	if m == nil {
		return Title{}, Money{}, &MissingDataError{What: "price before " + strconv.Quote(priceSuffix), Text: text}
	}
	return Title{Text: title}, Money{Raw: m[1]}, nil
}

// PinLabel reads a map marker label of the form "<title>, <price> <currency>".
func PinLabel(text, currency string) (Title, Money, error) {
	m := pinPattern(currency).FindStringSubmatch(text)
	if m == nil {
		return Title{}, Money{}, &MissingDataError{What: "pin title and price", Text: text}
	}
	title := strings.TrimSpace(m[1])
	price := strings.TrimSpace(m[2])
	if title == "" || strings.Trim(price, ",") == "" {
		return Title{}, Money{}, &MissingDataError{What: "pin title and price", Text: text}
	}
	return Title{Text: title}, Money{Raw: price}, nil
}

// RatingSummary returns the first rating claim only; repeats are rendering duplicates.
func RatingSummary(text string) (Rating, bool) {
	m := ratingPattern.FindStringSubmatch(text)
	if m == nil {
		return Rating{}, false
	}
	score, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return Rating{}, false
	}
	scale, _ := strconv.Atoi(m[2])
	reviews, _ := strconv.Atoi(m[3])
	return Rating{Score: score, ScaleMax: scale, Reviews: reviews, Text: m[0]}, true
}

// IsRating reports whether s carries a rating claim.
func IsRating(s string) bool {
	return ratingPattern.MatchString(s)
}

// Facts collects everything a listing card yields. Missing parts are simply omitted.
func Facts(text, priceSuffix string) []Fact {
	var out []Fact
	if title, price, err := TitleAndPrice(text, priceSuffix); err == nil {
		out = append(out, title, price)
	}
	for _, kind := range []string{Bedrooms, Beds, Guests} {
		if n := countExact(text, kind); n > 0 {
			out = append(out, Count{Kind: kind, Value: n})
		}
	}
	if r, ok := RatingSummary(text); ok {
		out = append(out, r)
	}
	return out
}

// countExact is CountOf that does not let "bed" match a "bedroom" segment.
func countExact(text, unit string) int {
	if unit != Beds {
		return CountOf(text, unit)
	}
	for _, part := range segmentSplit.Split(text, -1) {
		lower := strings.ToLower(part)
		if strings.Contains(lower, Bedrooms) {
			continue
		}
		if n := CountOf(lower, Beds); n > 0 {
			return n
		}
	}
	return 0
}

func suffixPattern(suffix string) *regexp.Regexp {
	return cachedPattern(`(\d[\d,]*)\s*` + regexp.QuoteMeta(suffix))
}

func pinPattern(currency string) *regexp.Regexp {
	return cachedPattern(`^(.*?),\s*([\d,]+)\s*` + regexp.QuoteMeta(currency))
}

func cachedPattern(expr string) *regexp.Regexp {
	if re, ok := compiled.Load(expr); ok {
		return re.(*regexp.Regexp)
	}
	re, _ := compiled.LoadOrStore(expr, regexp.MustCompile(expr))
	return re.(*regexp.Regexp)
}

func firstLine(text string) string {
	line, _, _ := strings.Cut(text, "\n")
	return line
}

func abbreviate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
