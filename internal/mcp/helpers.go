package mcp

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"staycheck/internal/verify"
)

func getStringArg(args map[string]interface{}, key string) string {
	val, ok := args[key]
	if !ok || val == nil {
		return ""
	}
	switch v := val.(type) {
	case string:
		return strings.TrimSpace(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func getIntArg(args map[string]interface{}, key string, fallback int) int {
	val, ok := args[key]
	if !ok {
		return fallback
	}
	switch v := val.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return fallback
	}
}

// getDateArg parses a YYYY-MM-DD argument. Missing dates are the zero time.
func getDateArg(args map[string]interface{}, key string) (time.Time, error) {
	raw := getStringArg(args, key)
	if raw == "" {
		return time.Time{}, nil
	}
	d, err := time.ParseInLocation(time.DateOnly, raw, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: expected YYYY-MM-DD, got %q", key, raw)
	}
	return d, nil
}

// Verdict is the tool-level outcome of a verification. A failed assertion is a verdict,
// not a tool error.
type Verdict struct {
	Passed   bool   `json:"passed"`
	Check    string `json:"check,omitempty"`
	Index    *int   `json:"index,omitempty"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
	Error    string `json:"error,omitempty"`
}

// verdictOf folds assertion failures into a Verdict and passes every other error through.
func verdictOf(err error) (Verdict, error) {
	if err == nil {
		return Verdict{Passed: true}, nil
	}
	var ae *verify.AssertionError
	if !errors.As(err, &ae) {
		return Verdict{}, err
	}
	v := Verdict{Check: ae.Check, Expected: ae.Expected, Actual: ae.Actual, Error: err.Error()}
	if ae.Index != verify.NoEntity {
		idx := ae.Index
		v.Index = &idx
	}
	return v, nil
}
