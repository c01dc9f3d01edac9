package mcp

import (
	"context"
	"fmt"

	"staycheck/internal/correlation"
	"staycheck/internal/facts"
	"staycheck/internal/scenario"
	"staycheck/internal/verify"
	"staycheck/internal/visual"
)

// RunScenarioTool searches from the home page and runs the selected features.
type RunScenarioTool struct {
	runner *scenario.Runner
}

func (t *RunScenarioTool) Name() string { return "run-scenario" }
func (t *RunScenarioTool) Description() string {
	return "Search for stays from the home page, then run verification features (filters, bedrooms, amenities, map). Each feature stops at its first failing step; the report lists every executed step."
}
func (t *RunScenarioTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"location":  map[string]interface{}{"type": "string", "description": "Destination typed into the search box, e.g. 'Rome, Italy'"},
			"check_in":  map[string]interface{}{"type": "string", "description": "YYYY-MM-DD; defaults to a week from today"},
			"check_out": map[string]interface{}{"type": "string", "description": "YYYY-MM-DD; defaults to a week after check-in"},
			"adults":    map[string]interface{}{"type": "integer", "description": "Adult guests (default 2)"},
			"children":  map[string]interface{}{"type": "integer", "description": "Child guests (default 0)"},
			"features":  map[string]interface{}{"type": "string", "description": "Comma separated features or 'all' (default)"},
		},
		"required": []string{"location"},
	}
}

func (t *RunScenarioTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	features, err := scenario.ParseFeatures(getStringArg(args, "features"))
	if err != nil {
		return nil, err
	}
	search := scenario.Search{
		Location: getStringArg(args, "location"),
		Adults:   getIntArg(args, "adults", 2),
		Children: getIntArg(args, "children", 0),
	}
	if search.CheckIn, err = getDateArg(args, "check_in"); err != nil {
		return nil, err
	}
	if search.CheckOut, err = getDateArg(args, "check_out"); err != nil {
		return nil, err
	}

	report, err := t.runner.Run(ctx, search, features)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"passed":   report.Passed(),
		"run_id":   report.RunID,
		"search":   report.Search,
		"steps":    report.Steps,
		"failures": report.Failures(),
	}, nil
}

// VerifyConstraintTool checks one constraint against the results page that is already open.
type VerifyConstraintTool struct {
	verifier *verify.Verifier
}

func (t *VerifyConstraintTool) Name() string { return "verify-constraint" }
func (t *VerifyConstraintTool) Description() string {
	return "Verify one constraint against the open results page. Kinds: minimum_guests and minimum_bedrooms (every listing, escalating to the detail view when the card is inconclusive), location_contains, date_range_equals, guest_count_equals (filter summaries)."
}
func (t *VerifyConstraintTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"kind": map[string]interface{}{
				"type": "string",
				"enum": []string{"minimum_guests", "minimum_bedrooms", "location_contains", "date_range_equals", "guest_count_equals"},
			},
			"n":         map[string]interface{}{"type": "integer", "description": "Count for the guest and bedroom kinds"},
			"location":  map[string]interface{}{"type": "string", "description": "For location_contains"},
			"check_in":  map[string]interface{}{"type": "string", "description": "YYYY-MM-DD, for date_range_equals"},
			"check_out": map[string]interface{}{"type": "string", "description": "YYYY-MM-DD, for date_range_equals"},
		},
		"required": []string{"kind"},
	}
}

func (t *VerifyConstraintTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	c, err := constraintFromArgs(args)
	if err != nil {
		return nil, err
	}
	verdict, err := verdictOf(t.verifier.Check(ctx, c))
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"constraint": c.Describe(), "verdict": verdict}, nil
}

func constraintFromArgs(args map[string]interface{}) (verify.Constraint, error) {
	kind := getStringArg(args, "kind")
	n := getIntArg(args, "n", 0)
	needCount := func() error {
		if n <= 0 {
			return fmt.Errorf("%s needs a positive n", kind)
		}
		return nil
	}

	switch kind {
	case "minimum_guests":
		if err := needCount(); err != nil {
			return nil, err
		}
		return verify.MinimumGuests{N: n}, nil
	case "minimum_bedrooms":
		if err := needCount(); err != nil {
			return nil, err
		}
		return verify.MinimumBedrooms{N: n}, nil
	case "guest_count_equals":
		if err := needCount(); err != nil {
			return nil, err
		}
		return verify.GuestCountEquals{N: n}, nil
	case "location_contains":
		loc := getStringArg(args, "location")
		if loc == "" {
			return nil, fmt.Errorf("location_contains needs a location")
		}
		return verify.LocationContains{Location: loc}, nil
	case "date_range_equals":
		in, err := getDateArg(args, "check_in")
		if err != nil {
			return nil, err
		}
		out, err := getDateArg(args, "check_out")
		if err != nil {
			return nil, err
		}
		if in.IsZero() || out.IsZero() {
			return nil, fmt.Errorf("date_range_equals needs check_in and check_out")
		}
		return verify.DateRangeEquals{CheckIn: in, CheckOut: out}, nil
	case "":
		return nil, fmt.Errorf("kind is required")
	default:
		return nil, fmt.Errorf("unknown constraint kind %q", kind)
	}
}

// VerifyMapPinTool correlates the first listing with its map pin and checks hover and popup.
type VerifyMapPinTool struct {
	verifier *verify.Verifier
}

func (t *VerifyMapPinTool) Name() string { return "verify-map-pin" }
func (t *VerifyMapPinTool) Description() string {
	return "On the open results page, find the map pin for the first listing (by title and price), check that hovering the listing recolors the pin, open the pin popup and compare its details with the listing card."
}
func (t *VerifyMapPinTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}

// MapPinResult is the verify-map-pin payload. Stage names the step that produced Verdict.
type MapPinResult struct {
	Listing   correlation.Key `json:"listing"`
	Stage     string          `json:"stage"`
	Verdict   Verdict         `json:"verdict"`
	Snapshots []string        `json:"snapshots,omitempty"`
}

func (t *VerifyMapPinTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	first, err := t.verifier.CaptureFirstListing(ctx)
	if err != nil {
		return nil, err
	}
	out := &MapPinResult{Listing: first.Key, Stage: "hover"}

	res, err := t.verifier.VerifyPinHover(ctx, first.Key)
	if res != nil {
		for _, snap := range []*visual.Snapshot{res.Before, res.After} {
			if snap != nil && snap.Path != "" {
				out.Snapshots = append(out.Snapshots, snap.Path)
			}
		}
	}
	if out.Verdict, err = verdictOf(err); err != nil {
		return nil, err
	}
	if !out.Verdict.Passed {
		return out, nil
	}

	out.Stage = "popup"
	if err := t.verifier.OpenPinPopup(ctx, first.Key); err != nil {
		return nil, err
	}
	if out.Verdict, err = verdictOf(t.verifier.VerifyPinPopupMatchesListing(ctx)); err != nil {
		return nil, err
	}
	return out, nil
}

// VerifyAmenityTool opens the first listing and looks the amenity up in its amenities list.
type VerifyAmenityTool struct {
	verifier *verify.Verifier
}

func (t *VerifyAmenityTool) Name() string { return "verify-amenity" }
func (t *VerifyAmenityTool) Description() string {
	return "Open the first listing of the results page and check that its full amenities list mentions the given amenity (case-insensitive)."
}
func (t *VerifyAmenityTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"amenity": map[string]interface{}{"type": "string", "description": "Amenity text, e.g. 'pool'"},
		},
		"required": []string{"amenity"},
	}
}

func (t *VerifyAmenityTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	amenity := getStringArg(args, "amenity")
	if amenity == "" {
		return nil, fmt.Errorf("amenity is required")
	}
	verdict, err := verdictOf(t.verifier.VerifyAmenity(ctx, amenity))
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"amenity": amenity, "verdict": verdict}, nil
}

// QueryFactsTool queries facts recorded during verification, optionally after adding rules.
type QueryFactsTool struct {
	engine *facts.Engine
}

func (t *QueryFactsTool) Name() string { return "query-facts" }
func (t *QueryFactsTool) Description() string {
	return "Query verification facts with a Mangle atom such as 'failed_entity(I).' or 'tier_result(I, \"detail\", V).'. Optional 'rule' adds declarations and rules before the query runs. Use 'predicate' instead of 'query' to list every derived fact of one predicate."
}
func (t *QueryFactsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query":     map[string]interface{}{"type": "string", "description": "Single Mangle atom ending in '.'"},
			"predicate": map[string]interface{}{"type": "string", "description": "Predicate to evaluate when no query is given"},
			"rule":      map[string]interface{}{"type": "string", "description": "Mangle declarations and rules added first"},
		},
	}
}

func (t *QueryFactsTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if rule := getStringArg(args, "rule"); rule != "" {
		if err := t.engine.AddRule(rule); err != nil {
			return nil, err
		}
	}

	if query := getStringArg(args, "query"); query != "" {
		results, err := t.engine.Query(ctx, query)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"query": query, "count": len(results), "results": results}, nil
	}

	predicate := getStringArg(args, "predicate")
	if predicate == "" {
		return nil, fmt.Errorf("query or predicate is required")
	}
	derived, err := t.engine.Evaluate(ctx, predicate)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"predicate": predicate, "count": len(derived), "facts": derived}, nil
}
