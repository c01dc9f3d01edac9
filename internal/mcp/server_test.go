package mcp

import (
	"context"
	"encoding/json"
	"image/color"
	"strings"
	"testing"
	"time"

	"staycheck/internal/config"
	"staycheck/internal/facts"
	"staycheck/internal/scenario"
	"staycheck/internal/ui"
	"staycheck/internal/ui/uitest"
	"staycheck/internal/verify"
	"staycheck/internal/waitfor"

	"github.com/mark3labs/mcp-go/mcp"
)

const listingText = "Cozy Loft\nEntire rental unit\n2 beds\nFree cancellation\n1,234 lei per night · 7 nights\n4.91 out of 5 average rating, 87 reviews"

func setupTestServerConfig() config.Config {
	cfg := config.DefaultConfig()
	cfg.Server.Name = "test-server"
	cfg.Server.Version = "1.0.0"
	cfg.Facts = config.FactsConfig{
		Enable:          true,
		SchemaPath:      "../../schemas/staycheck.mg",
		FactBufferLimit: 1000,
	}
	return cfg
}

// resultsPage renders a results header, two listing cards and a map whose matching pin
// turns black while the first listing is hovered.
func resultsPage(popupText string) *uitest.Browser {
	listing := &uitest.Element{Name: "first listing", Content: listingText}
	pin := &uitest.Element{Name: "pin", Children: map[string]*uitest.Element{"span": {Content: "Cozy Loft, 1,234 lei"}}}

	var b *uitest.Browser
	pin.CaptureFn = func() ([]byte, error) {
		if b.IsHovered(listing) {
			return uitest.SolidPNG(4, 4, color.Black), nil
		}
		return uitest.SolidPNG(4, 4, color.White), nil
	}

	b = uitest.NewBrowser(uitest.NewView("main").
		Add("h1", &uitest.Element{Content: "Over 1,000 places in Rome"}).
		Add(".location-summary", &uitest.Element{Content: "Rome"}).
		Add(".guests-summary", &uitest.Element{Content: "3 guests"}).
		Add(".card", listing, &uitest.Element{Content: "Villa\n4 beds"}).
		Add(".pin", pin).
		Add(".popup", &uitest.Element{Content: popupText}).
		Add("header", &uitest.Element{}))
	return b
}

func newTestServer(t *testing.T, b ui.Browser, withFacts bool) (*Server, *facts.Engine) {
	t.Helper()
	cfg := setupTestServerConfig()

	var engine *facts.Engine
	var sink verify.FactSink
	if withFacts {
		var err error
		engine, err = facts.NewEngine(cfg.Facts, nil)
		if err != nil {
			t.Fatalf("Failed to create engine: %v", err)
		}
		sink = engine
	}

	w := waitfor.New(300*time.Millisecond, 5*time.Millisecond, nil)
	v := verify.New(b, verify.Settings{
		Selectors: verify.Selectors{
			ResultsHeader:   ui.CSS("h1"),
			LocationSummary: ui.CSS(".location-summary"),
			GuestsSummary:   ui.CSS(".guests-summary"),
			Listing:         ui.CSS(".card"),
			FirstListing:    ui.CSS(".card"),
			MapPin:          ui.CSS(".pin"),
			PinLabel:        ui.CSS("span"),
			PinPopup:        ui.CSS(".popup"),
			Neutral:         ui.CSS("header"),
		},
		Settle: 80 * time.Millisecond,
		Waiter: w,
		Facts:  sink,
	})
	runner := scenario.NewRunner(v, scenario.Settings{BaseURL: "https://www.airbnb.com/", Waiter: w})

	server, err := NewServer(cfg, Deps{Runner: runner, Verifier: v, Engine: engine})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	return server, engine
}

func TestNewServer(t *testing.T) {
	t.Run("registers all tools", func(t *testing.T) {
		server, _ := newTestServer(t, resultsPage(""), true)
		for _, name := range []string{"run-scenario", "verify-constraint", "verify-map-pin", "verify-amenity", "query-facts"} {
			if _, ok := server.tools[name]; !ok {
				t.Errorf("tool %s not registered", name)
			}
		}
	})

	t.Run("without facts", func(t *testing.T) {
		server, _ := newTestServer(t, resultsPage(""), false)
		if _, ok := server.tools["query-facts"]; ok {
			t.Error("query-facts must not be registered without an engine")
		}
	})

	t.Run("missing dependencies", func(t *testing.T) {
		if _, err := NewServer(setupTestServerConfig(), Deps{}); err == nil {
			t.Error("expected error without runner and verifier")
		}
	})
}

func TestToolSchemasAreValidJSON(t *testing.T) {
	server, _ := newTestServer(t, resultsPage(""), true)
	for name, tool := range server.tools {
		raw, err := json.Marshal(tool.InputSchema())
		if err != nil {
			t.Errorf("%s: schema not serializable: %v", name, err)
			continue
		}
		if !strings.Contains(string(raw), `"type":"object"`) {
			t.Errorf("%s: schema is not an object: %s", name, raw)
		}
		if tool.Description() == "" {
			t.Errorf("%s: empty description", name)
		}
	}
}

func TestExecuteToolNotFound(t *testing.T) {
	server, _ := newTestServer(t, resultsPage(""), false)
	if _, err := server.ExecuteTool(context.Background(), "nonexistent", nil); err == nil {
		t.Error("expected error for unknown tool")
	}
}

func TestVerifyConstraintTool(t *testing.T) {
	server, engine := newTestServer(t, resultsPage(""), true)
	ctx := context.Background()

	t.Run("location passes", func(t *testing.T) {
		result, err := server.ExecuteTool(ctx, "verify-constraint", map[string]interface{}{"kind": "location_contains", "location": "Rome"})
		if err != nil {
			t.Fatalf("ExecuteTool: %v", err)
		}
		verdict := result.(map[string]interface{})["verdict"].(Verdict)
		if !verdict.Passed {
			t.Errorf("expected pass, got %+v", verdict)
		}
	})

	t.Run("location fails as verdict", func(t *testing.T) {
		result, err := server.ExecuteTool(ctx, "verify-constraint", map[string]interface{}{"kind": "location_contains", "location": "Paris"})
		if err != nil {
			t.Fatalf("assertion failures must not be tool errors: %v", err)
		}
		verdict := result.(map[string]interface{})["verdict"].(Verdict)
		if verdict.Passed || verdict.Check != "location in results header" || verdict.Index != nil {
			t.Errorf("unexpected verdict %+v", verdict)
		}
	})

	t.Run("guests pass on summary", func(t *testing.T) {
		result, err := server.ExecuteTool(ctx, "verify-constraint", map[string]interface{}{"kind": "minimum_guests", "n": float64(2)})
		if err != nil {
			t.Fatalf("ExecuteTool: %v", err)
		}
		if verdict := result.(map[string]interface{})["verdict"].(Verdict); !verdict.Passed {
			t.Errorf("expected pass, got %+v", verdict)
		}
		if got := len(engine.FactsByPredicate("tier_result")); got != 2 {
			t.Errorf("tier_result facts = %d, want 2", got)
		}
	})

	t.Run("bad arguments", func(t *testing.T) {
		for _, args := range []map[string]interface{}{
			{},
			{"kind": "maximum_price"},
			{"kind": "minimum_bedrooms"},
			{"kind": "date_range_equals", "check_in": "2025-10-19"},
			{"kind": "date_range_equals", "check_in": "19/10/2025", "check_out": "2025-10-26"},
		} {
			if _, err := server.ExecuteTool(ctx, "verify-constraint", args); err == nil {
				t.Errorf("expected error for %v", args)
			}
		}
	})
}

func TestVerifyMapPinTool(t *testing.T) {
	popup := "Cozy Loft\nEntire rental unit\n2 beds\nFree cancellation\n1,234 lei per night\n4.91 out of 5 average rating, 87 reviews\nShow more dates"
	server, engine := newTestServer(t, resultsPage(popup), true)

	result, err := server.ExecuteTool(context.Background(), "verify-map-pin", nil)
	if err != nil {
		t.Fatalf("ExecuteTool: %v", err)
	}
	res := result.(*MapPinResult)
	if res.Stage != "popup" || !res.Verdict.Passed {
		t.Errorf("unexpected result %+v", res)
	}
	if res.Listing.Title != "Cozy Loft" || res.Listing.Price != "1,234" {
		t.Errorf("listing key = %+v", res.Listing)
	}

	changed := engine.FactsByPredicate("hover_result")
	if len(changed) != 1 || changed[0].Args[1] != "true" {
		t.Errorf("hover_result facts = %+v", changed)
	}
}

func TestVerifyMapPinToolPopupMismatch(t *testing.T) {
	popup := "Cozy Loft\nEntire rental unit\n1,300 lei per night"
	server, _ := newTestServer(t, resultsPage(popup), false)

	result, err := server.ExecuteTool(context.Background(), "verify-map-pin", nil)
	if err != nil {
		t.Fatalf("ExecuteTool: %v", err)
	}
	res := result.(*MapPinResult)
	if res.Stage != "popup" || res.Verdict.Passed || res.Verdict.Check != "pin popup details" {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestRunScenarioToolRejectsBadInput(t *testing.T) {
	server, _ := newTestServer(t, resultsPage(""), false)
	ctx := context.Background()

	for _, args := range []map[string]interface{}{
		{"location": "Rome", "features": "checkout"},
		{"location": "Rome", "check_in": "tomorrow"},
		{"features": "filters"},
	} {
		if _, err := server.ExecuteTool(ctx, "run-scenario", args); err == nil {
			t.Errorf("expected error for %v", args)
		}
	}
}

func TestQueryFactsTool(t *testing.T) {
	server, engine := newTestServer(t, resultsPage(""), true)
	ctx := context.Background()

	err := engine.AddFacts(ctx, []facts.Fact{
		facts.New("tier_result", 0, "summary", "escalate"),
		facts.New("tier_result", 0, "detail", "pass"),
		facts.New("tier_result", 1, "summary", "pass"),
	})
	if err != nil {
		t.Fatalf("AddFacts: %v", err)
	}

	t.Run("query", func(t *testing.T) {
		result, err := server.ExecuteTool(ctx, "query-facts", map[string]interface{}{"query": "escalated(I)."})
		if err != nil {
			t.Fatalf("ExecuteTool: %v", err)
		}
		if got := result.(map[string]interface{})["count"]; got != 1 {
			t.Errorf("count = %v, want 1", got)
		}
	})

	t.Run("rule then predicate", func(t *testing.T) {
		result, err := server.ExecuteTool(ctx, "query-facts", map[string]interface{}{
			"rule":      "Decl summary_pass(Index).\nsummary_pass(I) :- tier_result(I, \"summary\", \"pass\").",
			"predicate": "summary_pass",
		})
		if err != nil {
			t.Fatalf("ExecuteTool: %v", err)
		}
		if got := result.(map[string]interface{})["count"]; got != 1 {
			t.Errorf("count = %v, want 1", got)
		}
	})

	t.Run("requires query or predicate", func(t *testing.T) {
		if _, err := server.ExecuteTool(ctx, "query-facts", map[string]interface{}{}); err == nil {
			t.Error("expected error")
		}
	})
}

func TestWrapTool(t *testing.T) {
	server, _ := newTestServer(t, resultsPage(""), false)
	handler := server.wrapTool(server.tools["verify-constraint"])

	req := mcp.CallToolRequest{}
	req.Params.Name = "verify-constraint"
	req.Params.Arguments = map[string]interface{}{"kind": "location_contains", "location": "Rome"}

	res, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %+v", res.Content)
	}
	text := res.Content[0].(mcp.TextContent).Text
	if !strings.Contains(text, `"passed":true`) {
		t.Errorf("payload = %s", text)
	}

	req.Params.Arguments = map[string]interface{}{"kind": "unknown"}
	res, err = handler(context.Background(), req)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if !res.IsError {
		t.Error("expected IsError for bad arguments")
	}
}

func TestWrapToolUnencodableResult(t *testing.T) {
	server, _ := newTestServer(t, resultsPage(""), false)
	handler := server.wrapTool(chanTool{})

	res, err := handler(context.Background(), mcp.CallToolRequest{})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if !res.IsError {
		t.Error("expected IsError for a result that cannot be encoded")
	}
}

type chanTool struct{}

func (chanTool) Name() string                        { return "chan" }
func (chanTool) Description() string                 { return "returns a channel" }
func (chanTool) InputSchema() map[string]interface{} { return map[string]interface{}{"type": "object"} }
func (chanTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	return map[string]interface{}{"ch": make(chan int)}, nil
}
