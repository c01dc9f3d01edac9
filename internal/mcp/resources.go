package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"staycheck/internal/facts"

	"github.com/mark3labs/mcp-go/mcp"
)

const (
	resourceMIMEJSON = "application/json"
)

func (s *Server) registerAllResources() {
	if s == nil || s.mcpServer == nil {
		return
	}

	s.mcpServer.AddResource(
		mcp.NewResource(
			"staycheck://about",
			"staycheck About",
			mcp.WithMIMEType(resourceMIMEJSON),
			mcp.WithResourceDescription("Server info, target site and the available verification features."),
		),
		s.handleAboutResource,
	)

	if s.deps.Engine == nil {
		return
	}
	s.mcpServer.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"staycheck://facts{?predicate,limit}",
			"Recorded Facts",
			mcp.WithTemplateMIMEType(resourceMIMEJSON),
			mcp.WithTemplateDescription("The most recent facts recorded during verification, optionally filtered by predicate."),
		),
		s.handleFactsResource,
	)
}

func (s *Server) handleAboutResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	payload := map[string]interface{}{
		"name":     s.cfg.Server.Name,
		"version":  s.cfg.Server.Version,
		"base_url": s.cfg.Browser.BaseURL,
		"features": []string{"filters", "bedrooms", "amenities", "map"},
		"notes": []string{
			"run-scenario starts from the home page; the verify-* tools expect an open results page.",
			"A failed assertion is returned as a verdict with passed=false, not as a tool error.",
		},
		"timestamp_ms": time.Now().UnixMilli(),
	}
	return jsonContents(request.Params.URI, payload)
}

func (s *Server) handleFactsResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	predicate := argString(request.Params.Arguments["predicate"])
	limit := asInt(request.Params.Arguments["limit"])
	if limit <= 0 {
		limit = 25
	}
	if limit > 500 {
		limit = 500
	}

	recent := selectRecentFacts(s.deps.Engine, predicate, limit)
	payload := map[string]interface{}{
		"predicate": predicate,
		"limit":     limit,
		"count":     len(recent),
		"facts":     recent,
	}
	return jsonContents(request.Params.URI, payload)
}

func jsonContents(uri string, payload interface{}) ([]mcp.ResourceContents, error) {
	text, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: resourceMIMEJSON,
			Text:     string(text),
		},
	}, nil
}

// selectRecentFacts returns the newest limit facts in chronological order.
func selectRecentFacts(engine *facts.Engine, predicate string, limit int) []facts.Fact {
	if engine == nil || limit <= 0 {
		return []facts.Fact{}
	}

	var source []facts.Fact
	if predicate != "" {
		source = engine.FactsByPredicate(predicate)
	} else {
		source = engine.Facts()
	}
	if len(source) > limit {
		source = source[len(source)-limit:]
	}
	return append([]facts.Fact{}, source...)
}

func argString(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case []string:
		if len(value) == 0 {
			return ""
		}
		return value[0]
	default:
		return fmt.Sprintf("%v", value)
	}
}

func asInt(v any) int {
	switch value := v.(type) {
	case int:
		return value
	case float64:
		return int(value)
	default:
		var n int
		if _, err := fmt.Sscanf(argString(v), "%d", &n); err == nil {
			return n
		}
		return 0
	}
}
