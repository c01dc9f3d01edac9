// Package ui defines the browser collaborator surface the verification core consumes.
// The Rod-backed implementation lives in internal/browser; tests use in-memory fakes.
package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrStillAbsent reports that a probed element is not (yet) attached or rendered.
	ErrStillAbsent = errors.New("element still absent")
	// ErrStale reports that a previously located element was detached from the DOM.
	ErrStale = errors.New("element is stale")
)

// SelectorKind is the lookup strategy of a Selector.
type SelectorKind string

const (
	KindCSS   SelectorKind = "css"
	KindXPath SelectorKind = "xpath"
	KindID    SelectorKind = "id"
)

// Selector locates elements on the current view.
type Selector struct {
	Name  string       `json:"name,omitempty" yaml:"name,omitempty"`
	Kind  SelectorKind `json:"kind" yaml:"kind"`
	Value string       `json:"value" yaml:"value"`
}

// CSS is shorthand for an unnamed css selector.
func CSS(value string) Selector {
	return Selector{Kind: KindCSS, Value: value}
}

// ParseSelector parses a "type:value" locator such as "css:div.header" or "id:search".
func ParseSelector(raw string) (Selector, error) {
	kind, value, ok := strings.Cut(raw, ":")
	if !ok {
		return Selector{}, fmt.Errorf("locator %q: expected format is 'type:value'", raw)
	}
	kind = strings.TrimSpace(kind)
	value = strings.TrimSpace(value)
	switch SelectorKind(kind) {
	case KindCSS, KindXPath, KindID:
	default:
		return Selector{}, fmt.Errorf("locator %q: unsupported locator type %q", raw, kind)
	}
	if value == "" {
		return Selector{}, fmt.Errorf("locator %q: empty value", raw)
	}
	return Selector{Kind: SelectorKind(kind), Value: value}, nil
}

// CSSQuery returns a css query for css and id selectors, and "" for xpath.
func (s Selector) CSSQuery() string {
	switch s.Kind {
	case KindID:
		return "#" + s.Value
	case KindCSS:
		return s.Value
	}
	return ""
}

func (s Selector) String() string {
	if s.Name != "" {
		return fmt.Sprintf("%s (%s:%s)", s.Name, s.Kind, s.Value)
	}
	return fmt.Sprintf("%s:%s", s.Kind, s.Value)
}

// Presence is the tri-state result of probing for an optional element.
type Presence int

const (
	// Indeterminate means the probe itself failed; absence cannot be assumed.
	Indeterminate Presence = iota
	Present
	Absent
)

func (p Presence) String() string {
	switch p {
	case Present:
		return "present"
	case Absent:
		return "absent"
	}
	return "indeterminate"
}

// ViewID identifies a page/tab.
type ViewID string

// Element is a handle to one located element.
type Element interface {
	Text(ctx context.Context) (string, error)
	Visible(ctx context.Context) (bool, error)
	// Clickable reports whether the element is visible and interaction-enabled.
	Clickable(ctx context.Context) (bool, error)
	Click(ctx context.Context) error
	Hover(ctx context.Context) error
	// Input types text into a form field.
	Input(ctx context.Context, text string) error
	ScrollIntoView(ctx context.Context) error
	// Capture returns an encoded raster (PNG) of the element's on-screen region.
	Capture(ctx context.Context) ([]byte, error)
	// Child returns the first descendant matching sel.
	Child(ctx context.Context, sel Selector) (Element, error)
	// OpenInNewView activates the element in a way that opens a new view and returns its id.
	OpenInNewView(ctx context.Context) (ViewID, error)
}

// Browser is the session-level collaborator.
type Browser interface {
	// LocateVisible returns the first element matching sel if it is rendered, else ErrStillAbsent.
	LocateVisible(ctx context.Context, sel Selector) (Element, error)
	// LocateAll returns every element currently matching sel (possibly empty).
	LocateAll(ctx context.Context, sel Selector) ([]Element, error)
	// Probe checks for an optional element without waiting.
	Probe(ctx context.Context, sel Selector) (Presence, Element, error)
	Navigate(ctx context.Context, url string) error
	// MoveAway parks the pointer over a region that triggers no hover effects.
	MoveAway(ctx context.Context, neutral Selector) error
	CurrentView() ViewID
	SwitchToView(ctx context.Context, id ViewID) error
	CloseView(ctx context.Context, id ViewID) error
}

// InteractionError reports an action that could not be performed on a located element.
type InteractionError struct {
	Action   string
	Selector string
	Err      error
}

func (e *InteractionError) Error() string {
	if e.Selector != "" {
		return fmt.Sprintf("%s %s: %v", e.Action, e.Selector, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Action, e.Err)
}

func (e *InteractionError) Unwrap() error { return e.Err }
