// Package uitest provides an in-memory ui.Browser for exercising the verification core
// without Chrome.
package uitest

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"

	"staycheck/internal/ui"
)

// View is one fake page: selector value -> elements.
type View struct {
	ID       ui.ViewID
	Elements map[string][]*Element
}

// NewView returns an empty view.
func NewView(id ui.ViewID) *View {
	return &View{ID: id, Elements: make(map[string][]*Element)}
}

// Add registers elements under a selector value and returns the view for chaining.
func (v *View) Add(selector string, els ...*Element) *View {
	v.Elements[selector] = append(v.Elements[selector], els...)
	return v
}

// Element is a scripted element.
type Element struct {
	Name     string
	Content  string
	Hidden   bool
	Disabled bool
	// Err is returned by every probe on the element (e.g. ui.ErrStale).
	Err error
	// CaptureFn renders the element; defaults to a 4x4 white PNG.
	CaptureFn func() ([]byte, error)
	// Opens is registered and returned by OpenInNewView.
	Opens    *View
	Children map[string]*Element

	Clicks int
	Hovers int
	Typed  string

	browser *Browser
}

// Browser is a fake ui.Browser.
type Browser struct {
	mu sync.Mutex

	views   map[ui.ViewID]*View
	current ui.ViewID

	// Hovered is the element the pointer rests on, nil after MoveAway.
	Hovered *Element
	// ProbeErrs forces Probe to fail for a selector value.
	ProbeErrs map[string]error
	// AppearAfter hides a selector value from LocateVisible for the first N calls.
	AppearAfter map[string]int

	Navigated []string
	Closed    []ui.ViewID
	Switches  []ui.ViewID

	locateCalls map[string]int
}

// NewBrowser returns a browser whose current view is main.
func NewBrowser(main *View) *Browser {
	b := &Browser{
		views:       map[ui.ViewID]*View{main.ID: main},
		current:     main.ID,
		ProbeErrs:   make(map[string]error),
		AppearAfter: make(map[string]int),
		locateCalls: make(map[string]int),
	}
	b.adopt(main)
	return b
}

func (b *Browser) adopt(v *View) {
	for _, els := range v.Elements {
		for _, el := range els {
			b.adoptElement(el)
		}
	}
}

func (b *Browser) adoptElement(el *Element) {
	el.browser = b
	for _, child := range el.Children {
		b.adoptElement(child)
	}
	if el.Opens != nil {
		b.adopt(el.Opens)
	}
}

// Views returns the ids of the open views.
func (b *Browser) Views() []ui.ViewID {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]ui.ViewID, 0, len(b.views))
	for id := range b.views {
		ids = append(ids, id)
	}
	return ids
}

func (b *Browser) LocateVisible(ctx context.Context, sel ui.Selector) (ui.Element, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.locateCalls[sel.Value]++
	if n := b.AppearAfter[sel.Value]; b.locateCalls[sel.Value] <= n {
		return nil, fmt.Errorf("%s: %w", sel, ui.ErrStillAbsent)
	}
	view := b.views[b.current]
	for _, el := range view.Elements[sel.Value] {
		if el.Err != nil {
			return nil, el.Err
		}
		if !el.Hidden {
			return el, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", sel, ui.ErrStillAbsent)
}

func (b *Browser) LocateAll(ctx context.Context, sel ui.Selector) ([]ui.Element, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	view := b.views[b.current]
	out := make([]ui.Element, 0, len(view.Elements[sel.Value]))
	for _, el := range view.Elements[sel.Value] {
		out = append(out, el)
	}
	return out, nil
}

func (b *Browser) Probe(ctx context.Context, sel ui.Selector) (ui.Presence, ui.Element, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ProbeErrs[sel.Value]; err != nil {
		return ui.Indeterminate, nil, err
	}
	for _, el := range b.views[b.current].Elements[sel.Value] {
		if !el.Hidden {
			return ui.Present, el, nil
		}
	}
	return ui.Absent, nil, nil
}

func (b *Browser) Navigate(ctx context.Context, url string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Navigated = append(b.Navigated, url)
	return nil
}

func (b *Browser) MoveAway(ctx context.Context, neutral ui.Selector) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Hovered = nil
	return nil
}

func (b *Browser) CurrentView() ui.ViewID {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

func (b *Browser) SwitchToView(ctx context.Context, id ui.ViewID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.views[id]; !ok {
		return fmt.Errorf("view %s not open", id)
	}
	b.current = id
	b.Switches = append(b.Switches, id)
	return nil
}

func (b *Browser) CloseView(ctx context.Context, id ui.ViewID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.views[id]; !ok {
		return fmt.Errorf("view %s not open", id)
	}
	delete(b.views, id)
	b.Closed = append(b.Closed, id)
	return nil
}

// IsHovered reports whether el is under the pointer.
func (b *Browser) IsHovered(el *Element) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Hovered == el
}

func (e *Element) Text(ctx context.Context) (string, error) {
	if e.Err != nil {
		return "", e.Err
	}
	return e.Content, nil
}

func (e *Element) Visible(ctx context.Context) (bool, error) {
	if e.Err != nil {
		return false, e.Err
	}
	return !e.Hidden, nil
}

func (e *Element) Clickable(ctx context.Context) (bool, error) {
	if e.Err != nil {
		return false, e.Err
	}
	return !e.Hidden && !e.Disabled, nil
}

func (e *Element) Click(ctx context.Context) error {
	if e.Err != nil {
		return &ui.InteractionError{Action: "click", Selector: e.Name, Err: e.Err}
	}
	e.Clicks++
	return nil
}

func (e *Element) Hover(ctx context.Context) error {
	if e.Err != nil {
		return &ui.InteractionError{Action: "hover", Selector: e.Name, Err: e.Err}
	}
	e.Hovers++
	if e.browser != nil {
		e.browser.mu.Lock()
		e.browser.Hovered = e
		e.browser.mu.Unlock()
	}
	return nil
}

func (e *Element) Input(ctx context.Context, text string) error {
	if e.Err != nil {
		return &ui.InteractionError{Action: "input", Selector: e.Name, Err: e.Err}
	}
	e.Typed += text
	return nil
}

func (e *Element) ScrollIntoView(ctx context.Context) error { return e.Err }

func (e *Element) Capture(ctx context.Context) ([]byte, error) {
	if e.Err != nil {
		return nil, e.Err
	}
	if e.CaptureFn != nil {
		return e.CaptureFn()
	}
	return SolidPNG(4, 4, color.White), nil
}

func (e *Element) Child(ctx context.Context, sel ui.Selector) (ui.Element, error) {
	if child, ok := e.Children[sel.Value]; ok {
		return child, nil
	}
	return nil, fmt.Errorf("%s inside %s: %w", sel, e.Name, ui.ErrStillAbsent)
}

func (e *Element) OpenInNewView(ctx context.Context) (ui.ViewID, error) {
	if e.Opens == nil {
		return "", &ui.InteractionError{Action: "open in new view", Selector: e.Name, Err: fmt.Errorf("no view opened")}
	}
	b := e.browser
	b.mu.Lock()
	defer b.mu.Unlock()
	b.views[e.Opens.ID] = e.Opens
	return e.Opens.ID, nil
}

// SolidPNG encodes a w×h image filled with c.
func SolidPNG(w, h int, c color.Color) []byte {
	return PNG(w, h, func(x, y int) color.Color { return c })
}

// PNG encodes a w×h image whose pixels come from at.
func PNG(w, h int, at func(x, y int) color.Color) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, at(x, y))
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}
