package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"staycheck/internal/ui"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/cdp"
	"github.com/go-rod/rod/lib/proto"
)

// element adapts a Rod element to ui.Element.
type element struct {
	session *Session
	el      *rod.Element
	desc    string
}

func (e *element) Text(ctx context.Context) (string, error) {
	text, err := e.el.Context(ctx).Text()
	return text, classify(err)
}

func (e *element) Visible(ctx context.Context) (bool, error) {
	visible, err := e.el.Context(ctx).Visible()
	return visible, classify(err)
}

func (e *element) Clickable(ctx context.Context) (bool, error) {
	visible, err := e.Visible(ctx)
	if err != nil || !visible {
		return false, err
	}
	disabled, err := e.el.Context(ctx).Property("disabled")
	if err != nil {
		return false, classify(err)
	}
	return !disabled.Bool(), nil
}

func (e *element) Click(ctx context.Context) error {
	if err := e.el.Context(ctx).Click(proto.InputMouseButtonLeft, 1); err != nil {
		return e.interaction("click", err)
	}
	return nil
}

func (e *element) Hover(ctx context.Context) error {
	if err := e.el.Context(ctx).Hover(); err != nil {
		return e.interaction("hover", err)
	}
	return nil
}

func (e *element) Input(ctx context.Context, text string) error {
	if err := e.el.Context(ctx).Input(text); err != nil {
		return e.interaction("input", err)
	}
	return nil
}

func (e *element) ScrollIntoView(ctx context.Context) error {
	if err := e.el.Context(ctx).ScrollIntoView(); err != nil {
		return e.interaction("scroll into view", err)
	}
	return nil
}

func (e *element) Capture(ctx context.Context) ([]byte, error) {
	img, err := e.el.Context(ctx).Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
	return img, classify(err)
}

func (e *element) Child(ctx context.Context, sel ui.Selector) (ui.Element, error) {
	var (
		found rod.Elements
		err   error
	)
	if sel.Kind == ui.KindXPath {
		found, err = e.el.Context(ctx).ElementsX(sel.Value)
	} else {
		found, err = e.el.Context(ctx).Elements(sel.CSSQuery())
	}
	if err != nil {
		return nil, classify(err)
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("%s inside %s: %w", sel, e.desc, ui.ErrStillAbsent)
	}
	return &element{session: e.session, el: found[0], desc: sel.String()}, nil
}

// OpenInNewView clicks the element and waits for the tab it opens.
func (e *element) OpenInNewView(ctx context.Context) (ui.ViewID, error) {
	page := e.el.Page().Context(ctx).Timeout(e.session.cfg.AttachTimeout())
	defer page.CancelTimeout()
	wait := page.WaitOpen()
	if err := e.el.Context(ctx).Click(proto.InputMouseButtonLeft, 1); err != nil {
		return "", e.interaction("open in new view", err)
	}
	opened, err := wait()
	if err != nil {
		return "", e.interaction("open in new view", err)
	}
	return e.session.track(opened.Context(context.Background())), nil
}

func (e *element) interaction(action string, err error) error {
	return &ui.InteractionError{Action: action, Selector: e.desc, Err: classify(err)}
}

// classify maps detached-node CDP failures to ui.ErrStale.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var cdpErr *cdp.Error
	if errors.As(err, &cdpErr) && isDetached(cdpErr.Message+" "+cdpErr.Data) {
		return fmt.Errorf("%w: %v", ui.ErrStale, err)
	}
	var objErr *rod.ObjectNotFoundError
	if errors.As(err, &objErr) {
		return fmt.Errorf("%w: %v", ui.ErrStale, err)
	}
	return err
}

func isDetached(msg string) bool {
	msg = strings.ToLower(msg)
	for _, marker := range []string{"node is detached", "could not find node", "cannot find context", "no node with given id"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
