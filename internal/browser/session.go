// Package browser drives Chrome through Rod and exposes it as a ui.Browser.
package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"staycheck/internal/config"
	"staycheck/internal/ui"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"
	"go.uber.org/zap"
)

// ErrNotConnected is returned by view operations before Start.
var ErrNotConnected = errors.New("browser not connected")

// Session owns one Chrome instance and the views (tabs) opened during verification.
// Exactly one view is current at a time.
type Session struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	mu         sync.RWMutex
	browser    *rod.Browser
	launched   *launcher.Launcher
	controlURL string
	pages      map[ui.ViewID]*rod.Page
	current    ui.ViewID
}

var _ ui.Browser = (*Session)(nil)

func NewSession(cfg config.BrowserConfig, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		cfg:    cfg,
		logger: logger.Named("browser"),
		pages:  make(map[ui.ViewID]*rod.Page),
	}
}

// Start connects to debugger_url when set, otherwise launches Chrome with the configured
// binary and flags (or lets Rod's launcher find one).
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.browser != nil {
		if _, err := s.browser.Version(); err == nil {
			return nil
		}
		s.logger.Warn("stale browser connection detected, reconnecting")
		_ = s.browser.Close()
		s.browser = nil
		s.controlURL = ""
		s.pages = make(map[ui.ViewID]*rod.Page)
		s.current = ""
	}

	controlURL := s.cfg.DebuggerURL
	if controlURL == "" {
		l := launcherFor(s.cfg)
		url, err := l.Launch()
		if err != nil {
			return fmt.Errorf("launch chrome: %w", err)
		}
		s.launched = l
		controlURL = url
	}

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}

	s.browser = b
	s.controlURL = controlURL
	s.logger.Info("browser connected", zap.String("control_url", controlURL))
	return nil
}

// launcherFor builds a launcher from browser.launch: the binary followed by raw flags.
func launcherFor(cfg config.BrowserConfig) *launcher.Launcher {
	l := launcher.New().Headless(cfg.IsHeadless())
	if len(cfg.Launch) == 0 {
		return l
	}
	if bin := strings.TrimSpace(cfg.Launch[0]); bin != "" {
		l = l.Bin(bin)
	}
	for _, raw := range cfg.Launch[1:] {
		name, val, hasVal := strings.Cut(strings.TrimLeft(raw, "-"), "=")
		if hasVal {
			l = l.Set(flags.Flag(name), val)
		} else {
			l = l.Set(flags.Flag(name))
		}
	}
	return l
}

// ControlURL returns the DevTools WebSocket URL of the connected browser.
func (s *Session) ControlURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.controlURL
}

func (s *Session) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.browser != nil
}

// Shutdown closes every tracked view and the browser, and kills Chrome if it was launched here.
func (s *Session) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, page := range s.pages {
		_ = page.Close()
		delete(s.pages, id)
	}
	s.current = ""

	var err error
	if s.browser != nil {
		err = s.browser.Close()
		s.browser = nil
	}
	if s.launched != nil {
		s.launched.Kill()
		s.launched = nil
	}
	s.controlURL = ""
	s.logger.Info("browser shutdown complete")
	return err
}

// Open creates a new incognito view sized to the configured viewport, navigates it to url
// and makes it current.
func (s *Session) Open(ctx context.Context, url string) (ui.ViewID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.browser == nil {
		return "", ErrNotConnected
	}
	incognito, err := s.browser.Incognito()
	if err != nil {
		return "", fmt.Errorf("incognito context: %w", err)
	}
	page, err := incognito.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return "", fmt.Errorf("create page: %w", err)
	}

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             s.cfg.GetViewportWidth(),
		Height:            s.cfg.GetViewportHeight(),
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		s.logger.Warn("failed to set viewport", zap.Error(err))
	}

	id := ui.ViewID(page.TargetID)
	s.pages[id] = page
	s.current = id

	if url != "" {
		if err := s.navigate(ctx, page, url); err != nil {
			return id, err
		}
	}
	return id, nil
}

// Navigate loads url in the current view, opening one if none exists.
func (s *Session) Navigate(ctx context.Context, url string) error {
	page, err := s.currentPage()
	if errors.Is(err, errNoView) {
		_, err = s.Open(ctx, url)
		return err
	}
	if err != nil {
		return err
	}
	return s.navigate(ctx, page, url)
}

func (s *Session) navigate(ctx context.Context, page *rod.Page, url string) error {
	p := page.Context(ctx).Timeout(s.cfg.NavigationTimeout())
	if err := p.Navigate(url); err != nil {
		return &ui.InteractionError{Action: "navigate", Selector: url, Err: err}
	}
	if err := p.WaitLoad(); err != nil {
		return &ui.InteractionError{Action: "wait load", Selector: url, Err: err}
	}
	s.logger.Debug("navigated", zap.String("url", url))
	return nil
}

var errNoView = errors.New("no current view")

func (s *Session) currentPage() (*rod.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.browser == nil {
		return nil, ErrNotConnected
	}
	page, ok := s.pages[s.current]
	if !ok {
		return nil, errNoView
	}
	return page, nil
}

func (s *Session) LocateAll(ctx context.Context, sel ui.Selector) ([]ui.Element, error) {
	page, err := s.currentPage()
	if err != nil {
		return nil, err
	}
	var found rod.Elements
	if sel.Kind == ui.KindXPath {
		found, err = page.Context(ctx).ElementsX(sel.Value)
	} else {
		found, err = page.Context(ctx).Elements(sel.CSSQuery())
	}
	if err != nil {
		return nil, classify(err)
	}
	out := make([]ui.Element, 0, len(found))
	for _, el := range found {
		out = append(out, &element{session: s, el: el, desc: sel.String()})
	}
	return out, nil
}

func (s *Session) LocateVisible(ctx context.Context, sel ui.Selector) (ui.Element, error) {
	els, err := s.LocateAll(ctx, sel)
	if err != nil {
		return nil, err
	}
	for _, el := range els {
		visible, err := el.Visible(ctx)
		if errors.Is(err, ui.ErrStale) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if visible {
			return el, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", sel, ui.ErrStillAbsent)
}

func (s *Session) Probe(ctx context.Context, sel ui.Selector) (ui.Presence, ui.Element, error) {
	el, err := s.LocateVisible(ctx, sel)
	switch {
	case err == nil:
		return ui.Present, el, nil
	case errors.Is(err, ui.ErrStillAbsent):
		return ui.Absent, nil, nil
	}
	return ui.Indeterminate, nil, err
}

// MoveAway hovers the neutral element, or the top-left corner when it is not rendered.
func (s *Session) MoveAway(ctx context.Context, neutral ui.Selector) error {
	if el, err := s.LocateVisible(ctx, neutral); err == nil {
		return el.Hover(ctx)
	}
	page, err := s.currentPage()
	if err != nil {
		return err
	}
	return page.Context(ctx).Mouse.MoveTo(proto.Point{X: 0, Y: 0})
}

func (s *Session) CurrentView() ui.ViewID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *Session) SwitchToView(ctx context.Context, id ui.ViewID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	page, ok := s.pages[id]
	if !ok {
		return fmt.Errorf("view %s not open", id)
	}
	if _, err := page.Context(ctx).Activate(); err != nil {
		return &ui.InteractionError{Action: "switch to view", Selector: string(id), Err: err}
	}
	s.current = id
	return nil
}

func (s *Session) CloseView(ctx context.Context, id ui.ViewID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	page, ok := s.pages[id]
	if !ok {
		return fmt.Errorf("view %s not open", id)
	}
	delete(s.pages, id)
	if s.current == id {
		s.current = ""
	}
	if err := page.Context(ctx).Close(); err != nil {
		return &ui.InteractionError{Action: "close view", Selector: string(id), Err: err}
	}
	return nil
}

func (s *Session) track(page *rod.Page) ui.ViewID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := ui.ViewID(page.TargetID)
	s.pages[id] = page
	return id
}

// CapturePage writes a JPEG of the current view to path, for debugging failed runs.
func (s *Session) CapturePage(ctx context.Context, path string, quality int) error {
	page, err := s.currentPage()
	if err != nil {
		return err
	}
	img, err := page.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format:  proto.PageCaptureScreenshotFormatJpeg,
		Quality: gson.Int(quality),
	})
	if err != nil {
		return fmt.Errorf("capture page: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, img, 0o644)
}
