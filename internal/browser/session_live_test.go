package browser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"staycheck/internal/config"
	"staycheck/internal/ui"

	"github.com/disintegration/imaging"
)

const resultsPage = `<!doctype html>
<html><body>
<header style="height:40px">staycheck</header>
<h1>Over 1,000 places in Rome</h1>
<div class="card"><a href="/detail" target="_blank">Loft in Rome</a><span>1 bed</span></div>
<div class="card"><a href="/detail" target="_blank">Villa in Rome</a><span>3 beds</span></div>
<div class="hidden" style="display:none">hidden</div>
<button class="off" disabled>Search</button>
</body></html>`

const detailPage = `<!doctype html><html><body><ul><li class="guests">6 guests</li></ul></body></html>`

// TestLiveSession drives a real Chrome against a local page.
// Set SKIP_LIVE_TESTS to skip.
func TestLiveSession(t *testing.T) {
	if os.Getenv("SKIP_LIVE_TESTS") != "" {
		t.Skip("Skipping live browser tests (SKIP_LIVE_TESTS set)")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if r.URL.Path == "/detail" {
			fmt.Fprint(w, detailPage)
			return
		}
		fmt.Fprint(w, resultsPage)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	s := NewSession(config.BrowserConfig{Headless: boolPtr(true), ViewportWidth: 800, ViewportHeight: 600}, nil)
	if err := s.Start(ctx); err != nil {
		t.Skipf("Browser start failed (Chrome not available): %v", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = s.Shutdown(shutdownCtx)
	}()

	main, err := s.Open(ctx, srv.URL)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	t.Run("Locate", func(t *testing.T) {
		el, err := s.LocateVisible(ctx, ui.CSS("h1"))
		if err != nil {
			t.Fatalf("LocateVisible: %v", err)
		}
		text, err := el.Text(ctx)
		if err != nil || text != "Over 1,000 places in Rome" {
			t.Errorf("Text = %q, %v", text, err)
		}

		cards, err := s.LocateAll(ctx, ui.Selector{Kind: ui.KindXPath, Value: "//div[@class='card']"})
		if err != nil || len(cards) != 2 {
			t.Fatalf("LocateAll = %d, %v", len(cards), err)
		}
		child, err := cards[1].Child(ctx, ui.CSS("span"))
		if err != nil {
			t.Fatalf("Child: %v", err)
		}
		if text, _ := child.Text(ctx); text != "3 beds" {
			t.Errorf("child text = %q", text)
		}

		if _, err := s.LocateVisible(ctx, ui.CSS(".hidden")); !errors.Is(err, ui.ErrStillAbsent) {
			t.Errorf("hidden element: expected ErrStillAbsent, got %v", err)
		}
	})

	t.Run("Probe", func(t *testing.T) {
		p, _, err := s.Probe(ctx, ui.CSS(".translation-popup"))
		if err != nil || p != ui.Absent {
			t.Errorf("Probe = %s, %v", p, err)
		}
		p, _, err = s.Probe(ctx, ui.CSS("header"))
		if err != nil || p != ui.Present {
			t.Errorf("Probe = %s, %v", p, err)
		}
	})

	t.Run("Clickable", func(t *testing.T) {
		btn, err := s.LocateVisible(ctx, ui.CSS("button.off"))
		if err != nil {
			t.Fatalf("LocateVisible: %v", err)
		}
		if ok, err := btn.Clickable(ctx); err != nil || ok {
			t.Errorf("disabled button Clickable = %v, %v", ok, err)
		}
	})

	t.Run("Capture", func(t *testing.T) {
		el, err := s.LocateVisible(ctx, ui.CSS("header"))
		if err != nil {
			t.Fatalf("LocateVisible: %v", err)
		}
		raw, err := el.Capture(ctx)
		if err != nil {
			t.Fatalf("Capture: %v", err)
		}
		img, err := imaging.Decode(bytes.NewReader(raw))
		if err != nil {
			t.Fatalf("decode capture: %v", err)
		}
		if img.Bounds().Dx() == 0 {
			t.Error("empty capture")
		}
		if err := s.MoveAway(ctx, ui.CSS("header")); err != nil {
			t.Errorf("MoveAway: %v", err)
		}
	})

	t.Run("CapturePage", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "failures", "page.jpg")
		if err := s.CapturePage(ctx, path, 60); err != nil {
			t.Fatalf("CapturePage: %v", err)
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read capture: %v", err)
		}
		if _, err := imaging.Decode(bytes.NewReader(raw)); err != nil {
			t.Errorf("capture is not an image: %v", err)
		}
	})

	t.Run("DetailView", func(t *testing.T) {
		link, err := s.LocateVisible(ctx, ui.CSS(".card a"))
		if err != nil {
			t.Fatalf("LocateVisible: %v", err)
		}
		view, err := link.OpenInNewView(ctx)
		if err != nil {
			t.Fatalf("OpenInNewView: %v", err)
		}
		if err := s.SwitchToView(ctx, view); err != nil {
			t.Fatalf("SwitchToView: %v", err)
		}

		var guests ui.Element
		deadline := time.Now().Add(10 * time.Second)
		for guests == nil && time.Now().Before(deadline) {
			guests, _ = s.LocateVisible(ctx, ui.CSS(".guests"))
			time.Sleep(100 * time.Millisecond)
		}
		if guests == nil {
			t.Fatal("detail view never rendered")
		}

		if err := s.CloseView(ctx, view); err != nil {
			t.Errorf("CloseView: %v", err)
		}
		if err := s.SwitchToView(ctx, main); err != nil {
			t.Errorf("SwitchToView main: %v", err)
		}
		if s.CurrentView() != main {
			t.Errorf("current view = %s, want %s", s.CurrentView(), main)
		}
	})
}
