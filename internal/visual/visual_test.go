package visual

import (
	"context"
	"errors"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"staycheck/internal/correlation"
	"staycheck/internal/ui"
	"staycheck/internal/ui/uitest"
	"staycheck/internal/waitfor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T, png []byte, label string) *Snapshot {
	t.Helper()
	store, err := NewStore("")
	require.NoError(t, err)
	snap, err := store.Capture(context.Background(), &uitest.Element{CaptureFn: func() ([]byte, error) { return png, nil }}, label)
	require.NoError(t, err)
	return snap
}

func TestDifferIsReflexiveFalse(t *testing.T) {
	s := capture(t, uitest.SolidPNG(8, 6, color.RGBA{R: 255, A: 255}), "s")
	differ, err := Differ(s, s)
	require.NoError(t, err)
	assert.False(t, differ)
}

func TestDifferDetectsSinglePixel(t *testing.T) {
	base := uitest.SolidPNG(16, 16, color.White)
	oneOff := uitest.PNG(16, 16, func(x, y int) color.Color {
		if x == 15 && y == 15 {
			return color.RGBA{R: 254, G: 255, B: 255, A: 255}
		}
		return color.White
	})

	differ, err := Differ(capture(t, base, "a"), capture(t, oneOff, "b"))
	require.NoError(t, err)
	assert.True(t, differ)

	differ, err = Differ(capture(t, base, "a"), capture(t, base, "b"))
	require.NoError(t, err)
	assert.False(t, differ)
}

func TestDifferDimensionMismatch(t *testing.T) {
	_, err := Differ(capture(t, uitest.SolidPNG(4, 4, color.White), "a"), capture(t, uitest.SolidPNG(4, 5, color.White), "b"))
	var dm *DimensionMismatchError
	require.True(t, errors.As(err, &dm))
	assert.Equal(t, 4, dm.Before.Y)
	assert.Equal(t, 5, dm.After.Y)
}

func TestCaptureErrors(t *testing.T) {
	store, err := NewStore("")
	require.NoError(t, err)

	_, err = store.Capture(context.Background(), &uitest.Element{CaptureFn: func() ([]byte, error) { return []byte("not a png"), nil }}, "garbage")
	var ce *CaptureError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "garbage", ce.Label)

	_, err = store.Capture(context.Background(), &uitest.Element{Err: ui.ErrStale}, "stale")
	require.True(t, errors.As(err, &ce))
	assert.True(t, errors.Is(err, ui.ErrStale))
}

func TestStorePersistsAndOverwrites(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "artifacts")
	store, err := NewStore(dir)
	require.NoError(t, err)

	el := &uitest.Element{CaptureFn: func() ([]byte, error) { return uitest.SolidPNG(3, 2, color.Black), nil }}
	first, err := store.Capture(context.Background(), el, "pin")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "pin.png"), first.Path)

	el.CaptureFn = func() ([]byte, error) { return uitest.SolidPNG(5, 5, color.Black), nil }
	_, err = store.Capture(context.Background(), el, "pin")
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func hoverFixture(t *testing.T, recolor bool) (*uitest.Browser, *uitest.Element, Locator) {
	t.Helper()
	listing := &uitest.Element{Name: "listing"}
	var b *uitest.Browser
	pin := &uitest.Element{Name: "pin", CaptureFn: func() ([]byte, error) {
		if recolor && b.IsHovered(listing) {
			return uitest.SolidPNG(6, 6, color.RGBA{A: 255}), nil
		}
		return uitest.SolidPNG(6, 6, color.White), nil
	}}
	b = uitest.NewBrowser(uitest.NewView("main").Add(".card", listing).Add(".pin", pin).Add("header", &uitest.Element{}))
	locate := func(ctx context.Context) (ui.Element, error) { return b.LocateVisible(ctx, ui.CSS(".pin")) }
	return b, listing, locate
}

func newProbe(t *testing.T) *HoverProbe {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	return &HoverProbe{
		Waiter: waitfor.New(time.Second, 5*time.Millisecond, nil),
		Store:  store,
		Settle: 80 * time.Millisecond,
	}
}

func TestHoverProbeDetectsRecolor(t *testing.T) {
	b, listing, locate := hoverFixture(t, true)
	b.Hovered = listing

	res, err := newProbe(t).Run(context.Background(), b, ui.CSS("header"), listing, locate)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, 1, listing.Hovers)
	assert.FileExists(t, res.Before.Path)
	assert.FileExists(t, res.After.Path)
	assert.Equal(t, BeforeHoverLabel+".png", filepath.Base(res.Before.Path))
	assert.Equal(t, AfterHoverLabel+".png", filepath.Base(res.After.Path))
}

func TestHoverProbeReportsUnchanged(t *testing.T) {
	b, listing, locate := hoverFixture(t, false)

	res, err := newProbe(t).Run(context.Background(), b, ui.CSS("header"), listing, locate)
	require.NoError(t, err)
	assert.False(t, res.Changed)
	differ, err := Differ(res.Before, res.After)
	require.NoError(t, err)
	assert.False(t, differ)
}

func TestHoverProbeFailsWithoutRegion(t *testing.T) {
	b, listing, _ := hoverFixture(t, true)
	missing := func(ctx context.Context) (ui.Element, error) { return b.LocateVisible(ctx, ui.CSS(".nope")) }

	_, err := newProbe(t).Run(context.Background(), b, ui.CSS("header"), listing, missing)
	assert.True(t, errors.Is(err, waitfor.ErrTimeout))
}

func TestHoverProbeTimeoutKeepsLocatorError(t *testing.T) {
	b, listing, _ := hoverFixture(t, true)
	key := correlation.Key{Title: "Cozy Loft", Price: "1,234"}
	unmatched := func(ctx context.Context) (ui.Element, error) {
		return nil, &correlation.NotFoundError{Key: key, Searched: 3}
	}

	_, err := newProbe(t).Run(context.Background(), b, ui.CSS("header"), listing, unmatched)
	var te *waitfor.TimeoutError
	require.True(t, errors.As(err, &te))
	require.Error(t, te.LastErr)
	assert.True(t, errors.Is(te.LastErr, ui.ErrStillAbsent))
	var nf *correlation.NotFoundError
	require.True(t, errors.As(te.LastErr, &nf))
	assert.Equal(t, key, nf.Key)
	assert.Contains(t, err.Error(), "Cozy Loft")
}
