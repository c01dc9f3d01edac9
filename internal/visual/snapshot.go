// Package visual captures element rasters and compares them pixel for pixel.
package visual

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"time"

	"staycheck/internal/ui"

	"github.com/disintegration/imaging"
)

// Snapshot is one element raster at one instant. It is never modified after capture.
type Snapshot struct {
	Label      string
	Path       string
	Image      *image.NRGBA
	CapturedAt time.Time
}

// Size returns the raster dimensions.
func (s *Snapshot) Size() image.Point {
	return s.Image.Bounds().Size()
}

// CaptureError reports that an element could not be rendered or decoded.
type CaptureError struct {
	Label string
	Err   error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture %q: %v", e.Label, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

// Store persists snapshots as <label>.png under a directory. Each capture overwrites the
// previous artifact with the same label. An empty directory disables persistence.
type Store struct {
	dir string
	now func() time.Time
}

// NewStore creates dir if needed.
func NewStore(dir string) (*Store, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create artifact dir: %w", err)
		}
	}
	return &Store{dir: dir, now: time.Now}, nil
}

// Dir returns the artifact directory.
func (s *Store) Dir() string { return s.dir }

// Capture renders el, decodes the raster and persists it under label.
func (s *Store) Capture(ctx context.Context, el ui.Element, label string) (*Snapshot, error) {
	snap, err := s.grab(ctx, el, label)
	if err != nil {
		return nil, err
	}
	if err := s.persist(snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// grab captures without touching disk; used while polling for a stable raster.
func (s *Store) grab(ctx context.Context, el ui.Element, label string) (*Snapshot, error) {
	raw, err := el.Capture(ctx)
	if err != nil {
		return nil, &CaptureError{Label: label, Err: err}
	}
	img, err := imaging.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, &CaptureError{Label: label, Err: fmt.Errorf("decode: %w", err)}
	}
	return &Snapshot{Label: label, Image: imaging.Clone(img), CapturedAt: s.now()}, nil
}

func (s *Store) persist(snap *Snapshot) error {
	if s.dir == "" {
		return nil
	}
	path := filepath.Join(s.dir, snap.Label+".png")
	if err := imaging.Save(snap.Image, path); err != nil {
		return &CaptureError{Label: snap.Label, Err: fmt.Errorf("save: %w", err)}
	}
	snap.Path = path
	return nil
}

// DimensionMismatchError reports two rasters that cannot come from the same region.
type DimensionMismatchError struct {
	Before image.Point
	After  image.Point
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("snapshot dimensions differ: %dx%d vs %dx%d", e.Before.X, e.Before.Y, e.After.X, e.After.Y)
}

// Differ reports whether any single pixel differs between before and after.
func Differ(before, after *Snapshot) (bool, error) {
	if before == nil || after == nil || before.Image == nil || after.Image == nil {
		return false, fmt.Errorf("differ: missing snapshot")
	}
	a, b := before.Image, after.Image
	if a.Bounds().Size() != b.Bounds().Size() {
		return false, &DimensionMismatchError{Before: a.Bounds().Size(), After: b.Bounds().Size()}
	}

	size := a.Bounds().Size()
	rowLen := size.X * 4
	for y := 0; y < size.Y; y++ {
		ra := a.Pix[y*a.Stride : y*a.Stride+rowLen]
		rb := b.Pix[y*b.Stride : y*b.Stride+rowLen]
		if !bytes.Equal(ra, rb) {
			return true, nil
		}
	}
	return false, nil
}
