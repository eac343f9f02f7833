package capture

import (
	"context"
	"errors"
	"image/color"
	"testing"
	"time"
)

func TestIngestSource(t *testing.T) {
	ctx := context.Background()

	t.Run("empty source reports no frame", func(t *testing.T) {
		s := NewIngestSource()
		if _, err := s.Capture(ctx); !errors.Is(err, ErrNoFrame) {
			t.Fatalf("expected ErrNoFrame, got %v", err)
		}
	})

	t.Run("capture consumes the pushed frame", func(t *testing.T) {
		s := NewIngestSource()
		s.Push(&Frame{Image: solidImage(8, 8, color.White), AppName: "Terminal"}, 0)

		f, err := s.Capture(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if f.AppName != "Terminal" {
			t.Fatalf("expected Terminal, got %q", f.AppName)
		}

		if _, err := s.Capture(ctx); !errors.Is(err, ErrNoFrame) {
			t.Fatal("expected ErrNoFrame after consuming the frame")
		}
	})

	t.Run("newer push replaces unconsumed frame", func(t *testing.T) {
		s := NewIngestSource()
		s.Push(&Frame{Image: solidImage(8, 8, color.White), AppName: "old"}, 0)
		s.Push(&Frame{Image: solidImage(8, 8, color.White), AppName: "new"}, 0)

		f, err := s.Capture(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if f.AppName != "new" {
			t.Fatalf("expected the newer frame, got %q", f.AppName)
		}
	})

	t.Run("idle extends the grabber's reading", func(t *testing.T) {
		s := NewIngestSource()
		if s.IdleDuration() != 0 {
			t.Fatal("expected zero idle before any push")
		}
		s.Push(&Frame{Image: solidImage(8, 8, color.White)}, 10*time.Second)
		if d := s.IdleDuration(); d < 10*time.Second {
			t.Fatalf("expected at least the reported idle, got %v", d)
		}
	})
}
