package replay

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/kx0101/accesslog-replayer/internal/models"
)

func TestStream_SnapshotIsACopy(t *testing.T) {
	s := NewStream()
	s.append(models.Succeeded(0, 200), models.Succeeded(1, 201))

	snap := s.Snapshot(0)
	snap[0].StatusCode = 500

	if got := s.Snapshot(0)[0].StatusCode; got != 200 {
		t.Errorf("snapshot aliased the stream, got %d", got)
	}

	if got := s.Snapshot(1); len(got) != 1 || got[0].StatusCode != 201 {
		t.Errorf("unexpected tail %+v", got)
	}

	if got := s.Snapshot(5); got != nil {
		t.Errorf("expected nil past the end, got %+v", got)
	}
}

func TestStream_Next(t *testing.T) {
	s := NewStream()

	got := make(chan []models.Outcome, 1)
	go func() {
		out, err := s.Next(context.Background(), 0)
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		got <- out
	}()

	select {
	case <-got:
		t.Fatal("Next returned before anything was appended")
	case <-time.After(20 * time.Millisecond):
	}

	s.append(models.Succeeded(0, 204))

	select {
	case out := <-got:
		if len(out) != 1 || out[0].StatusCode != 204 {
			t.Errorf("unexpected outcomes %+v", out)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not wake up after append")
	}

	s.close()
	if _, err := s.Next(context.Background(), 1); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF after close, got %v", err)
	}

	if out, err := s.Next(context.Background(), 0); err != nil || len(out) != 1 {
		t.Errorf("closed stream should still serve unread outcomes, got %v %v", out, err)
	}

	s.append(models.Succeeded(1, 200))
	if s.Len() != 1 {
		t.Errorf("append after close should be ignored, len %d", s.Len())
	}
}

func TestStream_NextContext(t *testing.T) {
	s := NewStream()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := s.Next(ctx, 0); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}
