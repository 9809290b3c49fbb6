package replay

import (
	"context"
	"io"
	"sync"

	"github.com/kx0101/accesslog-replayer/internal/models"
)

// Stream is the append-only outcome log of a run. Only the runner appends;
// readers receive copies and never block the writer.
type Stream struct {
	mu      sync.RWMutex
	items   []models.Outcome
	changed chan struct{}
	closed  bool
}

func NewStream() *Stream {
	return &Stream{changed: make(chan struct{})}
}

func (s *Stream) append(outcomes ...models.Outcome) {
	if len(outcomes) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	s.items = append(s.items, outcomes...)
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *Stream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	s.closed = true
	close(s.changed)
}

func (s *Stream) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Closed reports whether the run that owns the stream has finished.
func (s *Stream) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Snapshot copies the outcomes from position from onwards.
func (s *Stream) Snapshot(from int) []models.Outcome {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyFrom(from)
}

// Next blocks until outcomes past cursor exist and returns them. It returns
// io.EOF once the stream is closed and fully read, or the context error.
func (s *Stream) Next(ctx context.Context, cursor int) ([]models.Outcome, error) {
	for {
		s.mu.RLock()
		if cursor < len(s.items) {
			out := s.copyFrom(cursor)
			s.mu.RUnlock()
			return out, nil
		}

		if s.closed {
			s.mu.RUnlock()
			return nil, io.EOF
		}

		changed := s.changed
		s.mu.RUnlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-changed:
		}
	}
}

// copyFrom must be called with s.mu held.
func (s *Stream) copyFrom(from int) []models.Outcome {
	if from < 0 {
		from = 0
	}

	if from >= len(s.items) {
		return nil
	}

	out := make([]models.Outcome, len(s.items)-from)
	copy(out, s.items[from:])
	return out
}
