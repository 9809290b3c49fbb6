package sink

import (
	"context"
	"io"
	"os"
	"sync"
)

// StdoutSink writes one JSON document per line.
type StdoutSink struct {
	mu  sync.Mutex
	out io.Writer
}

func NewStdoutSink(out io.Writer) *StdoutSink {
	if out == nil {
		out = os.Stdout
	}

	return &StdoutSink{out: out}
}

func (s *StdoutSink) Name() string { return "stdout" }

func (s *StdoutSink) Write(_ context.Context, records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		if _, err := s.out.Write(append(r.Doc, '\n')); err != nil {
			return err
		}
	}

	return nil
}

func (s *StdoutSink) Close() error { return nil }
