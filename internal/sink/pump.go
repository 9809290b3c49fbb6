package sink

import (
	"context"
	"errors"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/kx0101/accesslog-replayer/internal/logging"
	"github.com/kx0101/accesslog-replayer/internal/metrics"
	"github.com/kx0101/accesslog-replayer/internal/models"
	"github.com/kx0101/accesslog-replayer/internal/replay"
)

// Pump follows a run's outcome stream and forwards every batch to its sinks.
// A failing sink is logged and counted; it never stops the others.
type Pump struct {
	runID   string
	entries []models.AccessEntry
	redact  []string
	sinks   []Sink
	now     func() time.Time
	written int
}

// NewPump builds a pump for one run. entries must be in timeline order, the
// same order outcome indexes refer to.
func NewPump(runID string, entries []models.AccessEntry, redact []string, sinks ...Sink) *Pump {
	return &Pump{
		runID:   runID,
		entries: entries,
		redact:  redact,
		sinks:   sinks,
		now:     time.Now,
	}
}

// Run blocks until the stream is closed and drained, or ctx is done.
func (p *Pump) Run(ctx context.Context, stream *replay.Stream) error {
	cursor := 0
	for {
		batch, err := stream.Next(ctx, cursor)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		cursor += len(batch)
		p.forward(ctx, p.records(batch))
	}
}

// Written reports how many records were encoded and handed to the sinks.
func (p *Pump) Written() int {
	return p.written
}

func (p *Pump) records(batch []models.Outcome) []Record {
	records := make([]Record, 0, len(batch))
	for _, o := range batch {
		if o.Index < 0 || o.Index >= len(p.entries) {
			logging.L.Warn("outcome without entry", zap.Int("index", o.Index))
			continue
		}

		r := NewRecord(p.runID, p.entries[o.Index], o, p.now())
		doc, err := Encode(r, p.redact)
		if err != nil {
			logging.L.Warn("cannot encode record", zap.Int("index", o.Index), zap.Error(err))
			continue
		}

		r.Doc = doc
		records = append(records, r)
	}

	p.written += len(records)
	return records
}

func (p *Pump) forward(ctx context.Context, records []Record) {
	if len(records) == 0 {
		return
	}

	for _, s := range p.sinks {
		if err := s.Write(ctx, records); err != nil {
			metrics.SinkErrors.WithLabelValues(s.Name()).Add(float64(len(records)))
			logging.L.Error("sink write failed",
				zap.String("sink", s.Name()),
				zap.Int("records", len(records)),
				zap.Error(err),
			)
		}
	}
}

// CloseAll closes every sink and joins their errors.
func CloseAll(sinks []Sink) error {
	var errs []error
	for _, s := range sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
