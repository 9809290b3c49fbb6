package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/tidwall/sjson"

	"github.com/kx0101/accesslog-replayer/internal/models"
)

// Sink stores outcome records somewhere outside the process.
type Sink interface {
	Name() string
	Write(ctx context.Context, records []Record) error
	Close() error
}

// Record is one replayed entry together with its outcome, in the shape sinks
// persist it.
type Record struct {
	ID         string            `json:"id"`
	RunID      string            `json:"run_id"`
	Index      int               `json:"index"`
	Method     string            `json:"method"`
	URL        string            `json:"url"`
	Headers    map[string]string `json:"headers,omitempty"`
	Outcome    models.Outcome    `json:"outcome"`
	LatencyMs  int64             `json:"latency_ms"`
	LagMs      int64             `json:"lag_ms"`
	RecordedAt time.Time         `json:"recorded_at"`

	// Doc is the encoded record after redaction.
	Doc []byte `json:"-"`
}

// NewRecord pairs an outcome with the entry it belongs to. IDs are ULIDs so
// records sort by creation time in every backend.
func NewRecord(runID string, entry models.AccessEntry, o models.Outcome, now time.Time) Record {
	headers := make(map[string]string, len(entry.Headers))
	for k, v := range entry.Headers {
		headers[k] = v
	}

	return Record{
		ID:         ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		RunID:      runID,
		Index:      o.Index,
		Method:     entry.Method,
		URL:        entry.URL.String(),
		Headers:    headers,
		Outcome:    o,
		LatencyMs:  o.LatencyMs(),
		LagMs:      o.Lag().Milliseconds(),
		RecordedAt: now.UTC(),
	}
}

// Encode marshals r and deletes every redact path (sjson syntax, e.g.
// "headers.Authorization") from the result.
func Encode(r Record, redact []string) ([]byte, error) {
	doc, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal record %s: %w", r.ID, err)
	}

	for _, path := range redact {
		doc, err = sjson.DeleteBytes(doc, path)
		if err != nil {
			return nil, fmt.Errorf("redact %q: %w", path, err)
		}
	}

	return doc, nil
}
