package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

const flushTimeout = 5 * time.Second

// NATSSink publishes each record document on a subject.
type NATSSink struct {
	conn    *nats.Conn
	subject string
}

func NewNATSSink(url, subject string) (*NATSSink, error) {
	conn, err := nats.Connect(url, nats.Name("replayer"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSSink{conn: conn, subject: subject}, nil
}

func (s *NATSSink) Name() string { return "nats" }

func (s *NATSSink) Write(ctx context.Context, records []Record) error {
	for _, r := range records {
		msg := nats.NewMsg(s.subject)
		msg.Header.Set("Nats-Msg-Id", r.ID)
		msg.Header.Set("Replayer-Run-Id", r.RunID)
		msg.Data = r.Doc

		if err := s.conn.PublishMsg(msg); err != nil {
			return fmt.Errorf("publish record %d: %w", r.Index, err)
		}
	}

	if _, ok := ctx.Deadline(); !ok {
		return s.conn.FlushTimeout(flushTimeout)
	}

	return s.conn.FlushWithContext(ctx)
}

func (s *NATSSink) Close() error {
	return s.conn.Drain()
}
