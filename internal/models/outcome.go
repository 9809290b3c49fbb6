package models

import (
	"fmt"
	"time"
)

type OutcomeKind int

const (
	KindSucceeded OutcomeKind = iota + 1
	KindFailed
	KindSkipped
)

func (k OutcomeKind) String() string {
	switch k {
	case KindSucceeded:
		return "succeeded"
	case KindFailed:
		return "failed"
	case KindSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

func (k OutcomeKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *OutcomeKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "succeeded":
		*k = KindSucceeded
	case "failed":
		*k = KindFailed
	case "skipped":
		*k = KindSkipped
	default:
		return fmt.Errorf("unknown outcome kind %q", text)
	}

	return nil
}

// ErrorKind classifies a failed dispatch.
type ErrorKind string

const (
	ErrorTimeout   ErrorKind = "timeout"
	ErrorTransport ErrorKind = "transport_error"
)

type SkipReason string

const (
	SkipCancelled SkipReason = "cancelled"
)

// Outcome is the result of replaying one entry. Exactly one of StatusCode,
// Error or Reason is meaningful, selected by Kind.
type Outcome struct {
	Index        int           `json:"index"`
	Kind         OutcomeKind   `json:"kind"`
	StatusCode   int           `json:"status_code,omitempty"`
	Error        ErrorKind     `json:"error,omitempty"`
	Detail       string        `json:"detail,omitempty"`
	Reason       SkipReason    `json:"reason,omitempty"`
	ScheduledAt  time.Time     `json:"scheduled_at"`
	DispatchedAt time.Time     `json:"dispatched_at"`
	Sent         bool          `json:"sent"`
	Latency      time.Duration `json:"latency_ns,omitempty"`
}

func Succeeded(index, statusCode int) Outcome {
	return Outcome{Index: index, Kind: KindSucceeded, StatusCode: statusCode, Sent: true}
}

func Failed(index int, kind ErrorKind, err error) Outcome {
	o := Outcome{Index: index, Kind: KindFailed, Error: kind}
	if err != nil {
		o.Detail = err.Error()
	}

	return o
}

func Skipped(index int, reason SkipReason) Outcome {
	return Outcome{Index: index, Kind: KindSkipped, Reason: reason}
}

func (o Outcome) IsSucceeded() bool { return o.Kind == KindSucceeded }
func (o Outcome) IsFailed() bool    { return o.Kind == KindFailed }
func (o Outcome) IsSkipped() bool   { return o.Kind == KindSkipped }

// LatencyMs reports the round trip in milliseconds, or -1 when nothing was sent.
func (o Outcome) LatencyMs() int64 {
	if !o.Sent {
		return -1
	}

	return o.Latency.Milliseconds()
}

// Lag is how late the dispatch happened relative to its scheduled moment.
func (o Outcome) Lag() time.Duration {
	if o.DispatchedAt.IsZero() || o.ScheduledAt.IsZero() {
		return 0
	}

	lag := o.DispatchedAt.Sub(o.ScheduledAt)
	if lag < 0 {
		return 0
	}

	return lag
}

// StatusClass returns "2xx".."5xx" for succeeded outcomes and the error kind
// or skip reason otherwise.
func (o Outcome) StatusClass() string {
	switch o.Kind {
	case KindSucceeded:
		return fmt.Sprintf("%dxx", o.StatusCode/100)
	case KindFailed:
		return string(o.Error)
	case KindSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

func (o Outcome) String() string {
	switch o.Kind {
	case KindSucceeded:
		return fmt.Sprintf("Succeeded(%d)", o.StatusCode)
	case KindFailed:
		return fmt.Sprintf("Failed(%s)", o.Error)
	case KindSkipped:
		return fmt.Sprintf("Skipped(%s)", o.Reason)
	default:
		return "Unknown"
	}
}
