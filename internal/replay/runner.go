package replay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kx0101/accesslog-replayer/internal/clock"
	"github.com/kx0101/accesslog-replayer/internal/logging"
	"github.com/kx0101/accesslog-replayer/internal/metrics"
	"github.com/kx0101/accesslog-replayer/internal/models"
)

var (
	// ErrAborted is returned by Run when the run was cancelled before every
	// entry was dispatched.
	ErrAborted = errors.New("replay aborted")

	ErrAlreadyStarted = errors.New("runner already started")
)

type State int32

const (
	StateIdle State = iota
	StateRunning
	StateCompleted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Anchor selects the instant offsets are measured from.
type Anchor int

const (
	// AnchorNow starts the timeline when Run is called.
	AnchorNow Anchor = iota
	// AnchorRecorded fires every entry at its recorded instant plus shift.
	AnchorRecorded
)

func ParseAnchor(s string) (Anchor, error) {
	switch s {
	case "", "now":
		return AnchorNow, nil
	case "recorded":
		return AnchorRecorded, nil
	default:
		return AnchorNow, fmt.Errorf("unknown anchor %q (want now or recorded)", s)
	}
}

type Option func(*Runner)

func WithClock(c clock.Clock) Option {
	return func(r *Runner) { r.clock = c }
}

// WithTieConcurrency lets up to n tied entries be in flight together.
// n <= 1 keeps one request in flight.
func WithTieConcurrency(n int) Option {
	return func(r *Runner) { r.tieConcurrency = n }
}

// WithTieWindow treats entries within w of a group's first offset as tied.
// Tied entries may overlap in flight, but each still waits for its own
// scheduled moment.
func WithTieWindow(w time.Duration) Option {
	return func(r *Runner) { r.tieWindow = w }
}

func WithAnchor(a Anchor) Option {
	return func(r *Runner) { r.anchor = a }
}

func WithRunID(id string) Option {
	return func(r *Runner) { r.runID = id }
}

type Result struct {
	RunID      string
	State      State
	Outcomes   []models.Outcome
	StartedAt  time.Time
	FinishedAt time.Time
}

// Status is a point-in-time view of a runner for observers.
type Status struct {
	RunID     string    `json:"run_id"`
	State     string    `json:"state"`
	Total     int       `json:"total"`
	Recorded  int       `json:"recorded"`
	StartedAt time.Time `json:"started_at,omitempty"`
}

// Runner replays one timeline. It is single use.
type Runner struct {
	dispatcher     Dispatcher
	clock          clock.Clock
	tieConcurrency int
	tieWindow      time.Duration
	anchor         Anchor
	runID          string
	stream         *Stream

	state atomic.Int32

	mu        sync.RWMutex
	total     int
	startedAt time.Time
}

func NewRunner(d Dispatcher, opts ...Option) *Runner {
	r := &Runner{
		dispatcher: d,
		clock:      clock.NewRealClock(),
		stream:     NewStream(),
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.runID == "" {
		r.runID = uuid.NewString()
	}

	return r
}

func (r *Runner) State() State {
	return State(r.state.Load())
}

func (r *Runner) RunID() string {
	return r.runID
}

// Stream exposes the read side of the outcome log.
func (r *Runner) Stream() *Stream {
	return r.stream
}

func (r *Runner) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return Status{
		RunID:     r.runID,
		State:     r.State().String(),
		Total:     r.total,
		Recorded:  r.stream.Len(),
		StartedAt: r.startedAt,
	}
}

// Run dispatches every timeline entry at its scheduled moment. Outcomes are
// indexed by timeline position. On cancellation the remaining entries are
// recorded as skipped and the returned error wraps ErrAborted, even when the
// cancelled request was the last one.
func (r *Runner) Run(ctx context.Context, tl *Timeline) (*Result, error) {
	if !r.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return nil, ErrAlreadyStarted
	}
	defer r.stream.close()

	if tl == nil {
		r.state.Store(int32(StateAborted))
		return nil, fmt.Errorf("%w: nil timeline", models.ErrEmptyOrInvalidInput)
	}

	startedAt := r.clock.Now()
	anchor := startedAt
	if r.anchor == AnchorRecorded && tl.Len() > 0 {
		anchor = tl.Origin()
	}

	r.mu.Lock()
	r.total = tl.Len()
	r.startedAt = startedAt
	r.mu.Unlock()

	metrics.PendingEntries.Set(float64(tl.Len()))
	defer metrics.PendingEntries.Set(0)

	logging.L.Info("replay started",
		zap.String("run_id", r.runID),
		zap.Int("entries", tl.Len()),
		zap.Duration("duration", tl.Duration()),
		zap.Duration("shift", tl.ShiftApplied()),
	)

	aborted := -1
	for _, g := range r.groups(tl) {
		moment := anchor.Add(tl.At(g.start).Offset)
		if err := r.waitUntil(ctx, moment); err != nil {
			aborted = g.start
			break
		}

		r.stream.append(r.dispatchGroup(ctx, tl, g, anchor)...)
		metrics.PendingEntries.Set(float64(tl.Len() - g.end))

		if ctx.Err() != nil {
			aborted = g.end
			break
		}
	}

	state := StateCompleted
	if aborted >= 0 {
		state = StateAborted
		r.skipFrom(tl, aborted, anchor)
	}

	res := &Result{
		RunID:      r.runID,
		State:      state,
		Outcomes:   r.stream.Snapshot(0),
		StartedAt:  startedAt,
		FinishedAt: r.clock.Now(),
	}

	r.state.Store(int32(state))
	metrics.RunsTotal.WithLabelValues(state.String()).Inc()

	if state == StateAborted {
		logging.L.Warn("replay aborted",
			zap.String("run_id", r.runID),
			zap.Int("dispatched", aborted),
			zap.Int("skipped", tl.Len()-aborted),
			zap.Error(context.Cause(ctx)),
		)
		return res, fmt.Errorf("%w: %v", ErrAborted, context.Cause(ctx))
	}

	logging.L.Info("replay completed",
		zap.String("run_id", r.runID),
		zap.Int("outcomes", len(res.Outcomes)),
		zap.Duration("elapsed", res.FinishedAt.Sub(startedAt)),
	)
	return res, nil
}

type group struct {
	start, end int
}

// groups splits the timeline into dispatch groups. Without tie concurrency
// every entry is its own group.
func (r *Runner) groups(tl *Timeline) []group {
	var out []group
	for i := 0; i < tl.Len(); {
		j := i + 1
		if r.tieConcurrency > 1 {
			first := tl.At(i).Offset
			for j < tl.Len() && tl.At(j).Offset-first <= r.tieWindow {
				j++
			}
		}

		out = append(out, group{start: i, end: j})
		i = j
	}

	return out
}

func (r *Runner) waitUntil(ctx context.Context, moment time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	wait := moment.Sub(r.clock.Now())
	if wait > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.clock.After(wait):
		}
	}

	return ctx.Err()
}

func (r *Runner) dispatchGroup(ctx context.Context, tl *Timeline, g group, anchor time.Time) []models.Outcome {
	if g.end-g.start == 1 {
		return []models.Outcome{r.dispatchOne(ctx, tl, g.start, anchor)}
	}

	outcomes := make([]models.Outcome, g.end-g.start)

	var eg errgroup.Group
	eg.SetLimit(r.tieConcurrency)
	for pos := g.start; pos < g.end; pos++ {
		eg.Go(func() error {
			if err := r.waitUntil(ctx, anchor.Add(tl.At(pos).Offset)); err != nil {
				outcomes[pos-g.start] = r.skipped(tl, pos, anchor)
				return nil
			}

			outcomes[pos-g.start] = r.dispatchOne(ctx, tl, pos, anchor)
			return nil
		})
	}
	_ = eg.Wait()

	return outcomes
}

func (r *Runner) dispatchOne(ctx context.Context, tl *Timeline, pos int, anchor time.Time) models.Outcome {
	s := tl.At(pos)
	scheduledAt := anchor.Add(s.Offset)
	dispatchedAt := r.clock.Now()

	metrics.InFlight.Inc()
	o := r.dispatcher.Dispatch(ctx, pos, s.Entry)
	metrics.InFlight.Dec()

	o.Index = pos
	o.ScheduledAt = scheduledAt
	o.DispatchedAt = dispatchedAt

	metrics.ObserveOutcome(s.Entry.Method, o)
	logging.L.Debug("entry replayed",
		zap.Int("index", pos),
		zap.String("method", s.Entry.Method),
		zap.Duration("offset", s.Offset),
		zap.Duration("lag", o.Lag()),
		zap.Stringer("outcome", o),
	)

	return o
}

func (r *Runner) skipFrom(tl *Timeline, from int, anchor time.Time) {
	skipped := make([]models.Outcome, 0, tl.Len()-from)
	for pos := from; pos < tl.Len(); pos++ {
		skipped = append(skipped, r.skipped(tl, pos, anchor))
	}

	r.stream.append(skipped...)
}

func (r *Runner) skipped(tl *Timeline, pos int, anchor time.Time) models.Outcome {
	o := models.Skipped(pos, models.SkipCancelled)
	o.ScheduledAt = anchor.Add(tl.At(pos).Offset)
	metrics.ObserveOutcome(tl.At(pos).Entry.Method, o)
	return o
}
