package replay

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kx0101/accesslog-replayer/internal/clock"
	"github.com/kx0101/accesslog-replayer/internal/models"
)

func okDispatcher() Dispatcher {
	return DispatcherFunc(func(_ context.Context, index int, _ models.AccessEntry) models.Outcome {
		return models.Succeeded(index, http.StatusOK)
	})
}

func timelineAt(t *testing.T, offsets ...time.Duration) *Timeline {
	t.Helper()

	entries := make([]models.AccessEntry, len(offsets))
	for i, off := range offsets {
		entries[i] = entryAt(t, epoch.Add(off), "GET", "http://example.com/")
	}

	return BuildTimeline(entries, 0)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestRunner_EmptyTimeline(t *testing.T) {
	r := NewRunner(okDispatcher(), WithClock(clock.NewVirtualClock(epoch)))
	if r.State() != StateIdle {
		t.Fatalf("expected idle runner, got %s", r.State())
	}

	res, err := r.Run(context.Background(), BuildTimeline(nil, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.State != StateCompleted || r.State() != StateCompleted {
		t.Errorf("expected completed, got %s", res.State)
	}

	if len(res.Outcomes) != 0 {
		t.Errorf("expected no outcomes, got %d", len(res.Outcomes))
	}

	if !r.Stream().Closed() {
		t.Error("stream should be closed after the run")
	}
}

func TestRunner_Pacing(t *testing.T) {
	vc := clock.NewAutoClock(epoch)

	var mu sync.Mutex
	var seen []time.Time
	d := DispatcherFunc(func(_ context.Context, index int, _ models.AccessEntry) models.Outcome {
		mu.Lock()
		seen = append(seen, vc.Now())
		mu.Unlock()
		return models.Succeeded(index, http.StatusOK)
	})

	tl := timelineAt(t, 5*time.Second, 0, 2*time.Second)

	res, err := NewRunner(d, WithClock(vc)).Run(context.Background(), tl)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []time.Time{epoch, epoch.Add(2 * time.Second), epoch.Add(5 * time.Second)}
	if len(seen) != len(want) {
		t.Fatalf("expected %d dispatches, got %d", len(want), len(seen))
	}

	for i := range want {
		if !seen[i].Equal(want[i]) {
			t.Errorf("dispatch %d at %v, want %v", i, seen[i], want[i])
		}

		o := res.Outcomes[i]
		if o.Index != i || !o.DispatchedAt.Equal(want[i]) || o.Lag() != 0 {
			t.Errorf("outcome %d: unexpected %+v", i, o)
		}
	}
}

func TestRunner_SuspendsUntilScheduledMoment(t *testing.T) {
	vc := clock.NewVirtualClock(epoch)

	var calls atomic.Int32
	d := DispatcherFunc(func(_ context.Context, index int, _ models.AccessEntry) models.Outcome {
		calls.Add(1)
		return models.Succeeded(index, http.StatusOK)
	})

	r := NewRunner(d, WithClock(vc))
	done := make(chan *Result, 1)
	go func() {
		res, _ := r.Run(context.Background(), timelineAt(t, 0, 2*time.Second))
		done <- res
	}()

	waitFor(t, "first dispatch", func() bool { return calls.Load() == 1 })
	waitFor(t, "runner to suspend", func() bool { return vc.Pending() == 1 })

	if r.State() != StateRunning {
		t.Errorf("expected running, got %s", r.State())
	}

	vc.Advance(time.Second)
	if calls.Load() != 1 {
		t.Fatal("second entry dispatched before its moment")
	}

	vc.Advance(time.Second)

	select {
	case res := <-done:
		if res.State != StateCompleted || calls.Load() != 2 {
			t.Errorf("unexpected result %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not complete")
	}
}

func TestRunner_AlwaysTimeout(t *testing.T) {
	t.Run("fake dispatcher", func(t *testing.T) {
		d := DispatcherFunc(func(_ context.Context, index int, _ models.AccessEntry) models.Outcome {
			return models.Failed(index, models.ErrorTimeout, context.DeadlineExceeded)
		})

		res, err := NewRunner(d, WithClock(clock.NewAutoClock(epoch))).
			Run(context.Background(), timelineAt(t, 0, time.Second, 3*time.Second))
		if err != nil {
			t.Fatalf("per-entry failures must not fail the run: %v", err)
		}

		assertAllTimeouts(t, res)
	})

	t.Run("http target", func(t *testing.T) {
		release := make(chan struct{})
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-release:
			}
		}))
		defer server.Close()
		defer close(release)

		entries := make([]models.AccessEntry, 3)
		for i := range entries {
			entries[i] = entryAt(t, epoch, "GET", server.URL+"/slow")
		}

		d := NewHTTPDispatcher(Target{Timeout: 30 * time.Millisecond})
		res, err := NewRunner(d).Run(context.Background(), BuildTimeline(entries, 0))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		assertAllTimeouts(t, res)
	})
}

func assertAllTimeouts(t *testing.T, res *Result) {
	t.Helper()

	if res.State != StateCompleted {
		t.Fatalf("expected completed, got %s", res.State)
	}

	if len(res.Outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(res.Outcomes))
	}

	for i, o := range res.Outcomes {
		if !o.IsFailed() || o.Error != models.ErrorTimeout {
			t.Errorf("outcome %d: expected Failed(timeout), got %s", i, o)
		}
	}
}

func TestRunner_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := DispatcherFunc(func(_ context.Context, index int, _ models.AccessEntry) models.Outcome {
		if index == 0 {
			cancel()
		}
		return models.Succeeded(index, http.StatusAccepted)
	})

	r := NewRunner(d, WithClock(clock.NewAutoClock(epoch)))
	res, err := r.Run(ctx, timelineAt(t, 0, time.Second, 2*time.Second))

	if !errors.Is(err, ErrAborted) {
		t.Fatalf("expected ErrAborted, got %v", err)
	}

	if res.State != StateAborted || r.State() != StateAborted {
		t.Errorf("expected aborted, got %s", res.State)
	}

	if len(res.Outcomes) != 3 {
		t.Fatalf("expected one outcome per entry, got %d", len(res.Outcomes))
	}

	if o := res.Outcomes[0]; !o.IsSucceeded() || o.StatusCode != http.StatusAccepted {
		t.Errorf("first outcome should be recorded normally, got %s", o)
	}

	for i, o := range res.Outcomes[1:] {
		if !o.IsSkipped() || o.Reason != models.SkipCancelled || o.Index != i+1 {
			t.Errorf("outcome %d: expected Skipped(cancelled), got %s", i+1, o)
		}
	}
}

func TestRunner_CancelDuringFinalDispatch(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(50*time.Millisecond, cancel)

	entries := []models.AccessEntry{entryAt(t, epoch, "GET", server.URL+"/slow")}
	r := NewRunner(NewHTTPDispatcher(Target{Timeout: 5 * time.Second}), WithClock(clock.NewAutoClock(epoch)))

	res, err := r.Run(ctx, BuildTimeline(entries, 0))
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("expected ErrAborted, got %v", err)
	}

	if res.State != StateAborted || r.State() != StateAborted {
		t.Errorf("expected aborted, got %s", res.State)
	}

	if len(res.Outcomes) != 1 {
		t.Fatalf("expected one outcome, got %d", len(res.Outcomes))
	}

	if o := res.Outcomes[0]; !o.IsFailed() || o.Error != models.ErrorTimeout || !o.Sent {
		t.Errorf("expected sent Failed(timeout), got %s (%s)", o, o.Detail)
	}
}

func TestRunner_CancelWhileWaiting(t *testing.T) {
	vc := clock.NewVirtualClock(epoch)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := NewRunner(okDispatcher(), WithClock(vc))
	done := make(chan *Result, 1)
	go func() {
		res, _ := r.Run(ctx, timelineAt(t, 0, time.Hour))
		done <- res
	}()

	waitFor(t, "runner to suspend", func() bool { return vc.Pending() == 1 })
	cancel()

	select {
	case res := <-done:
		if res.State != StateAborted || !res.Outcomes[1].IsSkipped() {
			t.Errorf("unexpected result %+v", res.Outcomes)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancellation did not interrupt the wait")
	}
}

func TestRunner_FailuresDoNotStopTheRun(t *testing.T) {
	d := DispatcherFunc(func(_ context.Context, index int, _ models.AccessEntry) models.Outcome {
		if index%2 == 0 {
			return models.Failed(index, models.ErrorTransport, errors.New("connection refused"))
		}
		return models.Succeeded(index, http.StatusOK)
	})

	res, err := NewRunner(d, WithClock(clock.NewAutoClock(epoch))).
		Run(context.Background(), timelineAt(t, 0, 1, 2, 3, 4))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(res.Outcomes) != 5 || res.State != StateCompleted {
		t.Fatalf("expected 5 outcomes and completion, got %d %s", len(res.Outcomes), res.State)
	}

	for i, o := range res.Outcomes {
		if (i%2 == 0) != o.IsFailed() {
			t.Errorf("outcome %d: unexpected %s", i, o)
		}
	}
}

func TestRunner_TieConcurrency(t *testing.T) {
	const ties = 4

	var arrived atomic.Int32
	all := make(chan struct{})
	d := DispatcherFunc(func(_ context.Context, index int, _ models.AccessEntry) models.Outcome {
		if arrived.Add(1) == ties {
			close(all)
		}

		select {
		case <-all:
		case <-time.After(2 * time.Second):
			return models.Failed(index, models.ErrorTimeout, errors.New("ties were not dispatched together"))
		}

		return models.Succeeded(index, 200+index)
	})

	res, err := NewRunner(d, WithClock(clock.NewAutoClock(epoch)), WithTieConcurrency(ties)).
		Run(context.Background(), timelineAt(t, 0, 0, 0, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i, o := range res.Outcomes {
		if o.Index != i || o.StatusCode != 200+i {
			t.Errorf("outcome %d recorded out of order: %s (%s)", i, o, o.Detail)
		}
	}
}

func TestRunner_TieWindowGroups(t *testing.T) {
	r := NewRunner(okDispatcher(), WithTieConcurrency(2), WithTieWindow(10*time.Millisecond))
	tl := timelineAt(t, 0, 5*time.Millisecond, 10*time.Millisecond, 50*time.Millisecond)

	groups := r.groups(tl)
	if len(groups) != 2 || groups[0] != (group{0, 3}) || groups[1] != (group{3, 4}) {
		t.Errorf("unexpected groups %+v", groups)
	}

	sequential := NewRunner(okDispatcher()).groups(tl)
	if len(sequential) != 4 {
		t.Errorf("without tie concurrency every entry is its own group, got %+v", sequential)
	}
}

func TestRunner_TieWindowKeepsOwnMoments(t *testing.T) {
	vc := clock.NewVirtualClock(epoch)

	var mu sync.Mutex
	seen := make(map[int]time.Time)
	d := DispatcherFunc(func(_ context.Context, index int, _ models.AccessEntry) models.Outcome {
		mu.Lock()
		seen[index] = vc.Now()
		mu.Unlock()
		return models.Succeeded(index, http.StatusOK)
	})
	dispatched := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(seen)
	}

	offsets := []time.Duration{0, 5 * time.Millisecond, 10 * time.Millisecond}
	tl := timelineAt(t, offsets...)

	r := NewRunner(d, WithClock(vc), WithTieConcurrency(3), WithTieWindow(10*time.Millisecond))
	done := make(chan *Result, 1)
	go func() {
		res, _ := r.Run(context.Background(), tl)
		done <- res
	}()

	waitFor(t, "later ties to wait", func() bool { return vc.Pending() == 2 && dispatched() == 1 })

	vc.Advance(5 * time.Millisecond)
	waitFor(t, "second tie", func() bool { return dispatched() == 2 })

	vc.Advance(5 * time.Millisecond)

	select {
	case res := <-done:
		if res.State != StateCompleted {
			t.Fatalf("expected completed, got %s", res.State)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not finish")
	}

	for i, off := range offsets {
		if want := epoch.Add(off); !seen[i].Equal(want) {
			t.Errorf("entry %d dispatched at %v, want %v", i, seen[i], want)
		}
	}
}

func TestRunner_AnchorRecorded(t *testing.T) {
	vc := clock.NewAutoClock(epoch.Add(3 * time.Second))

	var mu sync.Mutex
	var seen []time.Time
	d := DispatcherFunc(func(_ context.Context, index int, _ models.AccessEntry) models.Outcome {
		mu.Lock()
		seen = append(seen, vc.Now())
		mu.Unlock()
		return models.Succeeded(index, http.StatusOK)
	})

	_, err := NewRunner(d, WithClock(vc), WithAnchor(AnchorRecorded)).
		Run(context.Background(), timelineAt(t, 0, 2*time.Second, 5*time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []time.Time{epoch.Add(3 * time.Second), epoch.Add(3 * time.Second), epoch.Add(5 * time.Second)}
	for i := range want {
		if !seen[i].Equal(want[i]) {
			t.Errorf("dispatch %d at %v, want %v", i, seen[i], want[i])
		}
	}
}

func TestRunner_SingleUse(t *testing.T) {
	r := NewRunner(okDispatcher(), WithClock(clock.NewAutoClock(epoch)))
	if _, err := r.Run(context.Background(), timelineAt(t, 0)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := r.Run(context.Background(), timelineAt(t, 0)); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("expected ErrAlreadyStarted, got %v", err)
	}
}

func TestParseAnchor(t *testing.T) {
	for in, want := range map[string]Anchor{"": AnchorNow, "now": AnchorNow, "recorded": AnchorRecorded} {
		got, err := ParseAnchor(in)
		if err != nil || got != want {
			t.Errorf("ParseAnchor(%q) = %v, %v", in, got, err)
		}
	}

	if _, err := ParseAnchor("tomorrow"); err == nil {
		t.Error("expected error for unknown anchor")
	}
}
