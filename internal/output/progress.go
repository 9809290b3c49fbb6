package output

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/kx0101/accesslog-replayer/internal/replay"
)

type ProgressBar struct {
	out       io.Writer
	total     int
	current   int
	failed    int
	startTime time.Time
	mu        sync.Mutex
	width     int
}

func NewProgressBar(out io.Writer, total int) *ProgressBar {
	pb := &ProgressBar{
		out:       out,
		total:     total,
		startTime: time.Now(),
		width:     50,
	}

	pb.render()
	return pb
}

func (pb *ProgressBar) Add(n, failed int) {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	pb.current += n
	pb.failed += failed
	pb.render()
}

func (pb *ProgressBar) Finish() {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	pb.render()
	fmt.Fprintln(pb.out)
}

// Follow advances the bar as outcomes land on the stream and returns once
// the stream is closed or ctx is done.
func (pb *ProgressBar) Follow(ctx context.Context, stream *replay.Stream) {
	cursor := 0
	for {
		batch, err := stream.Next(ctx, cursor)
		if err != nil {
			pb.Finish()
			return
		}

		failed := 0
		for _, o := range batch {
			if !o.IsSucceeded() {
				failed++
			}
		}

		cursor += len(batch)
		pb.Add(len(batch), failed)
	}
}

func (pb *ProgressBar) render() {
	if pb.total == 0 {
		return
	}

	current := pb.current
	if current > pb.total {
		current = pb.total
	}

	percent := float64(current) / float64(pb.total)
	filled := int(percent * float64(pb.width))

	bar := strings.Repeat("█", filled) + strings.Repeat("░", pb.width-filled)

	elapsed := time.Since(pb.startTime)
	var eta time.Duration
	if current > 0 {
		rate := float64(current) / elapsed.Seconds()
		remaining := pb.total - current

		eta = time.Duration(float64(remaining)/rate) * time.Second
	}

	fmt.Fprintf(pb.out, "\r[%s] %d/%d (%.1f%%) | Failed: %d | Elapsed: %s | ETA: %s  ",
		bar,
		current,
		pb.total,
		percent*100,
		pb.failed,
		formatDuration(elapsed),
		formatDuration(eta),
	)
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return "0s"
	}

	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}

	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}

	return fmt.Sprintf("%ds", s)
}
