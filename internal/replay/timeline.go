package replay

import (
	"fmt"
	"sort"
	"time"

	"github.com/kx0101/accesslog-replayer/internal/models"
)

// Scheduled is one timeline slot. Index points back into the slice the
// timeline was built from.
type Scheduled struct {
	Index  int
	Entry  models.AccessEntry
	Offset time.Duration
}

// Timeline is the ordered, immutable playback plan of a run.
type Timeline struct {
	items  []Scheduled
	origin time.Time
	shift  time.Duration
}

// BuildTimeline stable-sorts entries by AccessedAt and anchors them at the
// earliest one. shift is added to every offset.
func BuildTimeline(entries []models.AccessEntry, shift time.Duration) *Timeline {
	items := make([]Scheduled, len(entries))
	for i, e := range entries {
		items[i] = Scheduled{Index: i, Entry: e}
	}

	sort.SliceStable(items, func(a, b int) bool {
		return items[a].Entry.AccessedAt.Before(items[b].Entry.AccessedAt)
	})

	tl := &Timeline{items: items, shift: shift}
	if len(items) == 0 {
		return tl
	}

	tl.origin = items[0].Entry.AccessedAt
	for i := range items {
		items[i].Offset = items[i].Entry.AccessedAt.Sub(tl.origin) + shift
	}

	return tl
}

// BuildTimelineFromRaw validates every raw record before building. Any
// record that fails construction rejects the whole input.
func BuildTimelineFromRaw(raws []models.RawEntry, shift time.Duration) (*Timeline, error) {
	entries := make([]models.AccessEntry, 0, len(raws))
	for i, raw := range raws {
		e, err := models.NewAccessEntry(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", models.ErrEmptyOrInvalidInput, i, err)
		}
		entries = append(entries, e)
	}

	return BuildTimeline(entries, shift), nil
}

func (t *Timeline) Len() int {
	return len(t.items)
}

func (t *Timeline) At(i int) Scheduled {
	return t.items[i]
}

// Items returns a copy of the slots in playback order.
func (t *Timeline) Items() []Scheduled {
	out := make([]Scheduled, len(t.items))
	copy(out, t.items)
	return out
}

// Origin is the AccessedAt of the earliest entry, zero for an empty timeline.
func (t *Timeline) Origin() time.Time {
	return t.origin
}

// ShiftApplied is the total shift carried by the offsets.
func (t *Timeline) ShiftApplied() time.Duration {
	return t.shift
}

// Duration is the offset of the last slot, zero for an empty timeline.
func (t *Timeline) Duration() time.Duration {
	if len(t.items) == 0 {
		return 0
	}

	return t.items[len(t.items)-1].Offset
}

// Shift returns a new timeline with d added to every offset.
func (t *Timeline) Shift(d time.Duration) *Timeline {
	items := make([]Scheduled, len(t.items))
	for i, it := range t.items {
		it.Offset += d
		items[i] = it
	}

	return &Timeline{items: items, origin: t.origin, shift: t.shift + d}
}

// Entries returns the entries in playback order.
func (t *Timeline) Entries() []models.AccessEntry {
	out := make([]models.AccessEntry, len(t.items))
	for i, it := range t.items {
		out[i] = it.Entry
	}

	return out
}
