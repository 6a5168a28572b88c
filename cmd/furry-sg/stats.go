package main

import (
	"encoding/json"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/alecthomas/chroma/v2/quick"

	"github.com/odvcencio/furry-sg/renderloop"
)

type surfaceStats struct {
	Surface   string        `json:"surface"`
	Title     string        `json:"title,omitempty"`
	Syncs     int           `json:"syncs"`
	Frames    int           `json:"frames"`
	Rendered  int           `json:"rendered"`
	Skipped   int           `json:"skipped"`
	Blocked   time.Duration `json:"blocked_for_sync_ns"`
	Render    time.Duration `json:"render_ns"`
	MaxRender time.Duration `json:"max_render_ns"`
}

// statsRecorder aggregates frame timing per surface.
type statsRecorder struct {
	mu       sync.Mutex
	surfaces map[renderloop.SurfaceID]*surfaceStats
	titles   map[renderloop.SurfaceID]string
}

func newStatsRecorder() *statsRecorder {
	return &statsRecorder{
		surfaces: make(map[renderloop.SurfaceID]*surfaceStats),
		titles:   make(map[renderloop.SurfaceID]string),
	}
}

func (r *statsRecorder) entry(id renderloop.SurfaceID) *surfaceStats {
	s, ok := r.surfaces[id]
	if !ok {
		s = &surfaceStats{Surface: id.String()}
		r.surfaces[id] = s
	}
	return s
}

// Name labels a surface in the report.
func (r *statsRecorder) Name(id renderloop.SurfaceID, title string) {
	r.mu.Lock()
	r.titles[id] = title
	r.mu.Unlock()
}

func (r *statsRecorder) ObserveSync(stats renderloop.SyncStats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.entry(stats.Surface)
	s.Syncs++
	s.Blocked += stats.BlockedForSync
}

func (r *statsRecorder) ObserveFrame(stats renderloop.FrameStats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.entry(stats.Surface)
	s.Frames++
	if stats.Rendered {
		s.Rendered++
		s.Render += stats.Render
		s.MaxRender = max(s.MaxRender, stats.Render)
	}
	if stats.Skipped {
		s.Skipped++
	}
}

// Snapshot returns the stats ordered by surface creation.
func (r *statsRecorder) Snapshot() []surfaceStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]surfaceStats, 0, len(r.surfaces))
	for id, s := range r.surfaces {
		entry := *s
		entry.Title = r.titles[id]
		out = append(out, entry)
	}
	// ULIDs sort by creation time.
	sort.Slice(out, func(i, j int) bool { return out[i].Surface < out[j].Surface })
	return out
}

// WriteJSON writes the report, highlighted when color is set.
func (r *statsRecorder) WriteJSON(w io.Writer, color bool) error {
	raw, err := json.MarshalIndent(r.Snapshot(), "", "  ")
	if err != nil {
		return err
	}
	if !color {
		_, err = w.Write(append(raw, '\n'))
		return err
	}
	if err := quick.Highlight(w, string(raw), "json", "terminal256", "monokai"); err != nil {
		return err
	}
	_, err = io.WriteString(w, "\n")
	return err
}

var _ renderloop.FrameObserver = (*statsRecorder)(nil)
