package renderloop

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// SurfaceID identifies a surface record for its whole lifetime.
type SurfaceID = ulid.ULID

// SyncStats describes one polish-and-sync on the driver thread.
type SyncStats struct {
	Surface  SurfaceID
	Seq      uint64
	InExpose bool
	Started  time.Time
	// Polish is the time spent in PolishItems.
	Polish time.Duration
	// Lock is the time between polish and posting the sync.
	Lock time.Duration
	// BlockedForSync is how long the driver waited on the worker.
	BlockedForSync time.Duration
	// Animations is the time spent advancing animations afterwards.
	Animations time.Duration
}

// FrameStats describes one pass through the worker's sync-and-render step.
type FrameStats struct {
	Surface SurfaceID
	Seq     uint64
	Started time.Time
	Synced  bool
	Expose  bool
	// Rendered is false when nothing changed and the render was aborted.
	Rendered bool
	// Skipped is set when a render was due but the window was not ready.
	Skipped bool
	Sync    time.Duration
	Render  time.Duration
	Total   time.Duration
}

// FrameObserver receives timing for syncs and frames. ObserveSync runs on
// the driver thread; ObserveFrame runs on the window's worker, so
// implementations shared between windows must be safe for concurrent use.
type FrameObserver interface {
	ObserveSync(stats SyncStats)
	ObserveFrame(stats FrameStats)
}
