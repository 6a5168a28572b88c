package renderloop

import (
	"errors"
	"os"
)

var (
	// ErrFallbackSurface wraps the platform error returned when no offscreen
	// target could be created for a window whose native surface is gone.
	ErrFallbackSurface = errors.New("renderloop: cannot create fallback surface")
	// ErrUnknownWindow is returned for windows the loop is not tracking.
	ErrUnknownWindow = errors.New("renderloop: unknown window")
	// ErrNoPlatform is returned when a fallback surface is needed but the
	// loop was configured without a Platform.
	ErrNoPlatform = errors.New("renderloop: no platform configured")
)

// Fatal terminates the process when a window's worker cannot be started,
// since no frame could ever be produced for it. Tests replace it.
var Fatal = func(msg string, err error) {
	Logger().Error(msg, "err", err)
	os.Exit(1)
}
