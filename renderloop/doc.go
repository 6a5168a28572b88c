// Package renderloop coordinates a driver thread with one render worker per
// window.
//
// The driver owns every window and all declarative scene state. Each exposed
// window gets a long-lived Worker goroutine, locked to its own OS thread,
// which prepares, synchronizes and draws that window's frames.
//
// All communication between the two sides is event passing through the
// worker's EventQueue. The driver blocks at exactly one point per frame:
// polishAndSync posts a SyncEvent and waits until the worker has copied the
// scene into its render objects. Obscure, TryRelease and Grab use the same
// rendezvous. RequestRepaint and PostJob are fire-and-forget.
//
// Workers are created on first exposure and survive obscure/expose cycles.
// They stop when resources are released with no window bound, or when the
// window is destroyed. Render resources are handed to the worker with an
// explicit ownership transfer when it starts and handed back when it exits.
//
// When exactly one window is exposed, the shared animation driver advances
// once per sync of that window. Otherwise a driver-thread timer ticks it at
// the primary screen's refresh interval.
package renderloop
