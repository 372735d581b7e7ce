// Package event provides the engine's controller event loop.
//
// A single goroutine delivers typed events to registered handlers one at a
// time, so handler code never needs its own locking against other handlers.
// Timers post TimerEvent values into the same stream.
package event
