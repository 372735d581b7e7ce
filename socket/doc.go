// Package socket provides a non-blocking, IPv6-capable TCP socket for the
// engine's event-driven core.
//
// Each socket owns one worker goroutine that performs name resolution,
// drives the connect sequence and watches the descriptor for readiness.
// Readiness is reported as events through an EventDispatcher, serialized on
// the engine's controller loop. Error codes follow the POSIX socket
// functions, see 'man 2 socket', 'man 2 connect', ...
package socket
