// Package poll is the readiness layer of the chat server: non-blocking
// TCP sockets on raw descriptors, a poll(2) based multiplexer, and a
// self-pipe notifier that turns an asynchronous shutdown request into an
// ordinary readable descriptor.
//
// Nothing in this package is safe for concurrent use except
// [Notifier.Notify]; the Poller and every socket descriptor belong to the
// single goroutine running the event loop.
package poll
