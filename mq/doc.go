// Package mq drives message-queue sockets from a callback-driven event loop.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// A Context creates sockets and keeps them in an ordered registry. Two
// readiness strategies are provided:
//
//   - PollingContext runs a bounded engine poll on the context loop every
//     Interval and delivers one message per readable socket.
//   - NotifierContext watches each socket's notification descriptor and
//     drains the socket as soon as it becomes readable.
//
// Messages reach the application through Socket.Handle on the loop that
// owns the socket. Scheduler failures are reported through Context.OnError
// and never stop the strategy.
//
// Sockets are single-owner: create, use and close a socket on its owning
// loop only. Context.Close queues each remaining socket's close on that
// loop and terminates the engine context in the background.
package mq
