// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Host loop primitives for hioload-mq. An EventLoop is the unit of thread
// ownership: contexts and sockets are bound to exactly one loop, and any
// cross-loop interaction (including closing a socket during context
// teardown) goes through EventLoop.Submit.
package concurrency
