// Package zmq adapts github.com/pebbe/zmq4 to the api engine interfaces.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The adapter needs libzmq and cgo and is only compiled with the "zmq" build
// tag. Without it New returns api.ErrEngineNotPresent so that binaries can
// still be built and fall back to the in-memory engine.
//
//	go build -tags zmq ./...
package zmq
