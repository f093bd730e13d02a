//go:build !zmq

// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package zmq

import "github.com/momentics/hioload-mq/api"

// Available reports whether the libzmq adapter was compiled in.
const Available = false

// New always fails in builds without the "zmq" tag.
func New() (api.Engine, error) {
	return nil, api.ErrEngineNotPresent
}
