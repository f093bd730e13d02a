// Package pool
// Author: momentics <momentics@gmail.com>
//
// Memory layer for hioload-mq: generic object pools and the size-class byte
// pool that backs message frames.
package pool
