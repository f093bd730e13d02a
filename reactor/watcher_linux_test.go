//go:build linux
// +build linux

package reactor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/internal/concurrency"
)

func newPipe(t *testing.T) (r, w int) {
	t.Helper()
	var p [2]int
	require.NoError(t, unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC))
	t.Cleanup(func() {
		_ = unix.Close(p[0])
		_ = unix.Close(p[1])
	})
	return p[0], p[1]
}

func newWatcherEnv(t *testing.T) (*Watcher, *concurrency.EventLoop) {
	t.Helper()
	w, err := NewDefaultWatcher()
	require.NoError(t, err)
	loop := concurrency.NewEventLoop("watcher", 0)
	loop.Start()
	t.Cleanup(func() {
		require.NoError(t, w.Close())
		loop.Stop()
	})
	return w, loop
}

func waitFired(t *testing.T, ch <-chan bool) bool {
	t.Helper()
	select {
	case inLoop := <-ch:
		return inLoop
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not fire")
	}
	return false
}

func TestWatcherDeliversReadActivityOnOwnerLoop(t *testing.T) {
	w, loop := newWatcherEnv(t)
	rfd, wfd := newPipe(t)

	fired := make(chan bool, 4)
	_, err := w.Watch(uintptr(rfd), api.EventReadable, loop, func() { fired <- loop.InLoop() })
	require.NoError(t, err)

	_, err = unix.Write(wfd, []byte{1})
	require.NoError(t, err)
	require.True(t, waitFired(t, fired))
}

func TestWatcherReenableRedeliversPendingReadiness(t *testing.T) {
	w, loop := newWatcherEnv(t)
	rfd, wfd := newPipe(t)

	fired := make(chan bool, 4)
	wt, err := w.Watch(uintptr(rfd), api.EventReadable, loop, func() { fired <- true })
	require.NoError(t, err)

	wt.SetEnabled(false)
	require.False(t, wt.Enabled())
	_, err = unix.Write(wfd, []byte{1})
	require.NoError(t, err)

	select {
	case <-fired:
		t.Fatal("disabled watch fired")
	case <-time.After(50 * time.Millisecond):
	}

	wt.SetEnabled(true)
	waitFired(t, fired)
}

func TestWatcherWriteWatchAndIdempotentClose(t *testing.T) {
	w, loop := newWatcherEnv(t)
	_, wfd := newPipe(t)

	fired := make(chan bool, 4)
	rw, err := w.Watch(uintptr(wfd), api.EventWritable, loop, func() { fired <- true })
	require.NoError(t, err)
	waitFired(t, fired)

	require.NoError(t, rw.Close())
	require.NoError(t, rw.Close())
}

func TestWatcherRejectsBadKind(t *testing.T) {
	w, loop := newWatcherEnv(t)
	_, err := w.Watch(3, api.EventError, loop, func() {})
	require.ErrorIs(t, err, api.ErrInvalidArgument)
}
