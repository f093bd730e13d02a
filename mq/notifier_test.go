// File: mq/notifier_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package mq

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/fake"
)

func newNotifier(t *testing.T, e *fake.Engine, loop api.Loop) (*NotifierContext, *fake.Watcher) {
	t.Helper()
	w := fake.NewWatcher(e)
	n, err := NewNotifierContext(e, loop, w)
	require.NoError(t, err)
	t.Cleanup(func() { n.Close() })
	return n, w
}

func TestNotifierInstallsReadAndWriteWatches(t *testing.T) {
	e := fake.NewEngine()
	n, w := newNotifier(t, e, newLoop(t, "watches"))
	s, err := n.CreateSocket(api.TypeSub)
	require.NoError(t, err)
	fd, err := s.FD()
	require.NoError(t, err)
	require.Equal(t, 2, w.Count(fd))

	require.NoError(t, s.Close())
	require.Zero(t, w.Count(fd))
	require.Zero(t, n.Len())
}

func TestNotifierStartStopAreNoops(t *testing.T) {
	n, _ := newNotifier(t, fake.NewEngine(), newLoop(t, "noop"))
	require.False(t, n.IsStopped())
	require.NoError(t, n.Start())
	n.Stop()
	require.False(t, n.IsStopped())
}

func TestNotifierPubSubPing(t *testing.T) {
	e := fake.NewEngine()
	loop := newLoop(t, "notify")
	n, _ := newNotifier(t, e, loop)

	pub, _ := n.CreateSocket(api.TypePub)
	sub, _ := n.CreateSocket(api.TypeSub)
	require.NoError(t, pub.Bind("inproc://ping"))
	require.NoError(t, sub.Connect("inproc://ping"))
	require.NoError(t, sub.Subscribe(""))

	got := make(chan [][]byte, 4)
	sub.Handle(func(_ *Socket, frames [][]byte) {
		if !loop.InLoop() {
			t.Error("handler ran off the owning loop")
		}
		got <- frames
	})
	require.NoError(t, loop.Submit(func() { pub.SendBytes([]byte("ping"), api.FlagDontWait) }))

	select {
	case frames := <-got:
		require.Equal(t, [][]byte{[]byte("ping")}, frames)
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber not notified")
	}
}

func TestNotifierDrainsEveryQueuedMessage(t *testing.T) {
	e := fake.NewEngine()
	loop := newLoop(t, "drain")
	n, w := newNotifier(t, e, loop)

	pull, _ := n.CreateSocket(api.TypePull)
	push, _ := n.CreateSocket(api.TypePush)
	require.NoError(t, pull.Bind("inproc://q"))
	require.NoError(t, push.Connect("inproc://q"))

	var got atomic.Int64
	pull.Handle(func(*Socket, [][]byte) { got.Add(1) })

	fd, _ := pull.FD()
	require.NoError(t, loop.Submit(func() {
		// queue a burst while the read watch is off, then fire once
		n.mu.Lock()
		rw := n.entries[0].readWatch
		n.mu.Unlock()
		rw.SetEnabled(false)
		for i := 0; i < 5; i++ {
			push.SendBytes([]byte{byte(i)}, api.FlagDontWait)
		}
		rw.SetEnabled(true)
	}))
	require.Eventually(t, func() bool { return got.Load() == 5 }, 2*time.Second, time.Millisecond)

	w.Trigger(fd, api.EventWritable)
	time.Sleep(20 * time.Millisecond)
	require.EqualValues(t, 5, got.Load())
	ev, err := pull.Events()
	require.NoError(t, err)
	require.Zero(t, ev&api.EventReadable)
}

func TestNotifierReportsHandlerPanic(t *testing.T) {
	e := fake.NewEngine()
	loop := newLoop(t, "npanic")
	n, _ := newNotifier(t, e, loop)
	pull, _ := n.CreateSocket(api.TypePull)
	push, _ := n.CreateSocket(api.TypePush)
	require.NoError(t, pull.Bind("inproc://np"))
	require.NoError(t, push.Connect("inproc://np"))

	var calls atomic.Int64
	pull.Handle(func(*Socket, [][]byte) {
		if calls.Add(1) == 1 {
			panic("bad handler")
		}
	})
	errs := make(chan string, 2)
	n.OnError(func(_ int, msg string) { errs <- msg })

	require.NoError(t, loop.Submit(func() { push.SendBytes([]byte("1"), api.FlagDontWait) }))
	select {
	case msg := <-errs:
		require.Contains(t, msg, "bad handler")
	case <-time.After(2 * time.Second):
		t.Fatal("panic not reported")
	}

	require.NoError(t, loop.Submit(func() { push.SendBytes([]byte("2"), api.FlagDontWait) }))
	require.Eventually(t, func() bool { return calls.Load() == 2 }, 2*time.Second, time.Millisecond)
}

func TestNotifierCloseStopsWatching(t *testing.T) {
	e := fake.NewEngine()
	loop := newLoop(t, "nclose")
	n, w := newNotifier(t, e, loop)
	s, _ := n.CreateSocket(api.TypePull)
	fd, _ := s.FD()

	require.NoError(t, n.Close())
	waitDone(t, n.Context)
	require.Zero(t, w.Count(fd))
	require.True(t, s.IsClosed())
}

func TestNotifierRejectsNilWatcher(t *testing.T) {
	_, err := NewNotifierContext(fake.NewEngine(), newLoop(t, "nil"), nil)
	require.ErrorIs(t, err, api.ErrInvalidArgument)
}
