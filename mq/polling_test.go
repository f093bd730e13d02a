// File: mq/polling_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package mq

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/control"
	"github.com/momentics/hioload-mq/fake"
	"github.com/momentics/hioload-mq/internal/concurrency"
)

func TestPollWithoutReadySocketsNotifiesNothing(t *testing.T) {
	for n := 0; n <= 4; n++ {
		t.Run(fmt.Sprintf("sockets-%d", n), func(t *testing.T) {
			e := fake.NewEngine()
			p := newPolling(t, e, newLoop(t, "empty"))
			var hits atomic.Int64
			for i := 0; i < n; i++ {
				s, err := p.CreateSocket(api.TypePull)
				require.NoError(t, err)
				s.Handle(func(*Socket, [][]byte) { hits.Add(1) })
			}
			start := time.Now()
			got, err := p.Poll(0)
			require.NoError(t, err)
			require.Zero(t, got)
			require.Zero(t, hits.Load())
			require.Less(t, time.Since(start), 100*time.Millisecond)
		})
	}
}

func TestPollOnEmptyRegistryReturnsImmediately(t *testing.T) {
	e := fake.NewEngine()
	p := newPolling(t, e, newLoop(t, "empty"))
	start := time.Now()
	n, err := p.Poll(time.Hour)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Less(t, time.Since(start), 100*time.Millisecond)
	require.Zero(t, e.PollCount())
}

func TestPollNotifiesOnlyReadySockets(t *testing.T) {
	e := fake.NewEngine()
	p := newPolling(t, e, newLoop(t, "pull"))
	senders := newPolling(t, e, newLoop(t, "push"))

	var (
		pulls    []*Socket
		pushes   []*Socket
		hits     []*Socket
		readable []int
	)
	for i := 0; i < 5; i++ {
		addr := fmt.Sprintf("inproc://ready-%d", i)
		pull, err := p.CreateSocket(api.TypePull)
		require.NoError(t, err)
		require.NoError(t, pull.Bind(addr))
		pull.Handle(func(s *Socket, _ [][]byte) {
			hits = append(hits, s)
			readable = append(readable, p.Readable())
		})
		pulls = append(pulls, pull)

		push, err := senders.CreateSocket(api.TypePush)
		require.NoError(t, err)
		require.NoError(t, push.Connect(addr))
		pushes = append(pushes, push)
	}
	for _, i := range []int{3, 1} {
		ok, err := pushes[i].SendBytes([]byte("work"), api.FlagDontWait)
		require.NoError(t, err)
		require.True(t, ok)
	}

	n, err := p.Poll(0)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, []*Socket{pulls[1], pulls[3]}, hits)

	require.Equal(t, []int{2, 2}, readable)
	require.Zero(t, p.Readable())
}

func TestPollDrainsBacklogWithZeroTimeoutRounds(t *testing.T) {
	e := fake.NewEngine()
	p := newPolling(t, e, newLoop(t, "drain"))
	pull, _ := p.CreateSocket(api.TypePull)
	push, _ := p.CreateSocket(api.TypePush)
	require.NoError(t, pull.Bind("inproc://backlog"))
	require.NoError(t, push.Connect("inproc://backlog"))

	var got []string
	pull.Handle(func(_ *Socket, frames [][]byte) { got = append(got, string(frames[0])) })
	for _, s := range []string{"a", "b", "c"} {
		push.SendBytes([]byte(s), api.FlagDontWait)
	}
	n, err := p.Poll(0)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, []string{"a", "b", "c"}, got)
}

func TestPollingPubSubPing(t *testing.T) {
	e := fake.NewEngine()
	loop := newLoop(t, "pubsub")
	p := newPolling(t, e, loop, WithPollInterval(time.Millisecond))

	pub, err := p.CreateSocket(api.TypePub)
	require.NoError(t, err)
	sub, err := p.CreateSocket(api.TypeSub)
	require.NoError(t, err)
	require.NoError(t, pub.Bind("inproc://ping"))
	require.NoError(t, sub.Connect("inproc://ping"))
	require.NoError(t, sub.Subscribe(""))

	got := make(chan [][]byte, 4)
	sub.Handle(func(s *Socket, frames [][]byte) {
		if !loop.InLoop() {
			t.Error("handler ran off the context loop")
		}
		got <- frames
	})
	require.True(t, p.IsStopped())
	require.NoError(t, p.Start())
	require.False(t, p.IsStopped())
	require.NoError(t, loop.Submit(func() { pub.SendBytes([]byte("ping"), api.FlagDontWait) }))

	select {
	case frames := <-got:
		require.Equal(t, [][]byte{[]byte("ping")}, frames)
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber not notified")
	}
	select {
	case extra := <-got:
		t.Fatalf("unexpected second message %q", extra)
	case <-time.After(30 * time.Millisecond):
	}
}

func TestPollingReqRep(t *testing.T) {
	e := fake.NewEngine()
	loop := newLoop(t, "reqrep")
	p := newPolling(t, e, loop, WithPollInterval(time.Millisecond))

	rep, _ := p.CreateSocket(api.TypeRep)
	req, _ := p.CreateSocket(api.TypeReq)
	require.NoError(t, rep.Bind("inproc://hello"))
	require.NoError(t, req.Connect("inproc://hello"))

	requests := make(chan [][]byte, 1)
	rep.Handle(func(s *Socket, frames [][]byte) {
		requests <- frames
		s.SendBytes([]byte("world"), api.FlagDontWait)
	})
	replies := make(chan [][]byte, 1)
	req.Handle(func(_ *Socket, frames [][]byte) { replies <- frames })

	ok, err := req.SendBytes([]byte("hello"), api.FlagDontWait)
	require.NoError(t, err)
	require.True(t, ok)
	_, err = req.SendBytes([]byte("too soon"), api.FlagDontWait)
	require.Error(t, err)
	require.Equal(t, api.ErrnoEFSM, api.ErrnoOf(err))

	require.NoError(t, p.Start())
	select {
	case frames := <-requests:
		require.Equal(t, [][]byte{[]byte("hello")}, frames)
	case <-time.After(2 * time.Second):
		t.Fatal("request not delivered")
	}
	select {
	case frames := <-replies:
		require.Equal(t, [][]byte{[]byte("world")}, frames)
	case <-time.After(2 * time.Second):
		t.Fatal("reply not delivered")
	}
}

func TestPollErrorNotifiesOnceAndKeepsScheduling(t *testing.T) {
	e := fake.NewEngine()
	loop := newLoop(t, "errors")
	metrics := control.NewMetrics("polltest", nil)
	p := newPolling(t, e, loop, WithPollInterval(time.Millisecond), WithMetrics(metrics))
	_, err := p.CreateSocket(api.TypePull)
	require.NoError(t, err)

	var (
		mu    sync.Mutex
		codes []int
		msgs  []string
	)
	p.OnError(func(code int, msg string) {
		mu.Lock()
		defer mu.Unlock()
		codes = append(codes, code)
		msgs = append(msgs, msg)
	})
	e.FailNextPoll(errors.New("injected"))
	require.NoError(t, p.Start())

	require.Eventually(t, func() bool { return e.PollCount() >= 5 }, 2*time.Second, time.Millisecond)
	require.False(t, p.IsStopped())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, codes, 1)
	require.Equal(t, -1, codes[0])
	require.Contains(t, msgs[0], "injected")
	require.Equal(t, float64(1), metrics.GetSnapshot()["polltest_errors_total{strategy=polling}"])
}

func TestPollEngineErrnoReachesHandler(t *testing.T) {
	e := fake.NewEngine()
	loop := newLoop(t, "errno")
	p := newPolling(t, e, loop, WithPollInterval(time.Millisecond))
	p.CreateSocket(api.TypePull)

	codes := make(chan int, 1)
	p.OnError(func(code int, _ string) { codes <- code })
	e.FailNextPoll(api.NewEngineError(api.ErrnoETERM, "poll"))
	require.NoError(t, p.Start())

	select {
	case code := <-codes:
		require.Equal(t, api.ErrnoETERM, code)
	case <-time.After(2 * time.Second):
		t.Fatal("no error notification")
	}
}

func TestHandlerPanicIsReportedNotFatal(t *testing.T) {
	e := fake.NewEngine()
	loop := newLoop(t, "panic")
	p := newPolling(t, e, loop, WithPollInterval(time.Millisecond))
	pull, _ := p.CreateSocket(api.TypePull)
	push, _ := p.CreateSocket(api.TypePush)
	require.NoError(t, pull.Bind("inproc://panic"))
	require.NoError(t, push.Connect("inproc://panic"))

	var calls atomic.Int64
	pull.Handle(func(*Socket, [][]byte) {
		if calls.Add(1) == 1 {
			panic("handler bug")
		}
	})
	errs := make(chan string, 4)
	p.OnError(func(_ int, msg string) { errs <- msg })
	require.NoError(t, p.Start())

	require.NoError(t, loop.Submit(func() { push.SendBytes([]byte("1"), api.FlagDontWait) }))
	select {
	case msg := <-errs:
		require.Contains(t, msg, "handler bug")
	case <-time.After(2 * time.Second):
		t.Fatal("panic not reported")
	}
	require.NoError(t, loop.Submit(func() { push.SendBytes([]byte("2"), api.FlagDontWait) }))
	require.Eventually(t, func() bool { return calls.Load() == 2 }, 2*time.Second, time.Millisecond)
}

func TestStopHaltsCycles(t *testing.T) {
	e := fake.NewEngine()
	loop := newLoop(t, "stop")
	p := newPolling(t, e, loop, WithPollInterval(time.Millisecond))
	p.CreateSocket(api.TypePull)

	require.NoError(t, p.Start())
	require.Eventually(t, func() bool { return e.PollCount() > 2 }, 2*time.Second, time.Millisecond)
	p.Stop()
	require.True(t, p.IsStopped())

	// one cycle may already be in flight
	time.Sleep(20 * time.Millisecond)
	settled := e.PollCount()
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, settled, e.PollCount())

	require.NoError(t, p.Start())
	require.Eventually(t, func() bool { return e.PollCount() > settled }, 2*time.Second, time.Millisecond)
}

func TestForeignOwnerNotifiedOnItsLoop(t *testing.T) {
	e := fake.NewEngine()
	loop := newLoop(t, "ctx")
	other := newLoop(t, "worker")
	p := newPolling(t, e, loop, WithPollInterval(time.Millisecond))

	pull, err := p.CreateSocket(api.TypePull, WithOwner(other))
	require.NoError(t, err)
	push, _ := p.CreateSocket(api.TypePush)
	require.NoError(t, pull.Bind("inproc://foreign"))
	require.NoError(t, push.Connect("inproc://foreign"))

	got := make(chan bool, 4)
	pull.Handle(func(*Socket, [][]byte) { got <- other.InLoop() })
	require.NoError(t, p.Start())
	require.NoError(t, loop.Submit(func() { push.SendBytes([]byte("x"), api.FlagDontWait) }))

	select {
	case onOwner := <-got:
		require.True(t, onOwner)
	case <-time.After(2 * time.Second):
		t.Fatal("foreign socket not notified")
	}
}

func TestIntervalAndTimeoutSetters(t *testing.T) {
	p := newPolling(t, fake.NewEngine(), newLoop(t, "knobs"))
	require.Equal(t, DefaultPollInterval, p.Interval())
	require.Equal(t, time.Duration(0), p.Timeout())
	p.SetInterval(5 * time.Millisecond)
	p.SetTimeout(-time.Second)
	require.Equal(t, 5*time.Millisecond, p.Interval())
	require.Equal(t, time.Duration(0), p.Timeout())
}

// busyPull starts a polling context whose PULL socket is kept non-empty by
// a producer goroutine until the test ends. The producer stays at most
// backlog messages ahead of the handler.
func busyPull(t *testing.T, name string) (*PollingContext, *concurrency.EventLoop, *atomic.Int64) {
	t.Helper()
	e := fake.NewEngine()
	loop := newLoop(t, name)
	p := newPolling(t, e, loop, WithPollInterval(time.Millisecond))
	senders := newPolling(t, e, newLoop(t, name+"-producer"))

	addr := "inproc://" + name
	pull, err := p.CreateSocket(api.TypePull)
	require.NoError(t, err)
	require.NoError(t, pull.Bind(addr))
	push, err := senders.CreateSocket(api.TypePush)
	require.NoError(t, err)
	require.NoError(t, push.Connect(addr))

	const backlog = 256
	calls := new(atomic.Int64)
	pull.Handle(func(*Socket, [][]byte) { calls.Add(1) })

	quit := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		var sent int64
		for {
			select {
			case <-quit:
				return
			default:
			}
			if sent-calls.Load() >= backlog {
				runtime.Gosched()
				continue
			}
			if ok, _ := push.SendBytes([]byte("load"), api.FlagDontWait); ok {
				sent++
			}
		}
	}()
	// registered after newPolling, so it runs before the contexts close
	t.Cleanup(func() {
		close(quit)
		wg.Wait()
	})

	require.NoError(t, p.Start())
	require.Eventually(t, func() bool { return calls.Load() > 2*maxPollRounds }, 2*time.Second, time.Millisecond)
	return p, loop, calls
}

func TestBusySocketDoesNotStarveLoopTasks(t *testing.T) {
	_, loop, _ := busyPull(t, "busy")

	ran := make(chan struct{})
	require.NoError(t, loop.Submit(func() { close(ran) }))
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("loop task starved by a busy socket")
	}
}

func TestStopInterruptsBusyPoll(t *testing.T) {
	p, loop, calls := busyPull(t, "busy-stop")

	p.Stop()
	ran := make(chan struct{})
	require.NoError(t, loop.Submit(func() { close(ran) }))
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("loop task did not run after Stop")
	}

	// ran was queued behind any in-flight cycle, so delivery has settled
	settled := calls.Load()
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, settled, calls.Load())
	require.True(t, p.IsStopped())
}
