package facade_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/control"
	"github.com/momentics/hioload-mq/facade"
	"github.com/momentics/hioload-mq/fake"
	"github.com/momentics/hioload-mq/mq"
)

func testConfig() *facade.Config {
	cfg := facade.DefaultConfig()
	cfg.PollInterval = time.Millisecond
	cfg.MetricsNamespace = "facadetest"
	return cfg
}

// Full lifecycle: start, exchange a message, inspect control, shut down.
func TestHioloadMQFullLifecycle(t *testing.T) {
	e := fake.NewEngine()
	h, err := facade.New(e, testConfig())
	require.NoError(t, err)
	require.NoError(t, h.Start())
	require.NoError(t, h.Start())
	require.False(t, h.Context().IsStopped())

	push, err := h.CreateSocket(api.TypePush)
	require.NoError(t, err)
	pull, err := h.CreateSocket(api.TypePull)
	require.NoError(t, err)
	require.NoError(t, pull.Bind("inproc://facade"))
	require.NoError(t, push.Connect("inproc://facade"))

	got := make(chan [][]byte, 1)
	pull.Handle(func(_ *mq.Socket, frames [][]byte) { got <- frames })
	require.NoError(t, h.Submit(func() { push.SendBytes([]byte("work"), api.FlagDontWait) }))

	select {
	case frames := <-got:
		require.Equal(t, [][]byte{[]byte("work")}, frames)
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}

	stats := h.GetControl().Stats()
	require.Equal(t, 2, stats["debug.mq.sockets"])
	require.Equal(t, false, stats["debug.mq.stopped"])
	require.Equal(t, "4.3.5", stats["debug.engine.version"])
	require.Equal(t, float64(2), stats["facadetest_sockets"])
	require.Eventually(t, func() bool {
		return h.GetControl().Stats()["debug.mq.readable"] == 0
	}, 2*time.Second, time.Millisecond)

	require.NoError(t, h.Shutdown())
	require.NoError(t, h.Shutdown())
	require.True(t, push.IsClosed())
	require.True(t, pull.IsClosed())
	require.Equal(t, int64(2), e.CloseCount())
	require.ErrorIs(t, h.Start(), api.ErrContextClosed)
}

func TestHotReloadAppliesPollSettings(t *testing.T) {
	h, err := facade.New(fake.NewEngine(), testConfig())
	require.NoError(t, err)
	defer h.Shutdown()

	require.NoError(t, h.GetControl().SetConfig(map[string]any{
		control.KeyPollInterval: "40ms",
		control.KeyPollTimeout:  5,
	}))
	require.Equal(t, 40*time.Millisecond, h.Polling().Interval())
	require.Equal(t, 5*time.Millisecond, h.Polling().Timeout())

	// unrelated keys keep current settings
	require.NoError(t, h.GetControl().SetConfig(map[string]any{"other": true}))
	require.Equal(t, 40*time.Millisecond, h.Polling().Interval())
}

func TestStopAndRestart(t *testing.T) {
	h, err := facade.New(fake.NewEngine(), testConfig())
	require.NoError(t, err)
	defer h.Shutdown()

	require.True(t, h.Context().IsStopped())
	require.NoError(t, h.Start())
	h.Stop()
	require.True(t, h.Context().IsStopped())
	require.NoError(t, h.Start())
	require.False(t, h.Context().IsStopped())
}

func TestNotifierStrategy(t *testing.T) {
	e := fake.NewEngine()
	w := fake.NewWatcher(e)
	cfg := testConfig()
	cfg.Strategy = facade.StrategyNotifier
	cfg.Watcher = w
	h, err := facade.New(e, cfg)
	require.NoError(t, err)
	require.Nil(t, h.Polling())
	require.NotContains(t, h.GetControl().Stats(), "debug.mq.readable")

	pub, err := h.CreateSocket(api.TypePub)
	require.NoError(t, err)
	sub, err := h.CreateSocket(api.TypeSub)
	require.NoError(t, err)
	require.NoError(t, pub.Bind("inproc://facade-notify"))
	require.NoError(t, sub.Connect("inproc://facade-notify"))
	require.NoError(t, sub.Subscribe(""))

	got := make(chan [][]byte, 1)
	sub.Handle(func(_ *mq.Socket, frames [][]byte) { got <- frames })
	require.NoError(t, h.Submit(func() { pub.SendBytes([]byte("ping"), 0) }))

	select {
	case frames := <-got:
		require.Equal(t, [][]byte{[]byte("ping")}, frames)
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}

	fd, err := sub.FD()
	require.NoError(t, err)
	require.NoError(t, h.Shutdown())
	require.Zero(t, w.Count(fd))
}

func TestDefaultLingerApplied(t *testing.T) {
	cfg := testConfig()
	cfg.Linger = 250 * time.Millisecond
	h, err := facade.New(fake.NewEngine(), cfg)
	require.NoError(t, err)
	defer h.Shutdown()

	s, err := h.CreateSocket(api.TypeDealer)
	require.NoError(t, err)
	l, err := s.Linger()
	require.NoError(t, err)
	require.Equal(t, 250*time.Millisecond, l)

	s2, err := h.CreateSocket(api.TypeDealer, mq.WithLinger(time.Second))
	require.NoError(t, err)
	l, err = s2.Linger()
	require.NoError(t, err)
	require.Equal(t, time.Second, l)
}

func TestInvalidConfig(t *testing.T) {
	_, err := facade.New(nil, nil)
	require.ErrorIs(t, err, api.ErrInvalidArgument)

	cfg := testConfig()
	cfg.Strategy = "bogus"
	_, err = facade.New(fake.NewEngine(), cfg)
	require.ErrorIs(t, err, api.ErrInvalidArgument)
}

func TestMetricsDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.EnableMetrics = false
	cfg.EnableDebug = false
	h, err := facade.New(fake.NewEngine(), cfg)
	require.NoError(t, err)
	defer h.Shutdown()

	require.Nil(t, h.Metrics())
	stats := h.GetControl().Stats()
	require.NotContains(t, stats, "debug.mq.sockets")
	require.Contains(t, stats, "debug.platform.cpus")
}

func TestSocketsSpreadAcrossLoops(t *testing.T) {
	cfg := testConfig()
	cfg.Loops = 2
	h, err := facade.New(fake.NewEngine(), cfg)
	require.NoError(t, err)
	defer h.Shutdown()
	require.NoError(t, h.Start())

	first := h.NextLoop()
	second := h.NextLoop()
	require.Same(t, h.Loop(), first)
	require.NotSame(t, first, second)

	push, err := h.CreateSocket(api.TypePush)
	require.NoError(t, err)
	pull, err := h.CreateSocket(api.TypePull, mq.WithOwner(second))
	require.NoError(t, err)
	require.Same(t, second, pull.Loop())
	require.NoError(t, pull.Bind("inproc://facade-loops"))
	require.NoError(t, push.Connect("inproc://facade-loops"))

	onOwner := make(chan bool, 1)
	pull.Handle(func(s *mq.Socket, _ [][]byte) { onOwner <- s.Loop().InLoop() })
	require.NoError(t, h.Submit(func() { push.SendBytes([]byte("x"), api.FlagDontWait) }))

	select {
	case ok := <-onOwner:
		require.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}
}
