package sandbox

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"goatomic.dev/runtime/runtime/agent/agenterr"
)

type fakeInstance struct {
	connected int32
}

func (f *fakeInstance) Connect(ctx context.Context) error {
	atomic.AddInt32(&f.connected, 1)
	return nil
}

func (f *fakeInstance) Disconnect(ctx context.Context) error {
	atomic.AddInt32(&f.connected, -1)
	return nil
}

func countingFactory(created *int32) Factory {
	return func(ctx context.Context, sessionID string) (Instance, error) {
		atomic.AddInt32(created, 1)
		return &fakeInstance{}, nil
	}
}

func testConfig() Config {
	return Config{MaxInstances: 4, MinInstances: 0, IdleTimeout: time.Hour, MaxUseCount: 100, CleanupInterval: 0}
}

func TestAcquire_CreatesNewInstanceForUnseenSession(t *testing.T) {
	var created int32
	p := New(testConfig(), countingFactory(&created))

	inst, err := p.Acquire(context.Background(), "session-1")
	require.NoError(t, err)
	require.NotNil(t, inst)
	require.Equal(t, int32(1), atomic.LoadInt32(&created))
}

func TestAcquire_ReentrantForSameSessionReturnsSameInstance(t *testing.T) {
	var created int32
	p := New(testConfig(), countingFactory(&created))

	inst, err := p.Acquire(context.Background(), "session-1")
	require.NoError(t, err)

	// Release back to idle so the session entry is not "busy", then
	// reacquire: still the same underlying instance, no new create.
	p.Release("session-1")
	inst2, err := p.Acquire(context.Background(), "session-1")
	require.NoError(t, err)
	require.Same(t, inst, inst2)
	require.Equal(t, int32(1), atomic.LoadInt32(&created))
}

func TestAcquire_ConcurrentAccessForBusySession(t *testing.T) {
	var created int32
	p := New(testConfig(), countingFactory(&created))

	_, err := p.Acquire(context.Background(), "session-1")
	require.NoError(t, err)

	_, err = p.Acquire(context.Background(), "session-1")
	var re *agenterr.RuntimeError
	require.True(t, errors.As(err, &re))
	require.Equal(t, agenterr.KindConcurrentAccess, re.Kind)
}

func TestAcquire_ConcurrentAcquisitionRace_OnlyOneWins(t *testing.T) {
	var created int32
	block := make(chan struct{})
	factory := func(ctx context.Context, sessionID string) (Instance, error) {
		<-block
		atomic.AddInt32(&created, 1)
		return &fakeInstance{}, nil
	}
	p := New(testConfig(), factory)

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Acquire(context.Background(), "session-race")
			results <- err
		}()
	}
	// Give both goroutines a chance to observe the placeholder before unblocking.
	time.Sleep(20 * time.Millisecond)
	close(block)
	wg.Wait()
	close(results)

	var successes, concurrentErrs int
	for err := range results {
		if err == nil {
			successes++
			continue
		}
		var re *agenterr.RuntimeError
		require.True(t, errors.As(err, &re))
		require.Equal(t, agenterr.KindConcurrentAccess, re.Kind)
		concurrentErrs++
	}
	require.Equal(t, 1, successes)
	require.Equal(t, 1, concurrentErrs)
	require.Equal(t, int32(1), atomic.LoadInt32(&created))
}

func TestRelease_MakesSessionIdleAndReusable(t *testing.T) {
	var created int32
	p := New(testConfig(), countingFactory(&created))

	inst, err := p.Acquire(context.Background(), "session-1")
	require.NoError(t, err)
	p.Release("session-1")

	stats := p.Stats()
	require.Equal(t, 0, stats.Busy)
	require.Equal(t, 1, stats.Idle)

	inst2, err := p.Acquire(context.Background(), "session-2")
	require.NoError(t, err)
	require.Same(t, inst, inst2, "idle instance is recycled for a new session")
}

func TestRelease_UnknownSessionIsNoop(t *testing.T) {
	p := New(testConfig(), countingFactory(new(int32)))
	require.NotPanics(t, func() { p.Release("never-acquired") })
}

func TestPool_NeverExceedsMaxInstances(t *testing.T) {
	cfg := testConfig()
	cfg.MaxInstances = 2
	var created int32
	p := New(cfg, countingFactory(&created))

	for i := 0; i < 5; i++ {
		_, err := p.Acquire(context.Background(), idOf(i))
		require.NoError(t, err)
		p.Release(idOf(i))
	}
	stats := p.Stats()
	require.LessOrEqual(t, stats.Total, cfg.MaxInstances)
}

func idOf(i int) string {
	return string(rune('a' + i))
}

func TestStats_ReflectsBusyAndIdleCounts(t *testing.T) {
	p := New(testConfig(), countingFactory(new(int32)))
	_, err := p.Acquire(context.Background(), "s1")
	require.NoError(t, err)

	stats := p.Stats()
	require.Equal(t, 1, stats.Total)
	require.Equal(t, 1, stats.Busy)
	require.Equal(t, 0, stats.Idle)
}
