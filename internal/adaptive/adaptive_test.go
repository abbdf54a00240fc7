package adaptive

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSelectorTiers(t *testing.T) {
	s := NewSelector[uint64](DefaultConfig())

	var promotions []int
	for i := 1; i <= 150; i++ {
		tier, promoted := s.Record(0x1000)
		switch {
		case i < DefaultWarmThreshold:
			require.Equal(t, Cold, tier, "execution %d", i)
		case i < DefaultHotThreshold:
			require.Equal(t, Warm, tier, "execution %d", i)
		default:
			require.Equal(t, Hot, tier, "execution %d", i)
		}
		if promoted {
			promotions = append(promotions, i)
		}
	}
	require.Equal(t, []int{DefaultWarmThreshold, DefaultHotThreshold}, promotions)
	require.Equal(t, Hot, s.Tier(0x1000))
	require.Equal(t, Cold, s.Tier(0x2000))

	st := s.Stats()
	require.EqualValues(t, 150, st.Executions)
	require.EqualValues(t, 2, st.Promotions)
	require.Equal(t, 1, st.Blocks)

	s.Forget(0x1000)
	require.Zero(t, s.Count(0x1000))
}

func TestSelectorCustomThresholds(t *testing.T) {
	s := NewSelector[string](Config{WarmThreshold: 2, HotThreshold: 3})
	tier, _ := s.Record("a")
	require.Equal(t, Cold, tier)
	tier, promoted := s.Record("a")
	require.Equal(t, Warm, tier)
	require.True(t, promoted)
	tier, promoted = s.Record("a")
	require.Equal(t, Hot, tier)
	require.True(t, promoted)
	_, promoted = s.Record("a")
	require.False(t, promoted)
}

func TestSelectorConcurrentCounts(t *testing.T) {
	s := NewSelector[int](DefaultConfig())
	var wg sync.WaitGroup
	var promotions atomic.Int64
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				if _, p := s.Record(7); p {
					promotions.Add(1)
				}
			}
		}()
	}
	wg.Wait()
	require.EqualValues(t, 800, s.Count(7))
	require.EqualValues(t, 2, promotions.Load())
}

func TestOptimizeTime(t *testing.T) {
	s := NewSelector[int](DefaultConfig())
	s.AddOptimizeTime(300 * time.Microsecond)
	st := s.Stats()
	require.Equal(t, 300*time.Microsecond, st.OptimizeTime)
	require.GreaterOrEqual(t, st.OptimizeMillis(), int64(0))
}

func TestParseTier(t *testing.T) {
	for _, tier := range []Tier{Cold, Warm, Hot} {
		got, err := ParseTier(tier.String())
		require.NoError(t, err)
		require.Equal(t, tier, got)
	}
	_, err := ParseTier("lukewarm")
	require.Error(t, err)
	require.Equal(t, "Tier(7)", Tier(7).String())
}

func TestUpgraderApplies(t *testing.T) {
	u := NewUpgrader[int](nil)
	defer u.Close()

	var applied atomic.Bool
	require.True(t, u.Schedule(1, func(ctx context.Context) (func(), error) {
		return func() { applied.Store(true) }, nil
	}))
	u.Wait()

	require.True(t, applied.Load())
	require.False(t, u.Pending(1))
	require.Equal(t, UpgradeStats{Scheduled: 1, Applied: 1}, u.Stats())
}

func TestUpgraderCancelSkipsApply(t *testing.T) {
	u := NewUpgrader[int](nil)
	defer u.Close()

	release := make(chan struct{})
	var applied atomic.Bool
	require.True(t, u.Schedule(1, func(ctx context.Context) (func(), error) {
		<-release
		return func() { applied.Store(true) }, nil
	}))

	require.False(t, u.Schedule(1, func(context.Context) (func(), error) { return nil, nil }))
	require.True(t, u.Pending(1))

	require.True(t, u.Cancel(1))
	require.False(t, u.Cancel(1))
	close(release)
	u.Wait()

	require.False(t, applied.Load())
	require.EqualValues(t, 1, u.Stats().Cancelled)
}

func TestUpgraderFailure(t *testing.T) {
	u := NewUpgrader[int](nil)
	defer u.Close()

	boom := errors.New("boom")
	u.Schedule(3, func(context.Context) (func(), error) { return nil, boom })
	u.Wait()
	require.EqualValues(t, 1, u.Stats().Failed)

	// a failed upgrade can be retried
	require.True(t, u.Schedule(3, func(context.Context) (func(), error) { return nil, nil }))
	u.Wait()
	require.EqualValues(t, 1, u.Stats().Applied)
}

func TestUpgraderClose(t *testing.T) {
	u := NewUpgrader[int](nil)
	started := make(chan struct{})
	u.Schedule(1, func(ctx context.Context) (func(), error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	<-started

	require.NoError(t, u.Close())
	require.False(t, u.Schedule(2, func(context.Context) (func(), error) { return nil, nil }))
	require.Equal(t, UpgradeStats{Scheduled: 1, Cancelled: 1}, u.Stats())
}
