package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/anuvruddhi/anuvruddhi/internal/domain"
	"github.com/anuvruddhi/anuvruddhi/internal/infra/sqlite"
	"github.com/anuvruddhi/anuvruddhi/internal/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sqlite.Open(t.TempDir())
	require.NoError(t, err)
	return New(db, logger.Nop())
}

// collector gathers listener deliveries for assertions.
type collector[T any] struct {
	mu   sync.Mutex
	vals []T
}

func (c *collector[T]) add(v T) {
	c.mu.Lock()
	c.vals = append(c.vals, v)
	c.mu.Unlock()
}

func (c *collector[T]) snapshot() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]T(nil), c.vals...)
}

func TestOnCumulativeXPChange_FiresImmediately(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	_, err := s.AddXP(ctx, "u1", 40)
	require.NoError(t, err)

	var got collector[int64]
	unsub, err := s.OnCumulativeXPChange(ctx, "u1", got.add)
	require.NoError(t, err)
	defer unsub()

	require.Eventually(t, func() bool { return len(got.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, []int64{40}, got.snapshot())
}

func TestOnCumulativeXPChange_CommitOrder(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	var got collector[int64]
	unsub, err := s.OnCumulativeXPChange(ctx, "u1", got.add)
	require.NoError(t, err)
	defer unsub()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.AddXP(ctx, "u1", 5)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool { return len(got.snapshot()) == 21 }, 2*time.Second, 5*time.Millisecond)
	vals := got.snapshot()
	for i, v := range vals {
		require.Equal(t, int64(i*5), v, "delivery %d out of order: %v", i, vals)
	}
}

func TestOnCumulativeXPChange_PerUser(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	var u1 collector[int64]
	unsub, err := s.OnCumulativeXPChange(ctx, "u1", u1.add)
	require.NoError(t, err)
	defer unsub()

	_, err = s.AddXP(ctx, "u2", 100)
	require.NoError(t, err)
	_, err = s.AddXP(ctx, "u1", 1)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(u1.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	require.Equal(t, []int64{0, 1}, u1.snapshot())
}

func TestUnsubscribe_StopsDelivery(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	var got collector[int64]
	unsub, err := s.OnCumulativeXPChange(ctx, "u1", got.add)
	require.NoError(t, err)
	require.Equal(t, 1, s.Listeners("u1"))

	require.Eventually(t, func() bool { return len(got.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	unsub()
	unsub() // second call is a no-op
	require.Equal(t, 0, s.Listeners("u1"))

	_, err = s.AddXP(ctx, "u1", 10)
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, []int64{0}, got.snapshot())
}

func TestOnTaskRecordsChange(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	var got collector[map[string]domain.TaskRecord]
	unsub, err := s.OnTaskRecordsChange(ctx, "u1", got.add)
	require.NoError(t, err)
	defer unsub()

	require.NoError(t, s.PutTaskRecord(ctx, "u1", "t1", domain.TaskRecord{Name: "Read", Completed: true}))
	require.NoError(t, s.PutTaskRecord(ctx, "u1", "t1", domain.TaskRecord{Name: "Read", Completed: true, Certified: true}))

	require.Eventually(t, func() bool { return len(got.snapshot()) == 3 }, time.Second, 5*time.Millisecond)
	vals := got.snapshot()
	require.Empty(t, vals[0])
	require.False(t, vals[1]["t1"].Certifiable())
	require.True(t, vals[2]["t1"].Certifiable())
}

func TestListenerPanic_DoesNotKillDelivery(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	var got collector[int64]
	unsub, err := s.OnCumulativeXPChange(ctx, "u1", func(xp int64) {
		if xp == 0 {
			panic("boom")
		}
		got.add(xp)
	})
	require.NoError(t, err)
	defer unsub()

	_, err = s.AddXP(ctx, "u1", 7)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(got.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, []int64{7}, got.snapshot())
}

func TestClose_StopsListeners(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.OnCumulativeXPChange(ctx, fmt.Sprintf("u%d", i), func(int64) {})
		require.NoError(t, err)
	}
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.OnCumulativeXPChange(ctx, "u1", func(int64) {})
	require.ErrorIs(t, err, domain.ErrStoreUnavailable)
}

// failingBackend rejects every XP write.
type failingBackend struct {
	*sqlite.DB
}

func (failingBackend) AddXP(context.Context, string, int64) (int64, error) {
	return 0, fmt.Errorf("%w: disk full", domain.ErrStoreUnavailable)
}

func TestAddXP_FailureNotifiesNobody(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	db, err := sqlite.Open(t.TempDir())
	require.NoError(t, err)
	s := New(failingBackend{db}, logger.Nop())
	defer s.Close()
	ctx := context.Background()

	var got collector[int64]
	unsub, err := s.OnCumulativeXPChange(ctx, "u1", got.add)
	require.NoError(t, err)
	defer unsub()

	_, err = s.AddXP(ctx, "u1", 10)
	require.True(t, errors.Is(err, domain.ErrStoreUnavailable))

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, []int64{0}, got.snapshot())
}
