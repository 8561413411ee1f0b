package pool

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireConserved(t *testing.T, p *Pool[string]) {
	t.Helper()
	s := p.Stats()
	require.Equal(t, s.Size, s.Available+s.Leased, "available %d + leased %d != size %d", s.Available, s.Leased, s.Size)
}

func TestNewRejectsEmptyInput(t *testing.T) {
	_, err := New[string](nil)
	assert.Equal(t, ErrEmptyPool, err)
}

func TestNewCopiesItems(t *testing.T) {
	items := []string{"u1", "u2"}
	p, err := New(items)
	require.NoError(t, err)
	items[0] = "changed"

	item, err := p.Acquire(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "u1", item)
}

func TestAtMostSizeItemsAreLeasedConcurrently(t *testing.T) {
	p, err := New([]string{"u1", "u2"}, Strict())
	require.NoError(t, err)

	var (
		current, maxSeen int32
		holders          = map[string]string{}
		duplicates       []string
		lock             sync.Mutex
		wg               sync.WaitGroup
	)
	for i := 0; i < 5; i++ {
		owner := fmt.Sprintf("context-%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			item, err := p.Acquire(context.Background(), owner)
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&current, 1)
			for {
				m := atomic.LoadInt32(&maxSeen)
				if n <= m || atomic.CompareAndSwapInt32(&maxSeen, m, n) {
					break
				}
			}
			lock.Lock()
			if other, taken := holders[item]; taken {
				duplicates = append(duplicates, fmt.Sprintf("%s held by %s and %s", item, other, owner))
			}
			holders[item] = owner
			lock.Unlock()

			time.Sleep(20 * time.Millisecond)

			lock.Lock()
			delete(holders, item)
			lock.Unlock()
			atomic.AddInt32(&current, -1)
			assert.NoError(t, p.Release(owner))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(2), maxSeen)
	assert.Empty(t, duplicates)
	assert.Equal(t, Stats{Size: 2, Available: 2, Leased: 0}, p.Stats())
}

func TestCountsAreConservedUnderRandomOperations(t *testing.T) {
	p, err := New([]string{"u1", "u2", "u3"}, AcquireTimeout(time.Millisecond))
	require.NoError(t, err)
	owners := []string{"a", "b", "c", "d", "e"}
	rnd := rand.New(rand.NewSource(1))

	for i := 0; i < 300; i++ {
		owner := owners[rnd.Intn(len(owners))]
		if rnd.Intn(2) == 0 {
			_, _ = p.Acquire(context.Background(), owner)
		} else {
			_ = p.Release(owner)
		}
		requireConserved(t, p)
	}
}

func TestReleaseWithNothingOwnedIsANoOp(t *testing.T) {
	p, err := New([]string{"u1", "u2"})
	require.NoError(t, err)
	_, err = p.Acquire(context.Background(), "a")
	require.NoError(t, err)
	before := p.Stats()

	err = p.Release("fresh")
	assert.True(t, errors.Is(err, ErrNotLeased))
	assert.Equal(t, before, p.Stats())
}

func TestStrictPoolPanicsOnUnmatchedRelease(t *testing.T) {
	p, err := New([]string{"u1"}, Strict())
	require.NoError(t, err)
	assert.Panics(t, func() { _ = p.Release("nobody") })
	assert.Equal(t, Stats{Size: 1, Available: 1}, p.Stats())
}

func TestReleasedItemCanBeAcquiredByAnotherOwner(t *testing.T) {
	p, err := New([]string{"u1"})
	require.NoError(t, err)

	item, err := p.Acquire(context.Background(), "a")
	require.NoError(t, err)
	require.Equal(t, "u1", item)
	require.NoError(t, p.Release("a"))

	item, err = p.Acquire(context.Background(), "b")
	require.NoError(t, err)
	assert.Equal(t, "u1", item)
	owned, ok := p.Owned("b")
	assert.True(t, ok)
	assert.Equal(t, "u1", owned)
	_, ok = p.Owned("a")
	assert.False(t, ok)
}

func TestReleasedItemGoesToTheBackOfTheQueue(t *testing.T) {
	p, err := New([]string{"u1", "u2"})
	require.NoError(t, err)

	first, _ := p.Acquire(context.Background(), "a")
	require.NoError(t, p.Release("a"))
	second, _ := p.Acquire(context.Background(), "b")
	third, _ := p.Acquire(context.Background(), "c")

	assert.Equal(t, "u1", first)
	assert.Equal(t, "u2", second)
	assert.Equal(t, "u1", third)
}

func TestAcquireByCurrentHolderFails(t *testing.T) {
	p, err := New([]string{"u1", "u2"})
	require.NoError(t, err)
	_, err = p.Acquire(context.Background(), "a")
	require.NoError(t, err)

	_, err = p.Acquire(context.Background(), "a")
	assert.True(t, errors.Is(err, ErrAlreadyLeased))
	assert.Equal(t, Stats{Size: 2, Available: 1, Leased: 1}, p.Stats())
}

func TestAcquireTimesOutWhenPoolIsExhausted(t *testing.T) {
	p, err := New([]string{"u1"}, AcquireTimeout(50*time.Millisecond))
	require.NoError(t, err)
	_, err = p.Acquire(context.Background(), "a")
	require.NoError(t, err)

	started := time.Now()
	_, err = p.Acquire(context.Background(), "b")
	elapsed := time.Since(started)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrExhausted))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	var exhausted *ExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, "b", exhausted.Owner)
	assert.Equal(t, 1, exhausted.Size)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Equal(t, Stats{Size: 1, Available: 0, Leased: 1}, p.Stats())
}

func TestAcquireStopsWhenContextIsCancelled(t *testing.T) {
	p, err := New([]string{"u1"})
	require.NoError(t, err)
	_, err = p.Acquire(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := p.Acquire(ctx, "b")
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, ErrExhausted))
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(time.Second):
		require.Fail(t, "Acquire did not return after its context was cancelled")
	}
}

func TestBlockedAcquirersAreServedInOrder(t *testing.T) {
	p, err := New([]string{"u1"})
	require.NoError(t, err)
	_, err = p.Acquire(context.Background(), "holder")
	require.NoError(t, err)

	served := make(chan string, 2)
	for _, owner := range []string{"first", "second"} {
		owner := owner
		go func() {
			if _, err := p.Acquire(context.Background(), owner); err == nil {
				served <- owner
				time.Sleep(10 * time.Millisecond)
				_ = p.Release(owner)
			}
		}()
		time.Sleep(30 * time.Millisecond) // let this waiter queue up before the next one
	}

	require.NoError(t, p.Release("holder"))
	assert.Equal(t, "first", <-served)
	assert.Equal(t, "second", <-served)
}
