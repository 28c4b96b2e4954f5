package reservation

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ownerUser(id int64) Owner     { return Owner{UserID: id} }
func ownerSession(id string) Owner { return Owner{SessionID: id} }

// fakeClock pins the store's notion of now so expiry can be tested without
// sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(ttl time.Duration) (*Store, *fakeClock) {
	s := NewStore(ttl)
	clock := newFakeClock()
	s.now = clock.Now
	return s, clock
}

func TestReserveRejectsInvalidQuantity(t *testing.T) {
	s, _ := newTestStore(DefaultTTL)

	for _, qty := range []int{0, -1, -100} {
		id, err := s.Reserve(1, qty, ownerUser(42))
		assert.ErrorIs(t, err, ErrInvalidQuantity)
		assert.Empty(t, id)
	}

	assert.Equal(t, 0, s.ReservedQuantity(1), "rejected reserve must not create a record")
}

func TestReserveRejectsInvalidOwner(t *testing.T) {
	s, _ := newTestStore(DefaultTTL)

	_, err := s.Reserve(1, 2, Owner{})
	assert.ErrorIs(t, err, ErrInvalidOwner)

	_, err = s.Reserve(1, 2, Owner{UserID: 7, SessionID: "sess-1"})
	assert.ErrorIs(t, err, ErrInvalidOwner)
}

func TestReservedQuantitySumsActiveHolds(t *testing.T) {
	s, _ := newTestStore(DefaultTTL)

	_, err := s.Reserve(10, 4, ownerUser(1))
	require.NoError(t, err)
	_, err = s.Reserve(10, 5, ownerSession("sess-b"))
	require.NoError(t, err)
	_, err = s.Reserve(11, 3, ownerUser(1))
	require.NoError(t, err)

	assert.Equal(t, 9, s.ReservedQuantity(10))
	assert.Equal(t, 3, s.ReservedQuantity(11))
	assert.Equal(t, 0, s.ReservedQuantity(12))
}

func TestAdvisoryAvailabilityScenario(t *testing.T) {
	// Product with 10 units: 4 held by an owner, 5 by a session. One unit
	// remains, so 2 more are logically unavailable, but the store itself
	// still accepts the third hold: availability is advisory only.
	s, _ := newTestStore(DefaultTTL)

	_, err := s.Reserve(99, 4, ownerUser(1))
	require.NoError(t, err)
	_, err = s.Reserve(99, 5, ownerSession("sess-b"))
	require.NoError(t, err)

	assert.Equal(t, 1, s.AvailableStock(99, 10))
	assert.False(t, s.IsAvailable(99, 2, 10))
	assert.True(t, s.IsAvailable(99, 1, 10))

	id, err := s.Reserve(99, 2, ownerUser(2))
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, 11, s.ReservedQuantity(99))
	assert.Equal(t, 0, s.AvailableStock(99, 10), "never negative")
}

func TestUpdateReplacesQuantityAndRefreshesExpiry(t *testing.T) {
	s, clock := newTestStore(10 * time.Minute)

	id, err := s.Reserve(1, 2, ownerUser(42))
	require.NoError(t, err)

	clock.Advance(8 * time.Minute)
	ok, err := s.Update(id, 5)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 5, s.ReservedQuantity(1))

	// the refresh bought another full TTL
	clock.Advance(8 * time.Minute)
	assert.Equal(t, 5, s.ReservedQuantity(1))

	_, err = s.Update(id, 0)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
	assert.Equal(t, 5, s.ReservedQuantity(1))
}

func TestUpdateUnknownIDReturnsFalse(t *testing.T) {
	s, _ := newTestStore(DefaultTTL)

	ok, err := s.Update("no-such-id", 3)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReleaseIsIdempotent(t *testing.T) {
	s, _ := newTestStore(DefaultTTL)

	id, err := s.Reserve(1, 3, ownerUser(42))
	require.NoError(t, err)

	assert.True(t, s.Release(id))
	assert.Equal(t, 0, s.ReservedQuantity(1))
	assert.False(t, s.Release(id), "second release is a benign no-op")
}

func TestRenewKeepsHoldAlive(t *testing.T) {
	s, clock := newTestStore(10 * time.Minute)

	id, err := s.Reserve(1, 2, ownerUser(42))
	require.NoError(t, err)

	clock.Advance(9 * time.Minute)
	assert.True(t, s.Renew(id))

	// past the original expiry, still active thanks to the renewal
	clock.Advance(9 * time.Minute)
	assert.Equal(t, 2, s.ReservedQuantity(1))

	// but a second lapse without renewal ends it
	clock.Advance(2 * time.Minute)
	assert.Equal(t, 0, s.ReservedQuantity(1))
	assert.False(t, s.Renew(id))
}

func TestExpiredHoldExcludedBeforeSweep(t *testing.T) {
	s, clock := newTestStore(10 * time.Minute)

	id, err := s.Reserve(1, 4, ownerUser(42))
	require.NoError(t, err)

	clock.Advance(11 * time.Minute)

	// no sweep has run, yet the active filter already excludes the hold
	assert.Equal(t, 0, s.ReservedQuantity(1))
	assert.Equal(t, 10, s.AvailableStock(1, 10))

	ok, err := s.Update(id, 2)
	require.NoError(t, err)
	assert.False(t, ok, "expired hold behaves as not found")
	assert.False(t, s.Renew(id))
	assert.False(t, s.Release(id))
}

func TestSweepRemovesExpiredAndDropsEmptyBuckets(t *testing.T) {
	s, clock := newTestStore(10 * time.Minute)

	_, err := s.Reserve(1, 4, ownerUser(42))
	require.NoError(t, err)
	keepID, err := s.Reserve(2, 1, ownerSession("sess-a"))
	require.NoError(t, err)

	clock.Advance(5 * time.Minute)
	require.True(t, s.Renew(keepID))
	clock.Advance(6 * time.Minute)

	removed := s.Sweep()
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, s.ReservedQuantity(2))

	s.mu.RLock()
	_, bucketExists := s.buckets[1]
	idIndexed := len(s.byID)
	s.mu.RUnlock()
	assert.False(t, bucketExists, "emptied bucket is removed")
	assert.Equal(t, 1, idIndexed)
}

func TestConfirmExcludesFromAccountingAndSurvivesSweep(t *testing.T) {
	s, clock := newTestStore(10 * time.Minute)

	id, err := s.Reserve(1, 4, ownerUser(42))
	require.NoError(t, err)

	require.True(t, s.Confirm(id, 555))
	assert.Equal(t, 0, s.ReservedQuantity(1), "confirmed hold leaves availability accounting")

	// confirmed holds are never reaped, even long past their expiry
	clock.Advance(24 * time.Hour)
	assert.Equal(t, 0, s.Sweep())

	s.mu.RLock()
	b := s.buckets[1]
	s.mu.RUnlock()
	require.NotNil(t, b)
	b.mu.Lock()
	rec := b.records[id]
	b.mu.Unlock()
	require.NotNil(t, rec)
	assert.Equal(t, int64(555), rec.ConfirmedOrderID)

	// the link is set at most once and confirmed holds report not found
	assert.False(t, s.Confirm(id, 556))
}

func TestByOwnerAndBySessionFilterActive(t *testing.T) {
	s, clock := newTestStore(10 * time.Minute)

	_, err := s.Reserve(1, 2, ownerUser(42))
	require.NoError(t, err)
	_, err = s.Reserve(2, 3, ownerUser(42))
	require.NoError(t, err)
	staleID, err := s.Reserve(3, 1, ownerUser(42))
	require.NoError(t, err)
	_, err = s.Reserve(1, 5, ownerSession("sess-a"))
	require.NoError(t, err)

	require.Len(t, s.ByOwner(42), 3)

	bySession := s.BySession("sess-a")
	require.Len(t, bySession, 1)
	assert.Equal(t, 5, bySession[0].Quantity)
	assert.Equal(t, "sess-a", bySession[0].SessionID)

	require.True(t, s.Release(staleID))
	assert.Len(t, s.ByOwner(42), 2)

	// expired holds drop out of the listings without any sweep
	clock.Advance(11 * time.Minute)
	assert.Empty(t, s.ByOwner(42))
	assert.Empty(t, s.BySession("sess-a"))
	assert.Empty(t, s.ByOwner(777))
}

func TestGetReturnsCopyOfActiveHold(t *testing.T) {
	s, clock := newTestStore(10 * time.Minute)

	id, err := s.Reserve(1, 2, ownerUser(42))
	require.NoError(t, err)

	rec, ok := s.Get(id)
	require.True(t, ok)
	assert.Equal(t, id, rec.ID)
	assert.Equal(t, int64(1), rec.ProductID)
	assert.Equal(t, 2, rec.Quantity)
	assert.Equal(t, int64(42), rec.UserID)
	assert.True(t, rec.ExpiresAt.After(rec.CreatedAt))

	// mutating the copy must not touch the stored record
	rec.Quantity = 100
	assert.Equal(t, 2, s.ReservedQuantity(1))

	clock.Advance(11 * time.Minute)
	_, ok = s.Get(id)
	assert.False(t, ok)
}

func TestConcurrentReserveAcrossProducts(t *testing.T) {
	s, _ := newTestStore(DefaultTTL)

	const products = 8
	const perProduct = 50

	var wg sync.WaitGroup
	for p := int64(1); p <= products; p++ {
		for i := 0; i < perProduct; i++ {
			wg.Add(1)
			go func(pid int64, n int) {
				defer wg.Done()
				_, err := s.Reserve(pid, 1, ownerSession(fmt.Sprintf("sess-%d-%d", pid, n)))
				assert.NoError(t, err)
			}(p, i)
		}
	}
	wg.Wait()

	for p := int64(1); p <= products; p++ {
		assert.Equal(t, perProduct, s.ReservedQuantity(p))
	}
	assert.Equal(t, products*perProduct, s.ActiveCount())
}

func TestConcurrentReserveAndReleaseSameProduct(t *testing.T) {
	s, _ := newTestStore(DefaultTTL)

	const pairs = 100
	ids := make(chan string, pairs)

	var wg sync.WaitGroup
	for i := 0; i < pairs; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id, err := s.Reserve(1, 2, ownerSession(fmt.Sprintf("sess-%d", n)))
			assert.NoError(t, err)
			ids <- id
		}(i)
	}
	wg.Wait()
	close(ids)

	var wg2 sync.WaitGroup
	for id := range ids {
		wg2.Add(1)
		go func(id string) {
			defer wg2.Done()
			assert.True(t, s.Release(id))
		}(id)
	}
	wg2.Wait()

	assert.Equal(t, 0, s.ReservedQuantity(1))
}

func TestConcurrentSweepWithForegroundTraffic(t *testing.T) {
	// real clock and a nanosecond TTL: every hold is expired by the time
	// anyone looks at it
	s := NewStore(time.Nanosecond)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				s.Sweep()
			}
		}
	}()

	for i := 0; i < 500; i++ {
		_, err := s.Reserve(int64(i%4), 1, ownerSession(fmt.Sprintf("sess-%d", i)))
		require.NoError(t, err)
	}
	close(stop)
	wg.Wait()

	s.Sweep()
	assert.Equal(t, 0, s.ActiveCount())
	s.mu.RLock()
	assert.Empty(t, s.buckets)
	assert.Empty(t, s.byID)
	s.mu.RUnlock()
}

func TestDefaultTTLApplied(t *testing.T) {
	s := NewStore(0)
	assert.Equal(t, DefaultTTL, s.TTL())

	s = NewStore(5 * time.Minute)
	assert.Equal(t, 5*time.Minute, s.TTL())
}
