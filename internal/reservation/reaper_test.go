package reservation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReaperRemovesExpiredHolds(t *testing.T) {
	s := NewStore(10 * time.Millisecond)
	reaper := NewReaper(s, 10*time.Millisecond)

	_, err := s.Reserve(1, 2, Owner{UserID: 42})
	require.NoError(t, err)
	confirmedID, err := s.Reserve(2, 1, Owner{SessionID: "sess-a"})
	require.NoError(t, err)
	require.True(t, s.Confirm(confirmedID, 777))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go reaper.Start(ctx)
	defer reaper.Stop()

	assert.Eventually(t, func() bool {
		s.mu.RLock()
		defer s.mu.RUnlock()
		_, present := s.buckets[1]
		return !present
	}, time.Second, 5*time.Millisecond, "expired hold should be swept")

	// the confirmed hold is never reaped
	s.mu.RLock()
	b := s.buckets[2]
	s.mu.RUnlock()
	require.NotNil(t, b)
	b.mu.Lock()
	assert.Len(t, b.records, 1)
	b.mu.Unlock()
}

func TestReaperStop(t *testing.T) {
	s := NewStore(DefaultTTL)
	reaper := NewReaper(s, 5*time.Millisecond)

	go reaper.Start(context.Background())
	time.Sleep(20 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		reaper.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop")
	}
}

func TestReaperDefaultInterval(t *testing.T) {
	reaper := NewReaper(NewStore(DefaultTTL), 0)
	assert.Equal(t, DefaultSweepInterval, reaper.interval)
}
