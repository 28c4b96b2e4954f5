package service

import (
	"context"
	"testing"
	"time"

	"github.com/DanielKano/otaku-shop-sub000/internal/reservation"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newBareReservationService() *ReservationService {
	return &ReservationService{
		reservations: reservation.NewStore(15 * time.Minute),
		logger:       zap.NewNop(),
	}
}

func TestReserveRejectsInvalidQuantityBeforeCatalogLookup(t *testing.T) {
	// no store or redis wired: the quantity check must fire first
	rs := newBareReservationService()

	_, granted, err := rs.Reserve(context.Background(), 1, 0, reservation.Owner{UserID: 42})
	assert.ErrorIs(t, err, reservation.ErrInvalidQuantity)
	assert.False(t, granted)
}

func TestHoldLifecycleThroughService(t *testing.T) {
	rs := newBareReservationService()
	ctx := context.Background()

	id, err := rs.reservations.Reserve(7, 2, reservation.Owner{SessionID: "sess-a"})
	require.NoError(t, err)

	ok, err := rs.Update(ctx, id, 4)
	require.NoError(t, err)
	assert.True(t, ok)

	rec, found := rs.Get(ctx, id)
	require.True(t, found)
	assert.Equal(t, 4, rec.Quantity)

	assert.True(t, rs.Renew(ctx, id))
	assert.True(t, rs.Release(ctx, id))
	assert.False(t, rs.Release(ctx, id))

	assert.Empty(t, rs.ForSession(ctx, "sess-a"))
}

func TestForOwnerAndForSession(t *testing.T) {
	rs := newBareReservationService()
	ctx := context.Background()

	_, err := rs.reservations.Reserve(1, 2, reservation.Owner{UserID: 42})
	require.NoError(t, err)
	_, err = rs.reservations.Reserve(2, 1, reservation.Owner{SessionID: "sess-a"})
	require.NoError(t, err)

	assert.Len(t, rs.ForOwner(ctx, 42), 1)
	assert.Len(t, rs.ForSession(ctx, "sess-a"), 1)
	assert.Empty(t, rs.ForOwner(ctx, 7))
}

func TestReserveAgainstLiveCatalog(t *testing.T) {
	t.Skip("Integration test - requires database and redis")
}
