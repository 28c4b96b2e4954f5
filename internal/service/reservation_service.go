package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/DanielKano/otaku-shop-sub000/internal/redisclient"
	"github.com/DanielKano/otaku-shop-sub000/internal/reservation"
	"github.com/DanielKano/otaku-shop-sub000/internal/store"
	"github.com/DanielKano/otaku-shop-sub000/internal/util"
)

// ReservationService is the request-facing surface over the in-memory
// reservation store. It pairs the store with the product catalog: total
// stock comes from the database (cached in Redis), availability comes from
// the store's accounting.
type ReservationService struct {
	reservations *reservation.Store
	store        *store.Store
	redis        *redisclient.Client
	cacheTTL     time.Duration
	logger       *zap.Logger
}

// NewReservationService creates a new reservation service
func NewReservationService(
	reservations *reservation.Store,
	store *store.Store,
	redis *redisclient.Client,
	cacheTTL time.Duration,
) *ReservationService {
	return &ReservationService{
		reservations: reservations,
		store:        store,
		redis:        redis,
		cacheTTL:     cacheTTL,
		logger:       util.GetLogger(),
	}
}

// Availability is a point-in-time availability snapshot for one product. It
// is advisory and can be stale the instant it is read.
type Availability struct {
	ProductID  int64 `json:"product_id"`
	TotalStock int   `json:"total_stock"`
	Reserved   int   `json:"reserved"`
	Available  int   `json:"available"`
}

// Reserve grants a hold when the product currently looks available. The
// grant is advisory: a concurrent caller can win the same units, and only
// the checkout commit settles who actually buys. Returns the new hold and
// granted=false when the product looks sold out (a soft refusal, not an
// error).
func (rs *ReservationService) Reserve(ctx context.Context, productID int64, quantity int, owner reservation.Owner) (rec reservation.Reservation, granted bool, err error) {
	ctx, span := util.StartSpan(ctx, "ReservationService.Reserve")
	defer span.End()

	if quantity <= 0 {
		util.ReservationsRejectedTotal.WithLabelValues("invalid_quantity").Inc()
		return reservation.Reservation{}, false, reservation.ErrInvalidQuantity
	}

	totalStock, err := rs.totalStock(ctx, productID)
	if err != nil {
		return reservation.Reservation{}, false, err
	}

	if !rs.reservations.IsAvailable(productID, quantity, totalStock) {
		util.ReservationsRejectedTotal.WithLabelValues("unavailable").Inc()
		rs.logger.Debug("Reservation refused, product looks unavailable",
			zap.Int64("product_id", productID),
			zap.Int("quantity", quantity),
			zap.Int("total_stock", totalStock))
		return reservation.Reservation{}, false, nil
	}

	id, err := rs.reservations.Reserve(productID, quantity, owner)
	if err != nil {
		util.ReservationsRejectedTotal.WithLabelValues("invalid_owner").Inc()
		return reservation.Reservation{}, false, err
	}

	util.ReservationsCreatedTotal.Inc()

	rec, _ = rs.reservations.Get(id)
	return rec, true, nil
}

// Update changes the quantity of a hold and refreshes its expiry
func (rs *ReservationService) Update(ctx context.Context, id string, quantity int) (bool, error) {
	_, span := util.StartSpan(ctx, "ReservationService.Update")
	defer span.End()

	return rs.reservations.Update(id, quantity)
}

// Renew extends a hold by the configured TTL
func (rs *ReservationService) Renew(ctx context.Context, id string) bool {
	_, span := util.StartSpan(ctx, "ReservationService.Renew")
	defer span.End()

	ok := rs.reservations.Renew(id)
	if ok {
		util.ReservationsRenewedTotal.Inc()
	}
	return ok
}

// Release drops a hold. Releasing an already-gone hold is a benign no-op.
func (rs *ReservationService) Release(ctx context.Context, id string) bool {
	_, span := util.StartSpan(ctx, "ReservationService.Release")
	defer span.End()

	ok := rs.reservations.Release(id)
	if ok {
		util.ReservationsReleasedTotal.Inc()
	}
	return ok
}

// Get returns an active hold by id
func (rs *ReservationService) Get(ctx context.Context, id string) (reservation.Reservation, bool) {
	return rs.reservations.Get(id)
}

// AvailableStock reports the availability snapshot for a product
func (rs *ReservationService) AvailableStock(ctx context.Context, productID int64) (*Availability, error) {
	ctx, span := util.StartSpan(ctx, "ReservationService.AvailableStock")
	defer span.End()

	totalStock, err := rs.totalStock(ctx, productID)
	if err != nil {
		return nil, err
	}

	reserved := rs.reservations.ReservedQuantity(productID)
	return &Availability{
		ProductID:  productID,
		TotalStock: totalStock,
		Reserved:   reserved,
		Available:  rs.reservations.AvailableStock(productID, totalStock),
	}, nil
}

// IsStockAvailable reports whether quantity units look reservable right now
func (rs *ReservationService) IsStockAvailable(ctx context.Context, productID int64, quantity int) (bool, error) {
	totalStock, err := rs.totalStock(ctx, productID)
	if err != nil {
		return false, err
	}
	return rs.reservations.IsAvailable(productID, quantity, totalStock), nil
}

// ForOwner lists the active holds of an authenticated user
func (rs *ReservationService) ForOwner(ctx context.Context, userID int64) []reservation.Reservation {
	return rs.reservations.ByOwner(userID)
}

// ForSession lists the active holds of an anonymous session
func (rs *ReservationService) ForSession(ctx context.Context, sessionID string) []reservation.Reservation {
	return rs.reservations.BySession(sessionID)
}

// totalStock reads a product's authoritative stock, served from the Redis
// cache when warm. Cache trouble degrades to a database read rather than
// failing the request.
func (rs *ReservationService) totalStock(ctx context.Context, productID int64) (int, error) {
	stock, found, err := rs.redis.GetStock(ctx, productID)
	if err != nil {
		rs.logger.Warn("Stock cache read failed, falling back to DB",
			zap.Int64("product_id", productID),
			zap.Error(err))
	} else if found {
		return stock, nil
	}

	product, err := rs.store.GetProductByID(ctx, productID)
	if err != nil {
		return 0, err
	}

	if err := rs.redis.SetStock(ctx, productID, product.Stock, rs.cacheTTL); err != nil {
		rs.logger.Warn("Stock cache write failed",
			zap.Int64("product_id", productID),
			zap.Error(err))
	}

	return product.Stock, nil
}
