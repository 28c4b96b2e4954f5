package reservation

import (
	"errors"
	"time"
)

// DefaultTTL is how long a hold stays active without renewal.
const DefaultTTL = 15 * time.Minute

var (
	// ErrInvalidQuantity is returned when a reserve or update carries a
	// quantity <= 0. Rejected at the boundary, never stored.
	ErrInvalidQuantity = errors.New("reservation quantity must be positive")

	// ErrInvalidOwner is returned when neither or both of user id and
	// session id are set on a reserve request.
	ErrInvalidOwner = errors.New("reservation requires exactly one of user id or session id")
)

// Owner identifies who holds a reservation: an authenticated user or an
// anonymous session. Exactly one side must be set.
type Owner struct {
	UserID    int64
	SessionID string
}

func (o Owner) valid() bool {
	return (o.UserID != 0) != (o.SessionID != "")
}

// Reservation is a temporary, advisory hold of N units of one product by one
// owner. It is not binding on the authoritative stock count; the checkout
// commit path re-validates independently.
type Reservation struct {
	ID               string    `json:"id"`
	ProductID        int64     `json:"product_id"`
	Quantity         int       `json:"quantity"`
	UserID           int64     `json:"user_id,omitempty"`
	SessionID        string    `json:"session_id,omitempty"`
	ExpiresAt        time.Time `json:"expires_at"`
	ConfirmedOrderID int64     `json:"confirmed_order_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// active reports whether the hold still counts against availability:
// unexpired and not yet folded into an order.
func (r *Reservation) active(now time.Time) bool {
	return r.ConfirmedOrderID == 0 && r.ExpiresAt.After(now)
}
