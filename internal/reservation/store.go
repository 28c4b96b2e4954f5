package reservation

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store holds the live set of reservations, sharded by product so that
// traffic on unrelated products never contends. Each product owns a bucket
// with its own mutex; the store-level RWMutex guards only the bucket
// directory and the id index, never the records themselves.
//
// The store is process-local and non-persistent. A restart drops all holds,
// which is acceptable: they are advisory capacity-shaping, not committed
// inventory.
type Store struct {
	mu      sync.RWMutex
	buckets map[int64]*bucket
	byID    map[string]int64 // reservation id -> product id

	ttl time.Duration
	now func() time.Time
}

type bucket struct {
	mu      sync.Mutex
	records map[string]*Reservation
	// gone is set when the sweep removes an emptied bucket from the
	// directory; a writer that raced the removal must fetch a fresh bucket.
	gone bool
}

// NewStore creates a reservation store. A non-positive ttl falls back to
// DefaultTTL.
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		buckets: make(map[int64]*bucket),
		byID:    make(map[string]int64),
		ttl:     ttl,
		now:     time.Now,
	}
}

// TTL returns the configured hold duration.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Reserve inserts a new hold for the given product and owner and returns its
// id. Quantity must be positive and exactly one owner side must be set.
//
// No check against total stock happens here: callers consult AvailableStock
// first, and concurrent callers may still double-book. The checkout commit
// path is the sole authority on real inventory.
func (s *Store) Reserve(productID int64, quantity int, owner Owner) (string, error) {
	if quantity <= 0 {
		return "", ErrInvalidQuantity
	}
	if !owner.valid() {
		return "", ErrInvalidOwner
	}

	now := s.now()
	rec := &Reservation{
		ID:        uuid.New().String(),
		ProductID: productID,
		Quantity:  quantity,
		UserID:    owner.UserID,
		SessionID: owner.SessionID,
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}

	// The id index is registered first: the sweep only unindexes ids it
	// actually removed from a bucket, so a hold between index and insert can
	// never leave a dangling entry.
	s.mu.Lock()
	s.byID[rec.ID] = productID
	s.mu.Unlock()

	for {
		b := s.getOrCreateBucket(productID)
		b.mu.Lock()
		if b.gone {
			// the sweep dropped this bucket while we weren't holding its
			// lock; fetch a fresh one
			b.mu.Unlock()
			continue
		}
		b.records[rec.ID] = rec
		b.mu.Unlock()
		break
	}

	return rec.ID, nil
}

// Update replaces the quantity of an existing hold and refreshes its expiry.
// Returns false when the hold has expired, been released or never existed;
// that is a benign no-op, not an error.
func (s *Store) Update(id string, quantity int) (bool, error) {
	if quantity <= 0 {
		return false, ErrInvalidQuantity
	}

	b := s.bucketFor(id)
	if b == nil {
		return false, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.records[id]
	if !ok || !rec.active(s.now()) {
		return false, nil
	}
	rec.Quantity = quantity
	rec.ExpiresAt = s.now().Add(s.ttl)
	return true, nil
}

// Renew pushes the hold's expiry out to now + TTL. Returns false when the
// hold is gone or already expired.
func (s *Store) Renew(id string) bool {
	b := s.bucketFor(id)
	if b == nil {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.records[id]
	if !ok || !rec.active(s.now()) {
		return false
	}
	rec.ExpiresAt = s.now().Add(s.ttl)
	return true
}

// Release removes the hold. Idempotent: releasing an already-gone or expired
// hold returns false.
func (s *Store) Release(id string) bool {
	b := s.bucketFor(id)
	if b == nil {
		return false
	}

	b.mu.Lock()
	rec, ok := b.records[id]
	if ok {
		delete(b.records, id)
	}
	b.mu.Unlock()

	if !ok {
		return false
	}

	s.mu.Lock()
	delete(s.byID, id)
	s.mu.Unlock()

	// An expired record was already inactive; removing it is just cleanup
	// the sweep would have done.
	return rec.active(s.now())
}

// Confirm links the hold to a created order. A confirmed hold leaves
// availability accounting and is never reaped, but is also never separately
// used to decrement stock. The link is set at most once.
func (s *Store) Confirm(id string, orderID int64) bool {
	if orderID == 0 {
		return false
	}

	b := s.bucketFor(id)
	if b == nil {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.records[id]
	if !ok || !rec.active(s.now()) {
		return false
	}
	rec.ConfirmedOrderID = orderID
	return true
}

// Get returns a copy of an active hold. Expired or confirmed holds report
// not found, matching the behavior of the mutating operations.
func (s *Store) Get(id string) (Reservation, bool) {
	b := s.bucketFor(id)
	if b == nil {
		return Reservation{}, false
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.records[id]
	if !ok || !rec.active(s.now()) {
		return Reservation{}, false
	}
	return *rec, true
}

// ReservedQuantity sums the quantities of active holds for a product. Expired
// but not-yet-reaped records are excluded, so the sweep falling behind never
// inflates the figure.
func (s *Store) ReservedQuantity(productID int64) int {
	s.mu.RLock()
	b := s.buckets[productID]
	s.mu.RUnlock()
	if b == nil {
		return 0
	}

	now := s.now()
	total := 0
	b.mu.Lock()
	for _, rec := range b.records {
		if rec.active(now) {
			total += rec.Quantity
		}
	}
	b.mu.Unlock()
	return total
}

// AvailableStock derives available-to-reserve stock from an externally
// supplied total. The store has no knowledge of true inventory; the figure
// can be stale the instant it is read and is advisory only.
func (s *Store) AvailableStock(productID int64, totalStock int) int {
	available := totalStock - s.ReservedQuantity(productID)
	if available < 0 {
		return 0
	}
	return available
}

// IsAvailable reports whether the given quantity could be reserved right now.
func (s *Store) IsAvailable(productID int64, quantity, totalStock int) bool {
	return s.AvailableStock(productID, totalStock) >= quantity
}

// ByOwner returns copies of the active holds belonging to an authenticated
// user.
func (s *Store) ByOwner(userID int64) []Reservation {
	return s.collect(func(r *Reservation) bool { return r.UserID == userID })
}

// BySession returns copies of the active holds belonging to an anonymous
// session.
func (s *Store) BySession(sessionID string) []Reservation {
	return s.collect(func(r *Reservation) bool { return r.SessionID == sessionID })
}

func (s *Store) collect(match func(*Reservation) bool) []Reservation {
	s.mu.RLock()
	buckets := make([]*bucket, 0, len(s.buckets))
	for _, b := range s.buckets {
		buckets = append(buckets, b)
	}
	s.mu.RUnlock()

	now := s.now()
	var out []Reservation
	for _, b := range buckets {
		b.mu.Lock()
		for _, rec := range b.records {
			if rec.active(now) && match(rec) {
				out = append(out, *rec)
			}
		}
		b.mu.Unlock()
	}
	return out
}

// ActiveCount returns the number of active holds across all products.
func (s *Store) ActiveCount() int {
	return len(s.collect(func(*Reservation) bool { return true }))
}

// Sweep removes expired, unconfirmed holds one bucket at a time and drops
// buckets that end up empty, so transient products and sessions do not grow
// the key space without bound. Foreground operations on other products are
// never blocked. Returns the number of removed records.
func (s *Store) Sweep() int {
	s.mu.RLock()
	type entry struct {
		pid int64
		b   *bucket
	}
	entries := make([]entry, 0, len(s.buckets))
	for pid, b := range s.buckets {
		entries = append(entries, entry{pid, b})
	}
	s.mu.RUnlock()

	removed := 0
	for _, e := range entries {
		removed += s.sweepBucket(e.pid, e.b)
	}
	return removed
}

func (s *Store) sweepBucket(productID int64, b *bucket) int {
	now := s.now()

	b.mu.Lock()
	var removed []string
	for id, rec := range b.records {
		if rec.ConfirmedOrderID == 0 && !rec.ExpiresAt.After(now) {
			delete(b.records, id)
			removed = append(removed, id)
		}
	}
	empty := len(b.records) == 0
	b.mu.Unlock()

	if len(removed) == 0 && !empty {
		return 0
	}

	s.mu.Lock()
	for _, id := range removed {
		delete(s.byID, id)
	}
	if empty {
		// Re-check under both locks: a concurrent Reserve may have landed a
		// record since the bucket looked empty.
		b.mu.Lock()
		if len(b.records) == 0 && s.buckets[productID] == b {
			b.gone = true
			delete(s.buckets, productID)
		}
		b.mu.Unlock()
	}
	s.mu.Unlock()

	return len(removed)
}

func (s *Store) getOrCreateBucket(productID int64) *bucket {
	s.mu.RLock()
	b := s.buckets[productID]
	s.mu.RUnlock()
	if b != nil {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b = s.buckets[productID]; b == nil {
		b = &bucket{records: make(map[string]*Reservation)}
		s.buckets[productID] = b
	}
	return b
}

func (s *Store) bucketFor(id string) *bucket {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pid, ok := s.byID[id]
	if !ok {
		return nil
	}
	return s.buckets[pid]
}
