package trade

import (
	"errors"
	"sync"
	"time"

	"options-core/pkg/db"
)

var (
	ErrAlreadySettled   = errors.New("trade already settled")
	ErrTradePending     = errors.New("a pending trade already exists for this account")
	ErrUnknownAsset     = errors.New("unknown asset")
	ErrAssetInactive    = errors.New("asset is not tradable")
	ErrInvalidDirection = errors.New("direction must be up or down")
	ErrInvalidAccount   = errors.New("account must be demo or real")
	ErrInvalidAmount    = errors.New("invalid trade amount")
	ErrInvalidDuration  = errors.New("invalid trade duration")
)

// Outcome decides the result of an expired trade. Strict ties lose: an up
// trade wins only when exit > entry, a down trade only when exit < entry.
func Outcome(direction string, entry, exit float64) string {
	switch direction {
	case db.DirectionUp:
		if exit > entry {
			return db.TradeWon
		}
	case db.DirectionDown:
		if exit < entry {
			return db.TradeWon
		}
	}
	return db.TradeLost
}

// Remaining returns the time left until expiry, clamped at zero.
func Remaining(t db.Trade, now time.Time) time.Duration {
	d := t.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Progress returns the elapsed fraction of a trade's lifetime in [0,1].
func Progress(t db.Trade, now time.Time) float64 {
	total := t.ExpiresAt.Sub(t.PlacedAt)
	if total <= 0 {
		return 1
	}
	p := float64(now.Sub(t.PlacedAt)) / float64(total)
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// openTrade is a pending trade tracked by the engine. The status transition
// is a guarded swap on the status field: the PENDING -> WON|LOST move
// happens at most once and a second attempt is a checked error, not a
// silently ignored flag.
type openTrade struct {
	mu sync.Mutex
	t  db.Trade

	// settlement retry bookkeeping for live-quote grace
	simRetries int
	nextTry    time.Time
}

// transition performs the one-shot PENDING -> status move.
func (o *openTrade) transition(status string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.t.Status != db.TradePending {
		return ErrAlreadySettled
	}
	o.t.Status = status
	return nil
}

// snapshot returns a copy of the trade under the lock.
func (o *openTrade) snapshot() db.Trade {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.t
}
