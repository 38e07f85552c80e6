package trade

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"options-core/internal/account"
	"options-core/internal/assets"
	"options-core/internal/events"
	"options-core/internal/market"
	"options-core/internal/monitor"
	"options-core/pkg/db"

	"github.com/google/uuid"
)

// Config bounds trade placement and tunes settlement.
type Config struct {
	MinAmount   float64
	MaxAmount   float64
	MinDuration time.Duration
	MaxDuration time.Duration

	// DefaultPayout applies when the asset carries no payout of its own.
	DefaultPayout float64

	// RequireLiveSettlement makes real-account trades wait for a live exit
	// quote before settling against simulated data.
	RequireLiveSettlement bool
	// SettleGraceIntervals is how many refresh intervals to wait for one.
	SettleGraceIntervals int

	// Tick is the scheduler resolution; 100ms keeps countdowns smooth.
	Tick time.Duration
}

// PlaceRequest describes a trade the user wants to open.
type PlaceRequest struct {
	UserID    string
	Symbol    string
	Direction string
	Account   string
	Amount    float64
	Duration  time.Duration
}

// Engine owns the trade lifecycle: placement, countdown and one-shot
// settlement against the price service.
type Engine struct {
	cfg      Config
	db       *db.Database
	accounts *account.Manager
	prices   *market.Service
	catalog  *assets.Catalog
	bus      *events.Bus
	metrics  *monitor.SystemMetrics

	mu   sync.Mutex
	open map[string]*openTrade
	// reserved holds user+account slots mid-placement, before the trade
	// reaches the open map.
	reserved map[string]struct{}
}

// NewEngine wires the trade engine.
func NewEngine(cfg Config, database *db.Database, accounts *account.Manager, prices *market.Service, catalog *assets.Catalog, bus *events.Bus, metrics *monitor.SystemMetrics) *Engine {
	if cfg.Tick <= 0 {
		cfg.Tick = 100 * time.Millisecond
	}
	if cfg.DefaultPayout <= 0 {
		cfg.DefaultPayout = 0.85
	}
	if cfg.SettleGraceIntervals < 0 {
		cfg.SettleGraceIntervals = 0
	}
	return &Engine{
		cfg:      cfg,
		db:       database,
		accounts: accounts,
		prices:   prices,
		catalog:  catalog,
		bus:      bus,
		metrics:  metrics,
		open:     make(map[string]*openTrade),
		reserved: make(map[string]struct{}),
	}
}

// Recover reloads pending trades from the DB so settlement survives a
// restart instead of dying with the process that placed them.
func (e *Engine) Recover(ctx context.Context) error {
	pending, err := e.db.ListPendingTrades(ctx)
	if err != nil {
		return fmt.Errorf("list pending trades: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, t := range pending {
		e.open[t.ID] = &openTrade{t: t}
		e.prices.Subscribe(t.Symbol)
	}
	if len(pending) > 0 {
		log.Printf("[TRADE] recovered %d pending trades", len(pending))
	}
	return nil
}

// Place validates the request, debits the stake and opens a pending trade.
// The stake leaves the balance immediately and comes back only through a
// winning settlement.
func (e *Engine) Place(ctx context.Context, req PlaceRequest) (*db.Trade, error) {
	if req.Direction != db.DirectionUp && req.Direction != db.DirectionDown {
		return nil, ErrInvalidDirection
	}
	if req.Account != db.AccountDemo && req.Account != db.AccountReal {
		return nil, ErrInvalidAccount
	}
	if req.Amount < e.cfg.MinAmount || req.Amount > e.cfg.MaxAmount {
		return nil, fmt.Errorf("%w: must be between %.2f and %.2f", ErrInvalidAmount, e.cfg.MinAmount, e.cfg.MaxAmount)
	}
	if req.Duration < e.cfg.MinDuration || req.Duration > e.cfg.MaxDuration {
		return nil, fmt.Errorf("%w: must be between %s and %s", ErrInvalidDuration, e.cfg.MinDuration, e.cfg.MaxDuration)
	}

	asset, ok := e.catalog.BySymbol(req.Symbol)
	if !ok {
		return nil, ErrUnknownAsset
	}
	if !asset.IsActive {
		return nil, ErrAssetInactive
	}

	// Reserve the user+account slot before the quote fetch and debit so a
	// concurrent Place for the same slot fails here instead of opening a
	// second pending trade.
	key := req.UserID + ":" + req.Account
	e.mu.Lock()
	if _, busy := e.reserved[key]; busy || e.hasOpenLocked(req.UserID, req.Account) {
		e.mu.Unlock()
		return nil, ErrTradePending
	}
	e.reserved[key] = struct{}{}
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.reserved, key)
		e.mu.Unlock()
	}()

	quote, err := e.prices.Quote(ctx, req.Symbol)
	if err != nil {
		return nil, fmt.Errorf("price for %s: %w", req.Symbol, err)
	}

	// Debit first; a failed debit means no trade row is ever created.
	if err := e.accounts.Debit(ctx, req.UserID, req.Account, req.Amount); err != nil {
		return nil, err
	}

	payout := asset.Payout
	if payout <= 0 {
		payout = e.cfg.DefaultPayout
	}
	now := time.Now()
	t := db.Trade{
		ID:          uuid.NewString(),
		UserID:      req.UserID,
		Symbol:      req.Symbol,
		Direction:   req.Direction,
		Account:     req.Account,
		Amount:      req.Amount,
		EntryPrice:  quote.Price,
		EntrySource: quote.Source,
		Payout:      payout,
		Status:      db.TradePending,
		PlacedAt:    now,
		ExpiresAt:   now.Add(req.Duration),
	}
	if err := e.db.CreateTrade(ctx, t); err != nil {
		// Compensate the debit so a persistence failure does not eat the stake.
		if refundErr := e.accounts.Credit(ctx, req.UserID, req.Account, req.Amount); refundErr != nil {
			log.Printf("[TRADE] refund after failed create for %s: %v", req.UserID, refundErr)
		}
		return nil, fmt.Errorf("create trade: %w", err)
	}

	e.mu.Lock()
	e.open[t.ID] = &openTrade{t: t}
	e.mu.Unlock()
	e.prices.Subscribe(t.Symbol)

	if e.metrics != nil {
		e.metrics.IncrementTradesOpened()
	}
	if e.bus != nil {
		e.bus.Publish(events.EventTradeOpened, t)
	}
	log.Printf("[TRADE] opened %s %s %s stake=%.2f entry=%.6f (%s) expires=%s",
		t.ID[:8], t.Symbol, t.Direction, t.Amount, t.EntryPrice, t.EntrySource, t.ExpiresAt.Format(time.RFC3339))
	return &t, nil
}

// Open returns the pending trades for a user, newest first is not needed;
// there is at most one per account type.
func (e *Engine) Open(userID string) []db.Trade {
	e.mu.Lock()
	defer e.mu.Unlock()
	var res []db.Trade
	for _, o := range e.open {
		t := o.snapshot()
		if t.UserID == userID {
			res = append(res, t)
		}
	}
	return res
}

// hasOpenLocked reports whether a pending trade exists for the slot;
// callers must hold e.mu.
func (e *Engine) hasOpenLocked(userID, accountType string) bool {
	for _, o := range e.open {
		t := o.snapshot()
		if t.UserID == userID && t.Account == accountType {
			return true
		}
	}
	return false
}

// Start runs the settlement scheduler until ctx is cancelled.
func (e *Engine) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(e.cfg.Tick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				e.sweep(ctx, now)
			}
		}
	}()
}

// sweep settles every open trade whose countdown has reached zero.
func (e *Engine) sweep(ctx context.Context, now time.Time) {
	e.mu.Lock()
	var due []*openTrade
	for _, o := range e.open {
		t := o.snapshot()
		if !now.Before(t.ExpiresAt) && (o.nextTry.IsZero() || !now.Before(o.nextTry)) {
			due = append(due, o)
		}
	}
	e.mu.Unlock()

	for _, o := range due {
		e.settle(ctx, o, now)
	}
}

// settle resolves one expired trade. The exit price is the freshest
// cached/live quote at the moment the timer fires, so it may lag the exact
// expiry instant by up to one refresh interval.
func (e *Engine) settle(ctx context.Context, o *openTrade, now time.Time) {
	t := o.snapshot()

	quote, err := e.prices.Quote(ctx, t.Symbol)
	if err != nil {
		log.Printf("[TRADE] settle %s: quote: %v", t.ID[:8], err)
		o.mu.Lock()
		o.nextTry = now.Add(e.prices.RefreshInterval())
		o.mu.Unlock()
		return
	}

	// Real-money trades prefer a live exit quote; wait up to the grace
	// window for one before accepting simulated data.
	if t.Account == db.AccountReal && e.cfg.RequireLiveSettlement && quote.Source == market.SourceSimulated {
		o.mu.Lock()
		if o.simRetries < e.cfg.SettleGraceIntervals {
			o.simRetries++
			o.nextTry = now.Add(e.prices.RefreshInterval())
			o.mu.Unlock()
			return
		}
		o.mu.Unlock()
		log.Printf("[TRADE] settle %s: no live quote after %d retries, settling against simulated price", t.ID[:8], e.cfg.SettleGraceIntervals)
	}

	result := Outcome(t.Direction, t.EntryPrice, quote.Price)
	if err := o.transition(result); err != nil {
		// Already settled by a concurrent sweep; nothing to do.
		return
	}

	var profit float64
	if result == db.TradeWon {
		profit = t.Amount * t.Payout
	} else {
		profit = -t.Amount
	}

	if err := e.db.SettleTrade(ctx, t.ID, result, quote.Price, quote.Source, profit, now); err != nil {
		if errors.Is(err, db.ErrNotPending) {
			// The row was settled by another writer; the durable CAS wins,
			// so no credit and no settled event from this path.
			e.mu.Lock()
			delete(e.open, t.ID)
			e.mu.Unlock()
			e.prices.Unsubscribe(t.Symbol)
			log.Printf("[TRADE] settle %s: row already settled, skipping", t.ID[:8])
			return
		}
		log.Printf("[TRADE] persist settlement %s: %v", t.ID[:8], err)
		if e.metrics != nil {
			e.metrics.IncrementErrors()
		}
	}

	// Wins return the stake plus the payout; losses were debited at
	// placement, so no further balance mutation happens here.
	if result == db.TradeWon {
		credit := t.Amount * (1 + t.Payout)
		if err := e.accounts.Credit(ctx, t.UserID, t.Account, credit); err != nil {
			log.Printf("[TRADE] credit win %s: %v", t.ID[:8], err)
			if e.metrics != nil {
				e.metrics.IncrementErrors()
			}
		}
	}

	e.mu.Lock()
	delete(e.open, t.ID)
	e.mu.Unlock()
	e.prices.Unsubscribe(t.Symbol)

	settled := o.snapshot()
	settled.ExitPrice = quote.Price
	settled.ExitSource = quote.Source
	settled.Profit = profit
	settled.SettledAt = now

	if e.metrics != nil {
		e.metrics.IncrementTradesSettled()
	}
	if e.bus != nil {
		e.bus.Publish(events.EventTradeSettled, settled)
	}
	log.Printf("[TRADE] settled %s %s entry=%.6f exit=%.6f (%s) profit=%.2f",
		t.ID[:8], result, t.EntryPrice, quote.Price, quote.Source, profit)
}
