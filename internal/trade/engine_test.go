package trade

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"options-core/internal/account"
	"options-core/internal/assets"
	"options-core/internal/market"
	"options-core/pkg/db"
)

// feedStub plays back a fixed price sequence for the live feed, repeating
// the last entry once exhausted.
type feedStub struct {
	mu     sync.Mutex
	prices []float64
	err    error
	delay  time.Duration
}

func (f *feedStub) GetTickerPrice(ctx context.Context, symbol string) (float64, error) {
	f.mu.Lock()
	var price float64
	if len(f.prices) > 0 {
		price = f.prices[0]
		if len(f.prices) > 1 {
			f.prices = f.prices[1:]
		}
	}
	err := f.err
	delay := f.delay
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return 0, err
	}
	return price, nil
}

func (f *feedStub) Get24hChange(ctx context.Context, symbol string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	return 0.5, nil
}

type harness struct {
	engine   *Engine
	db       *db.Database
	accounts *account.Manager
	prices   *market.Service
}

const testUser = "user-1"

func newHarness(t *testing.T, feed *feedStub) *harness {
	t.Helper()

	database, err := db.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.ApplyMigrations(database))

	ctx := context.Background()
	require.NoError(t, database.CreateUser(ctx, db.User{ID: testUser, Email: "trader@example.com", PasswordHash: "x"}))

	catalog := assets.NewCatalog(database)
	require.NoError(t, catalog.Sync(ctx, []db.Asset{
		{ID: "btc-usd", Symbol: "BTC/USD", Name: "Bitcoin", Class: market.ClassCrypto, Pair: "BTCUSDT", BasePrice: 50000, Payout: 0.85, Decimals: 2, IsActive: true},
		{ID: "halted", Symbol: "HALT/USD", Name: "Halted", Class: market.ClassCrypto, Pair: "HALTUSDT", BasePrice: 1, Payout: 0.85, Decimals: 2, IsActive: false},
	}))

	accounts := account.NewManager(database)
	require.NoError(t, accounts.Create(ctx, testUser, 1000))
	require.NoError(t, accounts.Credit(ctx, testUser, db.AccountReal, 500))

	prices := market.NewService(market.Options{
		Catalog:         catalog,
		Live:            feed,
		Simulator:       market.NewSimulator(rand.NewSource(7)),
		RefreshInterval: time.Nanosecond, // every Quote call refetches
	})

	engine := NewEngine(Config{
		MinAmount:             1,
		MaxAmount:             50000,
		MinDuration:           time.Millisecond,
		MaxDuration:           time.Hour,
		DefaultPayout:         0.85,
		RequireLiveSettlement: true,
		SettleGraceIntervals:  2,
		Tick:                  10 * time.Millisecond,
	}, database, accounts, prices, catalog, nil, nil)

	return &harness{engine: engine, db: database, accounts: accounts, prices: prices}
}

func (h *harness) openTradeByID(t *testing.T, id string) *openTrade {
	t.Helper()
	h.engine.mu.Lock()
	defer h.engine.mu.Unlock()
	o, ok := h.engine.open[id]
	require.True(t, ok, "trade %s not tracked by the engine", id)
	return o
}

func placeReq(amount float64, direction, accountType string, dur time.Duration) PlaceRequest {
	return PlaceRequest{
		UserID:    testUser,
		Symbol:    "BTC/USD",
		Direction: direction,
		Account:   accountType,
		Amount:    amount,
		Duration:  dur,
	}
}

func TestPlaceDebitsStake(t *testing.T) {
	h := newHarness(t, &feedStub{prices: []float64{50000}})
	ctx := context.Background()

	tr, err := h.engine.Place(ctx, placeReq(100, db.DirectionUp, db.AccountDemo, time.Minute))
	require.NoError(t, err)

	assert.Equal(t, db.TradePending, tr.Status)
	assert.Equal(t, 50000.0, tr.EntryPrice)
	assert.Equal(t, market.SourceLive, tr.EntrySource)
	assert.Equal(t, 0.85, tr.Payout)

	bal, err := h.accounts.Get(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, 900.0, bal.Demo)

	stored, err := h.db.GetTrade(ctx, tr.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, db.TradePending, stored.Status)
	assert.Equal(t, 1, h.prices.Subscribers("BTC/USD"))
}

func TestPlaceValidation(t *testing.T) {
	h := newHarness(t, &feedStub{prices: []float64{50000}})
	ctx := context.Background()

	tests := []struct {
		name string
		req  PlaceRequest
		want error
	}{
		{"bad direction", placeReq(100, "sideways", db.AccountDemo, time.Minute), ErrInvalidDirection},
		{"bad account", placeReq(100, db.DirectionUp, "margin", time.Minute), ErrInvalidAccount},
		{"amount below minimum", placeReq(0.5, db.DirectionUp, db.AccountDemo, time.Minute), ErrInvalidAmount},
		{"amount above maximum", placeReq(100000, db.DirectionUp, db.AccountDemo, time.Minute), ErrInvalidAmount},
		{"duration too short", placeReq(100, db.DirectionUp, db.AccountDemo, time.Microsecond), ErrInvalidDuration},
		{"duration too long", placeReq(100, db.DirectionUp, db.AccountDemo, 48 * time.Hour), ErrInvalidDuration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.engine.Place(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	t.Run("unknown asset", func(t *testing.T) {
		req := placeReq(100, db.DirectionUp, db.AccountDemo, time.Minute)
		req.Symbol = "NOPE/USD"
		_, err := h.engine.Place(ctx, req)
		assert.ErrorIs(t, err, ErrUnknownAsset)
	})
	t.Run("inactive asset", func(t *testing.T) {
		req := placeReq(100, db.DirectionUp, db.AccountDemo, time.Minute)
		req.Symbol = "HALT/USD"
		_, err := h.engine.Place(ctx, req)
		assert.ErrorIs(t, err, ErrAssetInactive)
	})

	// No debit happened and no trade row was created by any rejection.
	bal, err := h.accounts.Get(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, 1000.0, bal.Demo)
	pending, err := h.db.ListPendingTrades(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestPlaceInsufficientBalance(t *testing.T) {
	h := newHarness(t, &feedStub{prices: []float64{50000}})
	ctx := context.Background()

	_, err := h.engine.Place(ctx, placeReq(2000, db.DirectionUp, db.AccountDemo, time.Minute))
	assert.ErrorIs(t, err, account.ErrInsufficientBalance)

	bal, err := h.accounts.Get(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, 1000.0, bal.Demo)
	pending, err := h.db.ListPendingTrades(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestPlaceOnePendingPerAccount(t *testing.T) {
	h := newHarness(t, &feedStub{prices: []float64{50000}})
	ctx := context.Background()

	_, err := h.engine.Place(ctx, placeReq(100, db.DirectionUp, db.AccountDemo, time.Minute))
	require.NoError(t, err)

	_, err = h.engine.Place(ctx, placeReq(100, db.DirectionDown, db.AccountDemo, time.Minute))
	assert.ErrorIs(t, err, ErrTradePending)

	// The other account type is still free.
	_, err = h.engine.Place(ctx, placeReq(50, db.DirectionUp, db.AccountReal, time.Minute))
	assert.NoError(t, err)
}

func TestPlaceConcurrentOpensSingleTrade(t *testing.T) {
	h := newHarness(t, &feedStub{prices: []float64{50000}, delay: 30 * time.Millisecond})
	ctx := context.Background()

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.engine.Place(ctx, placeReq(100, db.DirectionUp, db.AccountDemo, time.Minute))
		}(i)
	}
	wg.Wait()

	var opened, rejected int
	for _, err := range errs {
		switch {
		case err == nil:
			opened++
		case errors.Is(err, ErrTradePending):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, opened, "exactly one concurrent place must win")
	require.Equal(t, 1, rejected)

	bal, err := h.accounts.Get(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, 900.0, bal.Demo, "the stake must be debited once")

	pending, err := h.db.ListPendingTrades(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestPlaceSlotFreedAfterFailure(t *testing.T) {
	h := newHarness(t, &feedStub{prices: []float64{50000}})
	ctx := context.Background()

	// A rejected placement must not leave the slot reserved.
	_, err := h.engine.Place(ctx, placeReq(2000, db.DirectionUp, db.AccountDemo, time.Minute))
	require.ErrorIs(t, err, account.ErrInsufficientBalance)

	_, err = h.engine.Place(ctx, placeReq(100, db.DirectionUp, db.AccountDemo, time.Minute))
	assert.NoError(t, err)
}

func TestSettleWinPaysStakePlusPayout(t *testing.T) {
	h := newHarness(t, &feedStub{prices: []float64{50000, 50100}})
	ctx := context.Background()

	tr, err := h.engine.Place(ctx, placeReq(100, db.DirectionUp, db.AccountDemo, time.Millisecond))
	require.NoError(t, err)
	o := h.openTradeByID(t, tr.ID)
	time.Sleep(2 * time.Millisecond)

	h.engine.settle(ctx, o, time.Now())

	bal, err := h.accounts.Get(ctx, testUser)
	require.NoError(t, err)
	assert.InDelta(t, 1085.0, bal.Demo, 1e-9) // 1000 - 100 stake + 185 win credit

	stored, err := h.db.GetTrade(ctx, tr.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, db.TradeWon, stored.Status)
	assert.Equal(t, 50100.0, stored.ExitPrice)
	assert.Equal(t, market.SourceLive, stored.ExitSource)
	assert.InDelta(t, 85.0, stored.Profit, 1e-9)
	assert.Equal(t, 0, h.prices.Subscribers("BTC/USD"))
	assert.Empty(t, h.engine.Open(testUser))
}

func TestSettleLossKeepsStakeDebited(t *testing.T) {
	h := newHarness(t, &feedStub{prices: []float64{1.10, 1.12}})
	ctx := context.Background()

	tr, err := h.engine.Place(ctx, placeReq(50, db.DirectionDown, db.AccountDemo, time.Millisecond))
	require.NoError(t, err)
	o := h.openTradeByID(t, tr.ID)
	time.Sleep(2 * time.Millisecond)

	h.engine.settle(ctx, o, time.Now())

	bal, err := h.accounts.Get(ctx, testUser)
	require.NoError(t, err)
	assert.InDelta(t, 950.0, bal.Demo, 1e-9)

	stored, err := h.db.GetTrade(ctx, tr.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, db.TradeLost, stored.Status)
	assert.InDelta(t, -50.0, stored.Profit, 1e-9)
}

func TestSettleTieLoses(t *testing.T) {
	h := newHarness(t, &feedStub{prices: []float64{50000, 50000}})
	ctx := context.Background()

	tr, err := h.engine.Place(ctx, placeReq(100, db.DirectionUp, db.AccountDemo, time.Millisecond))
	require.NoError(t, err)
	o := h.openTradeByID(t, tr.ID)
	time.Sleep(2 * time.Millisecond)

	h.engine.settle(ctx, o, time.Now())

	stored, err := h.db.GetTrade(ctx, tr.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, db.TradeLost, stored.Status)
}

func TestSettleIsIdempotent(t *testing.T) {
	h := newHarness(t, &feedStub{prices: []float64{50000, 50100}})
	ctx := context.Background()

	tr, err := h.engine.Place(ctx, placeReq(100, db.DirectionUp, db.AccountDemo, time.Millisecond))
	require.NoError(t, err)
	o := h.openTradeByID(t, tr.ID)
	time.Sleep(2 * time.Millisecond)

	now := time.Now()
	h.engine.settle(ctx, o, now)
	h.engine.settle(ctx, o, now) // second sweep on the same trade

	bal, err := h.accounts.Get(ctx, testUser)
	require.NoError(t, err)
	assert.InDelta(t, 1085.0, bal.Demo, 1e-9, "win must be credited exactly once")
}

func TestSettleSkipsCreditWhenRowSettledElsewhere(t *testing.T) {
	h := newHarness(t, &feedStub{prices: []float64{50000, 50100}})
	ctx := context.Background()

	tr, err := h.engine.Place(ctx, placeReq(100, db.DirectionUp, db.AccountDemo, time.Millisecond))
	require.NoError(t, err)
	o := h.openTradeByID(t, tr.ID)
	time.Sleep(2 * time.Millisecond)

	// Another writer settles the row first, e.g. a pre-restart process
	// racing this one during recovery.
	require.NoError(t, h.db.SettleTrade(ctx, tr.ID, db.TradeWon, 50100, market.SourceLive, 85, time.Now()))

	h.engine.settle(ctx, o, time.Now())

	bal, err := h.accounts.Get(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, 900.0, bal.Demo, "the win credit must not apply when the row was settled elsewhere")
	assert.Empty(t, h.engine.Open(testUser))
	assert.Equal(t, 0, h.prices.Subscribers("BTC/USD"))
}

func TestRealAccountWaitsForLiveQuote(t *testing.T) {
	feed := &feedStub{prices: []float64{50000}}
	h := newHarness(t, feed)
	ctx := context.Background()

	tr, err := h.engine.Place(ctx, placeReq(50, db.DirectionUp, db.AccountReal, time.Millisecond))
	require.NoError(t, err)
	o := h.openTradeByID(t, tr.ID)
	time.Sleep(2 * time.Millisecond)

	// Take the feed down so exit quotes degrade to simulated.
	feed.mu.Lock()
	feed.err = errors.New("exchange down")
	feed.mu.Unlock()

	// Two grace intervals pass without settling.
	for i := 0; i < 2; i++ {
		h.engine.settle(ctx, o, time.Now())
		stored, err := h.db.GetTrade(ctx, tr.ID)
		require.NoError(t, err)
		assert.Equal(t, db.TradePending, stored.Status, "retry %d should defer settlement", i+1)
	}

	// The grace window is exhausted; the simulated price is accepted.
	h.engine.settle(ctx, o, time.Now())
	stored, err := h.db.GetTrade(ctx, tr.ID)
	require.NoError(t, err)
	assert.NotEqual(t, db.TradePending, stored.Status)
	assert.Equal(t, market.SourceSimulated, stored.ExitSource)
}

func TestRecoverReloadsPendingTrades(t *testing.T) {
	h := newHarness(t, &feedStub{prices: []float64{50000}})
	ctx := context.Background()

	now := time.Now()
	seed := db.Trade{
		ID:          "recovered-1",
		UserID:      testUser,
		Symbol:      "BTC/USD",
		Direction:   db.DirectionUp,
		Account:     db.AccountDemo,
		Amount:      100,
		EntryPrice:  50000,
		EntrySource: market.SourceLive,
		Payout:      0.85,
		Status:      db.TradePending,
		PlacedAt:    now,
		ExpiresAt:   now.Add(time.Minute),
	}
	require.NoError(t, h.db.CreateTrade(ctx, seed))

	require.NoError(t, h.engine.Recover(ctx))

	open := h.engine.Open(testUser)
	require.Len(t, open, 1)
	assert.Equal(t, "recovered-1", open[0].ID)
	assert.Equal(t, 1, h.prices.Subscribers("BTC/USD"))

	// A recovered trade blocks a new one on the same account.
	_, err := h.engine.Place(ctx, placeReq(100, db.DirectionUp, db.AccountDemo, time.Minute))
	assert.ErrorIs(t, err, ErrTradePending)
}
