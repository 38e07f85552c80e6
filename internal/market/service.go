package market

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"options-core/internal/assets"
	"options-core/internal/events"
	"options-core/pkg/db"
)

// ErrUnknownSymbol is returned for symbols missing from the catalog.
var ErrUnknownSymbol = errors.New("unknown symbol")

// TickerClient is the live exchange price source.
type TickerClient interface {
	GetTickerPrice(ctx context.Context, symbol string) (float64, error)
	Get24hChange(ctx context.Context, symbol string) (float64, error)
}

type entry struct {
	quote    Quote
	subs     int
	fetching bool
	done     chan struct{}
}

// Service is the shared per-symbol price cache. All consumers read through
// it so a symbol is fetched at most once per refresh interval regardless of
// how many subscribers watch it.
type Service struct {
	mu      sync.Mutex
	catalog *assets.Catalog
	live    TickerClient
	sim     *Simulator
	bus     *events.Bus
	refresh time.Duration
	// forceSim routes every asset class through the simulator (mock feed mode).
	forceSim bool
	entries  map[string]*entry
}

// Options configures a price Service.
type Options struct {
	Catalog         *assets.Catalog
	Live            TickerClient
	Simulator       *Simulator
	Bus             *events.Bus
	RefreshInterval time.Duration
	ForceSimulated  bool
}

// NewService builds a price service; the cache starts empty and entries are
// created lazily on first use of a symbol.
func NewService(opts Options) *Service {
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = time.Second
	}
	return &Service{
		catalog:  opts.Catalog,
		live:     opts.Live,
		sim:      opts.Simulator,
		bus:      opts.Bus,
		refresh:  opts.RefreshInterval,
		forceSim: opts.ForceSimulated,
		entries:  make(map[string]*entry),
	}
}

// RefreshInterval reports the cache freshness window.
func (s *Service) RefreshInterval() time.Duration {
	return s.refresh
}

// Subscribe increments the subscriber count for a symbol, creating the
// cache entry lazily.
func (s *Service) Subscribe(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[symbol]
	if !ok {
		e = &entry{}
		s.entries[symbol] = e
	}
	e.subs++
}

// Unsubscribe decrements the subscriber count. Entries are never destroyed;
// the cache lives for the process lifetime.
func (s *Service) Unsubscribe(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[symbol]; ok && e.subs > 0 {
		e.subs--
	}
}

// Subscribers reports the current subscriber count for a symbol.
func (s *Service) Subscribers(symbol string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[symbol]; ok {
		return e.subs
	}
	return 0
}

// Quote returns the cached record when younger than the refresh interval,
// otherwise refreshes it. Concurrent callers inside one window share a
// single fetch and receive the identical record.
func (s *Service) Quote(ctx context.Context, symbol string) (Quote, error) {
	s.mu.Lock()
	e, ok := s.entries[symbol]
	if !ok {
		e = &entry{}
		s.entries[symbol] = e
	}
	if !e.quote.UpdatedAt.IsZero() && time.Since(e.quote.UpdatedAt) < s.refresh {
		q := e.quote
		s.mu.Unlock()
		return q, nil
	}
	if e.fetching {
		done := e.done
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return Quote{}, ctx.Err()
		}
		s.mu.Lock()
		q := e.quote
		s.mu.Unlock()
		if q.UpdatedAt.IsZero() {
			return Quote{}, ErrUnknownSymbol
		}
		return q, nil
	}
	e.fetching = true
	e.done = make(chan struct{})
	s.mu.Unlock()

	asset, found := s.catalog.BySymbol(symbol)
	if !found {
		s.mu.Lock()
		e.fetching = false
		close(e.done)
		s.mu.Unlock()
		return Quote{}, ErrUnknownSymbol
	}

	price, change, source := s.resolve(ctx, asset)

	s.mu.Lock()
	prev := e.quote.Price
	if prev == 0 {
		prev = price
	}
	e.quote = Quote{
		Symbol:    symbol,
		Price:     price,
		PrevPrice: prev,
		Change24h: change,
		UpdatedAt: time.Now(),
		Source:    source,
	}
	q := e.quote
	e.fetching = false
	close(e.done)
	s.mu.Unlock()
	return q, nil
}

// resolve picks live vs simulated pricing for the asset. Live-fetch
// failures fall back to the simulator so callers always get a price; the
// degradation is signaled through the Source tag instead of an error.
func (s *Service) resolve(ctx context.Context, asset db.Asset) (price, change float64, source string) {
	if asset.Class == ClassCrypto && !s.forceSim && s.live != nil {
		pair := asset.Pair
		if pair == "" {
			pair = asset.Symbol
		}
		livePrice, err := s.live.GetTickerPrice(ctx, pair)
		if err == nil {
			liveChange, chErr := s.live.Get24hChange(ctx, pair)
			if chErr == nil {
				return livePrice, liveChange, SourceLive
			}
			err = chErr
		}
		log.Printf("[FEED] live fetch %s failed, using simulator: %v", asset.Symbol, err)
	}
	price, change = s.sim.Step(asset)
	return price, change, SourceSimulated
}

// Start begins the background refresh loop: every refresh interval each
// subscribed symbol is refreshed and published as a price tick.
func (s *Service) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.refresh)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, symbol := range s.subscribed() {
					q, err := s.Quote(ctx, symbol)
					if err != nil {
						log.Printf("[FEED] refresh %s: %v", symbol, err)
						continue
					}
					if s.bus != nil {
						s.bus.Publish(events.EventPriceTick, q)
					}
				}
			}
		}
	}()
}

func (s *Service) subscribed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var symbols []string
	for sym, e := range s.entries {
		if e.subs > 0 {
			symbols = append(symbols, sym)
		}
	}
	return symbols
}
