package assets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"options-core/pkg/db"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned when an asset id is unknown to the catalog.
var ErrNotFound = errors.New("asset not found")

// FileAsset is a catalog entry in YAML.
type FileAsset struct {
	ID        string  `yaml:"id"`
	Symbol    string  `yaml:"symbol"`
	Name      string  `yaml:"name"`
	Class     string  `yaml:"class"`
	Pair      string  `yaml:"pair"`
	BasePrice float64 `yaml:"base_price"`
	Payout    float64 `yaml:"payout"`
	Decimals  int     `yaml:"decimals"`
	IsActive  bool    `yaml:"is_active"`
}

// File is the top-level YAML structure.
type File struct {
	Assets []FileAsset `yaml:"assets"`
}

// LoadFile reads the asset catalog from a YAML file.
func LoadFile(path string, defaultPayout float64) ([]db.Asset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}

	out := make([]db.Asset, 0, len(file.Assets))
	for _, fa := range file.Assets {
		if fa.Symbol == "" || fa.BasePrice <= 0 {
			return nil, fmt.Errorf("asset %q: symbol and positive base_price are required", fa.ID)
		}
		a := db.Asset{
			ID:        fa.ID,
			Symbol:    fa.Symbol,
			Name:      fa.Name,
			Class:     fa.Class,
			Pair:      fa.Pair,
			BasePrice: fa.BasePrice,
			Payout:    fa.Payout,
			Decimals:  fa.Decimals,
			IsActive:  fa.IsActive,
		}
		if a.ID == "" {
			a.ID = a.Symbol
		}
		if a.Payout <= 0 {
			a.Payout = defaultPayout
		}
		if a.Decimals <= 0 {
			a.Decimals = 2
		}
		out = append(out, a)
	}
	return out, nil
}

// Catalog is the in-memory asset registry backed by the assets table.
type Catalog struct {
	mu       sync.RWMutex
	db       *db.Database
	byID     map[string]db.Asset
	bySymbol map[string]db.Asset
}

// NewCatalog creates an empty catalog over the given database.
func NewCatalog(database *db.Database) *Catalog {
	return &Catalog{
		db:       database,
		byID:     make(map[string]db.Asset),
		bySymbol: make(map[string]db.Asset),
	}
}

// Sync upserts file entries into the DB and reloads the in-memory view.
func (c *Catalog) Sync(ctx context.Context, entries []db.Asset) error {
	for _, a := range entries {
		if err := c.db.UpsertAsset(ctx, a); err != nil {
			return fmt.Errorf("upsert asset %s: %w", a.Symbol, err)
		}
	}
	return c.Load(ctx)
}

// Load seeds the in-memory view from the DB.
func (c *Catalog) Load(ctx context.Context) error {
	list, err := c.db.ListAssets(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byID = make(map[string]db.Asset, len(list))
	c.bySymbol = make(map[string]db.Asset, len(list))
	for _, a := range list {
		c.byID[a.ID] = a
		c.bySymbol[a.Symbol] = a
	}
	return nil
}

// Get returns an asset by id.
func (c *Catalog) Get(id string) (db.Asset, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.byID[id]
	return a, ok
}

// BySymbol returns an asset by symbol.
func (c *Catalog) BySymbol(symbol string) (db.Asset, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.bySymbol[symbol]
	return a, ok
}

// List returns a snapshot of all assets.
func (c *Catalog) List() []db.Asset {
	c.mu.RLock()
	defer c.mu.RUnlock()
	res := make([]db.Asset, 0, len(c.byID))
	for _, a := range c.byID {
		res = append(res, a)
	}
	return res
}

// Patch is a partial asset update from the admin surface.
type Patch struct {
	Name      *string  `json:"name"`
	Payout    *float64 `json:"payout"`
	BasePrice *float64 `json:"base_price"`
	Decimals  *int     `json:"decimals"`
	IsActive  *bool    `json:"is_active"`
}

// Update applies a partial patch to an asset and persists it.
func (c *Catalog) Update(ctx context.Context, id string, p Patch) (*db.Asset, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	a, ok := c.byID[id]
	if !ok {
		return nil, ErrNotFound
	}

	if p.Name != nil {
		a.Name = *p.Name
	}
	if p.Payout != nil {
		if *p.Payout <= 0 || *p.Payout >= 1 {
			return nil, fmt.Errorf("payout must be in (0,1), got %v", *p.Payout)
		}
		a.Payout = *p.Payout
	}
	if p.BasePrice != nil {
		if *p.BasePrice <= 0 {
			return nil, fmt.Errorf("base_price must be positive, got %v", *p.BasePrice)
		}
		a.BasePrice = *p.BasePrice
	}
	if p.Decimals != nil {
		a.Decimals = *p.Decimals
	}
	if p.IsActive != nil {
		a.IsActive = *p.IsActive
	}

	if err := c.db.UpsertAsset(ctx, a); err != nil {
		return nil, err
	}
	c.byID[a.ID] = a
	c.bySymbol[a.Symbol] = a
	return &a, nil
}
