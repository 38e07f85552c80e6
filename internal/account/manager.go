package account

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"options-core/pkg/db"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrNoAccount           = errors.New("account not found")
	ErrInvalidAccountType  = errors.New("invalid account type")
)

// Balance is a point-in-time snapshot of a user's funds.
type Balance struct {
	Demo float64 `json:"demo"`
	Real float64 `json:"real"`
}

// Manager is the single writer for user balances. Every funds flow (trade
// placement, settlement, deposit/withdrawal approval) goes through its lock,
// so concurrent mutations of the same account cannot lose updates.
type Manager struct {
	mu    sync.Mutex
	db    *db.Database
	cache map[string]Balance
}

// NewManager creates a balance manager over the accounts table.
func NewManager(database *db.Database) *Manager {
	return &Manager{
		db:    database,
		cache: make(map[string]Balance),
	}
}

// Create seeds the balance row for a new user.
func (m *Manager) Create(ctx context.Context, userID string, demoStart float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.db.CreateAccount(ctx, db.Account{
		UserID:      userID,
		DemoBalance: demoStart,
	}); err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	m.cache[userID] = Balance{Demo: demoStart}
	return nil
}

// Get returns the current balance snapshot for a user.
func (m *Manager) Get(ctx context.Context, userID string) (Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load(ctx, userID)
}

// Debit removes funds from one account type. The balance is checked under
// the lock so it can never go negative.
func (m *Manager) Debit(ctx context.Context, userID, accountType string, amount float64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	bal, err := m.load(ctx, userID)
	if err != nil {
		return err
	}
	current, err := forType(bal, accountType)
	if err != nil {
		return err
	}
	if current < amount {
		return fmt.Errorf("%w: need %.2f, have %.2f", ErrInsufficientBalance, amount, current)
	}
	return m.store(ctx, userID, accountType, bal, current-amount)
}

// Credit adds funds to one account type.
func (m *Manager) Credit(ctx context.Context, userID, accountType string, amount float64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	bal, err := m.load(ctx, userID)
	if err != nil {
		return err
	}
	current, err := forType(bal, accountType)
	if err != nil {
		return err
	}
	return m.store(ctx, userID, accountType, bal, current+amount)
}

// load reads through the cache; callers must hold the lock.
func (m *Manager) load(ctx context.Context, userID string) (Balance, error) {
	if bal, ok := m.cache[userID]; ok {
		return bal, nil
	}
	acc, err := m.db.GetAccount(ctx, userID)
	if err != nil {
		return Balance{}, err
	}
	if acc == nil {
		return Balance{}, ErrNoAccount
	}
	bal := Balance{Demo: acc.DemoBalance, Real: acc.RealBalance}
	m.cache[userID] = bal
	return bal, nil
}

// store persists the new value for one account type and updates the cache;
// callers must hold the lock.
func (m *Manager) store(ctx context.Context, userID, accountType string, bal Balance, value float64) error {
	if err := m.db.SetBalance(ctx, userID, accountType, value); err != nil {
		return err
	}
	switch accountType {
	case db.AccountDemo:
		bal.Demo = value
	case db.AccountReal:
		bal.Real = value
	}
	m.cache[userID] = bal
	log.Printf("[BALANCE] %s %s=%.2f", userID, accountType, value)
	return nil
}

func forType(bal Balance, accountType string) (float64, error) {
	switch accountType {
	case db.AccountDemo:
		return bal.Demo, nil
	case db.AccountReal:
		return bal.Real, nil
	default:
		return 0, ErrInvalidAccountType
	}
}
