package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors surfaced by conditional updates.
var (
	ErrNoSuchAccount  = errors.New("no account for user")
	ErrNotPending     = errors.New("row is not pending")
	ErrInvalidAccount = errors.New("invalid account type")
)

// CreateUser inserts a new user row.
func (d *Database) CreateUser(ctx context.Context, u User) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, is_admin, created_at, updated_at)
		VALUES (?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP), COALESCE(?, CURRENT_TIMESTAMP))
	`, u.ID, strings.ToLower(u.Email), u.PasswordHash, u.IsAdmin, u.CreatedAt, u.UpdatedAt)
	return err
}

// GetUserByEmail returns a user by email or nil if not found.
func (d *Database) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, email, password_hash, is_admin, created_at, updated_at
		FROM users WHERE email = ?
	`, strings.ToLower(email))
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.IsAdmin, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

// GetUserByID returns a user by id or nil if not found.
func (d *Database) GetUserByID(ctx context.Context, id string) (*User, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, email, password_hash, is_admin, created_at, updated_at
		FROM users WHERE id = ?
	`, id)
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.IsAdmin, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

// CreateAccount seeds the balance row for a new user.
func (d *Database) CreateAccount(ctx context.Context, a Account) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO accounts (user_id, demo_balance, real_balance, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
	`, a.UserID, a.DemoBalance, a.RealBalance)
	return err
}

// GetAccount fetches the balance row for a user.
func (d *Database) GetAccount(ctx context.Context, userID string) (*Account, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT user_id, demo_balance, real_balance, updated_at
		FROM accounts WHERE user_id = ?
	`, userID)
	var a Account
	if err := row.Scan(&a.UserID, &a.DemoBalance, &a.RealBalance, &a.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

// SetBalance writes the new balance for one account type of a user.
func (d *Database) SetBalance(ctx context.Context, userID, account string, value float64) error {
	var column string
	switch account {
	case AccountDemo:
		column = "demo_balance"
	case AccountReal:
		column = "real_balance"
	default:
		return ErrInvalidAccount
	}
	res, err := d.DB.ExecContext(ctx, fmt.Sprintf(`
		UPDATE accounts SET %s = ?, updated_at = CURRENT_TIMESTAMP WHERE user_id = ?
	`, column), value, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNoSuchAccount
	}
	return nil
}

// UpsertAsset stores a catalog asset.
func (d *Database) UpsertAsset(ctx context.Context, a Asset) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO assets (id, symbol, name, class, pair, base_price, payout, decimals, is_active, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			symbol = excluded.symbol,
			name = excluded.name,
			class = excluded.class,
			pair = excluded.pair,
			base_price = excluded.base_price,
			payout = excluded.payout,
			decimals = excluded.decimals,
			is_active = excluded.is_active,
			updated_at = CURRENT_TIMESTAMP
	`, a.ID, a.Symbol, a.Name, a.Class, a.Pair, a.BasePrice, a.Payout, a.Decimals, a.IsActive)
	return err
}

// GetAsset returns an asset by id or nil if not found.
func (d *Database) GetAsset(ctx context.Context, id string) (*Asset, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, symbol, name, class, pair, base_price, payout, decimals, is_active, updated_at
		FROM assets WHERE id = ?
	`, id)
	return scanAsset(row)
}

// GetAssetBySymbol returns an asset by symbol or nil if not found.
func (d *Database) GetAssetBySymbol(ctx context.Context, symbol string) (*Asset, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, symbol, name, class, pair, base_price, payout, decimals, is_active, updated_at
		FROM assets WHERE symbol = ?
	`, symbol)
	return scanAsset(row)
}

func scanAsset(row *sql.Row) (*Asset, error) {
	var a Asset
	var pair sql.NullString
	if err := row.Scan(&a.ID, &a.Symbol, &a.Name, &a.Class, &pair, &a.BasePrice, &a.Payout, &a.Decimals, &a.IsActive, &a.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	a.Pair = pair.String
	return &a, nil
}

// ListAssets returns the full catalog.
func (d *Database) ListAssets(ctx context.Context) ([]Asset, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, symbol, name, class, pair, base_price, payout, decimals, is_active, updated_at
		FROM assets ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Asset
	for rows.Next() {
		var a Asset
		var pair sql.NullString
		if err := rows.Scan(&a.ID, &a.Symbol, &a.Name, &a.Class, &pair, &a.BasePrice, &a.Payout, &a.Decimals, &a.IsActive, &a.UpdatedAt); err != nil {
			return nil, err
		}
		a.Pair = pair.String
		res = append(res, a)
	}
	return res, rows.Err()
}

// CreateTrade inserts a new trade row.
func (d *Database) CreateTrade(ctx context.Context, t Trade) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO trades (
			id, user_id, symbol, direction, account, amount,
			entry_price, entry_source, payout, status, placed_at, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.UserID, t.Symbol, t.Direction, t.Account, t.Amount,
		t.EntryPrice, t.EntrySource, t.Payout, t.Status, t.PlacedAt, t.ExpiresAt)
	return err
}

// SettleTrade records the outcome of a pending trade. The WHERE clause acts
// as a compare-and-swap: a trade that is no longer PENDING is not touched
// and ErrNotPending is returned.
func (d *Database) SettleTrade(ctx context.Context, id, status string, exitPrice float64, exitSource string, profit float64, settledAt time.Time) error {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE trades
		SET status = ?, exit_price = ?, exit_source = ?, profit = ?, settled_at = ?
		WHERE id = ? AND status = ?
	`, status, exitPrice, exitSource, profit, settledAt, id, TradePending)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotPending
	}
	return nil
}

// GetTrade returns a trade by id or nil if not found.
func (d *Database) GetTrade(ctx context.Context, id string) (*Trade, error) {
	row := d.DB.QueryRowContext(ctx, tradeSelect+` WHERE id = ?`, id)
	t, err := scanTradeRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

const tradeSelect = `
	SELECT id, user_id, symbol, direction, account, amount,
	       entry_price, entry_source, exit_price, exit_source,
	       payout, profit, status, placed_at, expires_at, settled_at
	FROM trades`

func scanTradeRow(row *sql.Row) (*Trade, error) {
	var t Trade
	var exitPrice, profit sql.NullFloat64
	var exitSource sql.NullString
	var settledAt sql.NullTime
	err := row.Scan(&t.ID, &t.UserID, &t.Symbol, &t.Direction, &t.Account, &t.Amount,
		&t.EntryPrice, &t.EntrySource, &exitPrice, &exitSource,
		&t.Payout, &profit, &t.Status, &t.PlacedAt, &t.ExpiresAt, &settledAt)
	if err != nil {
		return nil, err
	}
	t.ExitPrice = exitPrice.Float64
	t.ExitSource = exitSource.String
	t.Profit = profit.Float64
	t.SettledAt = settledAt.Time
	return &t, nil
}

func scanTrades(rows *sql.Rows) ([]Trade, error) {
	var res []Trade
	for rows.Next() {
		var t Trade
		var exitPrice, profit sql.NullFloat64
		var exitSource sql.NullString
		var settledAt sql.NullTime
		if err := rows.Scan(&t.ID, &t.UserID, &t.Symbol, &t.Direction, &t.Account, &t.Amount,
			&t.EntryPrice, &t.EntrySource, &exitPrice, &exitSource,
			&t.Payout, &profit, &t.Status, &t.PlacedAt, &t.ExpiresAt, &settledAt); err != nil {
			return nil, err
		}
		t.ExitPrice = exitPrice.Float64
		t.ExitSource = exitSource.String
		t.Profit = profit.Float64
		t.SettledAt = settledAt.Time
		res = append(res, t)
	}
	return res, rows.Err()
}

// ListPendingTrades returns all trades awaiting settlement.
func (d *Database) ListPendingTrades(ctx context.Context) ([]Trade, error) {
	rows, err := d.DB.QueryContext(ctx, tradeSelect+` WHERE status = ? ORDER BY expires_at`, TradePending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTrades(rows)
}

// ListTradesByUser returns the most recent trades for a user.
func (d *Database) ListTradesByUser(ctx context.Context, userID string, limit int) ([]Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.DB.QueryContext(ctx, tradeSelect+` WHERE user_id = ? ORDER BY placed_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTrades(rows)
}

// CreateTransaction inserts a deposit/withdrawal request.
func (d *Database) CreateTransaction(ctx context.Context, t Transaction) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO transactions (id, user_id, kind, account, amount, method, status, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
	`, t.ID, t.UserID, t.Kind, t.Account, t.Amount, t.Method, t.Status, t.Note, t.CreatedAt)
	return err
}

// GetTransaction returns a transaction by id or nil if not found.
func (d *Database) GetTransaction(ctx context.Context, id string) (*Transaction, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, user_id, kind, account, amount, method, status, note, created_at, decided_at
		FROM transactions WHERE id = ?
	`, id)
	var t Transaction
	var method, note sql.NullString
	var decidedAt sql.NullTime
	if err := row.Scan(&t.ID, &t.UserID, &t.Kind, &t.Account, &t.Amount, &method, &t.Status, &note, &t.CreatedAt, &decidedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	t.Method = method.String
	t.Note = note.String
	t.DecidedAt = decidedAt.Time
	return &t, nil
}

// DecideTransaction flips a pending transaction to approved/rejected.
// Conditional on the pending status so a transaction is decided at most once.
func (d *Database) DecideTransaction(ctx context.Context, id, status, note string, decidedAt time.Time) error {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE transactions SET status = ?, note = ?, decided_at = ?
		WHERE id = ? AND status = ?
	`, status, note, decidedAt, id, TxPending)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotPending
	}
	return nil
}

// ListTransactionsByUser returns a user's deposit/withdrawal history.
func (d *Database) ListTransactionsByUser(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, user_id, kind, account, amount, method, status, note, created_at, decided_at
		FROM transactions WHERE user_id = ? ORDER BY created_at DESC LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTransactions(rows)
}

// ListTransactionsByStatus returns transactions in a given status, oldest first.
func (d *Database) ListTransactionsByStatus(ctx context.Context, status string, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, user_id, kind, account, amount, method, status, note, created_at, decided_at
		FROM transactions WHERE status = ? ORDER BY created_at LIMIT ?
	`, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTransactions(rows)
}

func scanTransactions(rows *sql.Rows) ([]Transaction, error) {
	var res []Transaction
	for rows.Next() {
		var t Transaction
		var method, note sql.NullString
		var decidedAt sql.NullTime
		if err := rows.Scan(&t.ID, &t.UserID, &t.Kind, &t.Account, &t.Amount, &method, &t.Status, &note, &t.CreatedAt, &decidedAt); err != nil {
			return nil, err
		}
		t.Method = method.String
		t.Note = note.String
		t.DecidedAt = decidedAt.Time
		res = append(res, t)
	}
	return res, rows.Err()
}
