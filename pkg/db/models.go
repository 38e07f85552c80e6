package db

import "time"

// Account types. Each user carries an independent balance per type.
const (
	AccountDemo = "demo"
	AccountReal = "real"
)

// Trade directions.
const (
	DirectionUp   = "up"
	DirectionDown = "down"
)

// Trade statuses.
const (
	TradePending = "PENDING"
	TradeWon     = "WON"
	TradeLost    = "LOST"
)

// Quote provenance recorded on trades.
const (
	SourceLive      = "live"
	SourceSimulated = "simulated"
)

// Transaction kinds and statuses.
const (
	TxDeposit    = "deposit"
	TxWithdrawal = "withdrawal"

	TxPending  = "pending"
	TxApproved = "approved"
	TxRejected = "rejected"
)

// User represents an application user.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	IsAdmin      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Account holds the demo and real balances for a user.
type Account struct {
	UserID      string
	DemoBalance float64
	RealBalance float64
	UpdatedAt   time.Time
}

// Asset is a tradable instrument from the catalog.
type Asset struct {
	ID        string
	Symbol    string
	Name      string
	Class     string // crypto, forex, stock, commodity
	Pair      string // exchange pair for crypto assets, e.g. BTCUSDT
	BasePrice float64
	Payout    float64
	Decimals  int
	IsActive  bool
	UpdatedAt time.Time
}

// Trade is a binary-option position.
type Trade struct {
	ID          string
	UserID      string
	Symbol      string
	Direction   string
	Account     string
	Amount      float64
	EntryPrice  float64
	EntrySource string
	ExitPrice   float64
	ExitSource  string
	Payout      float64
	Profit      float64
	Status      string
	PlacedAt    time.Time
	ExpiresAt   time.Time
	SettledAt   time.Time
}

// Transaction is a deposit or withdrawal request.
type Transaction struct {
	ID        string
	UserID    string
	Kind      string
	Account   string
	Amount    float64
	Method    string
	Status    string
	Note      string
	CreatedAt time.Time
	DecidedAt time.Time
}
