package funds

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"options-core/internal/account"
	"options-core/internal/events"
	"options-core/pkg/db"

	"github.com/google/uuid"
)

var (
	ErrInvalidAmount  = errors.New("amount must be positive")
	ErrInvalidKind    = errors.New("kind must be deposit or withdrawal")
	ErrInvalidAccount = errors.New("account must be demo or real")
	ErrNotFound       = errors.New("transaction not found")
	ErrAlreadyDecided = errors.New("transaction already decided")
)

// Service manages the deposit/withdrawal ledger. Money only moves on admin
// approval, and always through the account manager.
type Service struct {
	db       *db.Database
	accounts *account.Manager
	bus      *events.Bus
}

// NewService creates a funds service.
func NewService(database *db.Database, accounts *account.Manager, bus *events.Bus) *Service {
	return &Service{db: database, accounts: accounts, bus: bus}
}

// Request records a pending deposit or withdrawal.
func (s *Service) Request(ctx context.Context, userID, kind, accountType string, amount float64, method string) (*db.Transaction, error) {
	if kind != db.TxDeposit && kind != db.TxWithdrawal {
		return nil, ErrInvalidKind
	}
	if accountType != db.AccountDemo && accountType != db.AccountReal {
		return nil, ErrInvalidAccount
	}
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	if kind == db.TxWithdrawal {
		bal, err := s.accounts.Get(ctx, userID)
		if err != nil {
			return nil, err
		}
		available := bal.Demo
		if accountType == db.AccountReal {
			available = bal.Real
		}
		if available < amount {
			return nil, fmt.Errorf("%w: requested %.2f, have %.2f", account.ErrInsufficientBalance, amount, available)
		}
	}

	t := db.Transaction{
		ID:        uuid.NewString(),
		UserID:    userID,
		Kind:      kind,
		Account:   accountType,
		Amount:    amount,
		Method:    method,
		Status:    db.TxPending,
		CreatedAt: time.Now(),
	}
	if err := s.db.CreateTransaction(ctx, t); err != nil {
		return nil, fmt.Errorf("create transaction: %w", err)
	}
	s.publish(t)
	return &t, nil
}

// Approve settles a pending transaction: deposits credit the account,
// withdrawals debit it. A withdrawal whose balance no longer covers the
// amount is rejected instead. Deciding a non-pending transaction is an
// ErrAlreadyDecided error, so approval cannot double-apply.
func (s *Service) Approve(ctx context.Context, id string) (*db.Transaction, error) {
	t, err := s.db.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, ErrNotFound
	}
	if t.Status != db.TxPending {
		return nil, ErrAlreadyDecided
	}

	now := time.Now()
	switch t.Kind {
	case db.TxWithdrawal:
		// Move the money first; the conditional decide below reverses it if
		// someone else decided the row in between.
		if err := s.accounts.Debit(ctx, t.UserID, t.Account, t.Amount); err != nil {
			if errors.Is(err, account.ErrInsufficientBalance) {
				note := "insufficient balance at approval"
				if derr := s.db.DecideTransaction(ctx, id, db.TxRejected, note, now); derr != nil {
					if errors.Is(derr, db.ErrNotPending) {
						return nil, ErrAlreadyDecided
					}
					return nil, derr
				}
				t.Status = db.TxRejected
				t.Note = note
				t.DecidedAt = now
				s.publish(*t)
				return t, nil
			}
			return nil, err
		}
		if err := s.db.DecideTransaction(ctx, id, db.TxApproved, "", now); err != nil {
			if refundErr := s.accounts.Credit(ctx, t.UserID, t.Account, t.Amount); refundErr != nil {
				log.Printf("[FUNDS] refund after decide race %s: %v", id, refundErr)
			}
			if errors.Is(err, db.ErrNotPending) {
				return nil, ErrAlreadyDecided
			}
			return nil, err
		}
	case db.TxDeposit:
		// Credit first, mirroring the withdrawal branch: a failed credit
		// leaves the row pending and decidable, and a lost decide race
		// reverses the credit.
		if err := s.accounts.Credit(ctx, t.UserID, t.Account, t.Amount); err != nil {
			return nil, err
		}
		if err := s.db.DecideTransaction(ctx, id, db.TxApproved, "", now); err != nil {
			if reverseErr := s.accounts.Debit(ctx, t.UserID, t.Account, t.Amount); reverseErr != nil {
				log.Printf("[FUNDS] reverse credit after decide race %s: %v", id, reverseErr)
			}
			if errors.Is(err, db.ErrNotPending) {
				return nil, ErrAlreadyDecided
			}
			return nil, err
		}
	default:
		return nil, ErrInvalidKind
	}

	t.Status = db.TxApproved
	t.DecidedAt = now
	s.publish(*t)
	log.Printf("[FUNDS] approved %s %s %.2f for %s", t.Kind, id[:8], t.Amount, t.UserID)
	return t, nil
}

// Reject declines a pending transaction without touching balances.
func (s *Service) Reject(ctx context.Context, id, note string) (*db.Transaction, error) {
	t, err := s.db.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, ErrNotFound
	}

	now := time.Now()
	if err := s.db.DecideTransaction(ctx, id, db.TxRejected, note, now); err != nil {
		if errors.Is(err, db.ErrNotPending) {
			return nil, ErrAlreadyDecided
		}
		return nil, err
	}
	t.Status = db.TxRejected
	t.Note = note
	t.DecidedAt = now
	s.publish(*t)
	return t, nil
}

// History returns a user's transactions, newest first.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]db.Transaction, error) {
	return s.db.ListTransactionsByUser(ctx, userID, limit)
}

// PendingQueue returns pending transactions for the admin back-office.
func (s *Service) PendingQueue(ctx context.Context, limit int) ([]db.Transaction, error) {
	return s.db.ListTransactionsByStatus(ctx, db.TxPending, limit)
}

func (s *Service) publish(t db.Transaction) {
	if s.bus != nil {
		s.bus.Publish(events.EventTransactionUpdated, t)
	}
}
