package service

import (
	"context"
	"errors"

	"github.com/veriplex/veriplex/internal/clock"
	"github.com/veriplex/veriplex/internal/ledger/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type LedgerParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
}

type ledger struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
}

func NewLedger(p LedgerParam) domain.Ledger {
	return &ledger{db: p.DB, log: p.Log.Named("ledger"), clock: p.Clock}
}

// CheckAndDebit validates the subscription and deducts credits in one
// transaction. The deduction itself is a conditional UPDATE guarded by the
// remaining balance, so concurrent debits can never overdraw regardless of
// isolation level: the guard either matches and books, or matches nothing.
func (l *ledger) CheckAndDebit(ctx context.Context, req domain.DebitRequest) (*domain.DebitReceipt, error) {
	if req.Amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}

	var receipt *domain.DebitReceipt
	var lapsed int64
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if req.SubscriptionID != 0 {
			receipt, lapsed, err = l.debitSubscription(tx, req)
		} else {
			receipt, err = l.debitAccount(tx, req)
		}
		return err
	})
	if lapsed != 0 {
		l.lapse(ctx, lapsed)
	}
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// lapse marks a date-expired subscription as expired so later calls reject
// on status alone. It runs outside the debit transaction: that transaction
// returns the rejection and rolls back, so the lapse must commit on its own.
func (l *ledger) lapse(ctx context.Context, subID int64) {
	err := l.db.WithContext(ctx).Model(&domain.Subscription{}).
		Where("id = ? AND status = ?", subID, domain.SubscriptionActive).
		Update("status", domain.SubscriptionExpired).Error
	if err != nil {
		l.log.Warn("failed to lapse expired subscription",
			zap.Int64("subscription_id", subID), zap.Error(err))
	}
}

func (l *ledger) debitSubscription(tx *gorm.DB, req domain.DebitRequest) (*domain.DebitReceipt, int64, error) {
	var sub domain.Subscription
	err := tx.Where("id = ? AND user_id = ?", req.SubscriptionID, req.UserID).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, 0, domain.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, 0, err
	}

	if req.ServiceID != 0 && sub.ServiceID != req.ServiceID {
		return nil, 0, domain.ErrServiceMismatch
	}

	switch sub.Status {
	case domain.SubscriptionActive:
	case domain.SubscriptionExpired:
		return nil, 0, domain.ErrSubscriptionExpired
	default:
		return nil, 0, domain.ErrSubscriptionInactive
	}

	if sub.ExpiresAt != nil && sub.ExpiresAt.Before(l.clock.Now()) {
		return nil, sub.ID, domain.ErrSubscriptionExpired
	}

	res := tx.Model(&domain.Subscription{}).
		Where("id = ? AND status = ? AND credits_remaining >= ?",
			sub.ID, domain.SubscriptionActive, req.Amount).
		Update("credits_remaining", gorm.Expr("credits_remaining - ?", req.Amount))
	if res.Error != nil {
		return nil, 0, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, 0, domain.ErrInsufficientCredits
	}

	// Book the same debit on the parent account. The subscription's
	// allocation was already carved out of it, so this leg is unguarded.
	acct := tx.Model(&domain.CreditAccount{}).
		Where("user_id = ?", req.UserID).
		Update("used", gorm.Expr("used + ?", req.Amount))
	if acct.Error != nil {
		return nil, 0, acct.Error
	}
	if acct.RowsAffected == 0 {
		return nil, 0, domain.ErrAccountNotFound
	}

	var after domain.Subscription
	if err := tx.Where("id = ?", sub.ID).First(&after).Error; err != nil {
		return nil, 0, err
	}
	return &domain.DebitReceipt{
		Amount:        req.Amount,
		CreditsBefore: after.CreditsRemaining + req.Amount,
		CreditsAfter:  after.CreditsRemaining,
	}, 0, nil
}

func (l *ledger) debitAccount(tx *gorm.DB, req domain.DebitRequest) (*domain.DebitReceipt, error) {
	res := tx.Model(&domain.CreditAccount{}).
		Where("user_id = ? AND total_allocated - used >= ?", req.UserID, req.Amount).
		Update("used", gorm.Expr("used + ?", req.Amount))
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		// The guard matched nothing: either no account exists or the
		// balance is short. Re-read to tell the two apart.
		var acct domain.CreditAccount
		err := tx.Where("user_id = ?", req.UserID).First(&acct).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrAccountNotFound
		}
		if err != nil {
			return nil, err
		}
		return nil, domain.ErrInsufficientCredits
	}

	var after domain.CreditAccount
	if err := tx.Where("user_id = ?", req.UserID).First(&after).Error; err != nil {
		return nil, err
	}
	return &domain.DebitReceipt{
		Amount:        req.Amount,
		CreditsBefore: after.Remaining() + req.Amount,
		CreditsAfter:  after.Remaining(),
	}, nil
}

func (l *ledger) Account(ctx context.Context, userID string) (*domain.CreditAccount, error) {
	var acct domain.CreditAccount
	err := l.db.WithContext(ctx).Where("user_id = ?", userID).First(&acct).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &acct, nil
}
