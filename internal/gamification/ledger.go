package gamification

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/studytrack/backend/internal/models"
)

// Ledger owns user balances and the append-only points history. Every
// balance change and its history row are written in the same transaction
// while the balance row is locked.
type Ledger struct {
	repo     Repository
	notifier Notifier
	now      func() time.Time
}

func NewLedger(repo Repository, notifier Notifier, now func() time.Time) *Ledger {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	if now == nil {
		now = time.Now
	}
	return &Ledger{repo: repo, notifier: notifier, now: now}
}

// Balance returns the user's balance, creating a zero row on first use.
func (l *Ledger) Balance(ctx context.Context, userID int64) (*models.UserPoints, error) {
	p, err := l.repo.EnsureUserPoints(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}
	return p, nil
}

func (l *Ledger) Records(ctx context.Context, userID int64, recordType models.RecordType, page models.Page) ([]models.PointsRecord, error) {
	return l.repo.PointsRecords(ctx, userID, recordType, page)
}

// Credit adds points to both the lifetime total and the spendable balance.
func (l *Ledger) Credit(ctx context.Context, userID, points int64, ruleID *int64, description string, related interface{}) (*models.PointsRecord, error) {
	if points <= 0 {
		return nil, ErrInvalidPoints
	}

	var rec *models.PointsRecord
	err := l.repo.InTx(ctx, func(tx Tx) error {
		var err error
		rec, err = l.credit(ctx, tx, userID, points, ruleID, description, related)
		return err
	})
	if err != nil {
		return nil, err
	}

	var box outbox
	box.add(userID, models.NotifyPointsEarned,
		fmt.Sprintf("You earned %d points", points), description,
		map[string]interface{}{"points": points, "rule_id": ruleID, "balance": rec.BalanceAfter})
	box.flush(ctx, l.notifier)

	return rec, nil
}

// DebitStatus discriminates the outcome of a debit.
type DebitStatus int

const (
	DebitApplied DebitStatus = iota + 1
	DebitInsufficient
)

// DebitResult reports a debit without using an error for the expected
// "not enough points" outcome.
type DebitResult struct {
	Status    DebitStatus
	Balance   models.UserPoints
	Record    *models.PointsRecord
	Shortfall int64
}

func (r DebitResult) OK() bool { return r.Status == DebitApplied }

// Debit spends points. An insufficient balance yields DebitInsufficient
// and leaves every row untouched.
func (l *Ledger) Debit(ctx context.Context, userID, points int64, description string, related interface{}) (DebitResult, error) {
	if points <= 0 {
		return DebitResult{}, ErrInvalidPoints
	}

	var res DebitResult
	err := l.repo.InTx(ctx, func(tx Tx) error {
		var err error
		res, err = l.debit(ctx, tx, userID, points, description, related)
		return err
	})
	if err != nil {
		return DebitResult{}, err
	}

	if res.OK() {
		var box outbox
		box.add(userID, models.NotifyPointsUsed,
			fmt.Sprintf("You spent %d points", points), description,
			map[string]interface{}{"points": points, "balance": res.Balance.AvailablePoints})
		box.flush(ctx, l.notifier)
	}
	return res, nil
}

// credit is the transaction-scoped form of Credit; it does not notify.
func (l *Ledger) credit(ctx context.Context, tx Tx, userID, points int64, ruleID *int64, description string, related interface{}) (*models.PointsRecord, error) {
	if points <= 0 {
		return nil, ErrInvalidPoints
	}

	bal, err := tx.LockUserPoints(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("lock balance: %w", err)
	}

	bal.TotalPoints += points
	bal.AvailablePoints += points
	if err := l.save(ctx, tx, bal); err != nil {
		return nil, err
	}

	rec := &models.PointsRecord{
		UserID:       userID,
		RuleID:       ruleID,
		RecordType:   models.RecordEarned,
		PointsChange: points,
		BalanceAfter: bal.AvailablePoints,
		Description:  description,
		RelatedData:  mustJSON(related),
	}
	if err := tx.InsertPointsRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("insert points record: %w", err)
	}

	log.WithFields(log.Fields{
		"component": "ledger",
		"user_id":   userID,
		"points":    points,
		"balance":   bal.AvailablePoints,
	}).Debug("points credited")
	return rec, nil
}

func (l *Ledger) debit(ctx context.Context, tx Tx, userID, points int64, description string, related interface{}) (DebitResult, error) {
	if points <= 0 {
		return DebitResult{}, ErrInvalidPoints
	}

	bal, err := tx.LockUserPoints(ctx, userID)
	if err != nil {
		return DebitResult{}, fmt.Errorf("lock balance: %w", err)
	}

	if bal.AvailablePoints < points {
		return DebitResult{
			Status:    DebitInsufficient,
			Balance:   *bal,
			Shortfall: points - bal.AvailablePoints,
		}, nil
	}

	bal.AvailablePoints -= points
	bal.UsedPoints += points
	if err := l.save(ctx, tx, bal); err != nil {
		return DebitResult{}, err
	}

	rec := &models.PointsRecord{
		UserID:       userID,
		RecordType:   models.RecordUsed,
		PointsChange: -points,
		BalanceAfter: bal.AvailablePoints,
		Description:  description,
		RelatedData:  mustJSON(related),
	}
	if err := tx.InsertPointsRecord(ctx, rec); err != nil {
		return DebitResult{}, fmt.Errorf("insert points record: %w", err)
	}

	return DebitResult{Status: DebitApplied, Balance: *bal, Record: rec}, nil
}

// refund moves previously used points back to the spendable balance. The
// lifetime total is unchanged because the points were earned once.
func (l *Ledger) refund(ctx context.Context, tx Tx, userID, points int64, description string, related interface{}) (*models.PointsRecord, error) {
	if points <= 0 {
		return nil, ErrInvalidPoints
	}

	bal, err := tx.LockUserPoints(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("lock balance: %w", err)
	}
	if bal.UsedPoints < points {
		return nil, fmt.Errorf("refund of %d exceeds used points %d for user %d", points, bal.UsedPoints, userID)
	}

	bal.AvailablePoints += points
	bal.UsedPoints -= points
	if err := l.save(ctx, tx, bal); err != nil {
		return nil, err
	}

	rec := &models.PointsRecord{
		UserID:       userID,
		RecordType:   models.RecordRefund,
		PointsChange: points,
		BalanceAfter: bal.AvailablePoints,
		Description:  description,
		RelatedData:  mustJSON(related),
	}
	if err := tx.InsertPointsRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("insert points record: %w", err)
	}
	return rec, nil
}

func (l *Ledger) save(ctx context.Context, tx Tx, bal *models.UserPoints) error {
	if !bal.Consistent() {
		return fmt.Errorf("balance invariant violated for user %d: total=%d available=%d used=%d",
			bal.UserID, bal.TotalPoints, bal.AvailablePoints, bal.UsedPoints)
	}
	bal.UpdatedAt = l.now()
	if err := tx.UpdateUserPoints(ctx, bal); err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	return nil
}
