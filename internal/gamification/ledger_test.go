package gamification

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/studytrack/backend/internal/models"
)

var testNow = time.Date(2026, time.March, 10, 15, 0, 0, 0, time.UTC)

func newTestLedger() (*memStore, *recordingNotifier, *Ledger) {
	store := newMemStore()
	notifier := &recordingNotifier{}
	return store, notifier, NewLedger(store, notifier, fixedClock(testNow))
}

func TestLedgerBalanceCreatesZeroRow(t *testing.T) {
	store, _, ledger := newTestLedger()

	bal, err := ledger.Balance(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, int64(7), bal.UserID)
	require.Zero(t, bal.TotalPoints)
	require.Zero(t, bal.AvailablePoints)
	require.Zero(t, bal.UsedPoints)

	_, ok := store.st.points[7]
	require.True(t, ok)
}

func TestLedgerCreditThenDebit(t *testing.T) {
	store, notifier, ledger := newTestLedger()
	ctx := context.Background()

	rec, err := ledger.Credit(ctx, 1, 100, nil, "welcome bonus", nil)
	require.NoError(t, err)
	require.Equal(t, models.RecordEarned, rec.RecordType)
	require.Equal(t, int64(100), rec.PointsChange)
	require.Equal(t, int64(100), rec.BalanceAfter)

	res, err := ledger.Debit(ctx, 1, 60, "spend", map[string]interface{}{"product_id": 3})
	require.NoError(t, err)
	require.True(t, res.OK())
	require.Equal(t, int64(-60), res.Record.PointsChange)
	require.Equal(t, int64(40), res.Record.BalanceAfter)
	require.JSONEq(t, `{"product_id": 3}`, string(res.Record.RelatedData))

	bal := store.balance(1)
	require.Equal(t, int64(100), bal.TotalPoints)
	require.Equal(t, int64(40), bal.AvailablePoints)
	require.Equal(t, int64(60), bal.UsedPoints)
	require.True(t, bal.Consistent())

	require.Len(t, store.ledger(1), 2)
	require.Equal(t, []string{"You earned 100 points", "You spent 60 points"}, notifier.titles())
}

func TestLedgerDebitInsufficientLeavesBalance(t *testing.T) {
	store, notifier, ledger := newTestLedger()
	ctx := context.Background()

	_, err := ledger.Credit(ctx, 1, 50, nil, "bonus", nil)
	require.NoError(t, err)

	res, err := ledger.Debit(ctx, 1, 60, "too much", nil)
	require.NoError(t, err)
	require.False(t, res.OK())
	require.Equal(t, DebitInsufficient, res.Status)
	require.Equal(t, int64(10), res.Shortfall)
	require.Nil(t, res.Record)

	bal := store.balance(1)
	require.Equal(t, int64(50), bal.AvailablePoints)
	require.Zero(t, bal.UsedPoints)
	require.Len(t, store.ledger(1), 1)
	require.Len(t, notifier.titles(), 1)
}

func TestLedgerRejectsNonPositivePoints(t *testing.T) {
	_, _, ledger := newTestLedger()
	ctx := context.Background()

	_, err := ledger.Credit(ctx, 1, 0, nil, "zero", nil)
	require.ErrorIs(t, err, ErrInvalidPoints)

	_, err = ledger.Debit(ctx, 1, -5, "negative", nil)
	require.ErrorIs(t, err, ErrInvalidPoints)
}

func TestLedgerCreditIsAtomic(t *testing.T) {
	store, notifier, ledger := newTestLedger()
	store.failRecordInsert = errors.New("disk full")

	_, err := ledger.Credit(context.Background(), 1, 25, nil, "bonus", nil)
	require.Error(t, err)

	// The balance update rolled back with the failed ledger insert.
	bal := store.balance(1)
	require.Zero(t, bal.TotalPoints)
	require.Zero(t, bal.AvailablePoints)
	require.Empty(t, notifier.titles())
}

func TestLedgerNotificationFailureDoesNotFailCredit(t *testing.T) {
	store := newMemStore()
	ledger := NewLedger(store, &recordingNotifier{err: errors.New("notifications down")}, fixedClock(testNow))

	_, err := ledger.Credit(context.Background(), 1, 5, nil, "bonus", nil)
	require.NoError(t, err)
	require.Equal(t, int64(5), store.balance(1).AvailablePoints)
}

func TestLedgerRecordsFilterAndOrder(t *testing.T) {
	_, _, ledger := newTestLedger()
	ctx := context.Background()

	for _, p := range []int64{10, 20, 30} {
		_, err := ledger.Credit(ctx, 1, p, nil, "bonus", nil)
		require.NoError(t, err)
	}
	_, err := ledger.Debit(ctx, 1, 15, "spend", nil)
	require.NoError(t, err)

	all, err := ledger.Records(ctx, 1, "", models.Page{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	require.Equal(t, models.RecordUsed, all[0].RecordType)

	earned, err := ledger.Records(ctx, 1, models.RecordEarned, models.Page{Limit: 2})
	require.NoError(t, err)
	require.Len(t, earned, 2)
	require.Equal(t, int64(30), earned[0].PointsChange)
	require.Equal(t, int64(20), earned[1].PointsChange)
}
