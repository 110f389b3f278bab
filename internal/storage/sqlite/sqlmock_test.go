package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/splitbot/internal/models"
	"github.com/mmynk/splitbot/internal/storage"
)

func TestApplyNet_RollsBackOnWriteFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := newWithDB(db)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT amount_u5 FROM debts").
		WithArgs(int64(1), int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"amount_u5"}))
	mock.ExpectQuery("SELECT amount_u5 FROM debts").
		WithArgs(int64(2), int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"amount_u5"}).AddRow(int64(500)))
	mock.ExpectExec("INSERT INTO debts").
		WithArgs(int64(1), int64(2), int64(500), int64(7)).
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	err = store.ApplyNet(ctx, 1, 2, models.Amount(1000), 7)
	assert.ErrorContains(t, err, "disk I/O error")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSwapLock_ReportsChangedHolder(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := newWithDB(db)

	mock.ExpectExec("UPDATE groups SET active_wizard_user_id").
		WithArgs(int64(5), int64(100), int64(-1), int64(0), int64(0)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = store.SwapLock(context.Background(), -1, models.LockActiveWizard,
		models.LockHolder{}, models.LockHolder{UserID: 5, LockedAt: 100})
	assert.ErrorIs(t, err, storage.ErrLockChanged)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConfirmShareAndNet_StopsOnDisputedExpense(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := newWithDB(db)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM expenses WHERE id").
		WithArgs("e1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "chat_id", "payer_id", "amount_u5", "description", "categories_json",
			"created_at", "rejected", "rejected_at", "message_id",
		}).AddRow("e1", int64(-1), int64(1), int64(300), "", "[]", int64(10), int64(1), int64(20), nil))
	mock.ExpectQuery("FROM expense_shares").
		WithArgs("e1").
		WillReturnRows(sqlmock.NewRows([]string{"debtor_id", "share_u5", "status", "status_at"}).
			AddRow(int64(2), int64(100), "pending", nil))
	mock.ExpectRollback()

	netted, err := store.ConfirmShareAndNet(context.Background(), "e1", 2, 30)
	assert.False(t, netted)
	assert.ErrorIs(t, err, storage.ErrInvalidTransition)
	assert.NoError(t, mock.ExpectationsWereMet())
}
