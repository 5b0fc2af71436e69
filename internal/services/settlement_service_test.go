package services

import (
	"context"
	"testing"
	"time"

	"loyalty-ledger/internal/apperror"
	"loyalty-ledger/internal/database"
	"loyalty-ledger/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
)

func newSettlementServiceForTest(db *database.DB) *SettlementService {
	return NewSettlementService(db, newTestLogger(), NewWalletStore(db), NewTokenStore(db), nil, nil, newLedgerConfig())
}

func TestSettlementService_Settle_DealClosed(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()

	service := newSettlementServiceForTest(db)
	accountID := uuid.New()
	tokenID := uuid.New()
	expiresAt := time.Now().Add(time.Hour)

	mock.ExpectQuery("FROM discount_tokens").
		WithArgs(tokenID).
		WillReturnRows(tokenRows(tokenID, accountID, models.TokenStatusActive, expiresAt))

	mock.ExpectBegin()
	expectWalletLock(mock, accountID, walletRows(accountID, models.WalletStatusActive))
	mock.ExpectQuery("FROM discount_tokens").
		WithArgs(tokenID).
		WillReturnRows(tokenRows(tokenID, accountID, models.TokenStatusActive, expiresAt))
	mock.ExpectExec("UPDATE wallets").
		WithArgs(50.0, sqlmock.AnyArg(), accountID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE discount_tokens").
		WithArgs(true, 50.0, sqlmock.AnyArg(), tokenID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectQuery("SELECT account_id, tier, points, status").
		WithArgs(accountID).
		WillReturnRows(walletRows(accountID, models.WalletStatusActive))

	wallet, err := service.Settle(context.Background(), tokenID, &models.SettleTokenRequest{
		DealClosed: true,
		DealAmount: 300,
	})
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if wallet == nil {
		t.Fatalf("expected wallet in response")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSettlementService_Settle_DealNotClosed(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()

	service := newSettlementServiceForTest(db)
	accountID := uuid.New()
	tokenID := uuid.New()
	expiresAt := time.Now().Add(time.Hour)

	mock.ExpectQuery("FROM discount_tokens").
		WithArgs(tokenID).
		WillReturnRows(tokenRows(tokenID, accountID, models.TokenStatusActive, expiresAt))

	mock.ExpectBegin()
	expectWalletLock(mock, accountID, walletRows(accountID, models.WalletStatusActive))
	mock.ExpectQuery("FROM discount_tokens").
		WithArgs(tokenID).
		WillReturnRows(tokenRows(tokenID, accountID, models.TokenStatusActive, expiresAt))
	// Кредит списывается безвозвратно, экономия не растёт
	mock.ExpectExec("UPDATE wallets").
		WithArgs(sqlmock.AnyArg(), accountID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE discount_tokens").
		WithArgs(false, 0.0, sqlmock.AnyArg(), tokenID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectQuery("SELECT account_id, tier, points, status").
		WithArgs(accountID).
		WillReturnRows(walletRows(accountID, models.WalletStatusActive))

	if _, err := service.Settle(context.Background(), tokenID, &models.SettleTokenRequest{DealClosed: false}); err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSettlementService_Settle_WindowClosed(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()

	service := newSettlementServiceForTest(db)
	accountID := uuid.New()
	tokenID := uuid.New()
	expiresAt := time.Now().Add(-time.Hour)

	mock.ExpectQuery("FROM discount_tokens").
		WithArgs(tokenID).
		WillReturnRows(tokenRows(tokenID, accountID, models.TokenStatusActive, expiresAt))

	// Истечение фиксируется внутри той же транзакции расчёта
	mock.ExpectBegin()
	expectWalletLock(mock, accountID, walletRows(accountID, models.WalletStatusActive))
	mock.ExpectQuery("FROM discount_tokens").
		WithArgs(tokenID).
		WillReturnRows(tokenRows(tokenID, accountID, models.TokenStatusActive, expiresAt))
	mock.ExpectExec("UPDATE discount_tokens").
		WithArgs(tokenID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE wallets").
		WithArgs(sqlmock.AnyArg(), accountID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	_, err := service.Settle(context.Background(), tokenID, &models.SettleTokenRequest{DealClosed: true})
	if !apperror.Is(err, apperror.KindTokenExpired) {
		t.Fatalf("expected token expired error, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSettlementService_Settle_AlreadyRedeemed(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()

	service := newSettlementServiceForTest(db)
	accountID := uuid.New()
	tokenID := uuid.New()
	expiresAt := time.Now().Add(time.Hour)

	mock.ExpectQuery("FROM discount_tokens").
		WithArgs(tokenID).
		WillReturnRows(tokenRows(tokenID, accountID, models.TokenStatusRedeemed, expiresAt))

	mock.ExpectBegin()
	expectWalletLock(mock, accountID, walletRows(accountID, models.WalletStatusActive))
	mock.ExpectQuery("FROM discount_tokens").
		WithArgs(tokenID).
		WillReturnRows(tokenRows(tokenID, accountID, models.TokenStatusRedeemed, expiresAt))
	mock.ExpectRollback()

	_, err := service.Settle(context.Background(), tokenID, &models.SettleTokenRequest{DealClosed: true})
	if !apperror.Is(err, apperror.KindTokenFinalized) {
		t.Fatalf("expected token finalized error, got %v", err)
	}
}

func TestSettlementService_Settle_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()

	service := newSettlementServiceForTest(db)
	tokenID := uuid.New()

	emptyRows := sqlmock.NewRows([]string{
		"id", "account_id", "partner_id", "partner_name", "discount_kind", "discount_value",
		"code", "attempt_number", "issued_at", "expires_at", "status", "deal_closed",
		"realized_savings", "settled_at",
	})
	mock.ExpectQuery("FROM discount_tokens").
		WithArgs(tokenID).
		WillReturnRows(emptyRows)

	_, err := service.Settle(context.Background(), tokenID, &models.SettleTokenRequest{DealClosed: true})
	if !apperror.Is(err, apperror.KindTokenNotFound) {
		t.Fatalf("expected token not found, got %v", err)
	}
}
