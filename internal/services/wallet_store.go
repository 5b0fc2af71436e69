package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"loyalty-ledger/internal/apperror"
	"loyalty-ledger/internal/database"
	"loyalty-ledger/internal/models"

	"github.com/google/uuid"
)

// WalletStore — узкий репозиторий кошельков. Наружу выставлены только
// операции, которые нужны леджеру: никакого поиска по произвольным полям.
type WalletStore struct {
	db *database.DB
}

// NewWalletStore создает хранилище кошельков
func NewWalletStore(db *database.DB) *WalletStore {
	return &WalletStore{db: db}
}

const walletColumns = `account_id, tier, points, status, credits_used, credits_lost, amount_saved, verified, contact_verified, created_at, updated_at`

func scanWallet(row *sql.Row) (*models.Wallet, error) {
	w := &models.Wallet{}
	err := row.Scan(
		&w.AccountID, &w.Tier, &w.Points, &w.Status, &w.CreditsUsed, &w.CreditsLost,
		&w.AmountSaved, &w.Verified, &w.ContactVerified, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// Insert создает запись кошелька
func (s *WalletStore) Insert(ctx context.Context, wallet *models.Wallet) error {
	query := `
		INSERT INTO wallets (account_id, tier, points, status, credits_used, credits_lost, amount_saved, verified, contact_verified, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, 0, 0, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query,
		wallet.AccountID, wallet.Tier, wallet.Points, wallet.Status,
		wallet.Verified, wallet.ContactVerified, wallet.CreatedAt, wallet.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("wallet already exists", err)
		}
		return fmt.Errorf("failed to insert wallet: %w", err)
	}
	return nil
}

// GetByID возвращает кошелёк без блокировки
func (s *WalletStore) GetByID(ctx context.Context, accountID uuid.UUID) (*models.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE account_id = $1`
	wallet, err := scanWallet(s.db.QueryRowContext(ctx, query, accountID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.WalletNotFound("wallet not found", err)
		}
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return wallet, nil
}

// GetForUpdate читает кошелёк с блокировкой строки. Блокировка строки
// кошелька — единица сериализации всех мутаций по аккаунту: выпуск,
// расчёт и зачистка берут её первой, в одном и том же порядке.
func (s *WalletStore) GetForUpdate(ctx context.Context, tx *sql.Tx, accountID uuid.UUID) (*models.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE account_id = $1 FOR UPDATE`
	wallet, err := scanWallet(tx.QueryRowContext(ctx, query, accountID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.WalletNotFound("wallet not found", err)
		}
		return nil, fmt.Errorf("failed to lock wallet: %w", err)
	}
	return wallet, nil
}

// ApplyClosedDeal фиксирует закрытую сделку: кредит возвращается в пул,
// растут только credits_used и накопленная экономия.
func (s *WalletStore) ApplyClosedDeal(ctx context.Context, tx *sql.Tx, accountID uuid.UUID, savings float64) error {
	query := `
		UPDATE wallets
		SET credits_used = credits_used + 1, amount_saved = amount_saved + $1, updated_at = $2
		WHERE account_id = $3
	`
	if _, err := tx.ExecContext(ctx, query, savings, time.Now(), accountID); err != nil {
		return fmt.Errorf("failed to apply closed deal: %w", err)
	}
	return nil
}

// ApplyLostCredit фиксирует безвозвратную потерю кредита (сделка не
// закрыта или токен истёк). Счётчик только растёт.
func (s *WalletStore) ApplyLostCredit(ctx context.Context, tx *sql.Tx, accountID uuid.UUID) error {
	query := `
		UPDATE wallets
		SET credits_lost = credits_lost + 1, updated_at = $1
		WHERE account_id = $2
	`
	if _, err := tx.ExecContext(ctx, query, time.Now(), accountID); err != nil {
		return fmt.Errorf("failed to apply lost credit: %w", err)
	}
	return nil
}
