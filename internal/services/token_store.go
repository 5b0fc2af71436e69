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

// TokenStore — узкий репозиторий токенов скидки. Агрегаты по партнёру
// (использованные попытки, потерянные кредиты) считаются здесь одним
// запросом и нигде не кешируются отдельно.
type TokenStore struct {
	db *database.DB
}

// NewTokenStore создает хранилище токенов
func NewTokenStore(db *database.DB) *TokenStore {
	return &TokenStore{db: db}
}

const tokenColumns = `id, account_id, partner_id, partner_name, discount_kind, discount_value, code, attempt_number, issued_at, expires_at, status, deal_closed, realized_savings, settled_at`

func scanToken(scanner interface{ Scan(...interface{}) error }) (*models.DiscountToken, error) {
	t := &models.DiscountToken{}
	err := scanner.Scan(
		&t.ID, &t.AccountID, &t.PartnerID, &t.PartnerName, &t.DiscountKind, &t.DiscountValue,
		&t.Code, &t.AttemptNumber, &t.IssuedAt, &t.ExpiresAt, &t.Status, &t.DealClosed,
		&t.RealizedSavings, &t.SettledAt,
	)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Insert создает запись токена внутри транзакции выпуска.
// Нарушение уникальности кода отдается вызывающему как есть: выпуск
// повторяет генерацию кода.
func (s *TokenStore) Insert(ctx context.Context, tx *sql.Tx, token *models.DiscountToken) error {
	query := `
		INSERT INTO discount_tokens (id, account_id, partner_id, partner_name, discount_kind, discount_value, code, attempt_number, issued_at, expires_at, status, deal_closed, realized_savings)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, false, 0)
	`
	_, err := tx.ExecContext(ctx, query,
		token.ID, token.AccountID, token.PartnerID, token.PartnerName,
		token.DiscountKind, token.DiscountValue, token.Code, token.AttemptNumber,
		token.IssuedAt, token.ExpiresAt, token.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to insert token: %w", err)
	}
	return nil
}

// GetByID возвращает токен без блокировки
func (s *TokenStore) GetByID(ctx context.Context, tokenID uuid.UUID) (*models.DiscountToken, error) {
	query := `SELECT ` + tokenColumns + ` FROM discount_tokens WHERE id = $1`
	token, err := scanToken(s.db.QueryRowContext(ctx, query, tokenID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.TokenNotFound("token not found", err)
		}
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	return token, nil
}

// GetByCode возвращает токен по человекочитаемому коду
func (s *TokenStore) GetByCode(ctx context.Context, code string) (*models.DiscountToken, error) {
	query := `SELECT ` + tokenColumns + ` FROM discount_tokens WHERE code = $1`
	token, err := scanToken(s.db.QueryRowContext(ctx, query, code))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.TokenNotFound("token not found", err)
		}
		return nil, fmt.Errorf("failed to get token by code: %w", err)
	}
	return token, nil
}

// GetForUpdate читает токен с блокировкой строки. Вызывается только
// после блокировки кошелька владельца.
func (s *TokenStore) GetForUpdate(ctx context.Context, tx *sql.Tx, tokenID uuid.UUID) (*models.DiscountToken, error) {
	query := `SELECT ` + tokenColumns + ` FROM discount_tokens WHERE id = $1 FOR UPDATE`
	token, err := scanToken(tx.QueryRowContext(ctx, query, tokenID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.TokenNotFound("token not found", err)
		}
		return nil, fmt.Errorf("failed to lock token: %w", err)
	}
	return token, nil
}

// PartnerUsage агрегирует состояние пары (аккаунт, партнёр) одним
// запросом под блокировкой кошелька: использованные попытки, потерянные
// кредиты и наличие живого токена. Токен со статусом ACTIVE, но с
// истекшим окном, уже считается истёкшим.
func (s *TokenStore) PartnerUsage(ctx context.Context, tx *sql.Tx, accountID, partnerID uuid.UUID, now time.Time) (attemptsUsed, creditsLost int, hasLiveToken bool, err error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status IN ('redeemed', 'expired', 'cancelled') OR (status = 'active' AND expires_at <= $3)),
			COUNT(*) FILTER (WHERE status = 'expired' OR (status = 'redeemed' AND deal_closed = false) OR (status = 'active' AND expires_at <= $3)),
			COUNT(*) FILTER (WHERE status = 'active' AND expires_at > $3)
		FROM discount_tokens
		WHERE account_id = $1 AND partner_id = $2
	`
	var liveCount int
	if err = tx.QueryRowContext(ctx, query, accountID, partnerID, now).Scan(&attemptsUsed, &creditsLost, &liveCount); err != nil {
		return 0, 0, false, fmt.Errorf("failed to aggregate partner usage: %w", err)
	}
	return attemptsUsed, creditsLost, liveCount > 0, nil
}

// PartnerSummaries собирает по каждому партнёру сводку для снапшота кошелька
func (s *TokenStore) PartnerSummaries(ctx context.Context, accountID uuid.UUID, creditLimit int, now time.Time) ([]models.PartnerCreditSummary, error) {
	query := `
		SELECT
			partner_id,
			MAX(partner_name),
			COUNT(*) FILTER (WHERE status IN ('redeemed', 'expired', 'cancelled') OR (status = 'active' AND expires_at <= $2)),
			COUNT(*) FILTER (WHERE status = 'expired' OR (status = 'redeemed' AND deal_closed = false) OR (status = 'active' AND expires_at <= $2)),
			COUNT(*) FILTER (WHERE status = 'active' AND expires_at > $2),
			MAX(expires_at) FILTER (WHERE status = 'active' AND expires_at > $2)
		FROM discount_tokens
		WHERE account_id = $1
		GROUP BY partner_id
		ORDER BY partner_id
	`
	rows, err := s.db.QueryContext(ctx, query, accountID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query partner summaries: %w", err)
	}
	defer rows.Close()

	var summaries []models.PartnerCreditSummary
	for rows.Next() {
		var (
			summary   models.PartnerCreditSummary
			liveCount int
			expiresAt sql.NullTime
		)
		if err := rows.Scan(&summary.PartnerID, &summary.PartnerName, &summary.AttemptsUsed, &summary.CreditsLost, &liveCount, &expiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan partner summary: %w", err)
		}
		summary.CreditsAvailable = models.CreditsAvailable(creditLimit, summary.CreditsLost)
		summary.HasActiveToken = liveCount > 0
		if expiresAt.Valid {
			t := expiresAt.Time
			summary.ActiveExpiresAt = &t
		}
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate partner summaries: %w", err)
	}

	return summaries, nil
}

// ListByAccount возвращает токены аккаунта, опционально по одному партнёру
func (s *TokenStore) ListByAccount(ctx context.Context, accountID uuid.UUID, partnerID *uuid.UUID, limit, offset int) ([]*models.DiscountToken, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT ` + tokenColumns + `
		FROM discount_tokens
		WHERE account_id = $1 AND ($2::uuid IS NULL OR partner_id = $2)
		ORDER BY issued_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := s.db.QueryContext(ctx, query, accountID, partnerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*models.DiscountToken
	for rows.Next() {
		token, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan token: %w", err)
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tokens: %w", err)
	}

	return tokens, nil
}

// MarkRedeemed переводит токен в REDEEMED вместе с исходом сделки
func (s *TokenStore) MarkRedeemed(ctx context.Context, tx *sql.Tx, tokenID uuid.UUID, dealClosed bool, savings float64, settledAt time.Time) error {
	query := `
		UPDATE discount_tokens
		SET status = 'redeemed', deal_closed = $1, realized_savings = $2, settled_at = $3
		WHERE id = $4 AND status = 'active'
	`
	result, err := tx.ExecContext(ctx, query, dealClosed, savings, settledAt, tokenID)
	if err != nil {
		return fmt.Errorf("failed to mark token redeemed: %w", err)
	}
	return requireOneRow(result, "redeem")
}

// MarkExpired переводит токен в EXPIRED. Условие по статусу гарантирует,
// что переход фиксируется ровно один раз: проигравший гонку получает
// KindTokenFinalized.
func (s *TokenStore) MarkExpired(ctx context.Context, tx *sql.Tx, tokenID uuid.UUID) error {
	query := `
		UPDATE discount_tokens
		SET status = 'expired'
		WHERE id = $1 AND status = 'active'
	`
	result, err := tx.ExecContext(ctx, query, tokenID)
	if err != nil {
		return fmt.Errorf("failed to mark token expired: %w", err)
	}
	return requireOneRow(result, "expire")
}

// MarkCancelled переводит токен в CANCELLED (административное действие)
func (s *TokenStore) MarkCancelled(ctx context.Context, tx *sql.Tx, tokenID uuid.UUID) error {
	query := `
		UPDATE discount_tokens
		SET status = 'cancelled'
		WHERE id = $1 AND status = 'active'
	`
	result, err := tx.ExecContext(ctx, query, tokenID)
	if err != nil {
		return fmt.Errorf("failed to mark token cancelled: %w", err)
	}
	return requireOneRow(result, "cancel")
}

// ListExpiredCandidates возвращает активные токены с истекшим окном
// для фоновой зачистки
func (s *TokenStore) ListExpiredCandidates(ctx context.Context, now time.Time, limit int) ([]*models.DiscountToken, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT ` + tokenColumns + `
		FROM discount_tokens
		WHERE status = 'active' AND expires_at <= $1
		ORDER BY expires_at
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired candidates: %w", err)
	}
	defer rows.Close()

	var tokens []*models.DiscountToken
	for rows.Next() {
		token, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan expired candidate: %w", err)
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate expired candidates: %w", err)
	}

	return tokens, nil
}

func requireOneRow(result sql.Result, op string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return apperror.TokenFinalized(fmt.Sprintf("token already finalized, cannot %s", op), nil)
	}
	return nil
}
