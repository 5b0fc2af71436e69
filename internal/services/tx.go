package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"loyalty-ledger/internal/apperror"
	"loyalty-ledger/internal/database"

	"github.com/lib/pq"
)

// Коды ошибок PostgreSQL, после которых транзакцию можно повторить.
const (
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
	pqUniqueViolation      = "23505"
)

// runInTx выполняет fn в транзакции с ограниченным числом повторов при
// конфликтах сериализации. Ошибки домена (apperror) не повторяются.
// Исчерпание повторов возвращается вызывающему как KindContention.
func runInTx(ctx context.Context, db *database.DB, retries int, fn func(tx *sql.Tx) error) error {
	if retries < 1 {
		retries = 1
	}

	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		lastErr = func() error {
			tx, err := db.BeginTx(ctx, nil)
			if err != nil {
				return fmt.Errorf("failed to begin transaction: %w", err)
			}
			defer func() { _ = tx.Rollback() }()

			if err := fn(tx); err != nil {
				return err
			}

			if err := tx.Commit(); err != nil {
				return fmt.Errorf("failed to commit transaction: %w", err)
			}
			return nil
		}()

		if lastErr == nil {
			return nil
		}
		if !isRetryableTxError(lastErr) {
			return lastErr
		}
	}

	return apperror.Contention("operation conflicted with concurrent updates, try again", lastErr)
}

// isRetryableTxError распознает конфликт сериализации или дедлок
func isRetryableTxError(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == pqSerializationFailure || pqErr.Code == pqDeadlockDetected
}

// isUniqueViolation распознает нарушение уникального ограничения
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}
