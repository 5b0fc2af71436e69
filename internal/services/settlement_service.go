package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"loyalty-ledger/internal/apperror"
	"loyalty-ledger/internal/config"
	"loyalty-ledger/internal/database"
	"loyalty-ledger/internal/logger"
	"loyalty-ledger/internal/models"

	"github.com/google/uuid"
)

// SettlementService фиксирует исход переговоров по токену.
// Единственное место, где счётчики кошелька меняются из-за исхода
// токена; переход токена и мутация кошелька атомарны.
type SettlementService struct {
	db      *database.DB
	log     *logger.Logger
	wallets *WalletStore
	tokens  *TokenStore
	events  EventPublisher
	cache   *SnapshotCache
	cfg     *config.LedgerConfig
}

// NewSettlementService создает сервис расчётов
func NewSettlementService(db *database.DB, log *logger.Logger, wallets *WalletStore, tokens *TokenStore, events EventPublisher, cache *SnapshotCache, cfg *config.LedgerConfig) *SettlementService {
	return &SettlementService{
		db:      db,
		log:     log,
		wallets: wallets,
		tokens:  tokens,
		events:  events,
		cache:   cache,
		cfg:     cfg,
	}
}

// Settle записывает исход переговоров по активному токену.
// Закрытая сделка наращивает credits_used и экономию, кредит остаётся в
// пуле. Незакрытая — наращивает credits_lost и безвозвратно уменьшает
// доступные кредиты по партнёру. Расчёт по истёкшему токену фиксирует
// его истечение (если оно ещё не записано) и возвращает KindTokenExpired.
func (s *SettlementService) Settle(ctx context.Context, tokenID uuid.UUID, req *models.SettleTokenRequest) (*models.Wallet, error) {
	existing, err := s.tokens.GetByID(ctx, tokenID)
	if err != nil {
		return nil, err
	}

	var (
		settled    *models.DiscountToken
		expiredNow bool
	)
	err = runInTx(ctx, s.db, s.cfg.TxRetries, func(tx *sql.Tx) error {
		now := time.Now()

		// Кошелёк блокируется первым: тот же порядок, что у выпуска
		// и зачистки, иначе возможен дедлок.
		if _, err := s.wallets.GetForUpdate(ctx, tx, existing.AccountID); err != nil {
			return err
		}

		token, err := s.tokens.GetForUpdate(ctx, tx, tokenID)
		if err != nil {
			return err
		}

		switch token.Status {
		case models.TokenStatusExpired:
			return apperror.TokenExpired("token has expired", nil)
		case models.TokenStatusRedeemed, models.TokenStatusCancelled:
			return apperror.TokenFinalized(fmt.Sprintf("token is already %s", token.Status), nil)
		}

		if token.IsExpired(now) {
			// Окно закрылось раньше, чем пришла зачистка: фиксируем
			// истечение здесь, ровно один раз, и сообщаем вызывающему.
			if err := s.tokens.MarkExpired(ctx, tx, tokenID); err != nil {
				return err
			}
			if err := s.wallets.ApplyLostCredit(ctx, tx, token.AccountID); err != nil {
				return err
			}
			expiredNow = true
			settled = token
			return nil
		}

		savings := 0.0
		if req.DealClosed {
			savings = token.RealizedSavingsFor(req.DealAmount)
			if err := s.wallets.ApplyClosedDeal(ctx, tx, token.AccountID, savings); err != nil {
				return err
			}
		} else {
			if err := s.wallets.ApplyLostCredit(ctx, tx, token.AccountID); err != nil {
				return err
			}
		}

		if err := s.tokens.MarkRedeemed(ctx, tx, tokenID, req.DealClosed, savings, now); err != nil {
			return err
		}

		settled = token
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(ctx, existing.AccountID)

	if expiredNow {
		if s.events != nil {
			if pubErr := s.events.PublishTokenExpired(settled); pubErr != nil {
				s.log.WithError(pubErr).WithField("token_id", tokenID).Warn("Failed to publish token expired event")
			}
		}
		return nil, apperror.TokenExpired("token has expired", nil)
	}

	if s.events != nil {
		if pubErr := s.events.PublishTokenSettled(settled, req.DealClosed); pubErr != nil {
			s.log.WithError(pubErr).WithField("token_id", tokenID).Warn("Failed to publish token settled event")
		}
	}

	s.log.WithFields(map[string]interface{}{
		"token_id":    tokenID,
		"account_id":  existing.AccountID,
		"deal_closed": req.DealClosed,
	}).Info("Token settled")

	return s.wallets.GetByID(ctx, existing.AccountID)
}
