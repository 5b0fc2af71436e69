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

// Notifier — исходящий шлюз уведомлений. Доставка best-effort: ошибка
// логируется и никогда не откатывает выпуск токена.
type Notifier interface {
	Notify(notification *models.Notification) error
}

// EventPublisher публикует события жизненного цикла токенов
type EventPublisher interface {
	PublishTokenIssued(token *models.DiscountToken) error
	PublishTokenSettled(token *models.DiscountToken, dealClosed bool) error
	PublishTokenExpired(token *models.DiscountToken) error
	PublishTokenCancelled(token *models.DiscountToken) error
}

// Сколько раз перегенерировать код при коллизии уникальности
const codeCollisionRetries = 5

// TokenService выпускает токены скидки: проверяет право на выпуск,
// чеканит токен и запрашивает уведомление владельца.
type TokenService struct {
	db       *database.DB
	log      *logger.Logger
	wallets  *WalletStore
	tokens   *TokenStore
	notifier Notifier
	events   EventPublisher
	cache    *SnapshotCache
	cfg      *config.LedgerConfig
}

// NewTokenService создает сервис выпуска токенов
func NewTokenService(db *database.DB, log *logger.Logger, wallets *WalletStore, tokens *TokenStore, notifier Notifier, events EventPublisher, cache *SnapshotCache, cfg *config.LedgerConfig) *TokenService {
	return &TokenService{
		db:       db,
		log:      log,
		wallets:  wallets,
		tokens:   tokens,
		notifier: notifier,
		events:   events,
		cache:    cache,
		cfg:      cfg,
	}
}

// Issue выпускает токен скидки для пары (аккаунт, партнёр).
// Предусловия проверяются по порядку, каждое со своей ошибкой:
// кошелёк активен → нет живого токена → не исчерпаны попытки →
// остались кредиты. До прохождения всех проверок хранилище не меняется.
func (s *TokenService) Issue(ctx context.Context, req *models.IssueTokenRequest) (*models.DiscountToken, error) {
	if err := validateDiscountPayload(req.DiscountKind, req.DiscountValue); err != nil {
		return nil, err
	}

	var token *models.DiscountToken
	err := runInTx(ctx, s.db, s.cfg.TxRetries, func(tx *sql.Tx) error {
		now := time.Now()

		wallet, err := s.wallets.GetForUpdate(ctx, tx, req.AccountID)
		if err != nil {
			return err
		}
		if wallet.Status != models.WalletStatusActive {
			return apperror.WalletNotActive(fmt.Sprintf("wallet is %s, issuance not permitted", wallet.Status), nil)
		}

		attemptsUsed, creditsLost, hasLiveToken, err := s.tokens.PartnerUsage(ctx, tx, req.AccountID, req.PartnerID, now)
		if err != nil {
			return err
		}
		if hasLiveToken {
			return apperror.DuplicateToken("an active token already exists for this partner", nil)
		}
		if attemptsUsed >= s.cfg.AttemptsPerPartner {
			return apperror.AttemptLimit(fmt.Sprintf("attempt limit of %d reached for this partner", s.cfg.AttemptsPerPartner), nil)
		}
		if models.CreditsAvailable(s.cfg.CreditsPerPartner, creditsLost) == 0 {
			return apperror.NoCredits("no credits available for this partner", nil)
		}

		token = &models.DiscountToken{
			ID:            uuid.New(),
			AccountID:     req.AccountID,
			PartnerID:     req.PartnerID,
			PartnerName:   req.PartnerName,
			DiscountKind:  req.DiscountKind,
			DiscountValue: req.DiscountValue,
			AttemptNumber: attemptsUsed + 1,
			IssuedAt:      now,
			ExpiresAt:     now.Add(time.Duration(s.cfg.TokenTTLHours) * time.Hour),
			Status:        models.TokenStatusActive,
		}

		return s.insertWithUniqueCode(ctx, tx, token)
	})
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(ctx, req.AccountID)

	// Уведомление и событие уходят после фиксации записи и вне
	// транзакции: их неудача токен не отменяет.
	go s.dispatchIssued(token)

	s.log.WithFields(map[string]interface{}{
		"token_id":   token.ID,
		"account_id": token.AccountID,
		"partner_id": token.PartnerID,
		"attempt":    token.AttemptNumber,
	}).Info("Discount token issued")

	return token, nil
}

// insertWithUniqueCode генерирует код и вставляет токен, повторяя
// генерацию при коллизии уникального ограничения.
func (s *TokenService) insertWithUniqueCode(ctx context.Context, tx *sql.Tx, token *models.DiscountToken) error {
	var lastErr error
	for i := 0; i < codeCollisionRetries; i++ {
		code, err := GenerateCode(s.cfg.CodePrefix)
		if err != nil {
			return err
		}
		token.Code = code

		lastErr = s.tokens.Insert(ctx, tx, token)
		if lastErr == nil {
			return nil
		}
		if !isUniqueViolation(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("failed to generate unique token code: %w", lastErr)
}

func (s *TokenService) dispatchIssued(token *models.DiscountToken) {
	if s.notifier != nil {
		notification := &models.Notification{
			AccountID: token.AccountID,
			Title:     "Discount token issued",
			Body:      fmt.Sprintf("Your discount code %s for %s is valid until %s", token.Code, token.PartnerName, token.ExpiresAt.Format(time.RFC1123)),
			Metadata: map[string]string{
				"token_id":   token.ID.String(),
				"partner_id": token.PartnerID.String(),
				"code":       token.Code,
			},
		}
		if err := s.notifier.Notify(notification); err != nil {
			s.log.WithError(err).WithField("token_id", token.ID).Warn("Failed to request token notification")
		}
	}
	if s.events != nil {
		if err := s.events.PublishTokenIssued(token); err != nil {
			s.log.WithError(err).WithField("token_id", token.ID).Warn("Failed to publish token issued event")
		}
	}
}

// GetToken возвращает токен по ID
func (s *TokenService) GetToken(ctx context.Context, tokenID uuid.UUID) (*models.DiscountToken, error) {
	return s.tokens.GetByID(ctx, tokenID)
}

// ListTokens возвращает токены аккаунта, опционально по одному партнёру
func (s *TokenService) ListTokens(ctx context.Context, accountID uuid.UUID, partnerID *uuid.UUID, limit, offset int) ([]*models.DiscountToken, error) {
	return s.tokens.ListByAccount(ctx, accountID, partnerID, limit, offset)
}

// Cancel — административная отмена активного токена. Попытка остаётся
// использованной, кредитные счётчики не меняются.
func (s *TokenService) Cancel(ctx context.Context, tokenID uuid.UUID) (*models.DiscountToken, error) {
	existing, err := s.tokens.GetByID(ctx, tokenID)
	if err != nil {
		return nil, err
	}

	err = runInTx(ctx, s.db, s.cfg.TxRetries, func(tx *sql.Tx) error {
		if _, err := s.wallets.GetForUpdate(ctx, tx, existing.AccountID); err != nil {
			return err
		}

		token, err := s.tokens.GetForUpdate(ctx, tx, tokenID)
		if err != nil {
			return err
		}
		if token.Status != models.TokenStatusActive {
			return apperror.TokenFinalized(fmt.Sprintf("token is already %s", token.Status), nil)
		}

		return s.tokens.MarkCancelled(ctx, tx, tokenID)
	})
	if err != nil {
		return nil, err
	}

	existing.Status = models.TokenStatusCancelled
	s.cache.Invalidate(ctx, existing.AccountID)

	if s.events != nil {
		if err := s.events.PublishTokenCancelled(existing); err != nil {
			s.log.WithError(err).WithField("token_id", existing.ID).Warn("Failed to publish token cancelled event")
		}
	}

	s.log.WithField("token_id", tokenID).Info("Discount token cancelled")
	return existing, nil
}

// validateDiscountPayload проверяет тип и значение скидки до любых
// обращений к хранилищу.
func validateDiscountPayload(kind models.DiscountKind, value float64) error {
	switch kind {
	case models.DiscountKindPercentage:
		if value <= 0 || value > 100 {
			return apperror.InvalidDiscount("percentage discount must be in (0, 100]", nil)
		}
	case models.DiscountKindFixedAmount:
		if value <= 0 {
			return apperror.InvalidDiscount("fixed amount discount must be positive", nil)
		}
	default:
		return apperror.InvalidDiscount(fmt.Sprintf("unknown discount kind %q", kind), nil)
	}
	return nil
}
