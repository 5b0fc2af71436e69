package services

import (
	"context"
	"strings"
	"time"

	"loyalty-ledger/internal/apperror"
	"loyalty-ledger/internal/config"
	"loyalty-ledger/internal/database"
	"loyalty-ledger/internal/logger"
	"loyalty-ledger/internal/models"

	"github.com/google/uuid"
)

// walletEvents — события кошелька, публикуемые сервисом
type walletEvents interface {
	PublishWalletCreated(wallet *models.Wallet) error
}

// WalletService отвечает за создание кошельков и разрешение
// идентификаторов в снапшот для партнёров и админки. Resolve никогда
// не мутирует состояние и безопасен для повторных вызовов.
type WalletService struct {
	db      *database.DB
	log     *logger.Logger
	wallets *WalletStore
	tokens  *TokenStore
	events  walletEvents
	cache   *SnapshotCache
	cfg     *config.LedgerConfig
}

// NewWalletService создает сервис кошельков
func NewWalletService(db *database.DB, log *logger.Logger, wallets *WalletStore, tokens *TokenStore, events walletEvents, cache *SnapshotCache, cfg *config.LedgerConfig) *WalletService {
	return &WalletService{
		db:      db,
		log:     log,
		wallets: wallets,
		tokens:  tokens,
		events:  events,
		cache:   cache,
		cfg:     cfg,
	}
}

// CreateWallet создает кошелёк для аккаунта. Новый кошелёк активен,
// со стартовым уровнем и нулевыми счётчиками.
func (s *WalletService) CreateWallet(ctx context.Context, req *models.CreateWalletRequest) (*models.Wallet, error) {
	if req.AccountID == uuid.Nil {
		return nil, apperror.Validation("account_id is required", nil)
	}

	tier := req.Tier
	if tier < 1 {
		tier = 1
	}
	if tier > 5 {
		return nil, apperror.Validation("tier must be between 1 and 5", nil)
	}

	now := time.Now()
	wallet := &models.Wallet{
		AccountID: req.AccountID,
		Tier:      tier,
		Status:    models.WalletStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.wallets.Insert(ctx, wallet); err != nil {
		return nil, err
	}

	if s.events != nil {
		if err := s.events.PublishWalletCreated(wallet); err != nil {
			s.log.WithError(err).WithField("account_id", wallet.AccountID).Warn("Failed to publish wallet created event")
		}
	}

	s.log.WithField("account_id", wallet.AccountID).Info("Wallet created")
	return wallet, nil
}

// Resolve разрешает идентификатор аккаунта или код токена в снапшот
// кошелька. Неправильно сформированный идентификатор отклоняется до
// обращения к хранилищу.
func (s *WalletService) Resolve(ctx context.Context, identifier string) (*models.WalletSnapshot, error) {
	identifier = strings.TrimSpace(identifier)

	accountID, err := uuid.Parse(identifier)
	if err != nil {
		if !LooksLikeCode(identifier) {
			return nil, apperror.Validation("identifier is neither an account id nor a token code", nil)
		}

		token, err := s.tokens.GetByCode(ctx, strings.ToUpper(identifier))
		if err != nil {
			return nil, err
		}
		accountID = token.AccountID
	}

	if snapshot, ok := s.cache.Get(ctx, accountID); ok {
		return snapshot, nil
	}

	snapshot, err := s.buildSnapshot(ctx, accountID)
	if err != nil {
		return nil, err
	}

	s.cache.Set(ctx, snapshot)
	return snapshot, nil
}

// buildSnapshot собирает снапшот из кошелька и сводок по партнёрам
func (s *WalletService) buildSnapshot(ctx context.Context, accountID uuid.UUID) (*models.WalletSnapshot, error) {
	wallet, err := s.wallets.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	partners, err := s.tokens.PartnerSummaries(ctx, accountID, s.cfg.CreditsPerPartner, time.Now())
	if err != nil {
		return nil, err
	}

	return &models.WalletSnapshot{
		AccountID:       wallet.AccountID,
		Tier:            wallet.Tier,
		Points:          wallet.Points,
		Status:          wallet.Status,
		CreditsUsed:     wallet.CreditsUsed,
		CreditsLost:     wallet.CreditsLost,
		AmountSaved:     wallet.AmountSaved,
		Verified:        wallet.Verified,
		ContactVerified: wallet.ContactVerified,
		Partners:        partners,
		GeneratedAt:     time.Now(),
	}, nil
}
