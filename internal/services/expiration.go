package services

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"loyalty-ledger/internal/apperror"
	"loyalty-ledger/internal/config"
	"loyalty-ledger/internal/database"
	"loyalty-ledger/internal/logger"
	"loyalty-ledger/internal/models"
)

// ExpirationSweeper периодически фиксирует истечение активных токенов,
// чьё окно закрылось. Сам момент истечения определяется только
// сравнением с expires_at — по одному таймеру на токен не заводится.
// Истекший без расчёта токен списывает кредит ровно один раз: переход
// защищён блокировкой кошелька и условием по статусу.
type ExpirationSweeper struct {
	db       *database.DB
	log      *logger.Logger
	wallets  *WalletStore
	tokens   *TokenStore
	events   EventPublisher
	cache    *SnapshotCache
	cfg      *config.LedgerConfig
	interval time.Duration
	batch    int
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewExpirationSweeper создает фоновую зачистку истёкших токенов
func NewExpirationSweeper(db *database.DB, log *logger.Logger, wallets *WalletStore, tokens *TokenStore, events EventPublisher, cache *SnapshotCache, ledgerCfg *config.LedgerConfig, sweepCfg *config.SweepConfig) *ExpirationSweeper {
	interval := time.Minute
	batch := 100
	if sweepCfg != nil {
		if sweepCfg.IntervalSeconds > 0 {
			interval = time.Duration(sweepCfg.IntervalSeconds) * time.Second
		}
		if sweepCfg.BatchSize > 0 {
			batch = sweepCfg.BatchSize
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &ExpirationSweeper{
		db:       db,
		log:      log,
		wallets:  wallets,
		tokens:   tokens,
		events:   events,
		cache:    cache,
		cfg:      ledgerCfg,
		interval: interval,
		batch:    batch,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start запускает цикл зачистки в отдельной горутине
func (s *ExpirationSweeper) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				if n, err := s.SweepOnce(s.ctx); err != nil {
					s.log.WithError(err).Error("Expiration sweep failed")
				} else if n > 0 {
					s.log.WithField("expired", n).Info("Expiration sweep completed")
				}
			}
		}
	}()
}

// Stop останавливает цикл и дожидается завершения прохода
func (s *ExpirationSweeper) Stop() {
	s.cancel()
	s.wg.Wait()
}

// SweepOnce выполняет один проход и возвращает число истёкших токенов
func (s *ExpirationSweeper) SweepOnce(ctx context.Context) (int, error) {
	candidates, err := s.tokens.ListExpiredCandidates(ctx, time.Now(), s.batch)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, candidate := range candidates {
		if ctx.Err() != nil {
			return expired, ctx.Err()
		}
		if err := s.expireOne(ctx, candidate); err != nil {
			// Проигрыш гонки расчёту — не ошибка: токен уже финализирован
			if apperror.Is(err, apperror.KindTokenFinalized) {
				continue
			}
			s.log.WithError(err).WithField("token_id", candidate.ID).Error("Failed to expire token")
			continue
		}
		expired++

		s.cache.Invalidate(ctx, candidate.AccountID)
		if s.events != nil {
			if err := s.events.PublishTokenExpired(candidate); err != nil {
				s.log.WithError(err).WithField("token_id", candidate.ID).Warn("Failed to publish token expired event")
			}
		}
	}

	return expired, nil
}

// expireOne фиксирует истечение одного токена атомарно со списанием кредита
func (s *ExpirationSweeper) expireOne(ctx context.Context, candidate *models.DiscountToken) error {
	return runInTx(ctx, s.db, s.cfg.TxRetries, func(tx *sql.Tx) error {
		if _, err := s.wallets.GetForUpdate(ctx, tx, candidate.AccountID); err != nil {
			return err
		}

		token, err := s.tokens.GetForUpdate(ctx, tx, candidate.ID)
		if err != nil {
			return err
		}
		if !token.IsExpired(time.Now()) {
			return apperror.TokenFinalized("token no longer pending expiration", nil)
		}

		if err := s.tokens.MarkExpired(ctx, tx, token.ID); err != nil {
			return err
		}
		return s.wallets.ApplyLostCredit(ctx, tx, token.AccountID)
	})
}
