package services

import (
	"context"
	"time"

	"loyalty-ledger/internal/config"
	"loyalty-ledger/internal/logger"
	"loyalty-ledger/internal/models"
	"loyalty-ledger/internal/redis"

	"github.com/google/uuid"
)

// SnapshotCache кеширует снапшоты кошельков в Redis. Кеш — только
// ускорение чтения: любая мутация кошелька или его токенов инвалидирует
// запись, источником истины остаётся база.
type SnapshotCache struct {
	redis *redis.Client
	log   *logger.Logger
	ttl   time.Duration
}

// NewSnapshotCache создает кеш снапшотов. При nil redis кеш выключен.
func NewSnapshotCache(redisClient *redis.Client, log *logger.Logger, cfg *config.CacheConfig) *SnapshotCache {
	ttl := 5 * time.Minute
	if cfg != nil && cfg.SnapshotTTLMinutes > 0 {
		ttl = time.Duration(cfg.SnapshotTTLMinutes) * time.Minute
	}
	return &SnapshotCache{
		redis: redisClient,
		log:   log,
		ttl:   ttl,
	}
}

// Get возвращает снапшот из кеша, если он там есть
func (c *SnapshotCache) Get(ctx context.Context, accountID uuid.UUID) (*models.WalletSnapshot, bool) {
	if c == nil || c.redis == nil {
		return nil, false
	}

	var snapshot models.WalletSnapshot
	key := redis.GenerateKey(redis.KeyPrefixSnapshot, accountID.String())
	if err := c.redis.Get(ctx, key, &snapshot); err != nil {
		return nil, false
	}
	return &snapshot, true
}

// Set сохраняет снапшот с TTL
func (c *SnapshotCache) Set(ctx context.Context, snapshot *models.WalletSnapshot) {
	if c == nil || c.redis == nil {
		return
	}

	key := redis.GenerateKey(redis.KeyPrefixSnapshot, snapshot.AccountID.String())
	if err := c.redis.Set(ctx, key, snapshot, c.ttl); err != nil {
		c.log.WithError(err).WithField("account_id", snapshot.AccountID).Warn("Failed to cache wallet snapshot")
	}
}

// Invalidate удаляет снапшот аккаунта из кеша
func (c *SnapshotCache) Invalidate(ctx context.Context, accountID uuid.UUID) {
	if c == nil || c.redis == nil {
		return
	}

	key := redis.GenerateKey(redis.KeyPrefixSnapshot, accountID.String())
	if err := c.redis.Delete(ctx, key); err != nil {
		c.log.WithError(err).WithField("account_id", accountID).Warn("Failed to invalidate wallet snapshot")
	}
}
