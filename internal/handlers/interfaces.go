package handlers

import (
	"context"

	"loyalty-ledger/internal/models"

	"github.com/google/uuid"
)

// ----- Wallets -----

type WalletService interface {
	CreateWallet(ctx context.Context, req *models.CreateWalletRequest) (*models.Wallet, error)
	Resolve(ctx context.Context, identifier string) (*models.WalletSnapshot, error)
}

// ----- Tokens -----

type TokenService interface {
	Issue(ctx context.Context, req *models.IssueTokenRequest) (*models.DiscountToken, error)
	GetToken(ctx context.Context, tokenID uuid.UUID) (*models.DiscountToken, error)
	ListTokens(ctx context.Context, accountID uuid.UUID, partnerID *uuid.UUID, limit, offset int) ([]*models.DiscountToken, error)
	Cancel(ctx context.Context, tokenID uuid.UUID) (*models.DiscountToken, error)
}

type SettlementService interface {
	Settle(ctx context.Context, tokenID uuid.UUID, req *models.SettleTokenRequest) (*models.Wallet, error)
}

// ----- Health -----

type DBHealth interface {
	Health() error
}

type RedisHealth interface {
	Health(ctx context.Context) error
}
