package models

import (
	"time"

	"github.com/google/uuid"
)

// WalletStatus представляет статус кошелька
type WalletStatus string

const (
	WalletStatusActive    WalletStatus = "active"
	WalletStatusSuspended WalletStatus = "suspended"
	WalletStatusCancelled WalletStatus = "cancelled"
)

// Wallet представляет кошелёк лояльности аккаунта.
// Счётчики credits_used и credits_lost только растут; доступные кредиты
// по партнёру всегда выводятся из записей токенов, а не хранятся отдельно.
type Wallet struct {
	AccountID       uuid.UUID    `json:"account_id" db:"account_id"`
	Tier            int          `json:"tier" db:"tier"`
	Points          int          `json:"points" db:"points"`
	Status          WalletStatus `json:"status" db:"status"`
	CreditsUsed     int          `json:"credits_used" db:"credits_used"`
	CreditsLost     int          `json:"credits_lost" db:"credits_lost"`
	AmountSaved     float64      `json:"amount_saved" db:"amount_saved"`
	Verified        bool         `json:"verified" db:"verified"`
	ContactVerified bool         `json:"contact_verified" db:"contact_verified"`
	CreatedAt       time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at" db:"updated_at"`
}

// CreateWalletRequest представляет запрос на создание кошелька
type CreateWalletRequest struct {
	AccountID uuid.UUID `json:"account_id"`
	Tier      int       `json:"tier,omitempty"`
}

// PartnerCreditSummary агрегирует кредитное состояние аккаунта по одному партнёру.
type PartnerCreditSummary struct {
	PartnerID        uuid.UUID  `json:"partner_id"`
	PartnerName      string     `json:"partner_name"`
	AttemptsUsed     int        `json:"attempts_used"`
	CreditsLost      int        `json:"credits_lost"`
	CreditsAvailable int        `json:"credits_available"`
	HasActiveToken   bool       `json:"has_active_token"`
	ActiveExpiresAt  *time.Time `json:"active_expires_at,omitempty"`
}

// WalletSnapshot — read-only представление кошелька для внешних вызывающих.
type WalletSnapshot struct {
	AccountID       uuid.UUID              `json:"account_id"`
	Tier            int                    `json:"tier"`
	Points          int                    `json:"points"`
	Status          WalletStatus           `json:"status"`
	CreditsUsed     int                    `json:"credits_used"`
	CreditsLost     int                    `json:"credits_lost"`
	AmountSaved     float64                `json:"amount_saved"`
	Verified        bool                   `json:"verified"`
	ContactVerified bool                   `json:"contact_verified"`
	Partners        []PartnerCreditSummary `json:"partners"`
	GeneratedAt     time.Time              `json:"generated_at"`
}

// CreditsAvailable возвращает остаток кредитов по партнёру с нижней границей 0.
func CreditsAvailable(creditLimit, creditsLost int) int {
	remaining := creditLimit - creditsLost
	if remaining < 0 {
		return 0
	}
	return remaining
}
