package models

import (
	"time"

	"github.com/google/uuid"
)

// DiscountKind описывает тип скидки токена.
type DiscountKind string

const (
	DiscountKindPercentage  DiscountKind = "percentage"
	DiscountKindFixedAmount DiscountKind = "fixed_amount"
)

// TokenStatus представляет статус токена скидки
type TokenStatus string

const (
	TokenStatusActive    TokenStatus = "active"
	TokenStatusRedeemed  TokenStatus = "redeemed"
	TokenStatusExpired   TokenStatus = "expired"
	TokenStatusCancelled TokenStatus = "cancelled"
)

// DiscountToken представляет временный токен скидки, выданный аккаунту
// для предъявления партнёру. Окно действия фиксируется при выпуске.
type DiscountToken struct {
	ID              uuid.UUID    `json:"id" db:"id"`
	AccountID       uuid.UUID    `json:"account_id" db:"account_id"`
	PartnerID       uuid.UUID    `json:"partner_id" db:"partner_id"`
	PartnerName     string       `json:"partner_name" db:"partner_name"`
	DiscountKind    DiscountKind `json:"discount_kind" db:"discount_kind"`
	DiscountValue   float64      `json:"discount_value" db:"discount_value"`
	Code            string       `json:"code" db:"code"`
	AttemptNumber   int          `json:"attempt_number" db:"attempt_number"`
	IssuedAt        time.Time    `json:"issued_at" db:"issued_at"`
	ExpiresAt       time.Time    `json:"expires_at" db:"expires_at"`
	Status          TokenStatus  `json:"status" db:"status"`
	DealClosed      bool         `json:"deal_closed" db:"deal_closed"`
	RealizedSavings float64      `json:"realized_savings" db:"realized_savings"`
	SettledAt       *time.Time   `json:"settled_at,omitempty" db:"settled_at"`
}

// IsExpired реализует политику истечения: токен считается истёкшим,
// когда он всё ещё ACTIVE, а текущее время вышло за expires_at.
// Любой читатель обязан трактовать такой токен как EXPIRED, даже если
// фоновая зачистка ещё не зафиксировала переход в хранилище.
func (t *DiscountToken) IsExpired(now time.Time) bool {
	return t.Status == TokenStatusActive && now.After(t.ExpiresAt)
}

// IsLive сообщает, что токен ACTIVE и окно действия ещё не закрылось.
func (t *DiscountToken) IsLive(now time.Time) bool {
	return t.Status == TokenStatusActive && !now.After(t.ExpiresAt)
}

// CountsAsLostCredit сообщает, потратил ли токен кредит безвозвратно:
// истёкший без расчёта или рассчитанный без закрытой сделки.
func (t *DiscountToken) CountsAsLostCredit(now time.Time) bool {
	switch t.Status {
	case TokenStatusExpired:
		return true
	case TokenStatusRedeemed:
		return !t.DealClosed
	case TokenStatusActive:
		return now.After(t.ExpiresAt)
	default:
		return false
	}
}

// RealizedSavingsFor вычисляет фактическую экономию для закрытой сделки.
// Для фиксированной скидки это её номинал (не больше суммы сделки, если
// сумма сообщена); для процентной — доля от суммы сделки, без суммы
// экономия не определена и равна нулю.
func (t *DiscountToken) RealizedSavingsFor(dealAmount float64) float64 {
	switch t.DiscountKind {
	case DiscountKindFixedAmount:
		if dealAmount > 0 && t.DiscountValue > dealAmount {
			return dealAmount
		}
		return t.DiscountValue
	case DiscountKindPercentage:
		if dealAmount <= 0 {
			return 0
		}
		return dealAmount * t.DiscountValue / 100.0
	default:
		return 0
	}
}

// IssueTokenRequest представляет запрос на выпуск токена скидки
type IssueTokenRequest struct {
	AccountID     uuid.UUID    `json:"account_id"`
	PartnerID     uuid.UUID    `json:"partner_id"`
	PartnerName   string       `json:"partner_name"`
	DiscountKind  DiscountKind `json:"discount_kind"`
	DiscountValue float64      `json:"discount_value"`
}

// SettleTokenRequest представляет запрос на фиксацию исхода переговоров.
// DealAmount опционален и используется только для расчёта экономии.
type SettleTokenRequest struct {
	DealClosed bool    `json:"deal_closed"`
	DealAmount float64 `json:"deal_amount,omitempty"`
}
