package models

import (
	"testing"
	"time"
)

func TestDiscountToken_ExpirationPolicy(t *testing.T) {
	now := time.Now()

	active := &DiscountToken{Status: TokenStatusActive, ExpiresAt: now.Add(time.Hour)}
	if active.IsExpired(now) {
		t.Fatalf("token inside window must not be expired")
	}
	if !active.IsLive(now) {
		t.Fatalf("token inside window must be live")
	}

	stale := &DiscountToken{Status: TokenStatusActive, ExpiresAt: now.Add(-time.Minute)}
	if !stale.IsExpired(now) {
		t.Fatalf("active token past its window must read as expired")
	}
	if stale.IsLive(now) {
		t.Fatalf("active token past its window must not be live")
	}

	redeemed := &DiscountToken{Status: TokenStatusRedeemed, ExpiresAt: now.Add(-time.Minute)}
	if redeemed.IsExpired(now) {
		t.Fatalf("finalized token is not expired, it is redeemed")
	}

	boundary := &DiscountToken{Status: TokenStatusActive, ExpiresAt: now}
	if boundary.IsExpired(now) {
		t.Fatalf("token is still valid at the exact expiry instant")
	}
}

func TestDiscountToken_CountsAsLostCredit(t *testing.T) {
	now := time.Now()

	cases := []struct {
		name  string
		token DiscountToken
		want  bool
	}{
		{"live active", DiscountToken{Status: TokenStatusActive, ExpiresAt: now.Add(time.Hour)}, false},
		{"active past window", DiscountToken{Status: TokenStatusActive, ExpiresAt: now.Add(-time.Hour)}, true},
		{"expired", DiscountToken{Status: TokenStatusExpired}, true},
		{"redeemed deal closed", DiscountToken{Status: TokenStatusRedeemed, DealClosed: true}, false},
		{"redeemed deal lost", DiscountToken{Status: TokenStatusRedeemed, DealClosed: false}, true},
		{"cancelled", DiscountToken{Status: TokenStatusCancelled}, false},
	}

	for _, tc := range cases {
		if got := tc.token.CountsAsLostCredit(now); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestDiscountToken_RealizedSavings(t *testing.T) {
	fixed := &DiscountToken{DiscountKind: DiscountKindFixedAmount, DiscountValue: 50}
	if got := fixed.RealizedSavingsFor(300); got != 50 {
		t.Fatalf("expected 50, got %.2f", got)
	}
	// Фиксированная скидка не может превышать сумму сделки
	if got := fixed.RealizedSavingsFor(30); got != 30 {
		t.Fatalf("expected 30, got %.2f", got)
	}
	// Без суммы сделки фиксированная скидка берётся номиналом
	if got := fixed.RealizedSavingsFor(0); got != 50 {
		t.Fatalf("expected 50 without deal amount, got %.2f", got)
	}

	percent := &DiscountToken{DiscountKind: DiscountKindPercentage, DiscountValue: 10}
	if got := percent.RealizedSavingsFor(200); got != 20 {
		t.Fatalf("expected 20, got %.2f", got)
	}
	// Процент без суммы сделки посчитать нельзя
	if got := percent.RealizedSavingsFor(0); got != 0 {
		t.Fatalf("expected 0 without deal amount, got %.2f", got)
	}
}

func TestCreditsAvailable(t *testing.T) {
	if got := CreditsAvailable(3, 0); got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
	if got := CreditsAvailable(3, 2); got != 1 {
		t.Fatalf("expected 1, got %d", got)
	}
	// Счётчик не уходит в минус
	if got := CreditsAvailable(3, 5); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}
