package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"loyalty-ledger/internal/apperror"
	"loyalty-ledger/internal/models"

	"github.com/google/uuid"
)

type stubTokenService struct {
	token  *models.DiscountToken
	tokens []*models.DiscountToken
	err    error

	listAccountID uuid.UUID
	listPartnerID *uuid.UUID
	listLimit     int
}

func (s *stubTokenService) Issue(ctx context.Context, req *models.IssueTokenRequest) (*models.DiscountToken, error) {
	return s.token, s.err
}

func (s *stubTokenService) GetToken(ctx context.Context, tokenID uuid.UUID) (*models.DiscountToken, error) {
	return s.token, s.err
}

func (s *stubTokenService) ListTokens(ctx context.Context, accountID uuid.UUID, partnerID *uuid.UUID, limit, offset int) ([]*models.DiscountToken, error) {
	s.listAccountID = accountID
	s.listPartnerID = partnerID
	s.listLimit = limit
	return s.tokens, s.err
}

func (s *stubTokenService) Cancel(ctx context.Context, tokenID uuid.UUID) (*models.DiscountToken, error) {
	return s.token, s.err
}

type stubSettlementService struct {
	wallet *models.Wallet
	err    error

	settledID uuid.UUID
	request   *models.SettleTokenRequest
}

func (s *stubSettlementService) Settle(ctx context.Context, tokenID uuid.UUID, req *models.SettleTokenRequest) (*models.Wallet, error) {
	s.settledID = tokenID
	s.request = req
	return s.wallet, s.err
}

func newTokenHandlerForTest(tokens *stubTokenService, settlement *stubSettlementService) *TokenHandler {
	if tokens == nil {
		tokens = &stubTokenService{}
	}
	if settlement == nil {
		settlement = &stubSettlementService{}
	}
	return NewTokenHandler(tokens, settlement, newHandlerTestLogger())
}

func issueBody(t *testing.T) *bytes.Reader {
	t.Helper()
	body, err := json.Marshal(models.IssueTokenRequest{
		AccountID:     uuid.New(),
		PartnerID:     uuid.New(),
		PartnerName:   "Megastore",
		DiscountKind:  models.DiscountKindPercentage,
		DiscountValue: 10,
	})
	if err != nil {
		t.Fatalf("failed to marshal request: %v", err)
	}
	return bytes.NewReader(body)
}

func TestTokenHandler_IssueToken_Success(t *testing.T) {
	stub := &stubTokenService{token: &models.DiscountToken{ID: uuid.New(), Code: "SAVE-AB2D-EF3H", Status: models.TokenStatusActive}}
	h := newTokenHandlerForTest(stub, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/tokens", issueBody(t))
	rr := httptest.NewRecorder()

	h.IssueToken(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var token models.DiscountToken
	if err := json.NewDecoder(rr.Body).Decode(&token); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if token.Code != "SAVE-AB2D-EF3H" {
		t.Fatalf("code mismatch in response: %q", token.Code)
	}
}

func TestTokenHandler_IssueToken_MissingIDs(t *testing.T) {
	h := newTokenHandlerForTest(nil, nil)

	body, _ := json.Marshal(models.IssueTokenRequest{DiscountKind: models.DiscountKindPercentage, DiscountValue: 10})
	req := httptest.NewRequest(http.MethodPost, "/api/tokens", bytes.NewReader(body))
	rr := httptest.NewRecorder()

	h.IssueToken(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestTokenHandler_IssueToken_ErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"duplicate active token", apperror.DuplicateToken("an active token already exists for this partner", nil), http.StatusConflict},
		{"attempt limit", apperror.AttemptLimit("attempt limit of 2 reached for this partner", nil), http.StatusConflict},
		{"no credits", apperror.NoCredits("no credits available for this partner", nil), http.StatusConflict},
		{"wallet suspended", apperror.WalletNotActive("wallet is suspended, issuance not permitted", nil), http.StatusConflict},
		{"invalid discount", apperror.InvalidDiscount("percentage discount must be in (0, 100]", nil), http.StatusBadRequest},
		{"wallet not found", apperror.WalletNotFound("wallet not found", nil), http.StatusNotFound},
		{"contention", apperror.Contention("operation conflicted with concurrent updates, try again", nil), http.StatusServiceUnavailable},
	}

	for _, tc := range cases {
		h := newTokenHandlerForTest(&stubTokenService{err: tc.err}, nil)
		req := httptest.NewRequest(http.MethodPost, "/api/tokens", issueBody(t))
		rr := httptest.NewRecorder()

		h.IssueToken(rr, req)
		if rr.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, rr.Code)
		}
	}
}

func TestTokenHandler_GetToken_Success(t *testing.T) {
	tokenID := uuid.New()
	stub := &stubTokenService{token: &models.DiscountToken{ID: tokenID}}
	h := newTokenHandlerForTest(stub, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/tokens/"+tokenID.String(), nil)
	rr := httptest.NewRecorder()

	h.GetToken(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestTokenHandler_GetToken_BadID(t *testing.T) {
	h := newTokenHandlerForTest(nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/tokens/not-a-uuid", nil)
	rr := httptest.NewRecorder()

	h.GetToken(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestTokenHandler_ListTokens(t *testing.T) {
	accountID := uuid.New()
	partnerID := uuid.New()
	stub := &stubTokenService{tokens: []*models.DiscountToken{{ID: uuid.New()}}}
	h := newTokenHandlerForTest(stub, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/tokens?account_id="+accountID.String()+"&partner_id="+partnerID.String()+"&limit=10", nil)
	rr := httptest.NewRecorder()

	h.ListTokens(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if stub.listAccountID != accountID {
		t.Fatalf("account id not passed to service")
	}
	if stub.listPartnerID == nil || *stub.listPartnerID != partnerID {
		t.Fatalf("partner id not passed to service")
	}
	if stub.listLimit != 10 {
		t.Fatalf("expected limit 10, got %d", stub.listLimit)
	}
}

func TestTokenHandler_ListTokens_MissingAccountID(t *testing.T) {
	h := newTokenHandlerForTest(nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/tokens", nil)
	rr := httptest.NewRecorder()

	h.ListTokens(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestTokenHandler_SettleToken_Success(t *testing.T) {
	tokenID := uuid.New()
	stub := &stubSettlementService{wallet: &models.Wallet{AccountID: uuid.New(), CreditsUsed: 1}}
	h := newTokenHandlerForTest(nil, stub)

	body, _ := json.Marshal(models.SettleTokenRequest{DealClosed: true, DealAmount: 250})
	req := httptest.NewRequest(http.MethodPost, "/api/tokens/"+tokenID.String()+"/settle", bytes.NewReader(body))
	rr := httptest.NewRecorder()

	h.SettleToken(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if stub.settledID != tokenID {
		t.Fatalf("token id not passed to service")
	}
	if stub.request == nil || !stub.request.DealClosed || stub.request.DealAmount != 250 {
		t.Fatalf("settle request not passed through: %+v", stub.request)
	}
}

func TestTokenHandler_SettleToken_Expired(t *testing.T) {
	stub := &stubSettlementService{err: apperror.TokenExpired("token has expired", nil)}
	h := newTokenHandlerForTest(nil, stub)

	body, _ := json.Marshal(models.SettleTokenRequest{DealClosed: true})
	req := httptest.NewRequest(http.MethodPost, "/api/tokens/"+uuid.New().String()+"/settle", bytes.NewReader(body))
	rr := httptest.NewRecorder()

	h.SettleToken(rr, req)
	if rr.Code != http.StatusGone {
		t.Fatalf("expected 410, got %d", rr.Code)
	}
}

func TestTokenHandler_SettleToken_NegativeAmount(t *testing.T) {
	h := newTokenHandlerForTest(nil, nil)

	body, _ := json.Marshal(models.SettleTokenRequest{DealClosed: true, DealAmount: -5})
	req := httptest.NewRequest(http.MethodPost, "/api/tokens/"+uuid.New().String()+"/settle", bytes.NewReader(body))
	rr := httptest.NewRecorder()

	h.SettleToken(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestTokenHandler_CancelToken_Finalized(t *testing.T) {
	stub := &stubTokenService{err: apperror.TokenFinalized("token is already redeemed", nil)}
	h := newTokenHandlerForTest(stub, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/tokens/"+uuid.New().String()+"/cancel", nil)
	rr := httptest.NewRecorder()

	h.CancelToken(rr, req)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
}
