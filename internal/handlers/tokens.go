package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"loyalty-ledger/internal/logger"
	"loyalty-ledger/internal/models"

	"github.com/google/uuid"
)

// TokenHandler обрабатывает запросы к дисконтным токенам
type TokenHandler struct {
	tokenService      TokenService
	settlementService SettlementService
	log               *logger.Logger
}

// NewTokenHandler создает новый обработчик токенов
func NewTokenHandler(tokenService TokenService, settlementService SettlementService, log *logger.Logger) *TokenHandler {
	return &TokenHandler{
		tokenService:      tokenService,
		settlementService: settlementService,
		log:               log,
	}
}

// IssueToken выпускает новый дисконтный токен
func (h *TokenHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req models.IssueTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.AccountID == uuid.Nil || req.PartnerID == uuid.Nil {
		writeErrorResponse(w, http.StatusBadRequest, "account_id and partner_id are required")
		return
	}

	token, err := h.tokenService.Issue(r.Context(), &req)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to issue token")
		return
	}

	writeJSONResponse(w, http.StatusCreated, token)
}

// GetToken возвращает токен по ID
func (h *TokenHandler) GetToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	tokenID, err := extractUUIDFromPath(r.URL.Path, "/api/tokens/")
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	token, err := h.tokenService.GetToken(r.Context(), tokenID)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to get token")
		return
	}

	writeJSONResponse(w, http.StatusOK, token)
}

// ListTokens возвращает токены аккаунта, опционально по партнеру
func (h *TokenHandler) ListTokens(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	accountID, err := uuid.Parse(r.URL.Query().Get("account_id"))
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "account_id query parameter is required")
		return
	}

	var partnerID *uuid.UUID
	if p := r.URL.Query().Get("partner_id"); p != "" {
		id, err := uuid.Parse(p)
		if err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "Invalid partner_id")
			return
		}
		partnerID = &id
	}

	limit := 50
	offset := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 200 {
			limit = v
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if v, err := strconv.Atoi(o); err == nil && v >= 0 {
			offset = v
		}
	}

	tokens, err := h.tokenService.ListTokens(r.Context(), accountID, partnerID, limit, offset)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to list tokens")
		return
	}

	writeJSONResponse(w, http.StatusOK, tokens)
}

// SettleToken фиксирует исход переговоров по токену
func (h *TokenHandler) SettleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	tokenID, err := extractUUIDFromPath(r.URL.Path, "/api/tokens/")
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	var req models.SettleTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.DealAmount < 0 {
		writeErrorResponse(w, http.StatusBadRequest, "deal_amount must be non-negative")
		return
	}

	wallet, err := h.settlementService.Settle(r.Context(), tokenID, &req)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to settle token")
		return
	}

	writeJSONResponse(w, http.StatusOK, wallet)
}

// CancelToken отменяет активный токен (административная операция)
func (h *TokenHandler) CancelToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	tokenID, err := extractUUIDFromPath(r.URL.Path, "/api/tokens/")
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	token, err := h.tokenService.Cancel(r.Context(), tokenID)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to cancel token")
		return
	}

	writeJSONResponse(w, http.StatusOK, token)
}
