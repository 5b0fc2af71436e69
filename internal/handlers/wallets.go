package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"loyalty-ledger/internal/logger"
	"loyalty-ledger/internal/models"
)

// WalletHandler обрабатывает запросы к кошелькам программы лояльности
type WalletHandler struct {
	walletService WalletService
	log           *logger.Logger
}

// NewWalletHandler создает новый обработчик кошельков
func NewWalletHandler(walletService WalletService, log *logger.Logger) *WalletHandler {
	return &WalletHandler{
		walletService: walletService,
		log:           log,
	}
}

// CreateWallet создает кошелек для аккаунта
func (h *WalletHandler) CreateWallet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req models.CreateWalletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	wallet, err := h.walletService.CreateWallet(r.Context(), &req)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to create wallet")
		return
	}

	writeJSONResponse(w, http.StatusCreated, wallet)
}

// ResolveWallet возвращает снимок кошелька по account_id или коду токена
func (h *WalletHandler) ResolveWallet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	identifier, err := extractIdentifierFromPath(r.URL.Path, "/api/wallets/")
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	snapshot, err := h.walletService.Resolve(r.Context(), identifier)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to resolve wallet")
		return
	}

	writeJSONResponse(w, http.StatusOK, snapshot)
}

func extractIdentifierFromPath(path, prefix string) (string, error) {
	if !strings.HasPrefix(path, prefix) {
		return "", fmt.Errorf("invalid path format")
	}
	identifier := strings.TrimPrefix(path, prefix)
	// Отрезаем возможный суффикс со слешем
	identifier = strings.Split(identifier, "/")[0]
	if identifier == "" {
		return "", fmt.Errorf("identifier is required")
	}
	return identifier, nil
}
