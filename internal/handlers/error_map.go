package handlers

import (
	"net/http"

	"loyalty-ledger/internal/apperror"
	"loyalty-ledger/internal/logger"
)

func writeServiceError(w http.ResponseWriter, log *logger.Logger, err error, internalMessage string) {
	switch {
	case apperror.Is(err, apperror.KindNotFound),
		apperror.Is(err, apperror.KindWalletNotFound),
		apperror.Is(err, apperror.KindTokenNotFound):
		writeErrorResponse(w, http.StatusNotFound, err.Error())
	case apperror.Is(err, apperror.KindValidation),
		apperror.Is(err, apperror.KindInvalidDiscount):
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
	case apperror.Is(err, apperror.KindConflict),
		apperror.Is(err, apperror.KindWalletNotActive),
		apperror.Is(err, apperror.KindAttemptLimit),
		apperror.Is(err, apperror.KindNoCredits),
		apperror.Is(err, apperror.KindDuplicateToken),
		apperror.Is(err, apperror.KindTokenFinalized):
		writeErrorResponse(w, http.StatusConflict, err.Error())
	case apperror.Is(err, apperror.KindTokenExpired):
		writeErrorResponse(w, http.StatusGone, err.Error())
	case apperror.Is(err, apperror.KindContention):
		writeErrorResponse(w, http.StatusServiceUnavailable, err.Error())
	default:
		if log != nil {
			log.WithError(err).Error(internalMessage)
		}
		writeErrorResponse(w, http.StatusInternalServerError, internalMessage)
	}
}
