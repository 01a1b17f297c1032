package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sagabank/sagabank/pkg/api/models"
	"github.com/sagabank/sagabank/pkg/api/response"
	"github.com/sagabank/sagabank/pkg/ledger"
	"github.com/sagabank/sagabank/pkg/logger"
)

// AccountHandler exposes read access to the ledgers of all banks.
type AccountHandler struct {
	stores map[string]ledger.Store
	logger logger.Logger
}

// NewAccountHandler creates an account handler over bank-name keyed stores.
func NewAccountHandler(stores map[string]ledger.Store, log logger.Logger) *AccountHandler {
	return &AccountHandler{
		stores: stores,
		logger: log,
	}
}

// ListAccounts handles GET /api/v1/banks/{bank}/accounts.
func (h *AccountHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	bank := chi.URLParam(r, "bank")
	store, ok := h.stores[bank]
	if !ok {
		response.Error(w, http.StatusNotFound, response.ErrCodeNotFound, "unknown bank", getRequestID(r.Context()))
		return
	}

	accounts, err := store.ListAccounts(r.Context())
	if err != nil {
		h.logger.Error("failed to list accounts", "bank", bank, "error", err)
		response.HandleError(w, err, getRequestID(r.Context()))
		return
	}

	items := make([]models.AccountResponse, 0, len(accounts))
	for _, acct := range accounts {
		items = append(items, toAccountResponse(acct))
	}
	response.JSON(w, http.StatusOK, models.AccountListResponse{
		Bank:  bank,
		Items: items,
		Total: len(items),
	})
}

// GetAccount handles GET /api/v1/banks/{bank}/accounts/{number}.
func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	bank := chi.URLParam(r, "bank")
	store, ok := h.stores[bank]
	if !ok {
		response.Error(w, http.StatusNotFound, response.ErrCodeNotFound, "unknown bank", getRequestID(r.Context()))
		return
	}

	number := chi.URLParam(r, "number")
	acct, err := store.GetAccount(r.Context(), number)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			response.Error(w, http.StatusNotFound, response.ErrCodeNotFound, "account not found", getRequestID(r.Context()))
			return
		}
		response.HandleError(w, err, getRequestID(r.Context()))
		return
	}

	response.JSON(w, http.StatusOK, toAccountResponse(acct))
}

func toAccountResponse(acct ledger.Account) models.AccountResponse {
	return models.AccountResponse{
		Number:    acct.Number,
		UCID:      acct.UCID,
		Owner:     acct.Owner,
		Kind:      string(acct.Kind),
		Balance:   acct.Balance,
		CreatedAt: acct.CreatedAt,
	}
}
