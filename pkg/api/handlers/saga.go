// Package handlers provides HTTP request handlers.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/sagabank/sagabank/pkg/api/middleware"
	"github.com/sagabank/sagabank/pkg/api/models"
	"github.com/sagabank/sagabank/pkg/api/response"
	"github.com/sagabank/sagabank/pkg/book"
	"github.com/sagabank/sagabank/pkg/logger"
	"github.com/sagabank/sagabank/pkg/saga"
)

// SagaHandler starts banking sagas and reports their progress.
type SagaHandler struct {
	orchestrator *saga.Orchestrator
	logger       logger.Logger
	validator    *validator.Validate
}

// NewSagaHandler creates a saga handler.
func NewSagaHandler(orchestrator *saga.Orchestrator, log logger.Logger) *SagaHandler {
	return &SagaHandler{
		orchestrator: orchestrator,
		logger:       log,
		validator:    validator.New(),
	}
}

// CreateAccount handles POST /api/v1/accounts.
func (h *SagaHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req models.NewAccountRequest
	if !h.decode(w, r, &req) {
		return
	}

	sagaID, err := h.orchestrator.StartNewAccount(r.Context(), saga.NewAccountInput{
		UCID:       req.UCID,
		Owner:      req.Owner,
		ForceError: req.ForceError,
	})
	if err != nil {
		h.startError(w, r, err)
		return
	}

	h.accepted(w, sagaID, string(saga.OpNewBankAccount))
}

// CreateCreditCard handles POST /api/v1/creditcards.
func (h *SagaHandler) CreateCreditCard(w http.ResponseWriter, r *http.Request) {
	var req models.NewCreditCardRequest
	if !h.decode(w, r, &req) {
		return
	}

	sagaID, err := h.orchestrator.StartNewCreditCard(r.Context(), saga.NewCreditCardInput{
		UCID:       req.UCID,
		ForceError: req.ForceError,
	})
	if err != nil {
		h.startError(w, r, err)
		return
	}

	h.accepted(w, sagaID, string(saga.OpNewCreditCard))
}

// CreateTransfer handles POST /api/v1/transfers.
func (h *SagaHandler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	var req models.TransferRequest
	if !h.decode(w, r, &req) {
		return
	}

	sagaID, err := h.orchestrator.StartTransfer(r.Context(), saga.TransferInput{
		FromUCID:    req.FromUCID,
		ToUCID:      req.ToUCID,
		FromAccount: req.FromAccount,
		ToAccount:   req.ToAccount,
		Amount:      req.Amount,
		ForceError:  req.ForceError,
	})
	if err != nil {
		h.startError(w, r, err)
		return
	}

	h.accepted(w, sagaID, string(saga.OpTransfer))
}

// ListSagas handles GET /api/v1/sagas. It reports audit rows only; the
// per-saga endpoint adds the live session view.
func (h *SagaHandler) ListSagas(w http.ResponseWriter, r *http.Request) {
	records, err := h.orchestrator.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list sagas", "error", err)
		response.HandleError(w, err, getRequestID(r.Context()))
		return
	}

	items := make([]models.SagaStatusResponse, 0, len(records))
	for _, record := range records {
		items = append(items, models.SagaStatusResponse{
			SagaID:       record.SagaID,
			Operation:    record.Operation,
			UCID:         record.UCID,
			TransferType: record.TransferType,
			Detail:       record.Detail,
			Status:       string(record.Status),
			CreatedAt:    record.CreatedAt,
			UpdatedAt:    record.UpdatedAt,
		})
	}
	response.JSON(w, http.StatusOK, models.SagaListResponse{
		Items: items,
		Total: len(items),
	})
}

// GetSaga handles GET /api/v1/sagas/{id}.
func (h *SagaHandler) GetSaga(w http.ResponseWriter, r *http.Request) {
	sagaID := chi.URLParam(r, "id")
	if sagaID == "" {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "saga id is required", getRequestID(r.Context()))
		return
	}

	session, record, err := h.orchestrator.Status(r.Context(), sagaID)
	if err != nil {
		if errors.Is(err, book.ErrRecordNotFound) {
			response.Error(w, http.StatusNotFound, response.ErrCodeNotFound, "saga not found", getRequestID(r.Context()))
			return
		}
		response.HandleError(w, err, getRequestID(r.Context()))
		return
	}

	resp := models.SagaStatusResponse{
		SagaID:       record.SagaID,
		Operation:    record.Operation,
		UCID:         record.UCID,
		TransferType: record.TransferType,
		Detail:       record.Detail,
		Status:       string(record.Status),
		CreatedAt:    record.CreatedAt,
		UpdatedAt:    record.UpdatedAt,
	}
	if session != nil {
		resp.Session = &models.SessionState{
			Bank:             session.Bank,
			CounterpartyBank: session.CounterpartyBank,
			Decided:          session.Decided,
			Outcome:          session.Outcome,
			Reason:           session.Reason,
			CreditScore:      session.CreditScore,
			CreditLimit:      session.CreditLimit,
			AccountNumber:    session.AccountNumber,
			CardNumber:       session.CardNumber,
		}
	}
	response.JSON(w, http.StatusOK, resp)
}

// decode reads and validates a JSON request body.
func (h *SagaHandler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "invalid request body", getRequestID(r.Context()))
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeValidationFailed, err.Error(), getRequestID(r.Context()))
		return false
	}
	return true
}

// startError maps saga start failures onto HTTP responses.
func (h *SagaHandler) startError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, saga.ErrUnknownCustomer) {
		response.Error(w, http.StatusNotFound, response.ErrCodeNotFound, err.Error(), getRequestID(r.Context()))
		return
	}
	h.logger.Warn("failed to start saga", "error", err, "request_id", getRequestID(r.Context()))
	response.HandleError(w, err, getRequestID(r.Context()))
}

func (h *SagaHandler) accepted(w http.ResponseWriter, sagaID, operation string) {
	response.JSON(w, http.StatusAccepted, models.SagaAcceptedResponse{
		SagaID:    sagaID,
		Operation: operation,
		Status:    string(book.StatusOngoing),
		CreatedAt: time.Now().UTC(),
	})
}

// getRequestID extracts the request id set by the middleware.
func getRequestID(ctx context.Context) string {
	if id := middleware.GetRequestID(ctx); id != "" {
		return id
	}
	return "unknown"
}
