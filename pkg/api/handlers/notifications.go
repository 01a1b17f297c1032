package handlers

import (
	"net/http"

	"github.com/sagabank/sagabank/pkg/api/models"
	"github.com/sagabank/sagabank/pkg/api/response"
	"github.com/sagabank/sagabank/pkg/book"
	"github.com/sagabank/sagabank/pkg/logger"
)

// NotificationHandler surfaces audit book rows to customers.
type NotificationHandler struct {
	book   book.Book
	logger logger.Logger
}

// NewNotificationHandler creates a notification handler.
func NewNotificationHandler(auditBook book.Book, log logger.Logger) *NotificationHandler {
	return &NotificationHandler{
		book:   auditBook,
		logger: log,
	}
}

// List handles GET /api/v1/notifications. Each terminal row is returned
// at most once; ONGOING rows keep resurfacing until they settle.
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	records, err := h.book.Notifications(r.Context())
	if err != nil {
		h.logger.Error("failed to read notifications", "error", err)
		response.HandleError(w, err, getRequestID(r.Context()))
		return
	}

	response.JSON(w, http.StatusOK, models.NotificationListResponse{
		Items: toNotifications(records),
		Total: len(records),
	})
}

// History handles GET /api/v1/book. It returns every audit row without
// touching read flags.
func (h *NotificationHandler) History(w http.ResponseWriter, r *http.Request) {
	records, err := h.book.List(r.Context())
	if err != nil {
		h.logger.Error("failed to read audit book", "error", err)
		response.HandleError(w, err, getRequestID(r.Context()))
		return
	}

	response.JSON(w, http.StatusOK, models.NotificationListResponse{
		Items: toNotifications(records),
		Total: len(records),
	})
}

func toNotifications(records []book.Record) []models.NotificationResponse {
	items := make([]models.NotificationResponse, 0, len(records))
	for _, rec := range records {
		items = append(items, models.NotificationResponse{
			SagaID:       rec.SagaID,
			Operation:    rec.Operation,
			UCID:         rec.UCID,
			TransferType: rec.TransferType,
			Detail:       rec.Detail,
			Status:       string(rec.Status),
			UpdatedAt:    rec.UpdatedAt,
		})
	}
	return items
}
