package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"handyhub_push/internal/httputil"
	"handyhub_push/internal/model"
	"handyhub_push/internal/service"
	"handyhub_push/internal/transport/http/middleware"
)

type NotificationHandler struct {
	delivery *service.DeliveryService
	logger   *zap.Logger
}

func NewNotificationHandler(delivery *service.DeliveryService, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{
		delivery: delivery,
		logger:   logger.Named("notification_handler"),
	}
}

// RegisterToken handles POST /push-tokens
// Registers the device's push token for the authenticated owner.
func (h *NotificationHandler) RegisterToken(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := middleware.GetOwnerIDFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req model.RegisterTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := h.delivery.RegisterDeviceToken(r.Context(), ownerID, req); err != nil {
		h.writeServiceError(w, "Register device token", ownerID, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, model.RegisterTokenResponse{
		Success: true,
		Message: "Device token registered",
	})
}

// UnregisterToken handles DELETE /push-tokens
// Removes one of the authenticated owner's device tokens (logout).
func (h *NotificationHandler) UnregisterToken(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := middleware.GetOwnerIDFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req model.UnregisterTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequest(w, "Invalid request body")
		return
	}

	err := h.delivery.UnregisterDeviceToken(r.Context(), ownerID, req.Token)
	if errors.Is(err, model.ErrRecordNotFound) {
		httputil.WriteNotFound(w, "Device token not found")
		return
	}
	if err != nil {
		h.writeServiceError(w, "Unregister device token", ownerID, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, model.RegisterTokenResponse{
		Success: true,
		Message: "Device token unregistered",
	})
}

// List handles GET /notifications?limit=N
// Returns the authenticated owner's notifications, newest first.
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := middleware.GetOwnerIDFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "Authentication required")
		return
	}

	limit := service.DefaultListLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed <= 0 {
			httputil.WriteBadRequest(w, "Invalid limit parameter")
			return
		}
		limit = parsed
	}

	records, err := h.delivery.ListNotifications(r.Context(), ownerID, limit)
	if err != nil {
		h.writeServiceError(w, "List notifications", ownerID, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, records)
}

// MarkRead handles POST /notifications/{id}/read
// Idempotent: marking a read notification succeeds.
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := middleware.GetOwnerIDFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "Authentication required")
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httputil.WriteBadRequest(w, "Invalid notification ID")
		return
	}

	if err := h.delivery.MarkAsRead(r.Context(), ownerID, id); err != nil {
		h.writeServiceError(w, "Mark notification read", ownerID, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, model.MarkReadResponse{Success: true})
}

// MarkAllRead handles POST /notifications/read-all
// Marks all notifications as read for the authenticated owner.
func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := middleware.GetOwnerIDFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "Authentication required")
		return
	}

	if err := h.delivery.MarkAllAsRead(r.Context(), ownerID); err != nil {
		h.writeServiceError(w, "Mark all notifications read", ownerID, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, model.MarkReadResponse{Success: true})
}

// Create handles POST /notifications
// Stores a notification and pushes it to the owner's device. Used to drive
// the agent end to end in development.
func (h *NotificationHandler) Create(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := middleware.GetOwnerIDFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req model.CreateNotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequest(w, "Invalid request body")
		return
	}

	record, err := h.delivery.CreateNotification(r.Context(), ownerID, req)
	if err != nil {
		h.writeServiceError(w, "Create notification", ownerID, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, record)
}

func (h *NotificationHandler) writeServiceError(w http.ResponseWriter, op, ownerID string, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		httputil.WriteBadRequest(w, err.Error())
	case errors.Is(err, service.ErrForbidden):
		httputil.WriteForbidden(w, err.Error())
	case errors.Is(err, model.ErrRecordNotFound):
		httputil.WriteNotFound(w, "Notification not found")
	default:
		h.logger.Error(op+" FAILED", zap.String("owner_id", ownerID), zap.Error(err))
		httputil.WriteInternalError(w, op+" failed")
	}
}
