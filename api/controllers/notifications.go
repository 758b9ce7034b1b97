package controllers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/pharmalink-backend/api/responses"
	"github.com/angelmondragon/pharmalink-backend/api/validators"
	"github.com/angelmondragon/pharmalink-backend/internal/notifications"
	"github.com/angelmondragon/pharmalink-backend/pkg/enums"
	"github.com/angelmondragon/pharmalink-backend/pkg/logger"
)

type notificationResponse struct {
	ID        uuid.UUID              `json:"id"`
	OrderID   *uuid.UUID             `json:"order_id,omitempty"`
	Type      enums.NotificationType `json:"type"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Link      *string                `json:"link,omitempty"`
	ReadAt    *time.Time             `json:"read_at,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// ListNotifications returns the caller's newest notifications.
func ListNotifications(svc notifications.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := callerID(w, r, logg)
		if !ok {
			return
		}
		rows, err := svc.List(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]notificationResponse, 0, len(rows))
		for _, row := range rows {
			out = append(out, notificationResponse{
				ID:        row.ID,
				OrderID:   row.OrderID,
				Type:      row.Type,
				Title:     row.Title,
				Message:   row.Message,
				Link:      row.Link,
				ReadAt:    row.ReadAt,
				CreatedAt: row.CreatedAt,
			})
		}
		responses.WriteSuccess(w, out)
	}
}

func MarkNotificationRead(svc notifications.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := callerID(w, r, logg)
		if !ok {
			return
		}
		notificationID, err := validators.ParsePathUUID(r, "notificationId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.MarkRead(r.Context(), userID, notificationID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]bool{"read": true})
	}
}
