package enums

import "fmt"

// NotificationType maps to the notification_type enum in Postgres. Each
// value names the order event that produced the in-app notice.
type NotificationType string

const (
	NotificationTypeOrderPlaced    NotificationType = "order_placed"
	NotificationTypeOrderUpdated   NotificationType = "order_updated"
	NotificationTypeOrderCancelled NotificationType = "order_cancelled"
	NotificationTypeOrderRejected  NotificationType = "order_rejected"
)

var validNotificationTypes = []NotificationType{
	NotificationTypeOrderPlaced,
	NotificationTypeOrderUpdated,
	NotificationTypeOrderCancelled,
	NotificationTypeOrderRejected,
}

func (n NotificationType) String() string {
	return string(n)
}

func (n NotificationType) IsValid() bool {
	for _, candidate := range validNotificationTypes {
		if candidate == n {
			return true
		}
	}
	return false
}

// NotificationTypeForEvent maps an outbox event to the notice it produces.
func NotificationTypeForEvent(event OutboxEventType) (NotificationType, bool) {
	switch event {
	case EventOrderCreated:
		return NotificationTypeOrderPlaced, true
	case EventOrderStatusChanged:
		return NotificationTypeOrderUpdated, true
	case EventOrderCancelled:
		return NotificationTypeOrderCancelled, true
	case EventOrderRejected:
		return NotificationTypeOrderRejected, true
	default:
		return "", false
	}
}

// ParseNotificationType converts raw strings into NotificationType.
func ParseNotificationType(value string) (NotificationType, error) {
	for _, candidate := range validNotificationTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification type %q", value)
}
