package model

import (
	"fmt"
	"time"
)

// NotificationType は通知の種類を表します
type NotificationType string

const (
	// NotificationTypeReservation は予約関連の通知を表します
	NotificationTypeReservation NotificationType = "reservation"
	// NotificationTypeCommon は共通の通知を表します
	NotificationTypeCommon NotificationType = "common"
)

// Notification はイベントIFを受け取るための定義です
// Step Functions のタスク出力としてバッチ間で受け渡されます
type Notification struct {
	Type      NotificationType `json:"type"`
	CreatedAt time.Time        `json:"created_at"`
	Data      interface{}      `json:"data"`
}

// NotificationRecord は通知のドメインモデルです
type NotificationRecord struct {
	ID            int              `db:"id" json:"id"`
	UserID        string           `db:"user_id" json:"user_id"`
	ReservationID string           `db:"reservation_id" json:"reservation_id"`
	Title         string           `db:"title" json:"title"`
	Message       string           `db:"message" json:"message"`
	IsRead        bool             `db:"is_read" json:"is_read"`
	Type          NotificationType `db:"type" json:"type"`
	CreatedAt     time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time        `db:"updated_at" json:"updated_at"`
}

var reservationTitles = map[Status]string{
	StatusConfirmed: "Your parking reservation is confirmed",
	StatusCancelled: "Your parking reservation was cancelled",
	StatusNoShow:    "Your parking reservation was marked as no-show",
}

// ToNotificationRecord は通知を通知レコードに変換します
// spaceTitles はスペースIDからスペース名へのマップです
func (n Notification) ToNotificationRecord(spaceTitles map[string]string) (*NotificationRecord, error) {
	data, ok := n.Data.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid notification data format")
	}

	userID, ok := data["user_id"].(string)
	if !ok || userID == "" {
		return nil, fmt.Errorf("user_id is missing in notification data")
	}

	if n.Type != NotificationTypeReservation {
		return &NotificationRecord{
			UserID:    userID,
			Title:     "You have a new notification",
			Message:   "You have a new notification.",
			Type:      NotificationTypeCommon,
			CreatedAt: n.CreatedAt,
			UpdatedAt: n.CreatedAt,
		}, nil
	}

	spaceID, _ := data["space_id"].(string)
	title, ok := spaceTitles[spaceID]
	if !ok {
		return nil, fmt.Errorf("space_id %q not found in spaceTitles", spaceID)
	}

	start, err := timeField(data, "start_time")
	if err != nil {
		return nil, err
	}
	end, err := timeField(data, "end_time")
	if err != nil {
		return nil, err
	}

	status, _ := data["status"].(string)
	heading, ok := reservationTitles[Status(status)]
	if !ok {
		heading = "Your parking reservation was updated"
	}
	reservationID, _ := data["reservation_id"].(string)

	message := fmt.Sprintf("%s\nSpace: %s\nFrom: %s\nUntil: %s",
		heading, title, start.Format("2006-01-02 15:04"), end.Format("2006-01-02 15:04"))

	return &NotificationRecord{
		UserID:        userID,
		ReservationID: reservationID,
		Title:         heading,
		Message:       message,
		Type:          NotificationTypeReservation,
		CreatedAt:     n.CreatedAt,
		UpdatedAt:     n.CreatedAt,
	}, nil
}

// timeField は time.Time もしくは RFC3339 文字列のフィールドを読み取ります
// JSON を経由すると時刻は文字列になるため両方を受け付けます
func timeField(data map[string]interface{}, key string) (time.Time, error) {
	switch v := data[key].(type) {
	case time.Time:
		return v, nil
	case string:
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid %s format: %w", key, err)
		}
		return t, nil
	default:
		return time.Time{}, fmt.Errorf("unexpected type for %s: %T", key, v)
	}
}

// NewReservationNotification は予約イベントから通知を作成します
func NewReservationNotification(event ReservationEvent) Notification {
	return Notification{
		Type:      NotificationTypeReservation,
		CreatedAt: event.CreatedAt,
		Data: map[string]interface{}{
			"reservation_id": event.ReservationID,
			"user_id":        event.UserID,
			"space_id":       event.SpaceID,
			"status":         string(event.Status),
			"start_time":     event.StartTime,
			"end_time":       event.EndTime,
		},
	}
}
