package model

import (
	"strings"
	"testing"
	"time"
)

func TestToNotificationRecord(t *testing.T) {
	now := time.Now()
	start := now.Add(24 * time.Hour)
	end := start.Add(2 * time.Hour)
	spaceTitles := map[string]string{
		"space1": "Downtown Garage #4",
	}

	tests := []struct {
		name          string
		notification  Notification
		wantErr       bool
		expectedTitle string
		expectedType  NotificationType
	}{
		{
			name: "confirmed reservation",
			notification: Notification{
				Type:      NotificationTypeReservation,
				CreatedAt: now,
				Data: map[string]interface{}{
					"reservation_id": "r1",
					"user_id":        "user1",
					"space_id":       "space1",
					"status":         "confirmed",
					"start_time":     start.Format(time.RFC3339),
					"end_time":       end.Format(time.RFC3339),
				},
			},
			expectedTitle: "Your parking reservation is confirmed",
			expectedType:  NotificationTypeReservation,
		},
		{
			name: "cancelled reservation with time.Time values",
			notification: Notification{
				Type:      NotificationTypeReservation,
				CreatedAt: now,
				Data: map[string]interface{}{
					"reservation_id": "r2",
					"user_id":        "user1",
					"space_id":       "space1",
					"status":         "cancelled",
					"start_time":     start,
					"end_time":       end,
				},
			},
			expectedTitle: "Your parking reservation was cancelled",
			expectedType:  NotificationTypeReservation,
		},
		{
			name: "common notification",
			notification: Notification{
				Type:      NotificationTypeCommon,
				CreatedAt: now,
				Data: map[string]interface{}{
					"user_id": "user1",
				},
			},
			expectedTitle: "You have a new notification",
			expectedType:  NotificationTypeCommon,
		},
		{
			name: "invalid data format",
			notification: Notification{
				Type:      NotificationTypeReservation,
				CreatedAt: now,
				Data:      "invalid",
			},
			wantErr: true,
		},
		{
			name: "unknown space",
			notification: Notification{
				Type:      NotificationTypeReservation,
				CreatedAt: now,
				Data: map[string]interface{}{
					"user_id":    "user1",
					"space_id":   "nonexistent",
					"start_time": start.Format(time.RFC3339),
					"end_time":   end.Format(time.RFC3339),
				},
			},
			wantErr: true,
		},
		{
			name: "broken start_time",
			notification: Notification{
				Type:      NotificationTypeReservation,
				CreatedAt: now,
				Data: map[string]interface{}{
					"user_id":    "user1",
					"space_id":   "space1",
					"start_time": "tomorrow",
					"end_time":   end.Format(time.RFC3339),
				},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.notification.ToNotificationRecord(spaceTitles)
			if (err != nil) != tt.wantErr {
				t.Errorf("ToNotificationRecord() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr {
				return
			}
			if got.Title != tt.expectedTitle {
				t.Errorf("ToNotificationRecord() title = %v, want %v", got.Title, tt.expectedTitle)
			}
			if got.Type != tt.expectedType {
				t.Errorf("ToNotificationRecord() type = %v, want %v", got.Type, tt.expectedType)
			}
			if tt.expectedType == NotificationTypeReservation && !strings.Contains(got.Message, "Downtown Garage #4") {
				t.Errorf("ToNotificationRecord() message = %q, want space title", got.Message)
			}
		})
	}
}

func TestNewReservationNotification(t *testing.T) {
	now := time.Now()
	event := ReservationEvent{
		ReservationID: "r1",
		UserID:        "user1",
		SpaceID:       "space1",
		Status:        StatusConfirmed,
		StartTime:     now.Add(time.Hour),
		EndTime:       now.Add(3 * time.Hour),
		CreatedAt:     now,
	}

	notification := NewReservationNotification(event)

	if notification.Type != NotificationTypeReservation {
		t.Errorf("NewReservationNotification() type = %v, want %v", notification.Type, NotificationTypeReservation)
	}

	data, ok := notification.Data.(map[string]interface{})
	if !ok {
		t.Fatal("NewReservationNotification() data is not a map[string]interface{}")
	}

	if data["user_id"] != event.UserID {
		t.Errorf("NewReservationNotification() user_id = %v, want %v", data["user_id"], event.UserID)
	}
	if data["space_id"] != event.SpaceID {
		t.Errorf("NewReservationNotification() space_id = %v, want %v", data["space_id"], event.SpaceID)
	}
	if data["status"] != "confirmed" {
		t.Errorf("NewReservationNotification() status = %v, want confirmed", data["status"])
	}
	if data["start_time"] != event.StartTime {
		t.Errorf("NewReservationNotification() start_time = %v, want %v", data["start_time"], event.StartTime)
	}
}
