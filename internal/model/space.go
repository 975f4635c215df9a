package model

import "time"

type SpaceStatus string

const (
	SpaceStatusActive    SpaceStatus = "active"
	SpaceStatusInactive  SpaceStatus = "inactive"
	SpaceStatusPending   SpaceStatus = "pending"
	SpaceStatusSuspended SpaceStatus = "suspended"
)

// Space は予約対象の駐車スペースです。スペースの管理自体は外部のディレクトリが担当します
type Space struct {
	ID         string      `json:"id" db:"id"`
	OwnerID    string      `json:"owner_id" db:"owner_id"`
	Title      string      `json:"title" db:"title"`
	Status     SpaceStatus `json:"status" db:"status"`
	HourlyRate float64     `json:"hourly_rate" db:"hourly_rate"`
	UpdatedAt  time.Time   `json:"updated_at" db:"updated_at"`
}

// Bookable は新規予約を受け付けられるかを返します
func (s *Space) Bookable() bool {
	return s.Status == SpaceStatusActive
}
