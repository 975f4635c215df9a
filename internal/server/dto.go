package server

import (
	"time"

	"github.com/uma-arai/sbcntr-parking/internal/model"
)

type VehicleReq struct {
	LicensePlate string `json:"license_plate" validate:"required,max=20"`
	Make         string `json:"make" validate:"max=50"`
	Model        string `json:"model" validate:"max=50"`
	Color        string `json:"color" validate:"max=30"`
	Type         string `json:"type" validate:"omitempty,oneof=car motorcycle truck van rv bicycle"`
}

func (v VehicleReq) toModel() model.VehicleInfo {
	return model.VehicleInfo{
		LicensePlate: v.LicensePlate,
		Make:         v.Make,
		Model:        v.Model,
		Color:        v.Color,
		Type:         model.VehicleType(v.Type),
	}
}

type CreateReservationReq struct {
	SpaceID       string     `json:"space_id" validate:"required"`
	StartTime     time.Time  `json:"start_time" validate:"required"`
	EndTime       time.Time  `json:"end_time" validate:"required"`
	Vehicle       VehicleReq `json:"vehicle"`
	PaymentMethod string     `json:"payment_method" validate:"required,oneof=credit_card debit_card paypal apple_pay google_pay"`
	Notes         string     `json:"notes" validate:"max=500"`
}

type UpdateStatusReq struct {
	Status string `json:"status" validate:"required,oneof=pending confirmed active completed cancelled no_show"`
	Reason string `json:"reason" validate:"max=500"`
}

type LocationReq struct {
	Latitude  float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" validate:"gte=-180,lte=180"`
}

type CheckReq struct {
	Method   string       `json:"method" validate:"omitempty,oneof=qr_code manual automatic"`
	Location *LocationReq `json:"location"`
}

// toEvent はチェックイン・チェックアウトの記録を作成します。時刻はサーバー側で付与します
func (r CheckReq) toEvent() model.CheckEvent {
	event := model.CheckEvent{Method: model.CheckMethod(r.Method)}
	if r.Location != nil {
		event.Location = &model.GeoLocation{Latitude: r.Location.Latitude, Longitude: r.Location.Longitude}
	}
	return event
}

type TokenCheckInReq struct {
	BookingToken string `json:"booking_token" validate:"required"`
	CheckReq
}

type MarkReadReq struct {
	IsRead *bool `json:"is_read" validate:"required"`
}
