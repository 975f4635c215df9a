package model

import (
	"math"
	"time"
)

// Interval は半開区間 [Start, End) を表します
type Interval struct {
	Start time.Time `json:"start_time"`
	End   time.Time `json:"end_time"`
}

// Valid は Start < End を満たすかを返します
func (i Interval) Valid() bool {
	return i.Start.Before(i.End)
}

// Overlaps は半開区間どうしが重なるかを判定します
// 終了時刻と開始時刻が一致する連続予約は重ならないものとして扱います
func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

// Hours は1時間単位に切り上げた利用時間です
func (i Interval) Hours() int {
	d := i.End.Sub(i.Start)
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Hours()))
}

type VehicleType string

const (
	VehicleCar        VehicleType = "car"
	VehicleMotorcycle VehicleType = "motorcycle"
	VehicleTruck      VehicleType = "truck"
	VehicleVan        VehicleType = "van"
	VehicleRV         VehicleType = "rv"
	VehicleBicycle    VehicleType = "bicycle"
)

type VehicleInfo struct {
	LicensePlate string      `json:"license_plate"`
	Make         string      `json:"make,omitempty"`
	Model        string      `json:"model,omitempty"`
	Color        string      `json:"color,omitempty"`
	Type         VehicleType `json:"type"`
}

type PaymentMethod string

const (
	PaymentCreditCard PaymentMethod = "credit_card"
	PaymentDebitCard  PaymentMethod = "debit_card"
	PaymentPaypal     PaymentMethod = "paypal"
	PaymentApplePay   PaymentMethod = "apple_pay"
	PaymentGooglePay  PaymentMethod = "google_pay"
)

// Payment は予約作成時点の支払い情報です。決済処理そのものは外部で行います
type Payment struct {
	Method PaymentMethod `json:"method"`
	Status string        `json:"status"` // pending, completed, failed, refunded
}

// CheckMethod はチェックイン・チェックアウトの手段です
type CheckMethod string

const (
	CheckMethodQRCode    CheckMethod = "qr_code"
	CheckMethodManual    CheckMethod = "manual"
	CheckMethodAutomatic CheckMethod = "automatic"
)

type GeoLocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// CheckEvent はチェックイン・チェックアウトの記録です。一度設定されたら変更されません
type CheckEvent struct {
	Time     time.Time    `json:"time"`
	Method   CheckMethod  `json:"method"`
	Location *GeoLocation `json:"location,omitempty"`
}

// Notes は操作したロールごとのメモです
type Notes struct {
	Renter string `json:"renter,omitempty"`
	Owner  string `json:"owner,omitempty"`
	Admin  string `json:"admin,omitempty"`
}

// With は role に対応するフィールドへ note を設定したコピーを返します
func (n Notes) With(role Role, note string) Notes {
	if note == "" {
		return n
	}
	switch role {
	case RoleRenter:
		n.Renter = note
	case RoleOwner:
		n.Owner = note
	case RoleAdmin:
		n.Admin = note
	}
	return n
}

// Reservation は駐車スペースの予約です
type Reservation struct {
	ID           string      `json:"id"`
	SpaceID      string      `json:"space_id"`
	RenterID     string      `json:"renter_id"`
	Interval     Interval    `json:"interval"`
	Status       Status      `json:"status"`
	Vehicle      VehicleInfo `json:"vehicle"`
	Payment      Payment     `json:"payment"`
	Pricing      Pricing     `json:"pricing"`
	BookingToken string      `json:"booking_token"`
	CheckIn      *CheckEvent `json:"check_in,omitempty"`
	CheckOut     *CheckEvent `json:"check_out,omitempty"`
	Notes        Notes       `json:"notes"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Blocks は他の予約の空き判定に影響する状態かを返します
func (r *Reservation) Blocks() bool {
	return r.Status.Blocking()
}

// CheckInOpensAt はチェックイン受付の開始時刻です
func (r *Reservation) CheckInOpensAt(lead time.Duration) time.Time {
	return r.Interval.Start.Add(-lead)
}

// ReservationPatch は予約の更新内容です。nil のフィールドは更新しません
type ReservationPatch struct {
	Status   *Status
	CheckIn  *CheckEvent
	CheckOut *CheckEvent
	Notes    *Notes
	// At は updated_at に記録する時刻です。ゼロ値の場合はストア側の現在時刻を使います
	At time.Time
}

// UpdatedAt は記録する更新時刻を返します
func (p ReservationPatch) UpdatedAt(fallback time.Time) time.Time {
	if p.At.IsZero() {
		return fallback
	}
	return p.At
}

// Apply はパッチを適用した予約を返します
func (p ReservationPatch) Apply(r Reservation, now time.Time) Reservation {
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.CheckIn != nil {
		ci := *p.CheckIn
		r.CheckIn = &ci
	}
	if p.CheckOut != nil {
		co := *p.CheckOut
		r.CheckOut = &co
	}
	if p.Notes != nil {
		r.Notes = *p.Notes
	}
	r.UpdatedAt = now
	return r
}

// ReservationEvent は予約のステータス確定時に発行されるイベントの構造体
type ReservationEvent struct {
	ReservationID string    `json:"reservation_id"`
	UserID        string    `json:"user_id"`
	SpaceID       string    `json:"space_id"`
	Status        Status    `json:"status"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewReservationEvent は予約の現在の状態からイベントを作成します
func NewReservationEvent(r *Reservation, at time.Time) ReservationEvent {
	return ReservationEvent{
		ReservationID: r.ID,
		UserID:        r.RenterID,
		SpaceID:       r.SpaceID,
		Status:        r.Status,
		StartTime:     r.Interval.Start,
		EndTime:       r.Interval.End,
		CreatedAt:     at,
	}
}

type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }
