package reservation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/uma-arai/sbcntr-parking/internal/common/config"
	"github.com/uma-arai/sbcntr-parking/internal/common/tracing"
	"github.com/uma-arai/sbcntr-parking/internal/model"
	"github.com/uma-arai/sbcntr-parking/internal/repository"
)

const (
	// DefaultCheckInLead はチェックイン受付を開始する予約開始前の時間です
	DefaultCheckInLead = 15 * time.Minute

	defaultListLimit = 10
	maxListLimit     = 50
)

// Scheduler は駐車スペースの予約の作成と状態遷移を担当します
// 状態は持たず、永続化はリポジトリに委譲します
type Scheduler struct {
	reservations repository.ReservationRepository
	spaces       repository.SpaceRepository

	clock       model.Clock
	pricing     model.PricingPolicy
	checkInLead time.Duration
	autoConfirm bool
	newID       func() string
	newToken    func() string
}

type Option func(*Scheduler)

func WithClock(c model.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

func WithPricingPolicy(p model.PricingPolicy) Option {
	return func(s *Scheduler) { s.pricing = p }
}

func WithCheckInLead(d time.Duration) Option {
	return func(s *Scheduler) { s.checkInLead = d }
}

// WithAutoConfirm が true の場合、予約は作成時点で confirmed になります
func WithAutoConfirm(on bool) Option {
	return func(s *Scheduler) { s.autoConfirm = on }
}

func WithTokenGenerator(fn func() string) Option {
	return func(s *Scheduler) { s.newToken = fn }
}

// OptionsFromConfig は設定値から Scheduler のオプションを組み立てます
func OptionsFromConfig(c config.ReservationConfig) []Option {
	return []Option{
		WithPricingPolicy(model.PricingPolicy{TaxRate: c.TaxRate, ProcessingFee: c.ProcessingFee}),
		WithCheckInLead(c.CheckInLead),
		WithAutoConfirm(c.AutoConfirm),
	}
}

// NewBookingToken はゲートで読み取る不透明な予約トークンを生成します
func NewBookingToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func NewScheduler(reservations repository.ReservationRepository, spaces repository.SpaceRepository, opts ...Option) *Scheduler {
	s := &Scheduler{
		reservations: reservations,
		spaces:       spaces,
		clock:        model.RealClock{},
		pricing:      model.DefaultPricingPolicy,
		checkInLead:  DefaultCheckInLead,
		newID:        uuid.NewString,
		newToken:     NewBookingToken,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateRequest は予約作成の入力です
type CreateRequest struct {
	SpaceID       string
	RenterID      string
	Interval      model.Interval
	Vehicle       model.VehicleInfo
	PaymentMethod model.PaymentMethod
	Note          string
}

// IsAvailable は区間と重なる確定済み・利用中の予約がないかを返します
// 表示用の読み取りなのでロックは取りません
func (s *Scheduler) IsAvailable(ctx context.Context, spaceID string, interval model.Interval, excludeID string) (bool, error) {
	if !interval.Valid() {
		return false, model.NewError(model.KindInvalidInterval, "end time must be after start time")
	}
	return s.available(ctx, nil, spaceID, interval, excludeID)
}

func (s *Scheduler) available(ctx context.Context, tx *sqlx.Tx, spaceID string, interval model.Interval, excludeID string) (bool, error) {
	overlapping, err := s.reservations.FindOverlapping(ctx, tx, spaceID, interval, excludeID)
	if err != nil {
		return false, model.NewStorageError("find overlapping reservations", err)
	}
	return len(overlapping) == 0, nil
}

// CreateReservation は予約を作成します
// 空き判定と登録はスペース単位のロック内で行います
func (s *Scheduler) CreateReservation(ctx context.Context, req CreateRequest) (_ *model.Reservation, err error) {
	ctx, span := tracing.Begin(ctx, "Scheduler.CreateReservation")
	defer func() { span.End(err) }()
	span.AddMetadata("space_id", req.SpaceID)

	now := s.clock.Now()
	if !req.Interval.Start.After(now) {
		return nil, model.NewError(model.KindInvalidInterval, "start time must be in the future")
	}
	if !req.Interval.Valid() {
		return nil, model.NewError(model.KindInvalidInterval, "end time must be after start time")
	}

	space, err := s.spaces.GetSpace(ctx, req.SpaceID)
	if err != nil {
		return nil, err
	}
	if !space.Bookable() {
		return nil, model.ErrSpaceUnavailable
	}

	status := model.StatusPending
	if s.autoConfirm {
		status = model.StatusConfirmed
	}
	vehicle := req.Vehicle
	if vehicle.Type == "" {
		vehicle.Type = model.VehicleCar
	}
	method := req.PaymentMethod
	if method == "" {
		method = model.PaymentCreditCard
	}

	r := &model.Reservation{
		ID:           s.newID(),
		SpaceID:      req.SpaceID,
		RenterID:     req.RenterID,
		Interval:     req.Interval,
		Status:       status,
		Vehicle:      vehicle,
		Payment:      model.Payment{Method: method, Status: "pending"},
		Pricing:      s.pricing.Compute(space.HourlyRate, req.Interval),
		BookingToken: s.newToken(),
		Notes:        model.Notes{Renter: req.Note},
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = s.reservations.WithSpaceLock(ctx, req.SpaceID, func(ctx context.Context, tx *sqlx.Tx) error {
		ok, err := s.available(ctx, tx, req.SpaceID, req.Interval, "")
		if err != nil {
			return err
		}
		if !ok {
			return model.ErrConflict
		}
		return s.reservations.Insert(ctx, tx, r)
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Transition は予約のステータスを変更します
// 権限の確認は呼び出し側で済んでいる前提で、遷移の形のみを検証します
func (s *Scheduler) Transition(ctx context.Context, id string, target model.Status, role model.Role, note string) (_ *model.Reservation, err error) {
	ctx, span := tracing.Begin(ctx, "Scheduler.Transition")
	defer func() { span.End(err) }()
	span.AddMetadata("reservation_id", id)
	span.AddMetadata("target", string(target))

	return s.mutate(ctx, id, func(ctx context.Context, tx *sqlx.Tx, current *model.Reservation) (model.ReservationPatch, error) {
		if err := model.ValidateTransition(current.Status, target); err != nil {
			return model.ReservationPatch{}, err
		}
		if target == model.StatusConfirmed {
			ok, err := s.available(ctx, tx, current.SpaceID, current.Interval, current.ID)
			if err != nil {
				return model.ReservationPatch{}, err
			}
			if !ok {
				return model.ReservationPatch{}, model.ErrConflict
			}
		}
		notes := current.Notes.With(role, note)
		return model.ReservationPatch{Status: &target, Notes: &notes}, nil
	})
}

// CheckIn は利用者本人のチェックインを記録し、予約を active にします
func (s *Scheduler) CheckIn(ctx context.Context, id, actorID string, event model.CheckEvent) (_ *model.Reservation, err error) {
	ctx, span := tracing.Begin(ctx, "Scheduler.CheckIn")
	defer func() { span.End(err) }()

	event = s.normalizeEvent(event)
	return s.mutate(ctx, id, func(ctx context.Context, tx *sqlx.Tx, current *model.Reservation) (model.ReservationPatch, error) {
		switch {
		case current.RenterID != actorID:
			return model.ReservationPatch{}, model.ErrNotOwner
		case current.CheckIn != nil:
			return model.ReservationPatch{}, model.ErrAlreadyCheckedIn
		case current.Status != model.StatusConfirmed:
			return model.ReservationPatch{}, model.NewError(model.KindInvalidState, "reservation must be confirmed to check in")
		case event.Time.Before(current.CheckInOpensAt(s.checkInLead)):
			return model.ReservationPatch{}, model.NewError(model.KindTooEarly,
				fmt.Sprintf("check-in opens at %s", current.CheckInOpensAt(s.checkInLead).Format(time.RFC3339)))
		}
		active := model.StatusActive
		return model.ReservationPatch{Status: &active, CheckIn: &event}, nil
	})
}

// CheckInByToken はゲートで読み取った予約トークンでチェックインします
func (s *Scheduler) CheckInByToken(ctx context.Context, token, actorID string, event model.CheckEvent) (*model.Reservation, error) {
	r, err := s.reservations.FindByToken(ctx, token)
	if err != nil {
		return nil, model.NewStorageError("find reservation by token", err)
	}
	return s.CheckIn(ctx, r.ID, actorID, event)
}

// CheckOut は利用者本人のチェックアウトを記録し、予約を completed にします
// チェックアウトには時間枠の制限はありません
func (s *Scheduler) CheckOut(ctx context.Context, id, actorID string, event model.CheckEvent) (_ *model.Reservation, err error) {
	ctx, span := tracing.Begin(ctx, "Scheduler.CheckOut")
	defer func() { span.End(err) }()

	event = s.normalizeEvent(event)
	return s.mutate(ctx, id, func(ctx context.Context, tx *sqlx.Tx, current *model.Reservation) (model.ReservationPatch, error) {
		switch {
		case current.RenterID != actorID:
			return model.ReservationPatch{}, model.ErrNotOwner
		case current.CheckOut != nil:
			return model.ReservationPatch{}, model.ErrAlreadyCheckedOut
		case current.Status != model.StatusActive:
			return model.ReservationPatch{}, model.NewError(model.KindInvalidState, "reservation must be active to check out")
		}
		completed := model.StatusCompleted
		return model.ReservationPatch{Status: &completed, CheckOut: &event}, nil
	})
}

func (s *Scheduler) normalizeEvent(event model.CheckEvent) model.CheckEvent {
	if event.Time.IsZero() {
		event.Time = s.clock.Now()
	}
	if event.Method == "" {
		event.Method = model.CheckMethodQRCode
	}
	return event
}

// mutate は予約のスペースをロックした上で最新の状態を読み直し、decide が返したパッチを適用します
// decide がエラーを返した場合、予約は変更されません
func (s *Scheduler) mutate(ctx context.Context, id string, decide func(ctx context.Context, tx *sqlx.Tx, current *model.Reservation) (model.ReservationPatch, error)) (*model.Reservation, error) {
	found, err := s.reservations.FindByID(ctx, nil, id)
	if err != nil {
		return nil, model.NewStorageError("find reservation", err)
	}

	var updated *model.Reservation
	err = s.reservations.WithSpaceLock(ctx, found.SpaceID, func(ctx context.Context, tx *sqlx.Tx) error {
		current, err := s.reservations.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		patch, err := decide(ctx, tx, current)
		if err != nil {
			return err
		}
		patch.At = s.clock.Now()
		updated, err = s.reservations.Update(ctx, tx, id, patch)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Scheduler) Get(ctx context.Context, id string) (*model.Reservation, error) {
	r, err := s.reservations.FindByID(ctx, nil, id)
	if err != nil {
		return nil, model.NewStorageError("find reservation", err)
	}
	return r, nil
}

// Page は予約一覧の1ページです
type Page struct {
	Reservations []model.Reservation `json:"reservations"`
	Total        int                 `json:"total"`
	Page         int                 `json:"page"`
	Limit        int                 `json:"limit"`
}

// ListForRenter は利用者の予約を新しい順に返します。limit は最大50件です
func (s *Scheduler) ListForRenter(ctx context.Context, renterID string, status model.Status, page, limit int) (*Page, error) {
	return s.list(ctx, s.reservations.ListByRenter, renterID, status, page, limit)
}

// ListForOwner はオーナーが所有するスペースの予約を新しい順に返します
func (s *Scheduler) ListForOwner(ctx context.Context, ownerID string, status model.Status, page, limit int) (*Page, error) {
	return s.list(ctx, s.reservations.ListByOwner, ownerID, status, page, limit)
}

type listFunc func(ctx context.Context, key string, status model.Status, limit, offset int) ([]model.Reservation, int, error)

func (s *Scheduler) list(ctx context.Context, fetch listFunc, key string, status model.Status, page, limit int) (*Page, error) {
	if status != "" && !status.Valid() {
		return nil, model.NewError(model.KindInvalidState, fmt.Sprintf("unknown status %q", status))
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if page <= 0 {
		page = 1
	}

	items, total, err := fetch(ctx, key, status, limit, (page-1)*limit)
	if err != nil {
		return nil, model.NewStorageError("list reservations", err)
	}
	if items == nil {
		items = []model.Reservation{}
	}
	return &Page{Reservations: items, Total: total, Page: page, Limit: limit}, nil
}

// SpaceCalendar は区間内でスペースを占有している予約を開始時刻順に返します
func (s *Scheduler) SpaceCalendar(ctx context.Context, spaceID string, window model.Interval) ([]model.Reservation, error) {
	if !window.Valid() {
		return nil, model.NewError(model.KindInvalidInterval, "end time must be after start time")
	}
	if _, err := s.spaces.GetSpace(ctx, spaceID); err != nil {
		return nil, err
	}
	items, err := s.reservations.FindOverlapping(ctx, nil, spaceID, window, "")
	if err != nil {
		return nil, model.NewStorageError("find overlapping reservations", err)
	}
	if items == nil {
		items = []model.Reservation{}
	}
	return items, nil
}
