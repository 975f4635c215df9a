package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/uma-arai/sbcntr-parking/internal/common/tracing"
	"github.com/uma-arai/sbcntr-parking/internal/model"
)

// ReservationRepository は予約の永続化を担当するインターフェースです
// tx が nil のメソッド呼び出しはロックを取らない読み取りとして扱われます
type ReservationRepository interface {
	// WithSpaceLock はスペース単位で直列化されたトランザクション内で fn を実行します
	WithSpaceLock(ctx context.Context, spaceID string, fn func(ctx context.Context, tx *sqlx.Tx) error) error
	Insert(ctx context.Context, tx *sqlx.Tx, reservation *model.Reservation) error
	FindOverlapping(ctx context.Context, tx *sqlx.Tx, spaceID string, interval model.Interval, excludeID string) ([]model.Reservation, error)
	Update(ctx context.Context, tx *sqlx.Tx, id string, patch model.ReservationPatch) (*model.Reservation, error)
	FindByID(ctx context.Context, tx *sqlx.Tx, id string) (*model.Reservation, error)
	FindByToken(ctx context.Context, token string) (*model.Reservation, error)
	GetReservationsByStatus(ctx context.Context, status model.Status) ([]model.Reservation, error)
	ListByRenter(ctx context.Context, renterID string, status model.Status, limit, offset int) ([]model.Reservation, int, error)
	// ListByOwner はオーナーが所有する全スペースの予約を返します
	ListByOwner(ctx context.Context, ownerID string, status model.Status, limit, offset int) ([]model.Reservation, int, error)
}

const (
	pqExclusionViolation = "23P01"
	pqUniqueViolation    = "23505"
)

const reservationColumns = `
	id, space_id, renter_id, start_time, end_time, status,
	vehicle_license_plate, vehicle_make, vehicle_model, vehicle_color, vehicle_type,
	payment_method, payment_status,
	hourly_rate, total_hours, subtotal, taxes, fees, total,
	booking_token,
	check_in_time, check_in_method, check_in_latitude, check_in_longitude,
	check_out_time, check_out_method, check_out_latitude, check_out_longitude,
	note_renter, note_owner, note_admin,
	created_at, updated_at`

// reservationRow は reservations テーブルの1行です
type reservationRow struct {
	ID                string          `db:"id"`
	SpaceID           string          `db:"space_id"`
	RenterID          string          `db:"renter_id"`
	StartTime         time.Time       `db:"start_time"`
	EndTime           time.Time       `db:"end_time"`
	Status            string          `db:"status"`
	VehiclePlate      string          `db:"vehicle_license_plate"`
	VehicleMake       string          `db:"vehicle_make"`
	VehicleModel      string          `db:"vehicle_model"`
	VehicleColor      string          `db:"vehicle_color"`
	VehicleType       string          `db:"vehicle_type"`
	PaymentMethod     string          `db:"payment_method"`
	PaymentStatus     string          `db:"payment_status"`
	HourlyRate        float64         `db:"hourly_rate"`
	TotalHours        int             `db:"total_hours"`
	Subtotal          float64         `db:"subtotal"`
	Taxes             float64         `db:"taxes"`
	Fees              float64         `db:"fees"`
	Total             float64         `db:"total"`
	BookingToken      string          `db:"booking_token"`
	CheckInTime       sql.NullTime    `db:"check_in_time"`
	CheckInMethod     sql.NullString  `db:"check_in_method"`
	CheckInLatitude   sql.NullFloat64 `db:"check_in_latitude"`
	CheckInLongitude  sql.NullFloat64 `db:"check_in_longitude"`
	CheckOutTime      sql.NullTime    `db:"check_out_time"`
	CheckOutMethod    sql.NullString  `db:"check_out_method"`
	CheckOutLatitude  sql.NullFloat64 `db:"check_out_latitude"`
	CheckOutLongitude sql.NullFloat64 `db:"check_out_longitude"`
	NoteRenter        string          `db:"note_renter"`
	NoteOwner         string          `db:"note_owner"`
	NoteAdmin         string          `db:"note_admin"`
	CreatedAt         time.Time       `db:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at"`
}

func toReservationRow(r *model.Reservation) reservationRow {
	row := reservationRow{
		ID:            r.ID,
		SpaceID:       r.SpaceID,
		RenterID:      r.RenterID,
		StartTime:     r.Interval.Start,
		EndTime:       r.Interval.End,
		Status:        string(r.Status),
		VehiclePlate:  r.Vehicle.LicensePlate,
		VehicleMake:   r.Vehicle.Make,
		VehicleModel:  r.Vehicle.Model,
		VehicleColor:  r.Vehicle.Color,
		VehicleType:   string(r.Vehicle.Type),
		PaymentMethod: string(r.Payment.Method),
		PaymentStatus: r.Payment.Status,
		HourlyRate:    r.Pricing.HourlyRate,
		TotalHours:    r.Pricing.TotalHours,
		Subtotal:      r.Pricing.Subtotal,
		Taxes:         r.Pricing.Taxes,
		Fees:          r.Pricing.Fees,
		Total:         r.Pricing.Total,
		BookingToken:  r.BookingToken,
		NoteRenter:    r.Notes.Renter,
		NoteOwner:     r.Notes.Owner,
		NoteAdmin:     r.Notes.Admin,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
	row.CheckInTime, row.CheckInMethod, row.CheckInLatitude, row.CheckInLongitude = checkEventColumns(r.CheckIn)
	row.CheckOutTime, row.CheckOutMethod, row.CheckOutLatitude, row.CheckOutLongitude = checkEventColumns(r.CheckOut)
	return row
}

func checkEventColumns(e *model.CheckEvent) (sql.NullTime, sql.NullString, sql.NullFloat64, sql.NullFloat64) {
	if e == nil {
		return sql.NullTime{}, sql.NullString{}, sql.NullFloat64{}, sql.NullFloat64{}
	}
	t := sql.NullTime{Time: e.Time, Valid: true}
	m := sql.NullString{String: string(e.Method), Valid: true}
	if e.Location == nil {
		return t, m, sql.NullFloat64{}, sql.NullFloat64{}
	}
	return t, m,
		sql.NullFloat64{Float64: e.Location.Latitude, Valid: true},
		sql.NullFloat64{Float64: e.Location.Longitude, Valid: true}
}

func checkEventFromColumns(t sql.NullTime, m sql.NullString, lat, lng sql.NullFloat64) *model.CheckEvent {
	if !t.Valid {
		return nil
	}
	e := &model.CheckEvent{Time: t.Time, Method: model.CheckMethod(m.String)}
	if lat.Valid && lng.Valid {
		e.Location = &model.GeoLocation{Latitude: lat.Float64, Longitude: lng.Float64}
	}
	return e
}

func (row reservationRow) toModel() model.Reservation {
	return model.Reservation{
		ID:       row.ID,
		SpaceID:  row.SpaceID,
		RenterID: row.RenterID,
		Interval: model.Interval{Start: row.StartTime, End: row.EndTime},
		Status:   model.Status(row.Status),
		Vehicle: model.VehicleInfo{
			LicensePlate: row.VehiclePlate,
			Make:         row.VehicleMake,
			Model:        row.VehicleModel,
			Color:        row.VehicleColor,
			Type:         model.VehicleType(row.VehicleType),
		},
		Payment: model.Payment{
			Method: model.PaymentMethod(row.PaymentMethod),
			Status: row.PaymentStatus,
		},
		Pricing: model.Pricing{
			HourlyRate: row.HourlyRate,
			TotalHours: row.TotalHours,
			Subtotal:   row.Subtotal,
			Taxes:      row.Taxes,
			Fees:       row.Fees,
			Total:      row.Total,
		},
		BookingToken: row.BookingToken,
		CheckIn:      checkEventFromColumns(row.CheckInTime, row.CheckInMethod, row.CheckInLatitude, row.CheckInLongitude),
		CheckOut:     checkEventFromColumns(row.CheckOutTime, row.CheckOutMethod, row.CheckOutLatitude, row.CheckOutLongitude),
		Notes: model.Notes{
			Renter: row.NoteRenter,
			Owner:  row.NoteOwner,
			Admin:  row.NoteAdmin,
		},
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
}

func rowsToModels(rows []reservationRow) []model.Reservation {
	out := make([]model.Reservation, len(rows))
	for i, row := range rows {
		out[i] = row.toModel()
	}
	return out
}

// translateError は PostgreSQL のエラーをドメインエラーに変換します
func translateError(op string, err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqExclusionViolation {
		return model.ErrConflict
	}
	return model.NewStorageError(op, err)
}

type ReservationRepositoryImpl struct {
	db *DB
}

func NewReservationRepository(db *DB) *ReservationRepositoryImpl {
	return &ReservationRepositoryImpl{db: db}
}

// WithSpaceLock はトランザクション内でスペースIDのアドバイザリロックを取得してから fn を実行します
// ロックはコミットもしくはロールバック時に解放されます
func (r *ReservationRepositoryImpl) WithSpaceLock(ctx context.Context, spaceID string, fn func(ctx context.Context, tx *sqlx.Tx) error) (err error) {
	ctx, span := tracing.Begin(ctx, "ReservationRepository.WithSpaceLock")
	defer func() { span.End(err) }()
	span.AddMetadata("space_id", spaceID)

	return r.db.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, spaceID); err != nil {
			return model.NewStorageError("lock space", err)
		}
		return fn(ctx, tx)
	})
}

// Insert は予約を1件作成します
func (r *ReservationRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, reservation *model.Reservation) (err error) {
	ctx, span := tracing.Begin(ctx, "ReservationRepository.Insert")
	defer func() { span.End(err) }()

	query := `
		INSERT INTO reservations (` + reservationColumns + `
		) VALUES (
			:id, :space_id, :renter_id, :start_time, :end_time, :status,
			:vehicle_license_plate, :vehicle_make, :vehicle_model, :vehicle_color, :vehicle_type,
			:payment_method, :payment_status,
			:hourly_rate, :total_hours, :subtotal, :taxes, :fees, :total,
			:booking_token,
			:check_in_time, :check_in_method, :check_in_latitude, :check_in_longitude,
			:check_out_time, :check_out_method, :check_out_latitude, :check_out_longitude,
			:note_renter, :note_owner, :note_admin,
			:created_at, :updated_at
		)`

	if _, err = sqlx.NamedExecContext(ctx, r.db.ext(tx), query, toReservationRow(reservation)); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return model.NewStorageError("insert reservation: duplicate id or booking token", err)
		}
		return translateError("insert reservation", err)
	}
	return nil
}

// FindOverlapping は指定区間と重なる確定済み・利用中の予約を取得します
func (r *ReservationRepositoryImpl) FindOverlapping(ctx context.Context, tx *sqlx.Tx, spaceID string, interval model.Interval, excludeID string) (_ []model.Reservation, err error) {
	ctx, span := tracing.Begin(ctx, "ReservationRepository.FindOverlapping")
	defer func() { span.End(err) }()

	statuses := make([]string, len(model.BlockingStatuses))
	for i, s := range model.BlockingStatuses {
		statuses[i] = string(s)
	}

	query := `
		SELECT ` + reservationColumns + `
		FROM reservations
		WHERE space_id = $1
		AND status = ANY($2)
		AND start_time < $4
		AND end_time > $3
		AND ($5 = '' OR id <> $5)
		ORDER BY start_time ASC`

	var rows []reservationRow
	if err = sqlx.SelectContext(ctx, r.db.ext(tx), &rows, query,
		spaceID, pq.Array(statuses), interval.Start, interval.End, excludeID); err != nil {
		return nil, translateError("find overlapping reservations", err)
	}
	return rowsToModels(rows), nil
}

// Update は予約に部分更新を適用し、更新後の予約を返します
// チェックイン・チェックアウト時刻は未設定の場合にのみ書き込みます
func (r *ReservationRepositoryImpl) Update(ctx context.Context, tx *sqlx.Tx, id string, patch model.ReservationPatch) (_ *model.Reservation, err error) {
	ctx, span := tracing.Begin(ctx, "ReservationRepository.Update")
	defer func() { span.End(err) }()

	query, args := buildUpdate(id, patch, patch.UpdatedAt(time.Now()))

	var row reservationRow
	err = sqlx.GetContext(ctx, r.db.ext(tx), &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		switch {
		case patch.CheckIn != nil:
			return nil, model.ErrAlreadyCheckedIn
		case patch.CheckOut != nil:
			return nil, model.ErrAlreadyCheckedOut
		default:
			return nil, model.ErrReservationNotFound
		}
	}
	if err != nil {
		return nil, translateError("update reservation", err)
	}
	updated := row.toModel()
	return &updated, nil
}

func buildUpdate(id string, patch model.ReservationPatch, now time.Time) (string, []interface{}) {
	var (
		sets  []string
		conds []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if patch.Status != nil {
		sets = append(sets, "status = "+arg(string(*patch.Status)))
	}
	if patch.CheckIn != nil {
		t, m, lat, lng := checkEventColumns(patch.CheckIn)
		sets = append(sets,
			"check_in_time = "+arg(t),
			"check_in_method = "+arg(m),
			"check_in_latitude = "+arg(lat),
			"check_in_longitude = "+arg(lng),
		)
		conds = append(conds, "check_in_time IS NULL")
	}
	if patch.CheckOut != nil {
		t, m, lat, lng := checkEventColumns(patch.CheckOut)
		sets = append(sets,
			"check_out_time = "+arg(t),
			"check_out_method = "+arg(m),
			"check_out_latitude = "+arg(lat),
			"check_out_longitude = "+arg(lng),
		)
		conds = append(conds, "check_out_time IS NULL")
	}
	if patch.Notes != nil {
		sets = append(sets,
			"note_renter = "+arg(patch.Notes.Renter),
			"note_owner = "+arg(patch.Notes.Owner),
			"note_admin = "+arg(patch.Notes.Admin),
		)
	}
	sets = append(sets, "updated_at = "+arg(now))

	where := append([]string{"id = " + arg(id)}, conds...)

	query := `
		UPDATE reservations
		SET ` + strings.Join(sets, ", ") + `
		WHERE ` + strings.Join(where, " AND ") + `
		RETURNING ` + reservationColumns
	return query, args
}

// FindByID は予約を1件取得します。tx がある場合は行ロックを取得します
func (r *ReservationRepositoryImpl) FindByID(ctx context.Context, tx *sqlx.Tx, id string) (_ *model.Reservation, err error) {
	ctx, span := tracing.Begin(ctx, "ReservationRepository.FindByID")
	defer func() { span.End(err) }()

	query := `
		SELECT ` + reservationColumns + `
		FROM reservations
		WHERE id = $1`
	if tx != nil {
		query += ` FOR UPDATE`
	}

	var row reservationRow
	err = sqlx.GetContext(ctx, r.db.ext(tx), &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrReservationNotFound
	}
	if err != nil {
		return nil, translateError("find reservation", err)
	}
	res := row.toModel()
	return &res, nil
}

// FindByToken はゲートで読み取った予約トークンから予約を取得します
func (r *ReservationRepositoryImpl) FindByToken(ctx context.Context, token string) (_ *model.Reservation, err error) {
	ctx, span := tracing.Begin(ctx, "ReservationRepository.FindByToken")
	defer func() { span.End(err) }()

	query := `
		SELECT ` + reservationColumns + `
		FROM reservations
		WHERE booking_token = $1`

	var row reservationRow
	err = sqlx.GetContext(ctx, r.db.DB, &row, query, token)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrReservationNotFound
	}
	if err != nil {
		return nil, translateError("find reservation by token", err)
	}
	res := row.toModel()
	return &res, nil
}

// GetReservationsByStatus は、指定されたステータスの予約を作成順に取得します
func (r *ReservationRepositoryImpl) GetReservationsByStatus(ctx context.Context, status model.Status) (_ []model.Reservation, err error) {
	ctx, span := tracing.Begin(ctx, "ReservationRepository.GetReservationsByStatus")
	defer func() { span.End(err) }()

	query := `
		SELECT ` + reservationColumns + `
		FROM reservations
		WHERE status = $1
		ORDER BY created_at ASC`

	var rows []reservationRow
	if err = sqlx.SelectContext(ctx, r.db.DB, &rows, query, string(status)); err != nil {
		return nil, translateError(fmt.Sprintf("query reservations with status %s", status), err)
	}
	return rowsToModels(rows), nil
}

// ListByRenter は利用者の予約を新しい順に取得し、総件数とあわせて返します
func (r *ReservationRepositoryImpl) ListByRenter(ctx context.Context, renterID string, status model.Status, limit, offset int) (_ []model.Reservation, _ int, err error) {
	ctx, span := tracing.Begin(ctx, "ReservationRepository.ListByRenter")
	defer func() { span.End(err) }()

	return r.listPage(ctx, `WHERE renter_id = $1 AND ($2 = '' OR status = $2)`, renterID, status, limit, offset)
}

// ListByOwner はオーナーのスペースに対する予約を新しい順に取得し、総件数とあわせて返します
func (r *ReservationRepositoryImpl) ListByOwner(ctx context.Context, ownerID string, status model.Status, limit, offset int) (_ []model.Reservation, _ int, err error) {
	ctx, span := tracing.Begin(ctx, "ReservationRepository.ListByOwner")
	defer func() { span.End(err) }()

	where := `WHERE space_id IN (SELECT id FROM parking_spaces WHERE owner_id = $1) AND ($2 = '' OR status = $2)`
	return r.listPage(ctx, where, ownerID, status, limit, offset)
}

// listPage は where の $1 に key、$2 に status を渡して1ページ分を取得します
func (r *ReservationRepositoryImpl) listPage(ctx context.Context, where, key string, status model.Status, limit, offset int) ([]model.Reservation, int, error) {
	var total int
	if err := sqlx.GetContext(ctx, r.db.DB, &total,
		`SELECT COUNT(*) FROM reservations `+where, key, string(status)); err != nil {
		return nil, 0, translateError("count reservations", err)
	}

	query := `
		SELECT ` + reservationColumns + `
		FROM reservations
		` + where + `
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`

	var rows []reservationRow
	if err := sqlx.SelectContext(ctx, r.db.DB, &rows, query, key, string(status), limit, offset); err != nil {
		return nil, 0, translateError("list reservations", err)
	}
	return rowsToModels(rows), total, nil
}
