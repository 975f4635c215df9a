package reservation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/uma-arai/sbcntr-parking/internal/common/config"
	"github.com/uma-arai/sbcntr-parking/internal/model"
	"github.com/uma-arai/sbcntr-parking/internal/repository"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

var (
	now     = time.Date(2098, 12, 31, 0, 0, 0, 0, time.UTC)
	startAt = time.Date(2099, 1, 1, 10, 0, 0, 0, time.UTC)
	endAt   = time.Date(2099, 1, 1, 12, 0, 0, 0, time.UTC)
)

func newTestScheduler(t *testing.T, opts ...Option) (*Scheduler, *repository.MemoryStore) {
	t.Helper()
	store := repository.NewMemoryStore()
	store.PutSpace(model.Space{ID: "space-1", OwnerID: "owner-1", Title: "駅前第1駐車場", Status: model.SpaceStatusActive, HourlyRate: 10})
	store.PutSpace(model.Space{ID: "space-closed", OwnerID: "owner-1", Status: model.SpaceStatusInactive, HourlyRate: 10})
	opts = append([]Option{WithClock(fixedClock{now: now})}, opts...)
	return NewScheduler(store, store, opts...), store
}

func createRequest(renterID string, start, end time.Time) CreateRequest {
	return CreateRequest{
		SpaceID:       "space-1",
		RenterID:      renterID,
		Interval:      model.Interval{Start: start, End: end},
		Vehicle:       model.VehicleInfo{LicensePlate: "品川 300 あ 12-34"},
		PaymentMethod: model.PaymentCreditCard,
	}
}

func TestCreateReservation_ComputesPricing(t *testing.T) {
	s, _ := newTestScheduler(t)

	r, err := s.CreateReservation(context.Background(), createRequest("renter-1", startAt, endAt))
	require.NoError(t, err)

	require.Equal(t, model.StatusPending, r.Status)
	require.Equal(t, model.Pricing{HourlyRate: 10, TotalHours: 2, Subtotal: 20, Taxes: 1.6, Fees: 2.5, Total: 24.1}, r.Pricing)
	require.Equal(t, "pending", r.Payment.Status)
	require.Equal(t, model.VehicleCar, r.Vehicle.Type)
	require.Len(t, r.BookingToken, 32)
	require.NotEmpty(t, r.ID)
	require.Equal(t, now, r.CreatedAt)
}

func TestCreateReservation_Preconditions(t *testing.T) {
	tests := []struct {
		name  string
		space string
		start time.Time
		end   time.Time
		want  model.ErrorKind
	}{
		{
			name:  "開始時刻が過去",
			space: "space-1",
			start: now.Add(-time.Hour),
			end:   now.Add(time.Hour),
			want:  model.KindInvalidInterval,
		},
		{
			name:  "開始時刻が現在と同じ",
			space: "space-1",
			start: now,
			end:   now.Add(time.Hour),
			want:  model.KindInvalidInterval,
		},
		{
			name:  "終了時刻が開始時刻より前",
			space: "space-1",
			start: endAt,
			end:   startAt,
			want:  model.KindInvalidInterval,
		},
		{
			name:  "区間の検証がスペースの検証より先",
			space: "space-unknown",
			start: endAt,
			end:   endAt,
			want:  model.KindInvalidInterval,
		},
		{
			name:  "存在しないスペース",
			space: "space-unknown",
			start: startAt,
			end:   endAt,
			want:  model.KindNotFound,
		},
		{
			name:  "予約を受け付けていないスペース",
			space: "space-closed",
			start: startAt,
			end:   endAt,
			want:  model.KindSpaceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, store := newTestScheduler(t)
			req := createRequest("renter-1", tt.start, tt.end)
			req.SpaceID = tt.space

			_, err := s.CreateReservation(context.Background(), req)
			require.Error(t, err)
			require.Equal(t, tt.want, model.KindOf(err))

			page, _, listErr := store.ListByRenter(context.Background(), "renter-1", "", 10, 0)
			require.NoError(t, listErr)
			require.Empty(t, page)
		})
	}
}

func TestCreateReservation_DoubleBookingConflicts(t *testing.T) {
	s, _ := newTestScheduler(t, WithAutoConfirm(true))
	ctx := context.Background()

	first, err := s.CreateReservation(ctx, createRequest("renter-1", startAt, endAt))
	require.NoError(t, err)
	require.Equal(t, model.StatusConfirmed, first.Status)

	_, err = s.CreateReservation(ctx, createRequest("renter-2", startAt, endAt))
	require.ErrorIs(t, err, model.ErrConflict)

	_, err = s.CreateReservation(ctx, createRequest("renter-2", startAt.Add(time.Hour), endAt.Add(time.Hour)))
	require.ErrorIs(t, err, model.ErrConflict)

	// 終了時刻ちょうどから始まる連続予約は重ならない
	next, err := s.CreateReservation(ctx, createRequest("renter-2", endAt, endAt.Add(time.Hour)))
	require.NoError(t, err)
	require.Equal(t, model.StatusConfirmed, next.Status)
}

func TestPendingReservationsDoNotBlockUntilConfirmed(t *testing.T) {
	s, _ := newTestScheduler(t)
	ctx := context.Background()

	first, err := s.CreateReservation(ctx, createRequest("renter-1", startAt, endAt))
	require.NoError(t, err)
	second, err := s.CreateReservation(ctx, createRequest("renter-2", startAt, endAt))
	require.NoError(t, err)

	ok, err := s.IsAvailable(ctx, "space-1", model.Interval{Start: startAt, End: endAt}, "")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = s.Transition(ctx, first.ID, model.StatusConfirmed, model.RoleOwner, "")
	require.NoError(t, err)

	_, err = s.Transition(ctx, second.ID, model.StatusConfirmed, model.RoleOwner, "")
	require.ErrorIs(t, err, model.ErrConflict)

	got, err := s.Get(ctx, second.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusPending, got.Status)

	ok, err = s.IsAvailable(ctx, "space-1", model.Interval{Start: startAt, End: endAt}, first.ID)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestIsAvailable_RejectsInvalidInterval(t *testing.T) {
	s, _ := newTestScheduler(t)

	_, err := s.IsAvailable(context.Background(), "space-1", model.Interval{Start: endAt, End: startAt}, "")
	require.ErrorIs(t, err, model.ErrInvalidInterval)
}

func TestTransition(t *testing.T) {
	tests := []struct {
		name  string
		steps []model.Status
		role  model.Role
		note  string
		want  model.ErrorKind
	}{
		{name: "pending から confirmed", steps: []model.Status{model.StatusConfirmed}, role: model.RoleOwner},
		{name: "pending から cancelled", steps: []model.Status{model.StatusCancelled}, role: model.RoleRenter, note: "予定変更"},
		{name: "confirmed から no_show", steps: []model.Status{model.StatusConfirmed, model.StatusNoShow}, role: model.RoleOwner, note: "来場なし"},
		{name: "cancelled から confirmed は不可", steps: []model.Status{model.StatusCancelled, model.StatusConfirmed}, role: model.RoleAdmin, want: model.KindAlreadyFinalized},
		{name: "no_show から cancelled は不可", steps: []model.Status{model.StatusConfirmed, model.StatusNoShow, model.StatusCancelled}, role: model.RoleRenter, want: model.KindAlreadyFinalized},
		{name: "pending から no_show は不可", steps: []model.Status{model.StatusNoShow}, role: model.RoleOwner, want: model.KindInvalidState},
		{name: "active へは直接遷移できない", steps: []model.Status{model.StatusConfirmed, model.StatusActive}, role: model.RoleAdmin, want: model.KindInvalidState},
		{name: "completed へは直接遷移できない", steps: []model.Status{model.StatusCompleted}, role: model.RoleAdmin, want: model.KindInvalidState},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestScheduler(t)
			ctx := context.Background()
			r, err := s.CreateReservation(ctx, createRequest("renter-1", startAt, endAt))
			require.NoError(t, err)

			var last *model.Reservation
			for i, target := range tt.steps {
				last, err = s.Transition(ctx, r.ID, target, tt.role, tt.note)
				if i < len(tt.steps)-1 {
					require.NoError(t, err)
				}
			}

			if tt.want != "" {
				require.Equal(t, tt.want, model.KindOf(err))
				before, getErr := s.Get(ctx, r.ID)
				require.NoError(t, getErr)
				if len(tt.steps) > 1 {
					require.Equal(t, tt.steps[len(tt.steps)-2], before.Status)
				} else {
					require.Equal(t, model.StatusPending, before.Status)
				}
				return
			}

			require.NoError(t, err)
			require.Equal(t, tt.steps[len(tt.steps)-1], last.Status)
			require.Equal(t, model.Notes{}.With(tt.role, tt.note), last.Notes)
			require.Equal(t, now, last.UpdatedAt)
		})
	}
}

func TestTransition_UnknownReservation(t *testing.T) {
	s, _ := newTestScheduler(t)

	_, err := s.Transition(context.Background(), "missing", model.StatusCancelled, model.RoleRenter, "")
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestCheckIn_Window(t *testing.T) {
	s, _ := newTestScheduler(t, WithAutoConfirm(true))
	ctx := context.Background()
	r, err := s.CreateReservation(ctx, createRequest("renter-1", startAt, endAt))
	require.NoError(t, err)

	_, err = s.CheckIn(ctx, r.ID, "renter-1", model.CheckEvent{Time: startAt.Add(-20 * time.Minute)})
	require.ErrorIs(t, err, model.ErrTooEarly)

	unchanged, err := s.Get(ctx, r.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusConfirmed, unchanged.Status)
	require.Nil(t, unchanged.CheckIn)

	checkedIn, err := s.CheckIn(ctx, r.ID, "renter-1", model.CheckEvent{
		Time:     startAt.Add(-10 * time.Minute),
		Location: &model.GeoLocation{Latitude: 35.6812, Longitude: 139.7671},
	})
	require.NoError(t, err)
	require.Equal(t, model.StatusActive, checkedIn.Status)
	require.Equal(t, model.CheckMethodQRCode, checkedIn.CheckIn.Method)
	require.True(t, checkedIn.CheckIn.Time.Equal(startAt.Add(-10*time.Minute)))

	_, err = s.CheckIn(ctx, r.ID, "renter-1", model.CheckEvent{Time: startAt})
	require.ErrorIs(t, err, model.ErrAlreadyCheckedIn)
}

func TestCheckIn_LateArrivalIsAllowed(t *testing.T) {
	s, _ := newTestScheduler(t, WithAutoConfirm(true))
	ctx := context.Background()
	r, err := s.CreateReservation(ctx, createRequest("renter-1", startAt, endAt))
	require.NoError(t, err)

	got, err := s.CheckIn(ctx, r.ID, "renter-1", model.CheckEvent{Time: endAt.Add(time.Hour), Method: model.CheckMethodManual})
	require.NoError(t, err)
	require.Equal(t, model.StatusActive, got.Status)
}

func TestCheckIn_CustomLead(t *testing.T) {
	s, _ := newTestScheduler(t, WithAutoConfirm(true), WithCheckInLead(30*time.Minute))
	ctx := context.Background()
	r, err := s.CreateReservation(ctx, createRequest("renter-1", startAt, endAt))
	require.NoError(t, err)

	_, err = s.CheckIn(ctx, r.ID, "renter-1", model.CheckEvent{Time: startAt.Add(-20 * time.Minute)})
	require.NoError(t, err)
}

func TestCheckIn_Rejections(t *testing.T) {
	tests := []struct {
		name        string
		autoConfirm bool
		actor       string
		want        model.ErrorKind
	}{
		{name: "予約者以外", autoConfirm: true, actor: "renter-2", want: model.KindNotOwner},
		{name: "未確定の予約", autoConfirm: false, actor: "renter-1", want: model.KindInvalidState},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestScheduler(t, WithAutoConfirm(tt.autoConfirm))
			ctx := context.Background()
			r, err := s.CreateReservation(ctx, createRequest("renter-1", startAt, endAt))
			require.NoError(t, err)

			_, err = s.CheckIn(ctx, r.ID, tt.actor, model.CheckEvent{Time: startAt})
			require.Equal(t, tt.want, model.KindOf(err))
		})
	}
}

func TestCheckInByToken(t *testing.T) {
	s, _ := newTestScheduler(t, WithAutoConfirm(true), WithTokenGenerator(func() string { return "gate-token" }))
	ctx := context.Background()
	r, err := s.CreateReservation(ctx, createRequest("renter-1", startAt, endAt))
	require.NoError(t, err)
	require.Equal(t, "gate-token", r.BookingToken)

	got, err := s.CheckInByToken(ctx, "gate-token", "renter-1", model.CheckEvent{Time: startAt})
	require.NoError(t, err)
	require.Equal(t, r.ID, got.ID)
	require.Equal(t, model.StatusActive, got.Status)

	_, err = s.CheckInByToken(ctx, "unknown", "renter-1", model.CheckEvent{Time: startAt})
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestCheckOut_Twice(t *testing.T) {
	s, _ := newTestScheduler(t, WithAutoConfirm(true))
	ctx := context.Background()
	r, err := s.CreateReservation(ctx, createRequest("renter-1", startAt, endAt))
	require.NoError(t, err)

	_, err = s.CheckOut(ctx, r.ID, "renter-1", model.CheckEvent{Time: endAt})
	require.ErrorIs(t, err, model.ErrInvalidState)

	_, err = s.CheckIn(ctx, r.ID, "renter-1", model.CheckEvent{Time: startAt})
	require.NoError(t, err)

	_, err = s.CheckOut(ctx, r.ID, "renter-2", model.CheckEvent{Time: endAt})
	require.ErrorIs(t, err, model.ErrNotOwner)

	first, err := s.CheckOut(ctx, r.ID, "renter-1", model.CheckEvent{Time: endAt})
	require.NoError(t, err)
	require.Equal(t, model.StatusCompleted, first.Status)

	_, err = s.CheckOut(ctx, r.ID, "renter-1", model.CheckEvent{Time: endAt.Add(time.Hour)})
	require.ErrorIs(t, err, model.ErrAlreadyCheckedOut)

	stored, err := s.Get(ctx, r.ID)
	require.NoError(t, err)
	require.True(t, stored.CheckOut.Time.Equal(endAt))
	require.Equal(t, model.StatusCompleted, stored.Status)
}

func TestCreateReservation_ConcurrentBookingsForSameInterval(t *testing.T) {
	s, store := newTestScheduler(t, WithAutoConfirm(true))
	ctx := context.Background()

	const workers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.CreateReservation(ctx, createRequest("renter-1", startAt, endAt))
			mu.Lock()
			defer mu.Unlock()
			switch model.KindOf(err) {
			case "":
				succeeded++
			case model.KindConflict:
				conflicts++
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, succeeded)
	require.Equal(t, workers-1, conflicts)

	blocking, err := store.FindOverlapping(ctx, nil, "space-1", model.Interval{Start: startAt, End: endAt}, "")
	require.NoError(t, err)
	require.Len(t, blocking, 1)
}

func TestTransition_ConcurrentConfirmOfOverlappingPending(t *testing.T) {
	s, store := newTestScheduler(t)
	ctx := context.Background()

	first, err := s.CreateReservation(ctx, createRequest("renter-1", startAt, endAt))
	require.NoError(t, err)
	second, err := s.CreateReservation(ctx, createRequest("renter-2", startAt.Add(time.Hour), endAt.Add(time.Hour)))
	require.NoError(t, err)

	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make([]error, 2)
	)
	for i, id := range []string{first.ID, second.ID} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			<-start
			_, errs[i] = s.Transition(ctx, id, model.StatusConfirmed, model.RoleOwner, "")
		}(i, id)
	}
	close(start)
	wg.Wait()

	var succeeded, conflicts int
	for _, err := range errs {
		switch model.KindOf(err) {
		case "":
			succeeded++
		case model.KindConflict:
			conflicts++
		}
	}
	require.Equal(t, 1, succeeded)
	require.Equal(t, 1, conflicts)

	blocking, err := store.FindOverlapping(ctx, nil, "space-1", model.Interval{Start: startAt, End: endAt.Add(time.Hour)}, "")
	require.NoError(t, err)
	require.Len(t, blocking, 1)
	require.Equal(t, model.StatusConfirmed, blocking[0].Status)
}

func TestListForOwner(t *testing.T) {
	s, store := newTestScheduler(t)
	store.PutSpace(model.Space{ID: "space-other", OwnerID: "owner-2", Status: model.SpaceStatusActive, HourlyRate: 10})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		start := startAt.Add(time.Duration(i*3) * time.Hour)
		_, err := s.CreateReservation(ctx, createRequest("renter-1", start, start.Add(time.Hour)))
		require.NoError(t, err)
	}
	other := createRequest("renter-2", startAt, endAt)
	other.SpaceID = "space-other"
	_, err := s.CreateReservation(ctx, other)
	require.NoError(t, err)

	page, err := s.ListForOwner(ctx, "owner-1", "", 0, 100)
	require.NoError(t, err)
	require.Equal(t, 3, page.Total)
	require.Equal(t, 50, page.Limit)
	require.Len(t, page.Reservations, 3)
	for _, r := range page.Reservations {
		require.Equal(t, "space-1", r.SpaceID)
	}

	page, err = s.ListForOwner(ctx, "owner-2", model.StatusConfirmed, 1, 10)
	require.NoError(t, err)
	require.Zero(t, page.Total)
	require.NotNil(t, page.Reservations)

	_, err = s.ListForOwner(ctx, "owner-1", model.Status("parked"), 1, 10)
	require.Equal(t, model.KindInvalidState, model.KindOf(err))
}

func TestListForRenter(t *testing.T) {
	s, _ := newTestScheduler(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		start := startAt.Add(time.Duration(i*3) * time.Hour)
		_, err := s.CreateReservation(ctx, createRequest("renter-1", start, start.Add(time.Hour)))
		require.NoError(t, err)
	}

	page, err := s.ListForRenter(ctx, "renter-1", "", 2, 100)
	require.NoError(t, err)
	require.Equal(t, 3, page.Total)
	require.Equal(t, 50, page.Limit)
	require.Equal(t, 2, page.Page)
	require.Empty(t, page.Reservations)

	page, err = s.ListForRenter(ctx, "renter-1", model.StatusPending, 0, 0)
	require.NoError(t, err)
	require.Len(t, page.Reservations, 3)
	require.Equal(t, 1, page.Page)
	require.Equal(t, 10, page.Limit)

	_, err = s.ListForRenter(ctx, "renter-1", model.Status("parked"), 1, 10)
	require.Error(t, err)
}

func TestSpaceCalendar(t *testing.T) {
	s, _ := newTestScheduler(t, WithAutoConfirm(true))
	ctx := context.Background()
	first, err := s.CreateReservation(ctx, createRequest("renter-1", startAt, endAt))
	require.NoError(t, err)
	second, err := s.CreateReservation(ctx, createRequest("renter-2", endAt, endAt.Add(time.Hour)))
	require.NoError(t, err)
	_, err = s.Transition(ctx, second.ID, model.StatusCancelled, model.RoleRenter, "")
	require.NoError(t, err)

	day := model.Interval{Start: startAt.Add(-10 * time.Hour), End: startAt.Add(14 * time.Hour)}
	items, err := s.SpaceCalendar(ctx, "space-1", day)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, first.ID, items[0].ID)

	_, err = s.SpaceCalendar(ctx, "space-unknown", day)
	require.ErrorIs(t, err, model.ErrNotFound)
}

// FuzzConfirmedNeverOverlap は任意の2区間を確定予約として登録し、
// 同じスペースで確定済み・利用中の予約どうしが重ならないことを確認します
func FuzzConfirmedNeverOverlap(f *testing.F) {
	f.Add(uint8(0), uint8(2), uint8(0), uint8(2))
	f.Add(uint8(0), uint8(2), uint8(2), uint8(1))
	f.Add(uint8(3), uint8(5), uint8(1), uint8(3))
	f.Add(uint8(10), uint8(1), uint8(0), uint8(30))

	f.Fuzz(func(t *testing.T, startA, lenA, startB, lenB uint8) {
		s, store := newTestScheduler(t, WithAutoConfirm(true))
		ctx := context.Background()

		a := fuzzInterval(startA, lenA)
		b := fuzzInterval(startB, lenB)

		_, errA := s.CreateReservation(ctx, createRequest("renter-a", a.Start, a.End))
		require.NoError(t, errA)
		_, errB := s.CreateReservation(ctx, createRequest("renter-b", b.Start, b.End))

		if a.Overlaps(b) {
			require.ErrorIs(t, errB, model.ErrConflict)
		} else {
			require.NoError(t, errB)
		}

		all := model.Interval{Start: startAt.Add(-time.Hour), End: startAt.Add(1000 * time.Hour)}
		blocking, err := store.FindOverlapping(ctx, nil, "space-1", all, "")
		require.NoError(t, err)
		for i := range blocking {
			for j := i + 1; j < len(blocking); j++ {
				require.False(t, blocking[i].Interval.Overlaps(blocking[j].Interval),
					"%v overlaps %v", blocking[i].Interval, blocking[j].Interval)
			}
		}
	})
}

func fuzzInterval(offset, length uint8) model.Interval {
	start := startAt.Add(time.Duration(offset) * time.Minute * 30)
	return model.Interval{Start: start, End: start.Add(time.Duration(length%48+1) * time.Minute * 30)}
}

func TestOptionsFromConfig(t *testing.T) {
	s, _ := newTestScheduler(t, OptionsFromConfig(config.ReservationConfig{
		TaxRate:       0.1,
		ProcessingFee: 1,
		CheckInLead:   time.Hour,
		AutoConfirm:   true,
	})...)

	r, err := s.CreateReservation(context.Background(), createRequest("renter-1", startAt, endAt))
	require.NoError(t, err)
	require.Equal(t, model.StatusConfirmed, r.Status)
	require.Equal(t, 23.0, r.Pricing.Total)

	_, err = s.CheckIn(context.Background(), r.ID, "renter-1", model.CheckEvent{Time: startAt.Add(-50 * time.Minute)})
	require.NoError(t, err)
}
