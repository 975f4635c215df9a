package batch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/uma-arai/sbcntr-parking/internal/common/config"
	"github.com/uma-arai/sbcntr-parking/internal/model"
	"github.com/uma-arai/sbcntr-parking/internal/repository"
	"github.com/uma-arai/sbcntr-parking/internal/service/reservation"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

// MockTaskReporter はStep Functionsへの通知を記録します
type MockTaskReporter struct {
	inputs []*sfn.SendTaskSuccessInput
	err    error
}

func (m *MockTaskReporter) SendTaskSuccess(ctx context.Context, params *sfn.SendTaskSuccessInput, optFns ...func(*sfn.Options)) (*sfn.SendTaskSuccessOutput, error) {
	m.inputs = append(m.inputs, params)
	return &sfn.SendTaskSuccessOutput{}, m.err
}

var batchNow = time.Date(2098, 12, 31, 0, 0, 0, 0, time.UTC)

func newTestReservationBatchService(t *testing.T, env string, reporter TaskReporter) (*ReservationBatchService, *repository.MemoryStore) {
	t.Helper()
	store := repository.NewMemoryStore()
	store.PutSpace(model.Space{ID: "space1", Title: "駅前第1駐車場", Status: model.SpaceStatusActive, HourlyRate: 10})

	cfg := &config.Config{Env: env, Reservation: config.ReservationConfig{TaxRate: 0.08, ProcessingFee: 2.5, CheckInLead: 15 * time.Minute}}
	cfg.SFN.TaskToken = "test-token"

	clock := fixedClock{now: batchNow}
	s := newReservationBatchService(cfg, store, store, reporter, reservation.WithClock(clock))
	s.clock = clock
	return s, store
}

func seedPending(t *testing.T, store *repository.MemoryStore, id, renter string, start time.Time, createdAt time.Time) {
	t.Helper()
	r := model.Reservation{
		ID:           id,
		SpaceID:      "space1",
		RenterID:     renter,
		Interval:     model.Interval{Start: start, End: start.Add(2 * time.Hour)},
		Status:       model.StatusPending,
		BookingToken: "token-" + id,
		CreatedAt:    createdAt,
		UpdatedAt:    createdAt,
	}
	if err := store.Insert(context.Background(), nil, &r); err != nil {
		t.Fatalf("failed to seed reservation: %v", err)
	}
}

// TestReservationBatchService_StatusTransition はステータス遷移のビジネスロジックをテスト
func TestReservationBatchService_StatusTransition(t *testing.T) {
	start := time.Date(2099, 1, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		seed        func(t *testing.T, store *repository.MemoryStore)
		want        map[string]model.Status
		wantNote    map[string]string
		description string
	}{
		{
			name:        "予約が0件",
			seed:        func(t *testing.T, store *repository.MemoryStore) {},
			want:        map[string]model.Status{},
			description: "予約が0件の場合でも正常に処理が完了すること",
		},
		{
			name: "新規予約を確定",
			seed: func(t *testing.T, store *repository.MemoryStore) {
				seedPending(t, store, "r1", "user001", start, batchNow)
			},
			want:        map[string]model.Status{"r1": model.StatusConfirmed},
			description: "重複がない場合、pendingからconfirmedに遷移すること",
		},
		{
			name: "重複する予約は先着を確定し後着をキャンセル",
			seed: func(t *testing.T, store *repository.MemoryStore) {
				seedPending(t, store, "late", "user002", start.Add(time.Hour), batchNow.Add(time.Minute))
				seedPending(t, store, "early", "user001", start, batchNow)
			},
			want:        map[string]model.Status{"early": model.StatusConfirmed, "late": model.StatusCancelled},
			wantNote:    map[string]string{"late": noteConflict},
			description: "作成順に処理し、重複する後着の予約はcancelledになること",
		},
		{
			name: "連続する予約は両方確定",
			seed: func(t *testing.T, store *repository.MemoryStore) {
				seedPending(t, store, "r1", "user001", start, batchNow)
				seedPending(t, store, "r2", "user002", start.Add(2*time.Hour), batchNow.Add(time.Minute))
			},
			want:        map[string]model.Status{"r1": model.StatusConfirmed, "r2": model.StatusConfirmed},
			description: "終了時刻と開始時刻が一致する予約は重複とみなさないこと",
		},
		{
			name: "開始時刻を過ぎた予約をキャンセル",
			seed: func(t *testing.T, store *repository.MemoryStore) {
				seedPending(t, store, "expired", "user001", batchNow.Add(-time.Hour), batchNow.Add(-2*time.Hour))
			},
			want:        map[string]model.Status{"expired": model.StatusCancelled},
			wantNote:    map[string]string{"expired": noteExpired},
			description: "確定されないまま開始時刻を過ぎた予約はcancelledになること",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, store := newTestReservationBatchService(t, "LOCAL", nil)
			tt.seed(t, store)

			if err := service.Run(context.Background()); err != nil {
				t.Fatalf("Run() error = %v", err)
			}

			for id, want := range tt.want {
				got, err := store.FindByID(context.Background(), nil, id)
				if err != nil {
					t.Fatalf("FindByID(%s) error = %v", id, err)
				}
				if got.Status != want {
					t.Errorf("%s: status = %s, want %s", id, got.Status, want)
				}
				if note, ok := tt.wantNote[id]; ok && got.Notes.Admin != note {
					t.Errorf("%s: admin note = %q, want %q", id, got.Notes.Admin, note)
				}
			}
		})
	}
}

func TestReservationBatchService_SendTaskSuccess(t *testing.T) {
	start := time.Date(2099, 1, 1, 10, 0, 0, 0, time.UTC)
	reporter := &MockTaskReporter{}
	service, store := newTestReservationBatchService(t, "PRODUCTION", reporter)
	seedPending(t, store, "r1", "user001", start, batchNow)
	seedPending(t, store, "r2", "user002", start, batchNow.Add(time.Minute))

	if err := service.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(reporter.inputs) != 1 {
		t.Fatalf("SendTaskSuccess called %d times, want 1", len(reporter.inputs))
	}
	input := reporter.inputs[0]
	if *input.TaskToken != "test-token" {
		t.Errorf("TaskToken = %s, want test-token", *input.TaskToken)
	}

	// 出力は通知バッチの入力としてそのまま読み取れること
	notifications, err := ParseNotifications([]byte(*input.Output))
	if err != nil {
		t.Fatalf("ParseNotifications() error = %v", err)
	}
	if len(notifications) != 2 {
		t.Fatalf("got %d notifications, want 2", len(notifications))
	}

	titles := map[string]string{"space1": "駅前第1駐車場"}
	statuses := map[string]model.NotificationType{}
	for _, n := range notifications {
		record, err := n.ToNotificationRecord(titles)
		if err != nil {
			t.Fatalf("ToNotificationRecord() error = %v", err)
		}
		statuses[record.Title] = record.Type
	}
	if _, ok := statuses["Your parking reservation is confirmed"]; !ok {
		t.Errorf("missing confirmed notification: %v", statuses)
	}
	if _, ok := statuses["Your parking reservation was cancelled"]; !ok {
		t.Errorf("missing cancelled notification: %v", statuses)
	}
}

func TestReservationBatchService_SendTaskSuccessErrors(t *testing.T) {
	tests := []struct {
		name      string
		taskToken string
		reportErr error
	}{
		{name: "タスクトークンが未設定", taskToken: ""},
		{name: "Step Functionsの呼び出しに失敗", taskToken: "test-token", reportErr: errors.New("throttled")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reporter := &MockTaskReporter{err: tt.reportErr}
			service, _ := newTestReservationBatchService(t, "PRODUCTION", reporter)
			service.cfg.SFN.TaskToken = tt.taskToken

			if err := service.Run(context.Background()); err == nil {
				t.Error("Run() expected error, got nil")
			}
		})
	}
}
