package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/uma-arai/sbcntr-parking/internal/common/config"
	"github.com/uma-arai/sbcntr-parking/internal/common/tracing"
	"github.com/uma-arai/sbcntr-parking/internal/common/utils"
	"github.com/uma-arai/sbcntr-parking/internal/model"
	"github.com/uma-arai/sbcntr-parking/internal/repository"
	"github.com/uma-arai/sbcntr-parking/internal/service/reservation"
)

const (
	noteConflict = "Cancelled automatically: the space was booked by another reservation for this time period"
	noteExpired  = "Cancelled automatically: the reservation was not confirmed before its start time"
)

// TaskReporter はStep Functionsへタスクの成功を通知します
// *sfn.Client がこのインターフェースを満たします
type TaskReporter interface {
	SendTaskSuccess(ctx context.Context, params *sfn.SendTaskSuccessInput, optFns ...func(*sfn.Options)) (*sfn.SendTaskSuccessOutput, error)
}

// ReservationBatchService は保留中の予約を確定するバッチ処理を担当します
type ReservationBatchService struct {
	stores          *repository.Stores
	reservationRepo repository.ReservationRepository
	scheduler       *reservation.Scheduler
	reporter        TaskReporter
	clock           model.Clock
	cfg             *config.Config
}

// NewReservationBatchService は新しいReservationBatchServiceを作成します
func NewReservationBatchService(ctx context.Context, cfg *config.Config, reporter TaskReporter) (*ReservationBatchService, error) {
	stores, err := repository.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	s := newReservationBatchService(cfg, stores.Reservations, stores.Spaces, reporter)
	s.stores = stores
	return s, nil
}

func newReservationBatchService(cfg *config.Config, reservations repository.ReservationRepository, spaces repository.SpaceRepository, reporter TaskReporter, opts ...reservation.Option) *ReservationBatchService {
	opts = append(reservation.OptionsFromConfig(cfg.Reservation), opts...)
	return &ReservationBatchService{
		reservationRepo: reservations,
		scheduler:       reservation.NewScheduler(reservations, spaces, opts...),
		reporter:        reporter,
		clock:           model.RealClock{},
		cfg:             cfg,
	}
}

// Close は終了処理を行います
func (s *ReservationBatchService) Close() error {
	if s.stores != nil {
		return s.stores.Close()
	}
	return nil
}

// Run は予約バッチ処理を実行します
func (s *ReservationBatchService) Run(ctx context.Context) (err error) {
	ctx, span := tracing.Begin(ctx, "ReservationBatchService.Run")
	defer func() { span.End(err) }()

	startTime := time.Now()

	events, err := s.processPendingReservations(ctx)
	if err != nil {
		return utils.GetStackWithError(fmt.Errorf("failed to process pending reservations: %w", err))
	}

	if err := s.sendTaskSuccess(ctx, events); err != nil {
		return utils.GetStackWithError(fmt.Errorf("failed to send task success: %w", err))
	}

	duration := time.Since(startTime)
	span.AddMetadata("duration", duration.String())
	span.AddMetadata("event_count", len(events))

	log.Printf("Reservation batch process completed successfully. Duration: %v", duration)
	return nil
}

// processPendingReservations は保留中の予約を作成順に確定します
// 同じ時間帯が先に確定されていた予約と、確定されないまま開始時刻を過ぎた予約はキャンセルします
// 1件の失敗でバッチ全体を止めず、ログに残して次の予約へ進みます
func (s *ReservationBatchService) processPendingReservations(ctx context.Context) ([]model.ReservationEvent, error) {
	reservations, err := s.reservationRepo.GetReservationsByStatus(ctx, model.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to get reservations with status %s: %w", model.StatusPending, err)
	}

	log.Printf("Found %d reservations with status %s", len(reservations), model.StatusPending)

	var events []model.ReservationEvent
	for _, r := range reservations {
		if err := ctx.Err(); err != nil {
			return events, err
		}

		updated, err := s.settle(ctx, &r)
		if err != nil {
			log.Printf("Failed to settle reservation %s: %v", r.ID, err)
			continue
		}

		log.Printf("Reservation %s is now %s", updated.ID, updated.Status)
		events = append(events, model.NewReservationEvent(updated, s.clock.Now()))
	}

	return events, nil
}

func (s *ReservationBatchService) settle(ctx context.Context, r *model.Reservation) (*model.Reservation, error) {
	if !r.Interval.Start.After(s.clock.Now()) {
		return s.scheduler.Transition(ctx, r.ID, model.StatusCancelled, model.RoleAdmin, noteExpired)
	}

	updated, err := s.scheduler.Transition(ctx, r.ID, model.StatusConfirmed, model.RoleAdmin, "")
	if model.KindOf(err) == model.KindConflict {
		return s.scheduler.Transition(ctx, r.ID, model.StatusCancelled, model.RoleAdmin, noteConflict)
	}
	return updated, err
}

// sendTaskSuccess は、Step Functionsのタスク成功を通知し、イベントを返却します
func (s *ReservationBatchService) sendTaskSuccess(ctx context.Context, events []model.ReservationEvent) error {
	// ローカルの場合はStep Functionsの処理をスキップ
	if s.cfg.IsLocal() || s.reporter == nil {
		log.Printf("Local environment detected. Skipping Step Functions task success notification")
		return nil
	}

	output, err := MarshalNotifications(events)
	if err != nil {
		return err
	}

	taskToken := s.cfg.SFN.TaskToken
	if taskToken == "" {
		return fmt.Errorf("SFN_TASK_TOKEN is not set in config")
	}

	input := &sfn.SendTaskSuccessInput{
		TaskToken: aws.String(taskToken),
		Output:    aws.String(string(output)),
	}

	if _, err := s.reporter.SendTaskSuccess(ctx, input); err != nil {
		return fmt.Errorf("failed to send task success: %w", err)
	}

	log.Printf("Successfully sent task success with notifications: %s", string(output))
	return nil
}

// notificationEnvelope はバッチ間で受け渡す通知の入出力形式です
type notificationEnvelope struct {
	Notifications []model.Notification `json:"notifications"`
}

// MarshalNotifications は予約イベントを通知バッチの入力形式に変換します
func MarshalNotifications(events []model.ReservationEvent) ([]byte, error) {
	notifications := make([]model.Notification, len(events))
	for i, event := range events {
		notifications[i] = model.NewReservationNotification(event)
	}

	output, err := json.Marshal(notificationEnvelope{Notifications: notifications})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal notifications: %w", err)
	}
	return output, nil
}

// ParseNotifications は予約バッチが出力した通知を読み取ります
func ParseNotifications(raw []byte) ([]model.Notification, error) {
	var input notificationEnvelope
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, fmt.Errorf("failed to parse notifications: %w", err)
	}
	return input.Notifications, nil
}
