package batch

import (
	"context"
	"fmt"
	"log"
	"slices"
	"time"

	"github.com/uma-arai/sbcntr-parking/internal/common/config"
	"github.com/uma-arai/sbcntr-parking/internal/common/tracing"
	"github.com/uma-arai/sbcntr-parking/internal/model"
	"github.com/uma-arai/sbcntr-parking/internal/repository"
)

// NotificationBatchService は通知バッチ処理を担当します
type NotificationBatchService struct {
	args             []model.Notification
	stores           *repository.Stores
	notificationRepo repository.NotificationRepository
	spaceRepo        repository.SpaceRepository
	cfg              *config.Config
}

// NewNotificationBatchService は新しいNotificationBatchServiceを作成します
func NewNotificationBatchService(ctx context.Context, cfg *config.Config) (*NotificationBatchService, error) {
	stores, err := repository.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return &NotificationBatchService{
		stores:           stores,
		notificationRepo: stores.Notifications,
		spaceRepo:        stores.CachedSpaces,
		cfg:              cfg,
	}, nil
}

// Close は終了処理を行います
func (s *NotificationBatchService) Close() error {
	if s.stores != nil {
		return s.stores.Close()
	}
	return nil
}

// SetArgs は通知バッチ処理の引数を設定します
func (s *NotificationBatchService) SetArgs(args []model.Notification) {
	s.args = args
}

// Run は通知バッチ処理を実行します
func (s *NotificationBatchService) Run(ctx context.Context) (err error) {
	ctx, span := tracing.Begin(ctx, "NotificationBatchService.Run")
	defer func() { span.End(err) }()

	notifications := s.args
	log.Printf("Starting notification batch process for %d notifications...", len(notifications))
	span.AddMetadata("notification_count", len(notifications))

	startTime := time.Now()

	spaceTitles, err := s.getSpaceTitleMap(ctx, notifications)
	if err != nil {
		return err
	}

	records := make([]model.NotificationRecord, len(notifications))
	for i, notification := range notifications {
		record, err := notification.ToNotificationRecord(spaceTitles)
		if err != nil {
			return err
		}
		records[i] = *record
	}

	if err := s.notificationRepo.CreateNotifications(ctx, records); err != nil {
		return fmt.Errorf("failed to create notifications: %w", err)
	}

	duration := time.Since(startTime)
	span.AddMetadata("duration", duration.String())
	span.AddMetadata("space_count", len(spaceTitles))

	log.Printf("Notification batch process completed successfully. Duration: %v", duration)
	return nil
}

// 通知データに含まれる情報からスペース名を取得する
// N+1とならないように先に重複がないスペースIDを取得をしておく
func (s *NotificationBatchService) getSpaceTitleMap(ctx context.Context, notifications []model.Notification) (_ map[string]string, err error) {
	ctx, span := tracing.Begin(ctx, "NotificationBatchService.getSpaceTitleMap")
	defer func() { span.End(err) }()

	spaceIDs := make([]string, 0)
	for _, notification := range notifications {
		if notification.Type != model.NotificationTypeReservation {
			continue
		}
		data, ok := notification.Data.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("invalid notification data format")
		}

		spaceID, ok := data["space_id"].(string)
		if !ok {
			return nil, fmt.Errorf("space_id is not a string")
		}

		if slices.Contains(spaceIDs, spaceID) {
			continue
		}
		spaceIDs = append(spaceIDs, spaceID)
	}

	span.AddMetadata("unique_space_count", len(spaceIDs))

	spaceTitles := make(map[string]string, len(spaceIDs))
	for _, spaceID := range spaceIDs {
		space, err := s.spaceRepo.GetSpace(ctx, spaceID)
		if err != nil {
			return nil, fmt.Errorf("failed to get space %s: %w", spaceID, err)
		}
		spaceTitles[spaceID] = space.Title
	}

	return spaceTitles, nil
}
