package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/uma-arai/sbcntr-parking/internal/common/tracing"
	"github.com/uma-arai/sbcntr-parking/internal/model"
)

// NotificationRepository は通知の永続化を担当するインターフェースです
type NotificationRepository interface {
	CreateNotifications(ctx context.Context, records []model.NotificationRecord) error
	Create(ctx context.Context, tx *sqlx.Tx, record *model.NotificationRecord) error
	GetByUserID(ctx context.Context, userID string) ([]model.NotificationRecord, error)
	UpdateIsRead(ctx context.Context, userID string, id int, isRead bool) error
}

// NotificationRepositoryImpl は通知の永続化を担当します
type NotificationRepositoryImpl struct {
	db *DB
}

// NewNotificationRepository は新しいNotificationRepositoryを作成します
func NewNotificationRepository(db *DB) *NotificationRepositoryImpl {
	return &NotificationRepositoryImpl{
		db: db,
	}
}

// CreateNotifications は複数の通知レコードを1つのトランザクションで作成します
func (r *NotificationRepositoryImpl) CreateNotifications(ctx context.Context, records []model.NotificationRecord) (err error) {
	ctx, span := tracing.Begin(ctx, "NotificationRepository.CreateNotifications")
	defer func() { span.End(err) }()
	span.AddMetadata("record_count", len(records))

	return r.db.inTx(ctx, func(tx *sqlx.Tx) error {
		for i := range records {
			if err := r.Create(ctx, tx, &records[i]); err != nil {
				return fmt.Errorf("failed to create notification: %w", err)
			}
		}
		return nil
	})
}

// Create は単一の通知レコードを作成します
func (r *NotificationRepositoryImpl) Create(ctx context.Context, tx *sqlx.Tx, record *model.NotificationRecord) (err error) {
	ctx, span := tracing.Begin(ctx, "NotificationRepository.Create")
	defer func() { span.End(err) }()

	query := `
		INSERT INTO notifications (
			user_id, reservation_id, title, message, is_read, type, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)
		RETURNING id`

	return r.db.ext(tx).QueryRowxContext(ctx,
		query,
		record.UserID,
		record.ReservationID,
		record.Title,
		record.Message,
		record.IsRead,
		record.Type,
		record.CreatedAt,
		record.UpdatedAt,
	).Scan(&record.ID)
}

// GetByUserID は指定されたユーザーIDの通知を新しい順に取得します
func (r *NotificationRepositoryImpl) GetByUserID(ctx context.Context, userID string) (_ []model.NotificationRecord, err error) {
	ctx, span := tracing.Begin(ctx, "NotificationRepository.GetByUserID")
	defer func() { span.End(err) }()

	query := `
		SELECT id, user_id, reservation_id, title, message, is_read, type, created_at, updated_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC`

	rows, err := r.db.QueryxContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	var records []model.NotificationRecord
	for rows.Next() {
		var record model.NotificationRecord
		if err = rows.StructScan(&record); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		records = append(records, record)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notifications: %w", err)
	}

	return records, nil
}

// UpdateIsRead は利用者自身の通知の既読状態を更新します
func (r *NotificationRepositoryImpl) UpdateIsRead(ctx context.Context, userID string, id int, isRead bool) (err error) {
	ctx, span := tracing.Begin(ctx, "NotificationRepository.UpdateIsRead")
	defer func() { span.End(err) }()

	query := `
		UPDATE notifications
		SET is_read = $1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $2 AND user_id = $3`

	result, err := r.db.ExecContext(ctx, query, isRead, id, userID)
	if err != nil {
		return fmt.Errorf("failed to update notification is_read: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return model.NewError(model.KindNotFound, fmt.Sprintf("notification %d", id))
	}

	return nil
}
