package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/uma-arai/sbcntr-parking/internal/common/tracing"
	"github.com/uma-arai/sbcntr-parking/internal/model"
)

// SpaceRepository は駐車スペースのディレクトリです
type SpaceRepository interface {
	GetSpace(ctx context.Context, spaceID string) (*model.Space, error)
}

// SpaceRepositoryImpl はSpaceRepositoryのPostgreSQL実装です
type SpaceRepositoryImpl struct {
	db *DB
}

// NewSpaceRepository は新しいSpaceRepositoryを作成します
func NewSpaceRepository(db *DB) *SpaceRepositoryImpl {
	return &SpaceRepositoryImpl{db: db}
}

// GetSpace は指定されたスペースの状態と時間単価を取得します
func (r *SpaceRepositoryImpl) GetSpace(ctx context.Context, spaceID string) (_ *model.Space, err error) {
	ctx, span := tracing.Begin(ctx, "SpaceRepository.GetSpace")
	defer func() { span.End(err) }()

	query := `
		SELECT id, owner_id, title, status, hourly_rate, updated_at
		FROM parking_spaces
		WHERE id = $1`

	var space model.Space
	err = sqlx.GetContext(ctx, r.db.DB, &space, query, spaceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrSpaceNotFound
	}
	if err != nil {
		return nil, model.NewStorageError("get parking space", err)
	}
	return &space, nil
}

// CachedSpaceRepository はRedisをリードスルーキャッシュとして使うSpaceRepositoryです
// Redisに障害があってもディレクトリからの読み取りにフォールバックします
type CachedSpaceRepository struct {
	next   SpaceRepository
	client *redis.Client
	ttl    time.Duration
}

func NewCachedSpaceRepository(next SpaceRepository, client *redis.Client, ttl time.Duration) *CachedSpaceRepository {
	return &CachedSpaceRepository{next: next, client: client, ttl: ttl}
}

func spaceCacheKey(spaceID string) string {
	return "sbcntr:space:" + spaceID
}

func (r *CachedSpaceRepository) GetSpace(ctx context.Context, spaceID string) (*model.Space, error) {
	key := spaceCacheKey(spaceID)

	raw, err := r.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var space model.Space
		if jsonErr := json.Unmarshal(raw, &space); jsonErr == nil {
			return &space, nil
		}
		log.Printf("Discarding malformed cache entry %s", key)
	case !errors.Is(err, redis.Nil):
		log.Printf("Failed to read space %s from cache: %v", spaceID, err)
	}

	space, err := r.next.GetSpace(ctx, spaceID)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(space); err == nil {
		if err := r.client.Set(ctx, key, raw, r.ttl).Err(); err != nil {
			log.Printf("Failed to cache space %s: %v", spaceID, err)
		}
	}
	return space, nil
}
