package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/uma-arai/sbcntr-parking/internal/common/config"
	"github.com/uma-arai/sbcntr-parking/internal/common/database"
	"github.com/uma-arai/sbcntr-parking/internal/model"
)

// Stores は設定に応じて選択されたリポジトリの組です
type Stores struct {
	Reservations  ReservationRepository
	Notifications NotificationRepository

	// Spaces は永続化されたスペースの状態を直接返します。予約の作成と遷移はこちらを使います
	Spaces SpaceRepository

	// CachedSpaces は表示用の読み取りに使います。Redisを使わない場合は Spaces と同じです
	CachedSpaces SpaceRepository

	closers []func() error
}

// Open は cfg.Store に応じてPostgreSQLもしくはメモリ上のストアを開きます
// REDIS_ADDR が設定されている場合は表示用のスペース取得にRedisのキャッシュを挟みます
func Open(ctx context.Context, cfg *config.Config) (*Stores, error) {
	if cfg.Store == config.StoreMemory {
		store := NewMemoryStore()
		if cfg.SeedFile != "" {
			if err := seedSpaces(store, cfg.SeedFile); err != nil {
				return nil, err
			}
		}
		return &Stores{Reservations: store, Spaces: store, CachedSpaces: store, Notifications: store}, nil
	}

	pg, err := database.NewDB(ctx, cfg.DB, cfg.EnableTracing)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}
	db := NewDB(pg)

	s := &Stores{
		Reservations:  NewReservationRepository(db),
		Spaces:        NewSpaceRepository(db),
		Notifications: NewNotificationRepository(db),
		closers:       []func() error{db.Close},
	}
	s.CachedSpaces = s.Spaces

	if cfg.Redis.Addr != "" {
		client, err := database.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			// キャッシュなしでも動作できるため起動は継続する
			log.Printf("Space cache disabled: %v", err)
		} else {
			s.CachedSpaces = NewCachedSpaceRepository(s.Spaces, client, cfg.Redis.SpaceTTL)
			s.closers = append(s.closers, client.Close)
		}
	}
	return s, nil
}

// Close は開いた接続をすべて閉じます
func (s *Stores) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// seedSpaces はJSON配列のスペース定義をメモリストアに登録します
func seedSpaces(store *MemoryStore, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read seed file: %w", err)
	}
	var spaces []model.Space
	if err := json.Unmarshal(raw, &spaces); err != nil {
		return fmt.Errorf("failed to parse seed file %s: %w", path, err)
	}
	for _, space := range spaces {
		store.PutSpace(space)
	}
	log.Printf("Seeded %d parking spaces from %s", len(spaces), path)
	return nil
}
