package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/uma-arai/sbcntr-parking/internal/model"
)

// MemoryStore は予約・スペース・通知をプロセス内に保持するストアです
// ローカル実行とテストで使用します。スペース単位のミューテックスで書き込みを直列化します
type MemoryStore struct {
	mu            sync.RWMutex
	spaces        map[string]model.Space
	reservations  map[string]model.Reservation
	notifications []model.NotificationRecord

	locksMu    sync.Mutex
	spaceLocks map[string]*sync.Mutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		spaces:       make(map[string]model.Space),
		reservations: make(map[string]model.Reservation),
		spaceLocks:   make(map[string]*sync.Mutex),
	}
}

// PutSpace はスペースを登録もしくは置き換えます
func (m *MemoryStore) PutSpace(space model.Space) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spaces[space.ID] = space
}

func (m *MemoryStore) GetSpace(ctx context.Context, spaceID string) (*model.Space, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	space, ok := m.spaces[spaceID]
	if !ok {
		return nil, model.ErrSpaceNotFound
	}
	return &space, nil
}

func (m *MemoryStore) spaceLock(spaceID string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.spaceLocks[spaceID]
	if !ok {
		l = &sync.Mutex{}
		m.spaceLocks[spaceID] = l
	}
	return l
}

// WithSpaceLock はスペースのミューテックスを保持したまま fn を実行します
// トランザクションはないため tx には常に nil が渡されます
func (m *MemoryStore) WithSpaceLock(ctx context.Context, spaceID string, fn func(ctx context.Context, tx *sqlx.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l := m.spaceLock(spaceID)
	l.Lock()
	defer l.Unlock()
	return fn(ctx, nil)
}

func (m *MemoryStore) Insert(ctx context.Context, _ *sqlx.Tx, reservation *model.Reservation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reservations[reservation.ID]; ok {
		return model.NewStorageError("insert reservation", fmt.Errorf("duplicate id %s", reservation.ID))
	}
	m.reservations[reservation.ID] = *reservation
	return nil
}

func (m *MemoryStore) FindOverlapping(ctx context.Context, _ *sqlx.Tx, spaceID string, interval model.Interval, excludeID string) ([]model.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.Reservation
	for _, r := range m.reservations {
		if r.SpaceID != spaceID || r.ID == excludeID || !r.Blocks() {
			continue
		}
		if r.Interval.Overlaps(interval) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Interval.Start.Before(out[j].Interval.Start) })
	return out, nil
}

func (m *MemoryStore) Update(ctx context.Context, _ *sqlx.Tx, id string, patch model.ReservationPatch) (*model.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.reservations[id]
	if !ok {
		return nil, model.ErrReservationNotFound
	}
	if patch.CheckIn != nil && current.CheckIn != nil {
		return nil, model.ErrAlreadyCheckedIn
	}
	if patch.CheckOut != nil && current.CheckOut != nil {
		return nil, model.ErrAlreadyCheckedOut
	}
	updated := patch.Apply(current, patch.UpdatedAt(time.Now()))
	m.reservations[id] = updated
	return &updated, nil
}

func (m *MemoryStore) FindByID(ctx context.Context, _ *sqlx.Tx, id string) (*model.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reservations[id]
	if !ok {
		return nil, model.ErrReservationNotFound
	}
	return &r, nil
}

func (m *MemoryStore) FindByToken(ctx context.Context, token string) (*model.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.reservations {
		if r.BookingToken == token {
			return &r, nil
		}
	}
	return nil, model.ErrReservationNotFound
}

func (m *MemoryStore) GetReservationsByStatus(ctx context.Context, status model.Status) ([]model.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.Reservation
	for _, r := range m.reservations {
		if r.Status == status {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) ListByRenter(ctx context.Context, renterID string, status model.Status, limit, offset int) ([]model.Reservation, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.listPage(func(r model.Reservation) bool { return r.RenterID == renterID }, status, limit, offset)
}

func (m *MemoryStore) ListByOwner(ctx context.Context, ownerID string, status model.Status, limit, offset int) ([]model.Reservation, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.listPage(func(r model.Reservation) bool {
		space, ok := m.spaces[r.SpaceID]
		return ok && space.OwnerID == ownerID
	}, status, limit, offset)
}

// listPage は m.mu を読み取りロックした状態で呼び出します
func (m *MemoryStore) listPage(match func(model.Reservation) bool, status model.Status, limit, offset int) ([]model.Reservation, int, error) {
	var matched []model.Reservation
	for _, r := range m.reservations {
		if !match(r) || (status != "" && r.Status != status) {
			continue
		}
		matched = append(matched, r)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	total := len(matched)
	if offset >= total {
		return []model.Reservation{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (m *MemoryStore) CreateNotifications(ctx context.Context, records []model.NotificationRecord) error {
	for i := range records {
		if err := m.Create(ctx, nil, &records[i]); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryStore) Create(ctx context.Context, _ *sqlx.Tx, record *model.NotificationRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	record.ID = len(m.notifications) + 1
	m.notifications = append(m.notifications, *record)
	return nil
}

func (m *MemoryStore) GetByUserID(ctx context.Context, userID string) ([]model.NotificationRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.NotificationRecord
	for i := len(m.notifications) - 1; i >= 0; i-- {
		if m.notifications[i].UserID == userID {
			out = append(out, m.notifications[i])
		}
	}
	return out, nil
}

func (m *MemoryStore) UpdateIsRead(ctx context.Context, userID string, id int, isRead bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.notifications {
		if m.notifications[i].ID == id && m.notifications[i].UserID == userID {
			m.notifications[i].IsRead = isRead
			m.notifications[i].UpdatedAt = time.Now()
			return nil
		}
	}
	return model.NewError(model.KindNotFound, fmt.Sprintf("notification %d", id))
}

var (
	_ ReservationRepository  = (*MemoryStore)(nil)
	_ SpaceRepository        = (*MemoryStore)(nil)
	_ NotificationRepository = (*MemoryStore)(nil)

	_ ReservationRepository  = (*ReservationRepositoryImpl)(nil)
	_ SpaceRepository        = (*SpaceRepositoryImpl)(nil)
	_ SpaceRepository        = (*CachedSpaceRepository)(nil)
	_ NotificationRepository = (*NotificationRepositoryImpl)(nil)
)
