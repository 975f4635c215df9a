package model

// Status は予約のライフサイクル上の状態です
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusNoShow    Status = "no_show"
)

// BlockingStatuses は空き判定で重複を許さない状態の一覧です
// pending は確定前なので同じ枠に複数存在できます
var BlockingStatuses = []Status{StatusConfirmed, StatusActive}

// Valid は定義済みの状態かを返します
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusActive, StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// Terminal は以降の遷移ができない状態かを返します
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

// Blocking は同じスペースの他予約と重複できない状態かを返します
func (s Status) Blocking() bool {
	return s == StatusConfirmed || s == StatusActive
}

// directTransitions はステータス変更操作で許可される遷移です
// active と completed はチェックイン・チェックアウト操作でのみ到達します
var directTransitions = map[Status][]Status{
	StatusConfirmed: {StatusPending},
	StatusCancelled: {StatusPending, StatusConfirmed},
	StatusNoShow:    {StatusConfirmed},
}

// ValidateTransition はステータス変更操作としての遷移の形だけを検証します
// 誰が遷移させてよいかの権限チェックは呼び出し側の責務です
func ValidateTransition(from, to Status) error {
	if from.Terminal() {
		return ErrAlreadyFinalized
	}
	sources, ok := directTransitions[to]
	if !ok {
		return ErrInvalidState
	}
	for _, s := range sources {
		if s == from {
			return nil
		}
	}
	return ErrInvalidState
}

// Role は操作者のロールです
type Role string

const (
	RoleRenter Role = "renter"
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleRenter || r == RoleOwner || r == RoleAdmin
}
