package server

import "github.com/uma-arai/sbcntr-parking/internal/model"

// Authorizer は予約に対する操作の権限を判定します
// 遷移そのものの妥当性は Scheduler が検証します
type Authorizer interface {
	// Relation は予約に対する操作者の立場を返します。無関係の場合は false です
	Relation(actor Actor, r *model.Reservation, space *model.Space) (model.Role, bool)
	CanTransition(actor Actor, r *model.Reservation, space *model.Space, target model.Status) bool
}

// RoleAuthorizer は予約者・スペース所有者・管理者の区別で権限を判定します
//   - 予約の参照: 予約者、スペース所有者、管理者
//   - cancelled: 予約者、管理者
//   - no_show: スペース所有者、管理者
//   - confirmed: スペース所有者、管理者
type RoleAuthorizer struct{}

func (RoleAuthorizer) Relation(actor Actor, r *model.Reservation, space *model.Space) (model.Role, bool) {
	switch {
	case space != nil && actor.ID == space.OwnerID:
		return model.RoleOwner, true
	case actor.Role == model.RoleAdmin:
		return model.RoleAdmin, true
	case actor.ID == r.RenterID:
		return model.RoleRenter, true
	}
	return "", false
}

func (a RoleAuthorizer) CanTransition(actor Actor, r *model.Reservation, space *model.Space, target model.Status) bool {
	isRenter := actor.ID == r.RenterID
	isSpaceOwner := space != nil && actor.ID == space.OwnerID
	isAdmin := actor.Role == model.RoleAdmin

	switch target {
	case model.StatusCancelled:
		return isRenter || isAdmin
	case model.StatusNoShow, model.StatusConfirmed:
		return isSpaceOwner || isAdmin
	default:
		// 直接遷移できない状態は関係者であれば Scheduler の判定に任せる
		_, ok := a.Relation(actor, r, space)
		return ok
	}
}
