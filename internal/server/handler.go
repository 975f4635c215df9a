package server

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/uma-arai/sbcntr-parking/internal/model"
	"github.com/uma-arai/sbcntr-parking/internal/repository"
	"github.com/uma-arai/sbcntr-parking/internal/service/reservation"
)

// ReservationService はHTTP層から利用する予約の操作です
type ReservationService interface {
	IsAvailable(ctx context.Context, spaceID string, interval model.Interval, excludeID string) (bool, error)
	CreateReservation(ctx context.Context, req reservation.CreateRequest) (*model.Reservation, error)
	Transition(ctx context.Context, id string, target model.Status, role model.Role, note string) (*model.Reservation, error)
	CheckIn(ctx context.Context, id, actorID string, event model.CheckEvent) (*model.Reservation, error)
	CheckInByToken(ctx context.Context, token, actorID string, event model.CheckEvent) (*model.Reservation, error)
	CheckOut(ctx context.Context, id, actorID string, event model.CheckEvent) (*model.Reservation, error)
	Get(ctx context.Context, id string) (*model.Reservation, error)
	ListForRenter(ctx context.Context, renterID string, status model.Status, page, limit int) (*reservation.Page, error)
	ListForOwner(ctx context.Context, ownerID string, status model.Status, page, limit int) (*reservation.Page, error)
	SpaceCalendar(ctx context.Context, spaceID string, window model.Interval) ([]model.Reservation, error)
}

type Handler struct {
	Svc           ReservationService
	Spaces        repository.SpaceRepository
	Notifications repository.NotificationRepository
	Auth          Authorizer
	V             *validator.Validate
	Log           *slog.Logger
}

// POST /v1/reservations
func (h *Handler) CreateReservation(c echo.Context) error {
	var req CreateReservationReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid JSON", nil)
	}
	if err := h.V.Struct(req); err != nil {
		return badRequest(c, "validation error", err)
	}
	actor := actorFrom(c)

	r, err := h.Svc.CreateReservation(c.Request().Context(), reservation.CreateRequest{
		SpaceID:       req.SpaceID,
		RenterID:      actor.ID,
		Interval:      model.Interval{Start: req.StartTime, End: req.EndTime},
		Vehicle:       req.Vehicle.toModel(),
		PaymentMethod: model.PaymentMethod(req.PaymentMethod),
		Note:          req.Notes,
	})
	if err != nil {
		return h.fail(c, "reservation create", err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"data": r})
}

// GET /v1/reservations
func (h *Handler) ListMyReservations(c echo.Context) error {
	q, msg := parseListQuery(c)
	if msg != "" {
		return badRequest(c, msg, nil)
	}

	out, err := h.Svc.ListForRenter(c.Request().Context(), actorFrom(c).ID, q.status, q.page, q.limit)
	if err != nil {
		return h.fail(c, "reservation list", err)
	}
	return c.JSON(http.StatusOK, echo.Map{"data": out})
}

// GET /v1/owner/reservations
// 管理者は owner_id で対象のオーナーを指定できます
func (h *Handler) ListOwnerReservations(c echo.Context) error {
	actor := actorFrom(c)
	if actor.Role != model.RoleOwner && actor.Role != model.RoleAdmin {
		return c.JSON(http.StatusForbidden, echo.Map{"message": "forbidden"})
	}
	q, msg := parseListQuery(c)
	if msg != "" {
		return badRequest(c, msg, nil)
	}

	ownerID := actor.ID
	if actor.Role == model.RoleAdmin && c.QueryParam("owner_id") != "" {
		ownerID = c.QueryParam("owner_id")
	}
	out, err := h.Svc.ListForOwner(c.Request().Context(), ownerID, q.status, q.page, q.limit)
	if err != nil {
		return h.fail(c, "owner reservation list", err)
	}
	return c.JSON(http.StatusOK, echo.Map{"data": out})
}

// GET /v1/reservations/:id
func (h *Handler) GetReservation(c echo.Context) error {
	r, _, err := h.loadVisible(c)
	if err != nil {
		return h.fail(c, "reservation get", err)
	}
	return c.JSON(http.StatusOK, echo.Map{"data": r})
}

// PATCH /v1/reservations/:id/status
func (h *Handler) UpdateStatus(c echo.Context) error {
	var req UpdateStatusReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid JSON", nil)
	}
	if err := h.V.Struct(req); err != nil {
		return badRequest(c, "validation error", err)
	}
	ctx := c.Request().Context()
	actor := actorFrom(c)
	target := model.Status(req.Status)

	r, space, err := h.loadVisible(c)
	if err != nil {
		return h.fail(c, "reservation status", err)
	}
	if !h.Auth.CanTransition(actor, r, space, target) {
		return c.JSON(http.StatusForbidden, echo.Map{"message": "forbidden"})
	}
	role, _ := h.Auth.Relation(actor, r, space)

	updated, err := h.Svc.Transition(ctx, r.ID, target, role, req.Reason)
	if err != nil {
		return h.fail(c, "reservation status", err)
	}
	return c.JSON(http.StatusOK, echo.Map{"data": updated})
}

// POST /v1/reservations/:id/check-in
func (h *Handler) CheckIn(c echo.Context) error {
	var req CheckReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid JSON", nil)
	}
	if err := h.V.Struct(req); err != nil {
		return badRequest(c, "validation error", err)
	}

	r, err := h.Svc.CheckIn(c.Request().Context(), c.Param("id"), actorFrom(c).ID, req.toEvent())
	if err != nil {
		return h.fail(c, "reservation check-in", err)
	}
	return c.JSON(http.StatusOK, echo.Map{"data": r})
}

// POST /v1/check-in
func (h *Handler) CheckInByToken(c echo.Context) error {
	var req TokenCheckInReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid JSON", nil)
	}
	if err := h.V.Struct(req); err != nil {
		return badRequest(c, "validation error", err)
	}

	r, err := h.Svc.CheckInByToken(c.Request().Context(), req.BookingToken, actorFrom(c).ID, req.toEvent())
	if err != nil {
		return h.fail(c, "reservation token check-in", err)
	}
	return c.JSON(http.StatusOK, echo.Map{"data": r})
}

// POST /v1/reservations/:id/check-out
func (h *Handler) CheckOut(c echo.Context) error {
	var req CheckReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid JSON", nil)
	}
	if err := h.V.Struct(req); err != nil {
		return badRequest(c, "validation error", err)
	}

	r, err := h.Svc.CheckOut(c.Request().Context(), c.Param("id"), actorFrom(c).ID, req.toEvent())
	if err != nil {
		return h.fail(c, "reservation check-out", err)
	}
	return c.JSON(http.StatusOK, echo.Map{"data": r})
}

// GET /v1/reservations/:id/qr
func (h *Handler) QRCode(c echo.Context) error {
	r, _, err := h.loadOwn(c)
	if err != nil {
		return h.fail(c, "reservation qr", err)
	}
	png, err := RenderQR(r.BookingToken, 256)
	if err != nil {
		return h.fail(c, "reservation qr", err)
	}
	return c.Blob(http.StatusOK, "image/png", png)
}

// GET /v1/reservations/:id/pass
func (h *Handler) Pass(c echo.Context) error {
	r, space, err := h.loadOwn(c)
	if err != nil {
		return h.fail(c, "reservation pass", err)
	}
	pdf, err := RenderPass(r, space)
	if err != nil {
		return h.fail(c, "reservation pass", err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, "attachment; filename=parking-pass-"+r.ID+".pdf")
	return c.Blob(http.StatusOK, "application/pdf", pdf)
}

// GET /v1/spaces/:id/availability?start_time=&end_time=
func (h *Handler) Availability(c echo.Context) error {
	window, err := intervalQuery(c, "start_time", "end_time")
	if err != nil {
		return badRequest(c, "start_time and end_time must be RFC3339 timestamps", nil)
	}
	spaceID := c.Param("id")
	ctx := c.Request().Context()

	if _, err := h.Spaces.GetSpace(ctx, spaceID); err != nil {
		return h.fail(c, "space availability", err)
	}
	ok, err := h.Svc.IsAvailable(ctx, spaceID, window, c.QueryParam("exclude"))
	if err != nil {
		return h.fail(c, "space availability", err)
	}
	return c.JSON(http.StatusOK, echo.Map{"data": echo.Map{"space_id": spaceID, "available": ok}})
}

// GET /v1/spaces/:id/calendar?from=&to=
func (h *Handler) Calendar(c echo.Context) error {
	window, err := intervalQuery(c, "from", "to")
	if err != nil {
		return badRequest(c, "from and to must be RFC3339 timestamps", nil)
	}

	items, err := h.Svc.SpaceCalendar(c.Request().Context(), c.Param("id"), window)
	if err != nil {
		return h.fail(c, "space calendar", err)
	}

	// 他の利用者の予約内容は公開せず、占有区間のみ返す
	slots := make([]model.Interval, len(items))
	for i, r := range items {
		slots[i] = r.Interval
	}
	return c.JSON(http.StatusOK, echo.Map{"data": slots})
}

// GET /v1/notifications
func (h *Handler) ListNotifications(c echo.Context) error {
	records, err := h.Notifications.GetByUserID(c.Request().Context(), actorFrom(c).ID)
	if err != nil {
		return h.fail(c, "notification list", model.NewStorageError("list notifications", err))
	}
	if records == nil {
		records = []model.NotificationRecord{}
	}
	return c.JSON(http.StatusOK, echo.Map{"data": records})
}

// PATCH /v1/notifications/:id/read
func (h *Handler) MarkNotificationRead(c echo.Context) error {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		return badRequest(c, "invalid id", nil)
	}
	var req MarkReadReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid JSON", nil)
	}
	if err := h.V.Struct(req); err != nil {
		return badRequest(c, "validation error", err)
	}

	if err := h.Notifications.UpdateIsRead(c.Request().Context(), actorFrom(c).ID, id, *req.IsRead); err != nil {
		return h.fail(c, "notification read", model.NewStorageError("update notification", err))
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "updated"})
}

// loadVisible は予約とそのスペースを取得し、操作者が参照できることを確認します
func (h *Handler) loadVisible(c echo.Context) (*model.Reservation, *model.Space, error) {
	ctx := c.Request().Context()
	r, err := h.Svc.Get(ctx, c.Param("id"))
	if err != nil {
		return nil, nil, err
	}
	space, err := h.Spaces.GetSpace(ctx, r.SpaceID)
	if err != nil {
		return nil, nil, err
	}
	if _, ok := h.Auth.Relation(actorFrom(c), r, space); !ok {
		return nil, nil, model.NewError(model.KindNotOwner, "reservation belongs to another user")
	}
	return r, space, nil
}

// loadOwn は予約者本人の予約のみを返します
func (h *Handler) loadOwn(c echo.Context) (*model.Reservation, *model.Space, error) {
	r, space, err := h.loadVisible(c)
	if err != nil {
		return nil, nil, err
	}
	if r.RenterID != actorFrom(c).ID {
		return nil, nil, model.ErrNotOwner
	}
	return r, space, nil
}

type listQuery struct {
	status model.Status
	page   int
	limit  int
}

// parseListQuery は一覧の status, page, limit を読み取ります。不正な場合はメッセージを返します
func parseListQuery(c echo.Context) (listQuery, string) {
	status := model.Status(c.QueryParam("status"))
	if status != "" && !status.Valid() {
		return listQuery{}, "invalid status"
	}
	page, err := intQuery(c, "page", 1)
	if err != nil {
		return listQuery{}, "invalid page"
	}
	limit, err := intQuery(c, "limit", 10)
	if err != nil {
		return listQuery{}, "invalid limit"
	}
	return listQuery{status: status, page: page, limit: limit}, ""
}

func intQuery(c echo.Context, name string, def int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func intervalQuery(c echo.Context, startKey, endKey string) (model.Interval, error) {
	start, err := time.Parse(time.RFC3339, c.QueryParam(startKey))
	if err != nil {
		return model.Interval{}, err
	}
	end, err := time.Parse(time.RFC3339, c.QueryParam(endKey))
	if err != nil {
		return model.Interval{}, err
	}
	return model.Interval{Start: start, End: end}, nil
}
