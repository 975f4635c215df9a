package server

import (
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/uma-arai/sbcntr-parking/internal/common/config"
	"github.com/uma-arai/sbcntr-parking/internal/repository"
	"github.com/uma-arai/sbcntr-parking/internal/service/reservation"
)

type Deps struct {
	Reservations  ReservationService
	Spaces        repository.SpaceRepository
	Notifications repository.NotificationRepository
	Log           *slog.Logger
}

// New はミドルウェアとルートを登録したechoインスタンスを作成します
func New(cfg config.HTTPConfig, tracing bool, deps Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	RegisterMiddlewares(e, deps.Log, cfg.RateLimitRPS, tracing)

	h := &Handler{
		Svc:           deps.Reservations,
		Spaces:        deps.Spaces,
		Notifications: deps.Notifications,
		Auth:          RoleAuthorizer{},
		V:             validator.New(),
		Log:           deps.Log,
	}
	Register(e, h, cfg.JWTSecret)
	return e
}

// NewFromStores は設定とストアから予約サービスを組み立ててechoインスタンスを作成します
// 予約の作成と遷移はキャッシュを通さない stores.Spaces で判定し、
// 参照系のスペース取得には stores.CachedSpaces を使います
func NewFromStores(cfg *config.Config, stores *repository.Stores, log *slog.Logger, opts ...reservation.Option) *echo.Echo {
	opts = append(reservation.OptionsFromConfig(cfg.Reservation), opts...)
	scheduler := reservation.NewScheduler(stores.Reservations, stores.Spaces, opts...)

	return New(cfg.HTTP, cfg.EnableTracing, Deps{
		Reservations:  scheduler,
		Spaces:        stores.CachedSpaces,
		Notifications: stores.Notifications,
		Log:           log,
	})
}

func Register(e *echo.Echo, h *Handler, secret string) {
	// Public
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
	})

	// Auth
	v1 := e.Group("/v1", JWTAuth(secret))

	v1.POST("/reservations", h.CreateReservation)
	v1.GET("/reservations", h.ListMyReservations)
	v1.GET("/reservations/:id", h.GetReservation)
	v1.PATCH("/reservations/:id/status", h.UpdateStatus)
	v1.POST("/reservations/:id/check-in", h.CheckIn)
	v1.POST("/reservations/:id/check-out", h.CheckOut)
	v1.GET("/reservations/:id/qr", h.QRCode)
	v1.GET("/reservations/:id/pass", h.Pass)
	v1.POST("/check-in", h.CheckInByToken) // ゲートでのトークン読み取り

	v1.GET("/owner/reservations", h.ListOwnerReservations)

	v1.GET("/spaces/:id/availability", h.Availability)
	v1.GET("/spaces/:id/calendar", h.Calendar)

	v1.GET("/notifications", h.ListNotifications)
	v1.PATCH("/notifications/:id/read", h.MarkNotificationRead)
}
