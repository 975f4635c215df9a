package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

const segmentName = "sbcntr-parking"

// RegisterMiddlewares は全ルート共通のミドルウェアを登録します
func RegisterMiddlewares(e *echo.Echo, log *slog.Logger, rps float64, tracing bool) {
	e.Use(middleware.Recover())

	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: func() string { return uuid.NewString() },
	}))

	e.Use(Slog(log))

	if rps > 0 {
		e.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(rate.Limit(rps))))
	}

	if tracing {
		e.Use(echo.WrapMiddleware(func(next http.Handler) http.Handler {
			return xray.Handler(xray.NewFixedSegmentNamer(segmentName), next)
		}))
	}
}

// Slog はリクエストごとにアクセスログを1行出力します
func Slog(log *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				// ステータスを確定させるため echo のエラーハンドラーを先に呼ぶ
				c.Error(err)
			}

			log.Info("http",
				"method", c.Request().Method,
				"path", c.Path(),
				"status", c.Response().Status,
				"latency_ms", time.Since(start).Milliseconds(),
				"req_id", c.Response().Header().Get(echo.HeaderXRequestID),
				"ip", c.RealIP(),
				"ua", c.Request().UserAgent(),
			)
			return nil
		}
	}
}
