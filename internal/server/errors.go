package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/uma-arai/sbcntr-parking/internal/model"
)

var statusByKind = map[model.ErrorKind]int{
	model.KindInvalidInterval:   http.StatusBadRequest,
	model.KindSpaceUnavailable:  http.StatusUnprocessableEntity,
	model.KindConflict:          http.StatusConflict,
	model.KindNotFound:          http.StatusNotFound,
	model.KindInvalidState:      http.StatusConflict,
	model.KindAlreadyFinalized:  http.StatusConflict,
	model.KindNotOwner:          http.StatusForbidden,
	model.KindAlreadyCheckedIn:  http.StatusConflict,
	model.KindAlreadyCheckedOut: http.StatusConflict,
	model.KindTooEarly:          http.StatusUnprocessableEntity,
	model.KindStorage:           http.StatusInternalServerError,
}

// HTTPStatus はエラー種別に対応するHTTPステータスです。種別がない場合は500です
func HTTPStatus(err error) int {
	if status, ok := statusByKind[model.KindOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// fail はエラーを種別ごとの固定メッセージで返します
// 内部のエラー内容はログにのみ出力します
func (h *Handler) fail(c echo.Context, op string, err error) error {
	status := HTTPStatus(err)
	kind := model.KindOf(err)
	reqID := c.Response().Header().Get(echo.HeaderXRequestID)

	if status >= http.StatusInternalServerError {
		h.Log.Error(op, "err", err, "req_id", reqID)
		return c.JSON(status, echo.Map{"code": model.KindStorage, "message": "internal error"})
	}

	h.Log.Info(op, "kind", kind, "err", err, "req_id", reqID)
	return c.JSON(status, echo.Map{"code": kind, "message": kind.Message()})
}

func badRequest(c echo.Context, message string, err error) error {
	body := echo.Map{"message": message}
	if err != nil {
		body["errors"] = err.Error()
	}
	return c.JSON(http.StatusBadRequest, body)
}
