package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/uma-arai/sbcntr-parking/internal/model"
)

const actorKey = "actor"

// Actor は認証済みの操作者です。トークンの発行は外部の認証基盤が行います
type Actor struct {
	ID   string
	Role model.Role
}

// Claims はベアラートークンのクレームです。sub が利用者ID、role がロールです
type Claims struct {
	Role model.Role `json:"role"`
	jwt.RegisteredClaims
}

// ParseActor は Authorization ヘッダーのHS256トークンを検証して操作者を取り出します
func ParseActor(authHeader, secret string) (Actor, error) {
	tokenStr := strings.TrimSpace(authHeader)
	if len(tokenStr) > 7 && strings.EqualFold(tokenStr[:7], "bearer ") {
		tokenStr = strings.TrimSpace(tokenStr[7:])
	}
	if tokenStr == "" {
		return Actor{}, errors.New("missing token")
	}
	if secret == "" {
		return Actor{}, errors.New("signing secret is not configured")
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Actor{}, fmt.Errorf("invalid token: %w", err)
	}

	if claims.Subject == "" {
		return Actor{}, errors.New("sub missing in claims")
	}
	if !claims.Role.Valid() {
		return Actor{}, fmt.Errorf("unknown role %q", claims.Role)
	}
	return Actor{ID: claims.Subject, Role: claims.Role}, nil
}

// JWTAuth はトークンを検証し、操作者をコンテキストに設定します
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			actor, err := ParseActor(c.Request().Header.Get(echo.HeaderAuthorization), secret)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"message": "unauthorized"})
			}
			c.Set(actorKey, actor)
			return next(c)
		}
	}
}

func actorFrom(c echo.Context) Actor {
	actor, _ := c.Get(actorKey).(Actor)
	return actor
}
