package model

import (
	"errors"
	"fmt"
)

// ErrorKind は予約操作の失敗の種類です
type ErrorKind string

const (
	KindInvalidInterval   ErrorKind = "INVALID_INTERVAL"
	KindSpaceUnavailable  ErrorKind = "SPACE_UNAVAILABLE"
	KindConflict          ErrorKind = "CONFLICT"
	KindNotFound          ErrorKind = "NOT_FOUND"
	KindInvalidState      ErrorKind = "INVALID_STATE"
	KindAlreadyFinalized  ErrorKind = "ALREADY_FINALIZED"
	KindNotOwner          ErrorKind = "NOT_OWNER"
	KindAlreadyCheckedIn  ErrorKind = "ALREADY_CHECKED_IN"
	KindAlreadyCheckedOut ErrorKind = "ALREADY_CHECKED_OUT"
	KindTooEarly          ErrorKind = "TOO_EARLY"
	KindStorage           ErrorKind = "STORAGE_ERROR"
)

var messages = map[ErrorKind]string{
	KindInvalidInterval:   "the requested time range is invalid",
	KindSpaceUnavailable:  "parking space is not available for booking",
	KindConflict:          "parking space is not available for the selected time period",
	KindNotFound:          "not found",
	KindInvalidState:      "reservation is not in a state that allows this operation",
	KindAlreadyFinalized:  "cannot modify a finalized reservation",
	KindNotOwner:          "only the renter of this reservation can do this",
	KindAlreadyCheckedIn:  "already checked in",
	KindAlreadyCheckedOut: "already checked out",
	KindTooEarly:          "check-in is not open yet",
	KindStorage:           "storage is unavailable",
}

// Message はエラー種別ごとの固定メッセージを返します
func (k ErrorKind) Message() string {
	if m, ok := messages[k]; ok {
		return m
	}
	return "unknown error"
}

// ReservationError は種別付きのエラーです
// errors.Is は種別が一致すれば true を返します
type ReservationError struct {
	Kind   ErrorKind
	Detail string
	Err    error
}

func (e *ReservationError) Error() string {
	msg := e.Kind.Message()
	if e.Detail != "" {
		msg = msg + ": " + e.Detail
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ReservationError) Unwrap() error { return e.Err }

func (e *ReservationError) Is(target error) bool {
	var t *ReservationError
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrInvalidInterval   = &ReservationError{Kind: KindInvalidInterval}
	ErrSpaceUnavailable  = &ReservationError{Kind: KindSpaceUnavailable}
	ErrConflict          = &ReservationError{Kind: KindConflict}
	ErrNotFound          = &ReservationError{Kind: KindNotFound}
	ErrInvalidState      = &ReservationError{Kind: KindInvalidState}
	ErrAlreadyFinalized  = &ReservationError{Kind: KindAlreadyFinalized}
	ErrNotOwner          = &ReservationError{Kind: KindNotOwner}
	ErrAlreadyCheckedIn  = &ReservationError{Kind: KindAlreadyCheckedIn}
	ErrAlreadyCheckedOut = &ReservationError{Kind: KindAlreadyCheckedOut}
	ErrTooEarly          = &ReservationError{Kind: KindTooEarly}
	ErrStorage           = &ReservationError{Kind: KindStorage}

	ErrSpaceNotFound       = &ReservationError{Kind: KindNotFound, Detail: "parking space"}
	ErrReservationNotFound = &ReservationError{Kind: KindNotFound, Detail: "reservation"}
)

// NewError は詳細メッセージ付きのエラーを作成します
func NewError(kind ErrorKind, detail string) error {
	return &ReservationError{Kind: kind, Detail: detail}
}

// NewStorageError はストレージ層の失敗をドメインの検証エラーと区別できる形で包みます
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	var re *ReservationError
	if errors.As(err, &re) {
		return err
	}
	return &ReservationError{Kind: KindStorage, Detail: op, Err: err}
}

// KindOf はエラーの種別を取り出します。種別がない場合は空文字です
func KindOf(err error) ErrorKind {
	var re *ReservationError
	if errors.As(err, &re) {
		return re.Kind
	}
	return ""
}
