package usecase

import (
	"errors"
	"fmt"
	"net/http"
)

// エラー種別（レスポンスのerror.code / error.type）
const (
	CodeNotFound      = "RESOURCE_NOT_FOUND"
	CodeValidation    = "VALIDATION_ERROR"
	CodeBusinessLogic = "BUSINESS_LOGIC_ERROR"
	CodeDatabase      = "DATABASE_ERROR"
	CodeInternal      = "INTERNAL_SERVER_ERROR"
	CodeUnknown       = "UNKNOWN_ERROR"

	TypeNotFound      = "not_found"
	TypeValidation    = "validation"
	TypeBusinessLogic = "business_logic"
	TypeDatabase      = "database"
	TypeServer        = "server_error"
	TypeUnknown       = "unknown"
)

// handlerでそのままレスポンスにするエラー。
// Errは元のエラー（ログ用。レスポンスには出さない）
type AppError struct {
	Status  int
	Code    string
	Type    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%d %s: %s: %v", e.Status, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func AsAppError(err error) (*AppError, bool) {
	var ae *AppError
	ok := errors.As(err, &ae)
	return ae, ok
}

// 404 "Product with id 1 not found"
func NewNotFoundError(resource string, id int64) error {
	return &AppError{
		Status:  http.StatusNotFound,
		Code:    CodeNotFound,
		Type:    TypeNotFound,
		Message: fmt.Sprintf("%s with id %d not found", resource, id),
	}
}

// 400 入力が不正
func NewValidationError(message string) error {
	return &AppError{
		Status:  http.StatusBadRequest,
		Code:    CodeValidation,
		Type:    TypeValidation,
		Message: message,
	}
}

// 422 リクエストの形が不正（bind / validator）
func NewSchemaError(message string) error {
	return &AppError{
		Status:  http.StatusUnprocessableEntity,
		Code:    CodeValidation,
		Type:    TypeValidation,
		Message: message,
	}
}

// 400 業務ルール違反（在庫不足・不正な状態遷移）
func NewBusinessLogicError(message string) error {
	return &AppError{
		Status:  http.StatusBadRequest,
		Code:    CodeBusinessLogic,
		Type:    TypeBusinessLogic,
		Message: message,
	}
}

// 500 DB失敗。ドライバのメッセージは外に出さない
func NewDatabaseError(message string, err error) error {
	return &AppError{
		Status:  http.StatusInternalServerError,
		Code:    CodeDatabase,
		Type:    TypeDatabase,
		Message: message,
		Err:     err,
	}
}

// 500 分類できないエラー
func NewInternalError(err error) error {
	return &AppError{
		Status:  http.StatusInternalServerError,
		Code:    CodeInternal,
		Type:    TypeServer,
		Message: "An unexpected error occurred",
		Err:     err,
	}
}

// tx内で返したAppErrorはそのまま、それ以外はDBエラーにまとめる
func asDatabaseError(err error, message string) error {
	if _, ok := AsAppError(err); ok {
		return err
	}
	return NewDatabaseError(message, err)
}
