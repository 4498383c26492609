package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"product-order-api/internal/usecase"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

type ErrorBody struct {
	Code    string `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
	Path    string `json:"path"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// bind失敗・validator失敗は422
func schemaError(err error) error {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		msgs := make([]string, 0, len(ve))
		for _, fe := range ve {
			msgs = append(msgs, fieldMessage(fe))
		}
		return usecase.NewSchemaError(strings.Join(msgs, "; "))
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		return usecase.NewSchemaError(fmt.Sprint(he.Message))
	}
	return usecase.NewSchemaError(err.Error())
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "email":
		return field + " must be a valid email address"
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	case "min", "max", "gte", "gt", "lte":
		return fmt.Sprintf("%s must satisfy %s=%s", field, fe.Tag(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid (%s)", field, fe.Tag())
	}
}

// echo.HTTPErrorHandler
// {"error":{"code","type","message","path"}} の形で返す
func NewHTTPErrorHandler(log zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		ae, ok := usecase.AsAppError(err)
		var he *echo.HTTPError
		switch {
		case ok:
		case errors.As(err, &he):
			//ルートなし・405など echo 自身のエラー
			ae = &usecase.AppError{
				Status:  he.Code,
				Code:    usecase.CodeUnknown,
				Type:    usecase.TypeUnknown,
				Message: fmt.Sprint(he.Message),
				Err:     err,
			}
		default:
			ae, _ = usecase.AsAppError(usecase.NewInternalError(err))
		}

		path := c.Request().URL.Path
		status := ae.Status
		body := ErrorBody{Code: ae.Code, Type: ae.Type, Message: ae.Message, Path: path}

		ev := log.Warn()
		if status >= http.StatusInternalServerError {
			ev = log.Error().Err(err)
		}
		ev.Str("code", body.Code).
			Str("method", c.Request().Method).
			Str("path", path).
			Int("status", status).
			Msg(body.Message)

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSON(status, ErrorResponse{Error: body})
		}
		if err != nil {
			log.Error().Err(err).Msg("write error response failed")
		}
	}
}
