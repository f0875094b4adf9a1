package serverutils

import (
	"errors"

	"meddoc-assistant-be/pkg/apperr"

	"github.com/gofiber/fiber/v2"
)

// BaseResponse is the envelope every JSON endpoint replies with.
type BaseResponse[T any] struct {
	Success bool   `json:"success"`
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    T      `json:"data,omitempty"`
}

func SuccessResponse[T any](message string, data T) BaseResponse[T] {
	return BaseResponse[T]{
		Success: true,
		Code:    fiber.StatusOK,
		Message: message,
		Data:    data,
	}
}

func ErrorResponse(code int, message string) BaseResponse[any] {
	return BaseResponse[any]{
		Success: false,
		Code:    code,
		Message: message,
	}
}

// ErrorHandlerMiddleware converts errors escaping a handler into the
// standard envelope. Classified backend errors keep their status code and
// user-facing copy instead of collapsing into a plain 500.
func ErrorHandlerMiddleware() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		err := ctx.Next()
		if err == nil {
			return nil
		}

		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			return ctx.Status(fiberErr.Code).JSON(ErrorResponse(fiberErr.Code, fiberErr.Message))
		}

		var desc *apperr.Descriptor
		if errors.As(err, &desc) {
			code := desc.StatusCode
			if code == 0 {
				code = fiber.StatusBadGateway
			}
			return ctx.Status(code).JSON(ErrorResponse(code, desc.UserMessage()))
		}

		return ctx.Status(fiber.StatusInternalServerError).JSON(ErrorResponse(fiber.StatusInternalServerError, err.Error()))
	}
}
