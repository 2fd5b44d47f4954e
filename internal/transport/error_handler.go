package transport

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/codegen-engine/internal/domain"
	"github.com/kursadbilgin/codegen-engine/internal/observability"
	"go.uber.org/zap"
)

// Error is a classified request failure. Code is the machine readable
// reason rendered next to the message.
type Error struct {
	Status int
	Code   string
	Err    error
}

func NewError(status int, err error) *Error {
	return &Error{Status: status, Code: domain.ErrorCode(err), Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		code := ""

		var classified *Error
		var fiberErr *fiber.Error
		switch {
		case errors.As(err, &classified):
			status = classified.Status
			code = classified.Code
		case errors.As(err, &fiberErr):
			status = fiberErr.Code
		}

		log := observability.WithContextLogger(logger, c.UserContext())
		fields := []zap.Field{
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Error(err),
		}
		if status >= fiber.StatusInternalServerError {
			log.Error("request error", fields...)
		} else {
			log.Warn("request rejected", fields...)
		}

		message := err.Error()
		if status >= fiber.StatusInternalServerError && classified == nil && fiberErr == nil {
			message = "internal server error"
		}

		body := fiber.Map{"error": message}
		if code != "" {
			body["code"] = code
		}
		return c.Status(status).JSON(body)
	}
}
