package transport

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/kursadbilgin/codegen-engine/internal/observability"
)

const HeaderCorrelationID = "X-Correlation-ID"

// CorrelationMiddleware binds the caller's correlation id, or a new one, to
// the request context and echoes it on the response.
func CorrelationMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		correlationID := strings.TrimSpace(c.Get(HeaderCorrelationID))
		if correlationID == "" {
			correlationID = uuid.NewString()
		}

		c.SetUserContext(observability.WithCorrelationID(c.UserContext(), correlationID))
		c.Set(HeaderCorrelationID, correlationID)
		return c.Next()
	}
}
