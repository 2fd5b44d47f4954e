package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/codegen-engine/internal/service"
)

type PreviewService interface {
	Preview(ctx context.Context, in service.PreviewInput) (*service.PreviewResult, error)
	Confirm(ctx context.Context, previewID string) (*service.Submission, error)
	Decline(ctx context.Context, previewID string) error
}

type PreviewHandler struct {
	service PreviewService
}

func NewPreviewHandler(service PreviewService) (*PreviewHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("preview service is required")
	}
	return &PreviewHandler{service: service}, nil
}

func RegisterPreviewRoutes(router fiber.Router, service PreviewService) error {
	h, err := NewPreviewHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/previews", h.CreatePreview)
	v1.Post("/previews/:id/confirm", h.ConfirmPreview)
	v1.Post("/previews/:id/decline", h.DeclinePreview)

	return nil
}

type previewResponse struct {
	PreviewID      string              `json:"previewId"`
	Codes          []string            `json:"codes"`
	RequestedCount int                 `json:"requestedCount"`
	Composition    compositionResponse `json:"composition"`
	Format         string              `json:"format"`
	ExpiresAt      time.Time           `json:"expiresAt"`
}

func (h *PreviewHandler) CreatePreview(c *fiber.Ctx) error {
	var req generationRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	result, err := h.service.Preview(c.UserContext(), service.PreviewInput{
		Request:   req.toDomain(),
		ClientKey: c.IP(),
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(previewResponse{
		PreviewID:      result.PreviewID,
		Codes:          result.Codes,
		RequestedCount: result.RequestedCount,
		Composition:    toCompositionResponse(result.Composition),
		Format:         result.Format,
		ExpiresAt:      result.ExpiresAt,
	})
}

func (h *PreviewHandler) ConfirmPreview(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	sub, err := h.service.Confirm(c.UserContext(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(toSubmissionResponse(sub))
}

func (h *PreviewHandler) DeclinePreview(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if err := h.service.Decline(c.UserContext(), id); err != nil {
		return toHTTPError(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
