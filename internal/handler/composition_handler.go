package handler

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/codegen-engine/internal/domain"
)

// RegisterCompositionRoutes exposes the stateless resolver used by editing
// clients. Nothing is stored.
func RegisterCompositionRoutes(router fiber.Router) {
	v1 := router.Group("/v1")
	v1.Post("/compositions/resolve", ResolveComposition)
	v1.Post("/compositions/recompute", RecomputeComposition)
}

type recomputeRequest struct {
	CodeLength  int    `json:"codeLength"`
	LetterCount int    `json:"letterCount"`
	DigitCount  int    `json:"digitCount"`
	LetterCase  string `json:"letterCase"`
	Prefix      string `json:"prefix"`
	Suffix      string `json:"suffix"`
	Changed     string `json:"changed"`
}

type recomputeResponse struct {
	LetterCount  int    `json:"letterCount"`
	DigitCount   int    `json:"digitCount"`
	ActualLength int    `json:"actualLength"`
	Format       string `json:"format"`
}

func ResolveComposition(c *fiber.Ctx) error {
	var req generationRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	comp, err := domain.Resolve(req.toDomain())
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"composition": toCompositionResponse(comp),
		"format":      comp.Describe(),
	})
}

func RecomputeComposition(c *fiber.Ctx) error {
	var req recomputeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	changed := domain.Field(req.Changed)
	if !changed.IsValid() {
		return toHTTPError(fmt.Errorf("%w: changed must be one of length, affix, letter, digit", domain.ErrValidation))
	}
	if req.LetterCount < 0 || req.DigitCount < 0 {
		return toHTTPError(fmt.Errorf("%w: letter count (%d) and digit count (%d) must not be negative",
			domain.ErrNegativeComposition, req.LetterCount, req.DigitCount))
	}
	letterCase, err := domain.ParseLetterCase(req.LetterCase)
	if err != nil {
		return toHTTPError(err)
	}

	draft := domain.Recompute(domain.Draft{
		CodeLength:  req.CodeLength,
		LetterCount: req.LetterCount,
		DigitCount:  req.DigitCount,
		LetterCase:  letterCase,
		Prefix:      strings.TrimSpace(req.Prefix),
		Suffix:      strings.TrimSpace(req.Suffix),
	}, changed)

	return c.Status(fiber.StatusOK).JSON(recomputeResponse{
		LetterCount:  draft.LetterCount,
		DigitCount:   draft.DigitCount,
		ActualLength: draft.ActualLength(),
		Format:       draft.Describe(),
	})
}
