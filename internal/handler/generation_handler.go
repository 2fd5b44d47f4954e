package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/codegen-engine/internal/domain"
	"github.com/kursadbilgin/codegen-engine/internal/repository"
	"github.com/kursadbilgin/codegen-engine/internal/service"
	"github.com/kursadbilgin/codegen-engine/internal/transport"
)

const (
	defaultPage     = 1
	defaultPageSize = 50
	maxPageSize     = 100
)

type GenerationService interface {
	Submit(ctx context.Context, in service.SubmitInput) (*service.Submission, error)
	Start(ctx context.Context, id string, req *domain.GenerationRequest) (domain.TaskStatus, error)
	Cancel(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*domain.Generation, error)
	Codes(ctx context.Context, id string) ([]string, error)
	List(ctx context.Context, params repository.ListParams) ([]domain.Generation, int64, error)
}

type GenerationHandler struct {
	service GenerationService
}

func NewGenerationHandler(service GenerationService) (*GenerationHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("generation service is required")
	}
	return &GenerationHandler{service: service}, nil
}

func RegisterGenerationRoutes(router fiber.Router, service GenerationService) error {
	h, err := NewGenerationHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/generations", h.SubmitGeneration)
	v1.Get("/generations", h.ListGenerations)
	v1.Get("/generations/:id", h.GetGeneration)
	v1.Get("/generations/:id/codes", h.GetCodes)
	v1.Post("/generations/:id/start", h.StartGeneration)
	v1.Post("/generations/:id/cancel", h.CancelGeneration)

	return nil
}

type generationRequest struct {
	TaskID      string `json:"taskId"`
	Count       int    `json:"count"`
	CodeLength  int    `json:"codeLength"`
	LetterCount int    `json:"letterCount"`
	DigitCount  int    `json:"digitCount"`
	LetterCase  string `json:"letterCase"`
	Prefix      string `json:"prefix"`
	Suffix      string `json:"suffix"`
}

type compositionResponse struct {
	CodeLength   int    `json:"codeLength"`
	LetterCount  int    `json:"letterCount"`
	DigitCount   int    `json:"digitCount"`
	LetterCase   string `json:"letterCase"`
	Prefix       string `json:"prefix"`
	Suffix       string `json:"suffix"`
	ActualLength int    `json:"actualLength"`
	FreeCount    int    `json:"freeCount"`
}

type submissionResponse struct {
	TaskID          string              `json:"taskId"`
	Status          string              `json:"status"`
	Kind            string              `json:"kind"`
	Count           int                 `json:"count"`
	Composition     compositionResponse `json:"composition"`
	Format          string              `json:"format"`
	EstimatedTime   float64             `json:"estimatedTime"`
	PreviewRequired bool                `json:"previewRequired"`
	PreviewOf       *string             `json:"previewOf,omitempty"`
}

type generationResponse struct {
	ID          string              `json:"id"`
	Kind        string              `json:"kind"`
	PreviewOf   *string             `json:"previewOf,omitempty"`
	Count       int                 `json:"count"`
	Composition compositionResponse `json:"composition"`
	Format      string              `json:"format"`
	Status      string              `json:"status"`
	Completed   int                 `json:"completed"`
	Progress    int                 `json:"progress"`
	TotalTimeMs *int64              `json:"totalTimeMs,omitempty"`
	Error       *string             `json:"error,omitempty"`
	CreatedAt   time.Time           `json:"createdAt"`
	StartedAt   *time.Time          `json:"startedAt,omitempty"`
	FinishedAt  *time.Time          `json:"finishedAt,omitempty"`
}

type codesResponse struct {
	TaskID     string   `json:"taskId"`
	TotalCodes int      `json:"totalCodes"`
	Codes      []string `json:"codes"`
}

type listGenerationsResponse struct {
	Data []generationResponse `json:"data"`
	Meta listMeta             `json:"meta"`
}

type listMeta struct {
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int64 `json:"total"`
}

func (h *GenerationHandler) SubmitGeneration(c *fiber.Ctx) error {
	var req generationRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	sub, err := h.service.Submit(c.UserContext(), service.SubmitInput{
		Request:   req.toDomain(),
		TaskID:    strings.TrimSpace(req.TaskID),
		ClientKey: c.IP(),
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(toSubmissionResponse(sub))
}

func (h *GenerationHandler) StartGeneration(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))

	var domainReq *domain.GenerationRequest
	if len(c.Body()) > 0 {
		var req generationRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		parsed := req.toDomain()
		domainReq = &parsed
	}

	status, err := h.service.Start(c.UserContext(), id, domainReq)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"taskId": id,
		"status": status.String(),
	})
}

func (h *GenerationHandler) CancelGeneration(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if err := h.service.Cancel(c.UserContext(), id); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"taskId": id,
		"status": domain.TaskStatusCancelled.String(),
	})
}

func (h *GenerationHandler) GetGeneration(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	g, err := h.service.Get(c.UserContext(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toGenerationResponse(g))
}

func (h *GenerationHandler) GetCodes(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	codes, err := h.service.Codes(c.UserContext(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(codesResponse{
		TaskID:     id,
		TotalCodes: len(codes),
		Codes:      codes,
	})
}

func (h *GenerationHandler) ListGenerations(c *fiber.Ctx) error {
	params, err := parseListParams(c)
	if err != nil {
		return toHTTPError(err)
	}

	generations, total, err := h.service.List(c.UserContext(), params)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]generationResponse, 0, len(generations))
	for i := range generations {
		data = append(data, toGenerationResponse(&generations[i]))
	}

	return c.Status(fiber.StatusOK).JSON(listGenerationsResponse{
		Data: data,
		Meta: listMeta{
			Page:     params.Page,
			PageSize: params.PageSize,
			Total:    total,
		},
	})
}

func parseListParams(c *fiber.Ctx) (repository.ListParams, error) {
	params := repository.ListParams{
		Page:     c.QueryInt("page", defaultPage),
		PageSize: c.QueryInt("pageSize", defaultPageSize),
	}

	if params.Page < 1 {
		return repository.ListParams{}, fmt.Errorf("%w: page must be >= 1", domain.ErrValidation)
	}
	if params.PageSize < 1 || params.PageSize > maxPageSize {
		return repository.ListParams{}, fmt.Errorf("%w: pageSize must be between 1 and %d", domain.ErrValidation, maxPageSize)
	}

	if rawStatus := strings.TrimSpace(c.Query("status")); rawStatus != "" {
		status, err := domain.ParseTaskStatusFromString(rawStatus)
		if err != nil {
			return repository.ListParams{}, err
		}
		params.Status = &status
	}

	if rawKind := strings.TrimSpace(c.Query("kind")); rawKind != "" {
		kind, err := domain.ParseTaskKindFromString(rawKind)
		if err != nil {
			return repository.ListParams{}, err
		}
		params.Kind = &kind
	}

	return params, nil
}

// toDomain leaves letter case validation to domain.Resolve so that it is
// reported after the count, length and affix checks.
func (r generationRequest) toDomain() domain.GenerationRequest {
	return domain.GenerationRequest{
		Count:       r.Count,
		CodeLength:  r.CodeLength,
		LetterCount: r.LetterCount,
		DigitCount:  r.DigitCount,
		LetterCase:  domain.NormalizeLetterCase(r.LetterCase),
		Prefix:      strings.TrimSpace(r.Prefix),
		Suffix:      strings.TrimSpace(r.Suffix),
	}
}

func toCompositionResponse(c domain.Composition) compositionResponse {
	return compositionResponse{
		CodeLength:   c.CodeLength,
		LetterCount:  c.LetterCount,
		DigitCount:   c.DigitCount,
		LetterCase:   c.LetterCase.String(),
		Prefix:       c.Prefix,
		Suffix:       c.Suffix,
		ActualLength: c.ActualLength(),
		FreeCount:    c.FreeCount(),
	}
}

func toSubmissionResponse(s *service.Submission) submissionResponse {
	return submissionResponse{
		TaskID:          s.TaskID,
		Status:          s.Status.String(),
		Kind:            s.Kind.String(),
		Count:           s.Count,
		Composition:     toCompositionResponse(s.Composition),
		Format:          s.Format,
		EstimatedTime:   s.EstimatedTime,
		PreviewRequired: s.PreviewRequired,
		PreviewOf:       s.PreviewOf,
	}
}

func toGenerationResponse(g *domain.Generation) generationResponse {
	if g == nil {
		return generationResponse{}
	}

	resp := generationResponse{
		ID:          g.ID,
		Kind:        g.Kind.String(),
		PreviewOf:   g.PreviewOf,
		Count:       g.Count,
		Composition: toCompositionResponse(g.Composition),
		Format:      g.Composition.Describe(),
		Status:      g.Status.String(),
		Completed:   g.CompletedCount,
		Error:       g.Error,
		CreatedAt:   g.CreatedAt,
		StartedAt:   g.StartedAt,
		FinishedAt:  g.FinishedAt,
	}
	if g.Count > 0 {
		resp.Progress = 100 * g.CompletedCount / g.Count
	}
	if g.TotalTime != nil {
		ms := g.TotalTime.Milliseconds()
		resp.TotalTimeMs = &ms
	}
	return resp
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return transport.NewError(fiber.StatusBadRequest, err)
	case errors.Is(err, domain.ErrNotFound):
		return transport.NewError(fiber.StatusNotFound, err)
	case errors.Is(err, domain.ErrConflict):
		return transport.NewError(fiber.StatusConflict, err)
	case errors.Is(err, domain.ErrPreviewRequired):
		return transport.NewError(fiber.StatusPreconditionRequired, err)
	case errors.Is(err, domain.ErrRateLimited):
		return transport.NewError(fiber.StatusTooManyRequests, err)
	case errors.Is(err, domain.ErrTaskExecution):
		return transport.NewError(fiber.StatusBadGateway, err)
	default:
		return err
	}
}
