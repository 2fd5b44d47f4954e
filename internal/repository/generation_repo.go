package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/codegen-engine/internal/domain"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

type ListParams struct {
	Status   *domain.TaskStatus
	Kind     *domain.TaskKind
	Page     int
	PageSize int
}

// FinishParams carries the terminal outcome of a run.
type FinishParams struct {
	Status         domain.TaskStatus
	CompletedCount int
	TotalTime      *time.Duration
	Error          *string
	FinishedAt     time.Time
}

type GenerationRepository interface {
	Create(ctx context.Context, g *domain.Generation) error
	GetByID(ctx context.Context, id string) (*domain.Generation, error)
	List(ctx context.Context, params ListParams) ([]domain.Generation, int64, error)
	MarkStarted(ctx context.Context, id string, startedAt time.Time) error
	UpdateProgress(ctx context.Context, id string, completedCount int) error
	MarkFinished(ctx context.Context, id string, params FinishParams) error
}

var openStatuses = []domain.TaskStatus{domain.TaskStatusPending, domain.TaskStatusRunning}

type GormGenerationRepo struct {
	db *gorm.DB
}

func NewGormGenerationRepo(db *gorm.DB) *GormGenerationRepo {
	return &GormGenerationRepo{db: db}
}

func (r *GormGenerationRepo) Create(ctx context.Context, g *domain.Generation) error {
	model := generationModelFromDomain(g)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ErrConflict
		}
		return err
	}
	if g != nil {
		*g = *generationModelToDomain(model)
	}
	return nil
}

func (r *GormGenerationRepo) GetByID(ctx context.Context, id string) (*domain.Generation, error) {
	var model GenerationModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return generationModelToDomain(&model), nil
}

func (r *GormGenerationRepo) List(ctx context.Context, params ListParams) ([]domain.Generation, int64, error) {
	query := r.db.WithContext(ctx).Model(&GenerationModel{})

	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.Kind != nil {
		query = query.Where("kind = ?", *params.Kind)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := max(params.Page, 1)
	pageSize := params.PageSize
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	pageSize = min(pageSize, maxPageSize)

	var models []GenerationModel
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	generations := make([]domain.Generation, 0, len(models))
	for i := range models {
		generations = append(generations, *generationModelToDomain(&models[i]))
	}

	return generations, total, nil
}

func (r *GormGenerationRepo) MarkStarted(ctx context.Context, id string, startedAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&GenerationModel{}).
		Where("id = ? AND status = ?", id, domain.TaskStatusPending).
		Updates(map[string]any{
			"status":     domain.TaskStatusRunning,
			"started_at": startedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *GormGenerationRepo) UpdateProgress(ctx context.Context, id string, completedCount int) error {
	return r.db.WithContext(ctx).
		Model(&GenerationModel{}).
		Where("id = ? AND status = ?", id, domain.TaskStatusRunning).
		Update("completed_count", completedCount).Error
}

// MarkFinished records a terminal outcome. Rows already in a terminal state
// are left untouched.
func (r *GormGenerationRepo) MarkFinished(ctx context.Context, id string, params FinishParams) error {
	updates := map[string]any{
		"status":          params.Status,
		"completed_count": params.CompletedCount,
		"finished_at":     params.FinishedAt,
		"error":           params.Error,
	}
	if params.TotalTime != nil {
		updates["total_time_ms"] = params.TotalTime.Milliseconds()
	}

	result := r.db.WithContext(ctx).
		Model(&GenerationModel{}).
		Where("id = ? AND status IN ?", id, openStatuses).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}
