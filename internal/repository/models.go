package repository

import (
	"time"

	"github.com/kursadbilgin/codegen-engine/internal/domain"
)

// GenerationModel is the persistence model for the generations table.
type GenerationModel struct {
	ID             string            `gorm:"type:varchar(64);primaryKey"`
	Kind           domain.TaskKind   `gorm:"type:varchar(10);not null"`
	PreviewOf      *string           `gorm:"type:varchar(64)"`
	Count          int               `gorm:"not null"`
	CodeLength     int               `gorm:"not null"`
	LetterCount    int               `gorm:"not null;default:0"`
	DigitCount     int               `gorm:"not null;default:0"`
	LetterCase     domain.LetterCase `gorm:"type:varchar(10);not null"`
	Prefix         string            `gorm:"type:varchar(20);not null;default:''"`
	Suffix         string            `gorm:"type:varchar(20);not null;default:''"`
	Status         domain.TaskStatus `gorm:"type:varchar(20);not null"`
	CompletedCount int               `gorm:"not null;default:0"`
	TotalTimeMs    *int64
	Error          *string    `gorm:"type:text"`
	StartedAt      *time.Time `gorm:"type:timestamptz"`
	FinishedAt     *time.Time `gorm:"type:timestamptz"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (GenerationModel) TableName() string {
	return "generations"
}

func generationModelFromDomain(g *domain.Generation) *GenerationModel {
	if g == nil {
		return nil
	}

	var totalTimeMs *int64
	if g.TotalTime != nil {
		ms := g.TotalTime.Milliseconds()
		totalTimeMs = &ms
	}

	return &GenerationModel{
		ID:             g.ID,
		Kind:           g.Kind,
		PreviewOf:      g.PreviewOf,
		Count:          g.Count,
		CodeLength:     g.Composition.CodeLength,
		LetterCount:    g.Composition.LetterCount,
		DigitCount:     g.Composition.DigitCount,
		LetterCase:     g.Composition.LetterCase,
		Prefix:         g.Composition.Prefix,
		Suffix:         g.Composition.Suffix,
		Status:         g.Status,
		CompletedCount: g.CompletedCount,
		TotalTimeMs:    totalTimeMs,
		Error:          g.Error,
		StartedAt:      g.StartedAt,
		FinishedAt:     g.FinishedAt,
		CreatedAt:      g.CreatedAt,
		UpdatedAt:      g.UpdatedAt,
	}
}

func generationModelToDomain(m *GenerationModel) *domain.Generation {
	if m == nil {
		return nil
	}

	var totalTime *time.Duration
	if m.TotalTimeMs != nil {
		d := time.Duration(*m.TotalTimeMs) * time.Millisecond
		totalTime = &d
	}

	return &domain.Generation{
		ID:        m.ID,
		Kind:      m.Kind,
		PreviewOf: m.PreviewOf,
		Count:     m.Count,
		Composition: domain.Composition{
			CodeLength:  m.CodeLength,
			LetterCount: m.LetterCount,
			DigitCount:  m.DigitCount,
			LetterCase:  m.LetterCase,
			Prefix:      m.Prefix,
			Suffix:      m.Suffix,
		},
		Status:         m.Status,
		CompletedCount: m.CompletedCount,
		TotalTime:      totalTime,
		Error:          m.Error,
		StartedAt:      m.StartedAt,
		FinishedAt:     m.FinishedAt,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}
