package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/campaign-dispatcher/internal/domain"
	"gorm.io/gorm"
)

type RunRepository interface {
	Create(ctx context.Context, run *domain.DispatchRun) error
	Finish(ctx context.Context, id string, result domain.DispatchResult) error
	GetByID(ctx context.Context, id string) (*domain.DispatchRun, error)
}

type GormRunRepo struct {
	db *gorm.DB
}

func NewGormRunRepo(db *gorm.DB) *GormRunRepo {
	return &GormRunRepo{db: db}
}

func (r *GormRunRepo) Create(ctx context.Context, run *domain.DispatchRun) error {
	model := runModelFromDomain(run)
	if err := r.db.WithContext(ctx).Omit("Outcomes").Create(model).Error; err != nil {
		return err
	}
	if run != nil {
		*run = *runModelToDomain(model)
	}
	return nil
}

// Finish stores the terminal counts and every outcome of a run in one transaction.
func (r *GormRunRepo) Finish(ctx context.Context, id string, result domain.DispatchResult) error {
	finishedAt := result.FinishedAt
	if finishedAt.IsZero() {
		finishedAt = time.Now().UTC()
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		update := tx.Model(&DispatchRunModel{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"status":       result.RunStatus(),
				"sent_count":   result.SentCount,
				"failed_count": result.FailedCount,
				"errors":       strings.Join(result.Errors, errorSeparator),
				"finished_at":  finishedAt,
				"updated_at":   finishedAt,
			})
		if update.Error != nil {
			return update.Error
		}
		if update.RowsAffected == 0 {
			return domain.ErrNotFound
		}

		if len(result.Details) == 0 {
			return nil
		}

		outcomes := make([]DispatchOutcomeModel, 0, len(result.Details))
		for i, detail := range result.Details {
			model := outcomeModelFromDomain(id, i, detail, finishedAt)
			model.ID = uuid.NewString()
			outcomes = append(outcomes, model)
		}
		return tx.CreateInBatches(outcomes, 500).Error
	})
}

func (r *GormRunRepo) GetByID(ctx context.Context, id string) (*domain.DispatchRun, error) {
	var model DispatchRunModel
	err := r.db.WithContext(ctx).
		Preload("Outcomes", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return runModelToDomain(&model), nil
}
