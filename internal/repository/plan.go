package repository

import (
	"context"
	"errors"

	"github.com/aman-churiwal/fx-gateway/internal/models"
	"github.com/aman-churiwal/fx-gateway/internal/storage"
	"gorm.io/gorm"
)

type PlanRepository struct {
	db *storage.Postgres
}

func NewPlanRepository(db *storage.Postgres) *PlanRepository {
	return &PlanRepository{db: db}
}

func (r *PlanRepository) List(ctx context.Context) ([]models.Plan, error) {
	var plans []models.Plan
	err := r.db.DB.WithContext(ctx).Order("daily_limit ASC").Find(&plans).Error
	return plans, err
}

func (r *PlanRepository) FindByName(ctx context.Context, name string) (*models.Plan, error) {
	var plan models.Plan
	err := r.db.DB.WithContext(ctx).Where("name = ?", name).First(&plan).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &plan, nil
}
