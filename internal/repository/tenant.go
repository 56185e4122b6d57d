package repository

import (
	"context"
	"errors"
	"time"

	"github.com/aman-churiwal/fx-gateway/internal/models"
	"github.com/aman-churiwal/fx-gateway/internal/storage"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type TenantRepository struct {
	db *storage.Postgres
}

func NewTenantRepository(db *storage.Postgres) *TenantRepository {
	return &TenantRepository{db: db}
}

func (r *TenantRepository) Create(ctx context.Context, tenant *models.Tenant) error {
	return r.db.DB.WithContext(ctx).Create(tenant).Error
}

// FindByHash returns the tenant owning keyHash with its plan loaded, active or not.
func (r *TenantRepository) FindByHash(ctx context.Context, keyHash string) (*models.Tenant, error) {
	var tenant models.Tenant
	err := r.db.DB.WithContext(ctx).
		Preload("Plan").
		Where("key_hash = ?", keyHash).
		First(&tenant).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &tenant, nil
}

func (r *TenantRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	var tenant models.Tenant
	err := r.db.DB.WithContext(ctx).
		Preload("Plan").
		Where("id = ?", id).
		First(&tenant).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &tenant, nil
}

func (r *TenantRepository) List(ctx context.Context) ([]models.Tenant, error) {
	var tenants []models.Tenant
	err := r.db.DB.WithContext(ctx).
		Preload("Plan").
		Order("created_at DESC").
		Find(&tenants).Error

	return tenants, err
}

// Update applies the column updates and reports whether the tenant existed.
func (r *TenantRepository) Update(ctx context.Context, id uuid.UUID, updates map[string]interface{}) (bool, error) {
	result := r.db.DB.WithContext(ctx).
		Model(&models.Tenant{}).
		Where("id = ?", id).
		Updates(updates)

	return result.RowsAffected > 0, result.Error
}

func (r *TenantRepository) UpdateLastUsed(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.db.DB.WithContext(ctx).
		Model(&models.Tenant{}).
		Where("id = ?", id).
		Update("last_used_at", at).Error
}

func (r *TenantRepository) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	result := r.db.DB.WithContext(ctx).
		Where("id = ?", id).
		Delete(&models.Tenant{})

	return result.RowsAffected > 0, result.Error
}

func (r *TenantRepository) CountByPlan(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.DB.WithContext(ctx).
		Table("tenants").
		Select("plans.name, COUNT(*)").
		Joins("JOIN plans ON plans.id = tenants.plan_id").
		Where("tenants.is_active = ?", true).
		Group("plans.name").
		Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var name string
		var count int64
		if err := rows.Scan(&name, &count); err != nil {
			return nil, err
		}
		counts[name] = count
	}

	return counts, rows.Err()
}
