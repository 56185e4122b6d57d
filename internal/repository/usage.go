package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aman-churiwal/fx-gateway/internal/models"
	"github.com/aman-churiwal/fx-gateway/internal/quota"
	"github.com/aman-churiwal/fx-gateway/internal/storage"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrTenantNotFound is what WithTenantLock reports for a missing tenant row.
var ErrTenantNotFound = quota.ErrUnknownTenant

type txKey struct{}

// UsageRepository is the usage ledger. Reads and appends made inside
// WithTenantLock share the transaction that holds the tenant row lock.
type UsageRepository struct {
	db *storage.Postgres
}

func NewUsageRepository(db *storage.Postgres) *UsageRepository {
	return &UsageRepository{db: db}
}

func (r *UsageRepository) conn(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx
	}
	return r.db.DB.WithContext(ctx)
}

// WithTenantLock runs fn in a transaction holding SELECT ... FOR UPDATE on
// the tenant row, serialising concurrent admissions for the same tenant.
func (r *UsageRepository) WithTenantLock(ctx context.Context, tenantID uuid.UUID, fn func(ctx context.Context) error) error {
	return r.db.Transaction(ctx, func(tx *gorm.DB) error {
		var tenant models.Tenant
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id").
			Where("id = ?", tenantID).
			Take(&tenant).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrTenantNotFound
		}
		if err != nil {
			return fmt.Errorf("locking tenant %s: %w", tenantID, err)
		}

		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

func (r *UsageRepository) CountSince(ctx context.Context, tenantID uuid.UUID, since time.Time) (int64, error) {
	var count int64
	err := r.conn(ctx).
		Model(&models.UsageRecord{}).
		Where("tenant_id = ? AND timestamp >= ?", tenantID, since).
		Count(&count).Error

	return count, err
}

// MostRecent returns the timestamp of the tenant's latest usage record.
func (r *UsageRepository) MostRecent(ctx context.Context, tenantID uuid.UUID) (time.Time, bool, error) {
	var rec models.UsageRecord
	err := r.conn(ctx).
		Where("tenant_id = ?", tenantID).
		Order("timestamp DESC").
		Take(&rec).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}

	return rec.Timestamp, true, nil
}

func (r *UsageRepository) Append(ctx context.Context, rec *models.UsageRecord) error {
	return r.conn(ctx).Create(rec).Error
}

type TenantUsage struct {
	TenantID uuid.UUID `json:"tenant_id"`
	Name     string    `json:"name"`
	Calls    int64     `json:"calls"`
}

// TopTenants ranks tenants by admitted calls in [from, to].
func (r *UsageRepository) TopTenants(ctx context.Context, from, to time.Time, limit int) ([]TenantUsage, error) {
	var out []TenantUsage
	err := r.conn(ctx).
		Table("usage").
		Select("usage.tenant_id, tenants.name, COUNT(*) AS calls").
		Joins("JOIN tenants ON tenants.id = usage.tenant_id").
		Where("usage.timestamp BETWEEN ? AND ?", from, to).
		Group("usage.tenant_id, tenants.name").
		Order("calls DESC").
		Limit(limit).
		Scan(&out).Error

	return out, err
}
