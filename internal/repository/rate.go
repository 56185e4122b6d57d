package repository

import (
	"context"
	"errors"
	"time"

	"github.com/aman-churiwal/fx-gateway/internal/models"
	"github.com/aman-churiwal/fx-gateway/internal/storage"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type RateRepository struct {
	db *storage.Postgres
}

func NewRateRepository(db *storage.Postgres) *RateRepository {
	return &RateRepository{db: db}
}

// UpsertLatest inserts or replaces the single latest_rate row for the pair.
func (r *RateRepository) UpsertLatest(ctx context.Context, rate *models.LatestRate) error {
	return r.db.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "base"}, {Name: "target"}},
			DoUpdates: clause.AssignmentColumns([]string{"rate", "updated_at"}),
		}).
		Create(rate).Error
}

func (r *RateRepository) ListLatest(ctx context.Context, base string) ([]models.LatestRate, error) {
	var rates []models.LatestRate
	q := r.db.DB.WithContext(ctx)
	if base != "" {
		q = q.Where("base = ?", base)
	}
	err := q.Order("base ASC, target ASC").Find(&rates).Error
	return rates, err
}

func (r *RateRepository) AppendHistory(ctx context.Context, row *models.RateHistory) error {
	return r.db.DB.WithContext(ctx).Create(row).Error
}

// LatestHistory returns the newest history row for the pair or nil.
func (r *RateRepository) LatestHistory(ctx context.Context, base, target string) (*models.RateHistory, error) {
	return r.latest(r.db.DB.WithContext(ctx).
		Where("base = ? AND target = ?", base, target))
}

// LatestHistoryBetween returns the newest row with from <= timestamp < to, or nil.
func (r *RateRepository) LatestHistoryBetween(ctx context.Context, base, target string, from, to time.Time) (*models.RateHistory, error) {
	return r.latest(r.db.DB.WithContext(ctx).
		Where("base = ? AND target = ? AND timestamp >= ? AND timestamp < ?", base, target, from, to))
}

func (r *RateRepository) latest(q *gorm.DB) (*models.RateHistory, error) {
	var row models.RateHistory
	err := q.Order("timestamp DESC").Take(&row).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &row, nil
}

func (r *RateRepository) CountHistoryBetween(ctx context.Context, base, target string, from, to time.Time) (int64, error) {
	var count int64
	err := r.db.DB.WithContext(ctx).
		Model(&models.RateHistory{}).
		Where("base = ? AND target = ? AND timestamp BETWEEN ? AND ?", base, target, from, to).
		Count(&count).Error

	return count, err
}

// ListHistoryBetween returns rows with from <= timestamp <= to, oldest first.
func (r *RateRepository) ListHistoryBetween(ctx context.Context, base, target string, from, to time.Time) ([]models.RateHistory, error) {
	var rows []models.RateHistory
	err := r.db.DB.WithContext(ctx).
		Where("base = ? AND target = ? AND timestamp BETWEEN ? AND ?", base, target, from, to).
		Order("timestamp ASC, id ASC").
		Find(&rows).Error

	return rows, err
}
