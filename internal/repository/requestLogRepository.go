package repository

import (
	"context"
	"time"

	"github.com/aman-churiwal/fx-gateway/internal/models"
	"github.com/aman-churiwal/fx-gateway/internal/storage"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type RequestLogRepository struct {
	db *storage.Postgres
}

func NewRequestLogRepository(db *storage.Postgres) *RequestLogRepository {
	return &RequestLogRepository{db: db}
}

// LogFilter narrows request log queries. Nil fields are not applied.
type LogFilter struct {
	From       time.Time
	To         time.Time
	TenantID   *uuid.UUID
	StatusCode *int
}

func (r *RequestLogRepository) scoped(ctx context.Context, f LogFilter) *gorm.DB {
	q := r.db.DB.WithContext(ctx).
		Model(&models.RequestLog{}).
		Where("timestamp BETWEEN ? AND ?", f.From, f.To)

	if f.TenantID != nil {
		q = q.Where("tenant_id = ?", *f.TenantID)
	}
	if f.StatusCode != nil {
		q = q.Where("status_code = ?", *f.StatusCode)
	}

	return q
}

// Inserts multiple request logs (for batch insertion)
func (r *RequestLogRepository) CreateBatch(ctx context.Context, logs []models.RequestLog) error {
	if len(logs) == 0 {
		return nil
	}

	return r.db.DB.WithContext(ctx).Create(&logs).Error
}

func (r *RequestLogRepository) Find(ctx context.Context, f LogFilter, limit, offset int) ([]models.RequestLog, error) {
	var logs []models.RequestLog
	err := r.scoped(ctx, f).
		Order("timestamp DESC").
		Limit(limit).
		Offset(offset).
		Find(&logs).Error

	return logs, err
}

func (r *RequestLogRepository) Count(ctx context.Context, f LogFilter) (int64, error) {
	var count int64
	err := r.scoped(ctx, f).Count(&count).Error
	return count, err
}

// Counts logs whose status lies in [minStatus, maxStatus]
func (r *RequestLogRepository) CountByStatusRange(ctx context.Context, f LogFilter, minStatus, maxStatus int) (int64, error) {
	var count int64
	err := r.scoped(ctx, f).
		Where("status_code BETWEEN ? AND ?", minStatus, maxStatus).
		Count(&count).Error

	return count, err
}

func (r *RequestLogRepository) AverageResponseTime(ctx context.Context, f LogFilter) (float64, error) {
	var avg *float64
	err := r.scoped(ctx, f).
		Select("AVG(response_time_ms)").
		Scan(&avg).Error
	if err != nil || avg == nil {
		return 0, err
	}

	return *avg, nil
}

func (r *RequestLogRepository) Percentile(ctx context.Context, f LogFilter, p float64) (int, error) {
	var result *float64
	err := r.scoped(ctx, f).
		Select("PERCENTILE_CONT(?) WITHIN GROUP (ORDER BY response_time_ms)", p).
		Scan(&result).Error
	if err != nil || result == nil {
		return 0, err
	}

	return int(*result), nil
}

type PathCount struct {
	Path  string `json:"path"`
	Count int64  `json:"count"`
}

// Most frequently requested paths
func (r *RequestLogRepository) TopPaths(ctx context.Context, f LogFilter, limit int) ([]PathCount, error) {
	var out []PathCount
	err := r.scoped(ctx, f).
		Select("path, COUNT(*) AS count").
		Group("path").
		Order("count DESC").
		Limit(limit).
		Scan(&out).Error

	return out, err
}

type ErrorCodeCount struct {
	ErrorCode string `json:"error_code"`
	Count     int64  `json:"count"`
}

// Rejections grouped by error code, e.g. how often TOO_SOON fires
func (r *RequestLogRepository) ErrorCodes(ctx context.Context, f LogFilter) ([]ErrorCodeCount, error) {
	var out []ErrorCodeCount
	err := r.scoped(ctx, f).
		Select("error_code, COUNT(*) AS count").
		Where("error_code <> ''").
		Group("error_code").
		Order("count DESC").
		Scan(&out).Error

	return out, err
}

type HourlyBucket struct {
	Hour            time.Time `json:"hour"`
	Count           int64     `json:"count"`
	AvgResponseTime float64   `json:"avg_response_time_ms"`
}

func (r *RequestLogRepository) Hourly(ctx context.Context, f LogFilter) ([]HourlyBucket, error) {
	var out []HourlyBucket
	err := r.scoped(ctx, f).
		Select("DATE_TRUNC('hour', timestamp) AS hour, COUNT(*) AS count, AVG(response_time_ms) AS avg_response_time").
		Group("hour").
		Order("hour ASC").
		Scan(&out).Error

	return out, err
}

// Deletes logs older than the specified time
func (r *RequestLogRepository) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.DB.WithContext(ctx).
		Where("timestamp < ?", before).
		Delete(&models.RequestLog{})

	return result.RowsAffected, result.Error
}
