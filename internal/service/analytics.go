package service

import (
	"context"
	"time"

	"github.com/aman-churiwal/fx-gateway/internal/apperr"
	"github.com/aman-churiwal/fx-gateway/internal/models"
	"github.com/aman-churiwal/fx-gateway/internal/repository"
)

type RequestLogStore interface {
	Find(ctx context.Context, f repository.LogFilter, limit, offset int) ([]models.RequestLog, error)
	Count(ctx context.Context, f repository.LogFilter) (int64, error)
	CountByStatusRange(ctx context.Context, f repository.LogFilter, minStatus, maxStatus int) (int64, error)
	AverageResponseTime(ctx context.Context, f repository.LogFilter) (float64, error)
	Percentile(ctx context.Context, f repository.LogFilter, p float64) (int, error)
	TopPaths(ctx context.Context, f repository.LogFilter, limit int) ([]repository.PathCount, error)
	ErrorCodes(ctx context.Context, f repository.LogFilter) ([]repository.ErrorCodeCount, error)
	Hourly(ctx context.Context, f repository.LogFilter) ([]repository.HourlyBucket, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

type UsageStatsStore interface {
	TopTenants(ctx context.Context, from, to time.Time, limit int) ([]repository.TenantUsage, error)
}

type AnalyticsService struct {
	logs  RequestLogStore
	usage UsageStatsStore
}

func NewAnalyticsService(logs RequestLogStore, usage UsageStatsStore) *AnalyticsService {
	return &AnalyticsService{logs: logs, usage: usage}
}

// Holds analytics summary data
type AnalyticsSummary struct {
	TotalRequests   int64                       `json:"total_requests"`
	AvgResponseTime float64                     `json:"avg_response_time_ms"`
	P50ResponseTime int                         `json:"p50_response_time_ms"`
	P95ResponseTime int                         `json:"p95_response_time_ms"`
	P99ResponseTime int                         `json:"p99_response_time_ms"`
	SuccessRate     float64                     `json:"success_rate"`
	ClientErrorRate float64                     `json:"client_error_rate"`
	ServerErrorRate float64                     `json:"server_error_rate"`
	TopPaths        []repository.PathCount      `json:"top_paths"`
	Rejections      []repository.ErrorCodeCount `json:"rejections"`
	TopTenants      []repository.TenantUsage    `json:"top_tenants,omitempty"`
}

// Summary aggregates request logs matching f. Tenant rankings are only
// included for gateway-wide summaries.
func (s *AnalyticsService) Summary(ctx context.Context, f repository.LogFilter) (*AnalyticsSummary, error) {
	summary := &AnalyticsSummary{}

	total, err := s.logs.Count(ctx, f)
	if err != nil {
		return nil, persistErr(err)
	}
	summary.TotalRequests = total
	if total == 0 {
		return summary, nil
	}

	if summary.AvgResponseTime, err = s.logs.AverageResponseTime(ctx, f); err != nil {
		return nil, persistErr(err)
	}

	// Percentiles are best effort.
	summary.P50ResponseTime, _ = s.logs.Percentile(ctx, f, 0.50)
	summary.P95ResponseTime, _ = s.logs.Percentile(ctx, f, 0.95)
	summary.P99ResponseTime, _ = s.logs.Percentile(ctx, f, 0.99)

	clientErrors, err := s.logs.CountByStatusRange(ctx, f, 400, 499)
	if err != nil {
		return nil, persistErr(err)
	}
	serverErrors, err := s.logs.CountByStatusRange(ctx, f, 500, 599)
	if err != nil {
		return nil, persistErr(err)
	}

	summary.ClientErrorRate = percent(clientErrors, total)
	summary.ServerErrorRate = percent(serverErrors, total)
	summary.SuccessRate = 100 - summary.ClientErrorRate - summary.ServerErrorRate

	if summary.TopPaths, err = s.logs.TopPaths(ctx, f, 10); err != nil {
		return nil, persistErr(err)
	}
	if summary.Rejections, err = s.logs.ErrorCodes(ctx, f); err != nil {
		return nil, persistErr(err)
	}
	if f.TenantID == nil {
		if summary.TopTenants, err = s.usage.TopTenants(ctx, f.From, f.To, 10); err != nil {
			return nil, persistErr(err)
		}
	}

	return summary, nil
}

func (s *AnalyticsService) TimeSeries(ctx context.Context, f repository.LogFilter) ([]repository.HourlyBucket, error) {
	buckets, err := s.logs.Hourly(ctx, f)
	if err != nil {
		return nil, persistErr(err)
	}
	return buckets, nil
}

func (s *AnalyticsService) Logs(ctx context.Context, f repository.LogFilter, limit, offset int) ([]models.RequestLog, error) {
	logs, err := s.logs.Find(ctx, f, limit, offset)
	if err != nil {
		return nil, persistErr(err)
	}
	return logs, nil
}

// Prune deletes request logs older than retention.
func (s *AnalyticsService) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	return s.logs.DeleteBefore(ctx, time.Now().Add(-retention))
}

func percent(part, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

func persistErr(err error) error {
	return apperr.Wrap(apperr.CodePersistenceError, "failed to query analytics", err)
}
