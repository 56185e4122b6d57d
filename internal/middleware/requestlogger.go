package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/aman-churiwal/fx-gateway/internal/models"
	"github.com/gin-gonic/gin"
)

type RequestLogWriter interface {
	CreateBatch(ctx context.Context, logs []models.RequestLog) error
}

type RequestLogSinkConfig struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
}

// RequestLogSink queues access-log rows and inserts them in batches from Run.
// A full queue drops entries rather than blocking requests.
type RequestLogSink struct {
	ch       chan models.RequestLog
	writer   RequestLogWriter
	batch    int
	interval time.Duration
	logger   *slog.Logger
}

func NewRequestLogSink(writer RequestLogWriter, cfg RequestLogSinkConfig, logger *slog.Logger) *RequestLogSink {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}

	return &RequestLogSink{
		ch:       make(chan models.RequestLog, cfg.BufferSize),
		writer:   writer,
		batch:    cfg.BatchSize,
		interval: cfg.FlushInterval,
		logger:   logger.With("component", "request_log"),
	}
}

// Run drains the queue until ctx is done, then flushes what is left.
func (s *RequestLogSink) Run(ctx context.Context) {
	batch := make([]models.RequestLog, 0, s.batch)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case entry := <-s.ch:
			batch = append(batch, entry)
			if len(batch) >= s.batch {
				batch = s.flush(batch)
			}
		case <-ticker.C:
			batch = s.flush(batch)
		case <-ctx.Done():
			for {
				select {
				case entry := <-s.ch:
					batch = append(batch, entry)
				default:
					s.flush(batch)
					return
				}
			}
		}
	}
}

func (s *RequestLogSink) flush(batch []models.RequestLog) []models.RequestLog {
	if len(batch) == 0 {
		return batch
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.writer.CreateBatch(ctx, batch); err != nil {
		s.logger.Error("failed to insert request logs", "count", len(batch), "error", err)
	}

	return make([]models.RequestLog, 0, s.batch)
}

func (s *RequestLogSink) enqueue(entry models.RequestLog) {
	select {
	case s.ch <- entry:
	default:
		s.logger.Warn("request log queue full, dropping entry", "path", entry.Path)
	}
}

// Middleware records one row per request after the handler chain ran.
func (s *RequestLogSink) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		entry := models.RequestLog{
			Timestamp:      start,
			RequestID:      c.GetString(RequestIDKey),
			Method:         c.Request.Method,
			Path:           c.Request.URL.Path,
			StatusCode:     c.Writer.Status(),
			ErrorCode:      c.GetString(ErrorCodeKey),
			ResponseTimeMs: int(time.Since(start).Milliseconds()),
			IPAddress:      c.ClientIP(),
			UserAgent:      c.Request.UserAgent(),
		}
		if tenant, ok := TenantFrom(c); ok {
			id := tenant.ID
			entry.TenantID = &id
		}

		s.enqueue(entry)
	}
}
