package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/aman-churiwal/fx-gateway/internal/apperr"
	"github.com/aman-churiwal/fx-gateway/internal/models"
	"github.com/aman-churiwal/fx-gateway/internal/rates"
)

// RateStore is the persistent rate store behind RateService.
type RateStore interface {
	rates.Store
	ListLatest(ctx context.Context, base string) ([]models.LatestRate, error)
}

const latestSnapshotKey = "rates:latest:all"

// RateService fronts the rate repository. It serves the latest-rate
// snapshot from Redis and drops the snapshot whenever a latest rate changes,
// so it is the store both the poller and the resolver write through.
type RateService struct {
	RateStore
	cache  Cache
	ttl    time.Duration
	logger *slog.Logger
}

func NewRateService(store RateStore, cache Cache, ttl time.Duration, logger *slog.Logger) *RateService {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RateService{
		RateStore: store,
		cache:     cache,
		ttl:       ttl,
		logger:    logger.With("component", "rate_snapshot"),
	}
}

func (s *RateService) UpsertLatest(ctx context.Context, rate *models.LatestRate) error {
	if err := s.RateStore.UpsertLatest(ctx, rate); err != nil {
		return err
	}
	if err := s.cache.Del(ctx, latestSnapshotKey); err != nil {
		s.logger.Warn("failed to drop latest-rate snapshot", "error", err)
	}
	return nil
}

// Latest returns every latest_rate row ordered by base then target.
func (s *RateService) Latest(ctx context.Context) ([]models.LatestRate, error) {
	if cached, err := s.cache.Get(ctx, latestSnapshotKey); err == nil && cached != "" {
		var out []models.LatestRate
		if err := json.Unmarshal([]byte(cached), &out); err == nil {
			return out, nil
		}
	}

	out, err := s.RateStore.ListLatest(ctx, "")
	if err != nil {
		return nil, apperr.Wrap(apperr.CodePersistenceError, "failed to list latest rates", err)
	}
	if out == nil {
		out = []models.LatestRate{}
	}

	if payload, err := json.Marshal(out); err == nil {
		if err := s.cache.Set(ctx, latestSnapshotKey, payload, s.ttl); err != nil {
			s.logger.Warn("failed to cache latest-rate snapshot", "error", err)
		}
	}

	return out, nil
}
