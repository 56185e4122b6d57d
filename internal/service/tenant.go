package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aman-churiwal/fx-gateway/internal/apperr"
	"github.com/aman-churiwal/fx-gateway/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	nanoid "github.com/jaevor/go-nanoid"
)

const (
	keyPrefix      = "fx_"
	authCacheTTL   = 5 * time.Minute
	uniqueViolated = "23505"
	fkViolated     = "23503"
)

type TenantStore interface {
	Create(ctx context.Context, tenant *models.Tenant) error
	FindByHash(ctx context.Context, keyHash string) (*models.Tenant, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
	List(ctx context.Context) ([]models.Tenant, error)
	Update(ctx context.Context, id uuid.UUID, updates map[string]interface{}) (bool, error)
	UpdateLastUsed(ctx context.Context, id uuid.UUID, at time.Time) error
	Delete(ctx context.Context, id uuid.UUID) (bool, error)
}

type PlanStore interface {
	List(ctx context.Context) ([]models.Plan, error)
	FindByName(ctx context.Context, name string) (*models.Plan, error)
}

// Cache is the subset of storage.RedisClient the services use.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

type TenantService struct {
	tenants TenantStore
	plans   PlanStore
	cache   Cache
	newKey  func() string
	logger  *slog.Logger
}

func NewTenantService(tenants TenantStore, plans PlanStore, cache Cache, logger *slog.Logger) (*TenantService, error) {
	gen, err := nanoid.Standard(32)
	if err != nil {
		return nil, fmt.Errorf("failed to create key generator: %w", err)
	}

	return &TenantService{
		tenants: tenants,
		plans:   plans,
		cache:   cache,
		newKey:  gen,
		logger:  logger.With("component", "tenants"),
	}, nil
}

func HashKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

func authCacheKey(keyHash string) string {
	return fmt.Sprintf("tenant:auth:%s", keyHash)
}

// Create provisions a tenant on the named plan. The plain key is returned
// once and only its hash is stored.
func (s *TenantService) Create(ctx context.Context, name, planName string) (string, *models.Tenant, error) {
	plan, err := s.plans.FindByName(ctx, planName)
	if err != nil {
		return "", nil, apperr.Wrap(apperr.CodePersistenceError, "failed to load plan", err)
	}
	if plan == nil {
		return "", nil, apperr.InvalidParams("unknown plan %q", planName)
	}

	key := keyPrefix + s.newKey()
	tenant := &models.Tenant{
		Name:     name,
		KeyHash:  HashKey(key),
		PlanID:   plan.ID,
		IsActive: true,
	}

	if err := s.tenants.Create(ctx, tenant); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolated {
			return "", nil, apperr.New(apperr.CodeConflict, fmt.Sprintf("tenant %q already exists", name))
		}
		return "", nil, apperr.Wrap(apperr.CodePersistenceError, "failed to create tenant", err)
	}
	tenant.Plan = *plan

	s.logger.Info("tenant created", "tenant_id", tenant.ID, "plan", plan.Name)
	return key, tenant, nil
}

// Authenticate resolves an API key to its tenant. It returns AUTH_INVALID
// for unknown or deactivated keys.
func (s *TenantService) Authenticate(ctx context.Context, key string) (*models.Tenant, error) {
	keyHash := HashKey(key)
	cacheKey := authCacheKey(keyHash)

	var tenant *models.Tenant
	if cached, err := s.cache.Get(ctx, cacheKey); err == nil && cached != "" {
		var t models.Tenant
		if err := json.Unmarshal([]byte(cached), &t); err == nil {
			tenant = &t
		}
	}

	if tenant == nil {
		found, err := s.tenants.FindByHash(ctx, keyHash)
		if err != nil {
			return nil, apperr.Wrap(apperr.CodePersistenceError, "failed to look up API key", err)
		}
		if found == nil {
			return nil, apperr.New(apperr.CodeAuthInvalid, "Invalid API key")
		}
		tenant = found

		if payload, err := json.Marshal(tenant); err == nil {
			if err := s.cache.Set(ctx, cacheKey, payload, authCacheTTL); err != nil {
				s.logger.Warn("failed to cache tenant", "tenant_id", tenant.ID, "error", err)
			}
		}
	}

	if !tenant.IsActive {
		return nil, apperr.New(apperr.CodeAuthInvalid, "API key is disabled")
	}

	return tenant, nil
}

func (s *TenantService) Get(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	tenant, err := s.tenants.FindByID(ctx, id)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodePersistenceError, "failed to load tenant", err)
	}
	if tenant == nil {
		return nil, apperr.New(apperr.CodeNotFound, "tenant not found")
	}
	return tenant, nil
}

func (s *TenantService) List(ctx context.Context) ([]models.Tenant, error) {
	tenants, err := s.tenants.List(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodePersistenceError, "failed to list tenants", err)
	}
	return tenants, nil
}

type TenantUpdate struct {
	Plan     *string
	IsActive *bool
}

func (s *TenantService) Update(ctx context.Context, id uuid.UUID, upd TenantUpdate) (*models.Tenant, error) {
	updates := make(map[string]interface{})
	if upd.Plan != nil {
		plan, err := s.plans.FindByName(ctx, *upd.Plan)
		if err != nil {
			return nil, apperr.Wrap(apperr.CodePersistenceError, "failed to load plan", err)
		}
		if plan == nil {
			return nil, apperr.InvalidParams("unknown plan %q", *upd.Plan)
		}
		updates["plan_id"] = plan.ID
	}
	if upd.IsActive != nil {
		updates["is_active"] = *upd.IsActive
	}
	if len(updates) == 0 {
		return nil, apperr.InvalidParams("no fields to update")
	}

	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if _, err := s.tenants.Update(ctx, id, updates); err != nil {
		return nil, apperr.Wrap(apperr.CodePersistenceError, "failed to update tenant", err)
	}
	s.invalidate(ctx, existing.KeyHash)

	return s.Get(ctx, id)
}

func (s *TenantService) Delete(ctx context.Context, id uuid.UUID) error {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	if _, err := s.tenants.Delete(ctx, id); err != nil {
		// The usage ledger is kept; tenants with history can only be deactivated.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == fkViolated {
			return apperr.New(apperr.CodeConflict, "tenant has usage history, deactivate it instead")
		}
		return apperr.Wrap(apperr.CodePersistenceError, "failed to delete tenant", err)
	}
	s.invalidate(ctx, existing.KeyHash)

	s.logger.Info("tenant deleted", "tenant_id", id)
	return nil
}

// TouchLastUsed records the call time without blocking the request.
func (s *TenantService) TouchLastUsed(id uuid.UUID, at time.Time) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.tenants.UpdateLastUsed(ctx, id, at); err != nil {
			s.logger.Warn("failed to update last_used_at", "tenant_id", id, "error", err)
		}
	}()
}

func (s *TenantService) Plans(ctx context.Context) ([]models.Plan, error) {
	plans, err := s.plans.List(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodePersistenceError, "failed to list plans", err)
	}
	return plans, nil
}

func (s *TenantService) invalidate(ctx context.Context, keyHash string) {
	if err := s.cache.Del(ctx, authCacheKey(keyHash)); err != nil {
		s.logger.Warn("failed to invalidate tenant cache", "error", err)
	}
}
