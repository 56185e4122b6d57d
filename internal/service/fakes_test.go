package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aman-churiwal/fx-gateway/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

var errMiss = errors.New("cache miss")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memCache struct {
	mu   sync.Mutex
	data map[string]string
	gets int
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string]string)}
}

func (c *memCache) Get(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	v, ok := c.data[key]
	if !ok {
		return "", errMiss
	}
	return v, nil
}

func (c *memCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch v := value.(type) {
	case []byte:
		c.data[key] = string(v)
	case string:
		c.data[key] = v
	}
	return nil
}

func (c *memCache) Del(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.data, k)
	}
	return nil
}

func (c *memCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[key]
	return ok
}

type memPlans struct {
	plans []models.Plan
}

func (p *memPlans) List(context.Context) ([]models.Plan, error) {
	return p.plans, nil
}

func (p *memPlans) FindByName(_ context.Context, name string) (*models.Plan, error) {
	for _, pl := range p.plans {
		if pl.Name == name {
			pl := pl
			return &pl, nil
		}
	}
	return nil, nil
}

type memTenants struct {
	mu      sync.Mutex
	byID    map[uuid.UUID]*models.Tenant
	plans   *memPlans
	lookups int
	// withUsage marks tenants that have ledger rows.
	withUsage map[uuid.UUID]bool
}

func newMemTenants(plans *memPlans) *memTenants {
	return &memTenants{byID: make(map[uuid.UUID]*models.Tenant), plans: plans}
}

func (m *memTenants) withPlan(t models.Tenant) *models.Tenant {
	for _, p := range m.plans.plans {
		if p.ID == t.PlanID {
			t.Plan = p
		}
	}
	return &t
}

func (m *memTenants) Create(_ context.Context, t *models.Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.byID {
		if strings.EqualFold(existing.Name, t.Name) {
			return &pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"}
		}
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	cp := *t
	m.byID[t.ID] = &cp
	return nil
}

func (m *memTenants) FindByHash(_ context.Context, hash string) (*models.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
	for _, t := range m.byID {
		if t.KeyHash == hash {
			return m.withPlan(*t), nil
		}
	}
	return nil, nil
}

func (m *memTenants) FindByID(_ context.Context, id uuid.UUID) (*models.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byID[id]
	if !ok {
		return nil, nil
	}
	return m.withPlan(*t), nil
}

func (m *memTenants) List(context.Context) ([]models.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Tenant, 0, len(m.byID))
	for _, t := range m.byID {
		out = append(out, *m.withPlan(*t))
	}
	return out, nil
}

func (m *memTenants) Update(_ context.Context, id uuid.UUID, updates map[string]interface{}) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byID[id]
	if !ok {
		return false, nil
	}
	if v, ok := updates["plan_id"]; ok {
		t.PlanID = v.(uint)
	}
	if v, ok := updates["is_active"]; ok {
		t.IsActive = v.(bool)
	}
	return true, nil
}

func (m *memTenants) UpdateLastUsed(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.byID[id]; ok {
		t.LastUsedAt = &at
	}
	return nil
}

func (m *memTenants) Delete(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.withUsage[id] {
		return false, &pgconn.PgError{Code: "23503", Message: "update or delete on table \"tenants\" violates foreign key constraint \"usage_tenant_id_fkey\""}
	}
	_, ok := m.byID[id]
	delete(m.byID, id)
	return ok, nil
}
