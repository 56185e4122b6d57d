package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aman-churiwal/fx-gateway/internal/apperr"
	"github.com/aman-churiwal/fx-gateway/internal/models"
	"github.com/aman-churiwal/fx-gateway/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTenants struct {
	tenants map[uuid.UUID]*models.Tenant
}

func (f *fakeTenants) Create(_ context.Context, name, planName string) (string, *models.Tenant, error) {
	if planName != "free" {
		return "", nil, apperr.InvalidParams("unknown plan %q", planName)
	}
	for _, t := range f.tenants {
		if t.Name == name {
			return "", nil, apperr.New(apperr.CodeConflict, "tenant already exists")
		}
	}
	t := &models.Tenant{ID: uuid.New(), Name: name, Plan: freePlan, IsActive: true}
	f.tenants[t.ID] = t
	return "fx_secret", t, nil
}

func (f *fakeTenants) Get(_ context.Context, id uuid.UUID) (*models.Tenant, error) {
	t, ok := f.tenants[id]
	if !ok {
		return nil, apperr.New(apperr.CodeNotFound, "tenant not found")
	}
	return t, nil
}

func (f *fakeTenants) List(context.Context) ([]models.Tenant, error) {
	out := []models.Tenant{}
	for _, t := range f.tenants {
		out = append(out, *t)
	}
	return out, nil
}

func (f *fakeTenants) Update(ctx context.Context, id uuid.UUID, upd service.TenantUpdate) (*models.Tenant, error) {
	t, err := f.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if upd.IsActive != nil {
		t.IsActive = *upd.IsActive
	}
	return t, nil
}

func (f *fakeTenants) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := f.Get(ctx, id); err != nil {
		return err
	}
	delete(f.tenants, id)
	return nil
}

func (f *fakeTenants) Plans(context.Context) ([]models.Plan, error) {
	return []models.Plan{freePlan}, nil
}

func newTenantRouter() *gin.Engine {
	h := NewTenantHandler(&fakeTenants{tenants: map[uuid.UUID]*models.Tenant{}})
	r := gin.New()
	r.POST("/admin/tenants", h.Create)
	r.GET("/admin/tenants", h.List)
	r.GET("/admin/tenants/:id", h.Get)
	r.PATCH("/admin/tenants/:id", h.Update)
	r.DELETE("/admin/tenants/:id", h.Delete)
	r.GET("/admin/plans", h.Plans)
	return r
}

func send(r *gin.Engine, method, url string, body any) (*httptest.ResponseRecorder, map[string]any) {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var out map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func TestTenantLifecycle(t *testing.T) {
	r := newTenantRouter()

	w, body := send(r, http.MethodPost, "/admin/tenants", gin.H{"name": "acme", "plan": "free"})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "fx_secret", body["key"])
	id := body["tenant"].(map[string]any)["id"].(string)
	assert.NotContains(t, w.Body.String(), "key_hash")

	w, _ = send(r, http.MethodPost, "/admin/tenants", gin.H{"name": "acme", "plan": "free"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w, body = send(r, http.MethodPatch, "/admin/tenants/"+id, gin.H{"is_active": false})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["is_active"])

	w, _ = send(r, http.MethodDelete, "/admin/tenants/"+id, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, body = send(r, http.MethodGet, "/admin/tenants/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", body["code"])
}

func TestTenantCreate_Validation(t *testing.T) {
	r := newTenantRouter()

	w, body := send(r, http.MethodPost, "/admin/tenants", gin.H{"name": "acme"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_PARAMS", body["code"])

	w, _ = send(r, http.MethodPost, "/admin/tenants", gin.H{"name": "acme", "plan": "gold"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = send(r, http.MethodGet, "/admin/tenants/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
