package settings

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/fleetorders/internal/domain"
	"github.com/joao-fontenele/fleetorders/internal/kv"
)

type brokenKV struct{}

func (brokenKV) Get(context.Context, string) ([]byte, error) { return nil, errors.New("disk gone") }
func (brokenKV) Put(context.Context, string, []byte) error  { return errors.New("disk gone") }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGetDefaultsWhenUnset(t *testing.T) {
	s := NewService(kv.NewMemoryStore(), discardLogger())

	cfg := s.Get(context.Background())

	assert.Equal(t, domain.DefaultNotificationConfig(), cfg)
}

func TestUpdatePersistsAndMerges(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	s := NewService(store, discardLogger())

	cfg, err := s.Update(ctx, map[string]bool{domain.CategoryDueSoon: false})
	require.NoError(t, err)
	assert.False(t, cfg[domain.CategoryDueSoon])
	assert.True(t, cfg[domain.CategoryOverdueOrders])

	cfg, err = s.Update(ctx, map[string]bool{domain.CategoryReminders: false})
	require.NoError(t, err)
	assert.False(t, cfg[domain.CategoryDueSoon], "earlier patch survives")
	assert.False(t, cfg[domain.CategoryReminders])

	reopened := NewService(store, discardLogger())
	assert.False(t, reopened.Enabled(ctx, domain.CategoryDueSoon))
	assert.True(t, reopened.Enabled(ctx, domain.CategoryNewOrders))
}

func TestUpdateRejectsUnknownCategory(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	s := NewService(store, discardLogger())

	_, err := s.Update(ctx, map[string]bool{"sms": true, domain.CategoryDueSoon: false})

	require.ErrorIs(t, err, ErrUnknownCategory)
	assert.Contains(t, err.Error(), "sms")
	_, getErr := store.Get(ctx, configKey)
	assert.ErrorIs(t, getErr, kv.ErrNotFound, "nothing written")
}

func TestStoredUnknownKeysAreDropped(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	require.NoError(t, store.Put(ctx, configKey, []byte(`{"dueSoon":false,"legacy":true}`)))

	cfg := NewService(store, discardLogger()).Get(ctx)

	assert.False(t, cfg[domain.CategoryDueSoon])
	assert.NotContains(t, cfg, "legacy")
}

func TestReadFailuresFallBackToDefaults(t *testing.T) {
	ctx := context.Background()

	s := NewService(brokenKV{}, discardLogger())
	assert.Equal(t, domain.DefaultNotificationConfig(), s.Get(ctx))
	assert.True(t, s.Enabled(ctx, domain.CategoryUrgentOrders))

	_, err := s.Update(ctx, map[string]bool{domain.CategoryDueSoon: false})
	assert.Error(t, err)

	corrupt := kv.NewMemoryStore()
	require.NoError(t, corrupt.Put(ctx, configKey, []byte("{")))
	assert.Equal(t, domain.DefaultNotificationConfig(), NewService(corrupt, discardLogger()).Get(ctx))
}

func newTestMux() *http.ServeMux {
	mux := http.NewServeMux()
	h := NewHandler(NewService(kv.NewMemoryStore(), discardLogger()), discardLogger())
	h.Register(mux, func(fn http.HandlerFunc) http.HandlerFunc { return fn })
	return mux
}

func TestHandleGetAndUpdate(t *testing.T) {
	mux := newTestMux()

	req := httptest.NewRequest(http.MethodPut, "/settings/notifications", strings.NewReader(`{"overdueOrders":false}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/settings/notifications", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"overdueOrders":false`) {
		t.Errorf("expected overdueOrders disabled, got %s", rec.Body.String())
	}
}

func TestHandleUpdateBadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "malformed json", body: `{`},
		{name: "unknown category", body: `{"carrierPigeon":true}`},
		{name: "non boolean value", body: `{"dueSoon":"off"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPut, "/settings/notifications", strings.NewReader(tt.body))
			newTestMux().ServeHTTP(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected status 400, got %d", rec.Code)
			}
		})
	}
}
