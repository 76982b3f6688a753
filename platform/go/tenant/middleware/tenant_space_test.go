package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/clinicore/clinicore-backend/domains/tenants/be/service"
	"github.com/clinicore/clinicore-backend/platform/go/tenant"
)

type stubResolver struct {
	calls int
	res   map[uuid.UUID]service.Resolution
	err   map[uuid.UUID]error
}

func (s *stubResolver) Resolve(_ context.Context, id uuid.UUID) (service.Resolution, error) {
	s.calls++
	if err, ok := s.err[id]; ok {
		return service.Resolution{}, err
	}
	return s.res[id], nil
}

func newHandler(t *testing.T, resolver Resolver, cfg Config) (http.Handler, *tenant.Space) {
	t.Helper()

	var seen tenant.Space
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		space, ok := tenant.FromContext(r.Context())
		require.True(t, ok)
		seen = space
		w.WriteHeader(http.StatusOK)
	})
	if cfg.TenantID == nil {
		cfg.TenantID = HeaderTenantID("X-Tenant-ID")
	}
	return WithTenantSpace(resolver, cfg)(inner), &seen
}

func doRequest(handler http.Handler, tenantID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/patients", nil)
	if tenantID != "" {
		req.Header.Set("X-Tenant-ID", tenantID)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestWithTenantSpaceAttachesSpace(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	resolver := &stubResolver{res: map[uuid.UUID]service.Resolution{
		id: {
			Tenant:      service.Tenant{ID: id, Name: "North Clinic", DBName: tenant.BuildDBName(id)},
			Provisioned: true,
		},
	}}
	handler, seen := newHandler(t, resolver, Config{})

	rec := doRequest(handler, id.String())

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, id, seen.TenantID)
	require.Equal(t, tenant.BuildDBName(id), seen.DBName)
}

func TestWithTenantSpaceRejectsMissingHeader(t *testing.T) {
	t.Parallel()

	handler, _ := newHandler(t, &stubResolver{}, Config{})

	rec := doRequest(handler, "")

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Body.String(), "tenant_required")
}

func TestWithTenantSpaceStatusMapping(t *testing.T) {
	t.Parallel()

	notFound := uuid.New()
	inactive := uuid.New()
	unavailable := uuid.New()
	resolver := &stubResolver{err: map[uuid.UUID]error{
		notFound:    service.ErrNotFound,
		inactive:    service.ErrInactive,
		unavailable: service.ErrConnectionUnavailable,
	}}
	handler, _ := newHandler(t, resolver, Config{})

	require.Equal(t, http.StatusNotFound, doRequest(handler, notFound.String()).Code)
	require.Equal(t, http.StatusForbidden, doRequest(handler, inactive.String()).Code)
	require.Equal(t, http.StatusServiceUnavailable, doRequest(handler, unavailable.String()).Code)
}

func TestWithTenantSpaceSignalsProvisioningRequired(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	resolver := &stubResolver{res: map[uuid.UUID]service.Resolution{
		id: {Tenant: service.Tenant{ID: id}, Provisioned: false},
	}}
	handler, _ := newHandler(t, resolver, Config{})

	rec := doRequest(handler, id.String())

	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "provisioning_required")
}

func TestWithTenantSpaceCachesProvisionedResolutions(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	resolver := &stubResolver{res: map[uuid.UUID]service.Resolution{
		id: {Tenant: service.Tenant{ID: id}, Provisioned: true},
	}}
	handler, _ := newHandler(t, resolver, Config{CacheTTL: time.Minute})

	require.Equal(t, http.StatusOK, doRequest(handler, id.String()).Code)
	require.Equal(t, http.StatusOK, doRequest(handler, id.String()).Code)
	require.Equal(t, 1, resolver.calls)
}

func TestWithTenantSpaceNeverCachesUnprovisioned(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	resolver := &stubResolver{res: map[uuid.UUID]service.Resolution{
		id: {Tenant: service.Tenant{ID: id}, Provisioned: false},
	}}
	handler, _ := newHandler(t, resolver, Config{CacheTTL: time.Minute})

	require.Equal(t, http.StatusConflict, doRequest(handler, id.String()).Code)

	// Provisioning completed between the two requests.
	resolver.res[id] = service.Resolution{Tenant: service.Tenant{ID: id}, Provisioned: true}
	require.Equal(t, http.StatusOK, doRequest(handler, id.String()).Code)
	require.Equal(t, 2, resolver.calls)
}
