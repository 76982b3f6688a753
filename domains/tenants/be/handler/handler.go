package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clinicore/clinicore-backend/domains/tenants/be/provisioning"
	"github.com/clinicore/clinicore-backend/domains/tenants/be/service"
)

// Handler exposes tenant lifecycle administration over HTTP. These routes are
// operator-facing: registration, provisioning, integrity and drift tooling.
type Handler struct {
	svc         *service.Service
	provisioner *provisioning.Provisioner
	checker     *provisioning.Checker
	logger      *zap.Logger
}

// New constructs a Handler instance.
func New(svc *service.Service, provisioner *provisioning.Provisioner, checker *provisioning.Checker, logger *zap.Logger) *Handler {
	if svc == nil || provisioner == nil || checker == nil {
		panic("tenants handler requires service, provisioner and checker")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, provisioner: provisioner, checker: checker, logger: logger}
}

// Routes mounts the admin surface on a chi router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/tenants", h.create)
	r.Get("/tenants", h.list)
	r.Get("/tenants/diagnose", h.diagnose)
	r.Get("/tenants/{tenantID}", h.get)
	r.Delete("/tenants/{tenantID}", h.deactivate)
	r.Post("/tenants/{tenantID}/provision", h.provision)
	r.Get("/tenants/{tenantID}/integrity", h.integrity)
	r.Post("/tenants/{tenantID}/repair", h.repair)
	r.Post("/tenants/{tenantID}/cleanup", h.cleanup)
	return r
}

type createRequest struct {
	Name       string `json:"name"`
	Country    string `json:"country"`
	DBHost     string `json:"db_host"`
	DBPort     int    `json:"db_port"`
	DBUser     string `json:"db_user"`
	DBPassword string `json:"db_password"`
}

// tenantResponse deliberately omits db_password: the secret reference never
// leaves the central store.
type tenantResponse struct {
	ID               uuid.UUID  `json:"id"`
	Name             string     `json:"name"`
	Country          string     `json:"country"`
	DBName           string     `json:"db_name"`
	DBHost           string     `json:"db_host"`
	DBPort           int        `json:"db_port"`
	Provisioned      bool       `json:"provisioned"`
	SetupCompletedAt *time.Time `json:"setup_completed_at,omitempty"`
	IsActive         bool       `json:"is_active"`
	CreatedAt        time.Time  `json:"created_at"`
}

func toResponse(t service.Tenant) tenantResponse {
	return tenantResponse{
		ID:               t.ID,
		Name:             t.Name,
		Country:          t.Country,
		DBName:           t.DBName,
		DBHost:           t.DBHost,
		DBPort:           t.DBPort,
		Provisioned:      t.Provisioned,
		SetupCompletedAt: t.SetupCompletedAt,
		IsActive:         t.IsActive,
		CreatedAt:        t.CreatedAt,
	}
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_body", "request body must be valid JSON")
		return
	}
	if req.Name == "" {
		h.writeError(w, http.StatusBadRequest, "validation", "name is required")
		return
	}

	t, err := h.svc.Create(r.Context(), service.CreateInput{
		Name:       req.Name,
		Country:    req.Country,
		DBHost:     req.DBHost,
		DBPort:     req.DBPort,
		DBUser:     req.DBUser,
		DBPassword: req.DBPassword,
	})
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	w.Header().Set("Location", "/api/v1/admin/tenants/"+t.ID.String())
	h.writeJSON(w, http.StatusCreated, toResponse(t))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	includeDeleted := r.URL.Query().Get("include_deleted") == "true"
	tenants, err := h.svc.List(r.Context(), includeDeleted)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	items := make([]tenantResponse, 0, len(tenants))
	for _, t := range tenants {
		items = append(items, toResponse(t))
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tenantID(w, r)
	if !ok {
		return
	}
	t, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toResponse(t))
}

func (h *Handler) deactivate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tenantID(w, r)
	if !ok {
		return
	}
	softDelete := r.URL.Query().Get("soft_delete") == "true"
	if err := h.svc.Deactivate(r.Context(), id, softDelete); err != nil {
		h.serviceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) provision(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tenantID(w, r)
	if !ok {
		return
	}
	result, err := h.provisioner.Provision(r.Context(), id)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	status := http.StatusCreated
	if result.AlreadyProvisioned {
		status = http.StatusOK
	}
	h.writeJSON(w, status, result)
}

func (h *Handler) integrity(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tenantID(w, r)
	if !ok {
		return
	}
	report, err := h.checker.CheckIntegrity(r.Context(), id)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

func (h *Handler) repair(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tenantID(w, r)
	if !ok {
		return
	}
	result, err := h.checker.Repair(r.Context(), id)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) cleanup(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tenantID(w, r)
	if !ok {
		return
	}
	if err := h.provisioner.CleanupFailedProvisioning(r.Context(), id); err != nil {
		h.serviceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) diagnose(w http.ResponseWriter, r *http.Request) {
	report, err := h.checker.Diagnose(r.Context())
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

func (h *Handler) tenantID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "tenantID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "validation", "tenantID must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) serviceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "tenant_not_found", "tenant not found")
	case errors.Is(err, service.ErrInactive):
		h.writeError(w, http.StatusForbidden, "tenant_inactive", "tenant is disabled")
	case errors.Is(err, service.ErrProvisioningInProgress):
		h.writeError(w, http.StatusConflict, "provisioning_in_progress", "another provisioning attempt is running")
	case errors.Is(err, service.ErrAlreadyProvisioned):
		h.writeError(w, http.StatusConflict, "already_provisioned", err.Error())
	case errors.Is(err, service.ErrVerificationFailed):
		h.writeError(w, http.StatusUnprocessableEntity, "verification_failed", err.Error())
	case errors.Is(err, service.ErrProvisioningFailed):
		h.writeError(w, http.StatusUnprocessableEntity, "provisioning_failed", err.Error())
	case errors.Is(err, service.ErrConnectionUnavailable):
		h.writeError(w, http.StatusServiceUnavailable, "tenant_unavailable", "tenant database unavailable")
	default:
		h.logger.Error("tenant admin request failed", zap.String("path", r.URL.Path), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("encode response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, map[string]string{"code": code, "message": message})
}
