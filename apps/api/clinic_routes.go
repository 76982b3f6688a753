package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	platformlogging "github.com/clinicore/clinicore-backend/platform/go/logging"
	"github.com/clinicore/clinicore-backend/platform/go/persistence"
	"github.com/clinicore/clinicore-backend/platform/go/tenant"
)

// newClinicRoutes serves the generic per-clinic entity surface. Every
// request already carries a tenant Space with a live pool; the model cache
// hands out table accessors bound to that same pool.
func newClinicRoutes(cache *persistence.ModelCache, logger *zap.Logger) chi.Router {
	r := chi.NewRouter()

	r.Get("/{entity}", func(w http.ResponseWriter, req *http.Request) {
		model, ok := entityModel(w, req, cache)
		if !ok {
			return
		}
		count, err := model.Count(req.Context())
		if err != nil {
			writeClinicError(w, req, logger, err)
			return
		}
		writeClinicJSON(w, http.StatusOK, map[string]any{"entity": model.Table(), "count": count})
	})

	r.Get("/{entity}/{id}", func(w http.ResponseWriter, req *http.Request) {
		model, ok := entityModel(w, req, cache)
		if !ok {
			return
		}
		id, err := uuid.Parse(chi.URLParam(req, "id"))
		if err != nil {
			writeClinicJSON(w, http.StatusBadRequest, map[string]string{"code": "validation", "message": "id must be a UUID"})
			return
		}
		row, err := model.FindByID(req.Context(), id)
		if errors.Is(err, persistence.ErrRowNotFound) {
			writeClinicJSON(w, http.StatusNotFound, map[string]string{"code": "not_found", "message": "row not found"})
			return
		}
		if err != nil {
			writeClinicError(w, req, logger, err)
			return
		}
		writeClinicJSON(w, http.StatusOK, row)
	})

	r.Post("/{entity}", func(w http.ResponseWriter, req *http.Request) {
		model, ok := entityModel(w, req, cache)
		if !ok {
			return
		}
		var values map[string]any
		if err := json.NewDecoder(req.Body).Decode(&values); err != nil {
			writeClinicJSON(w, http.StatusBadRequest, map[string]string{"code": "invalid_body", "message": "request body must be a JSON object"})
			return
		}
		id, err := model.Insert(req.Context(), values)
		if err != nil {
			writeClinicError(w, req, logger, err)
			return
		}
		writeClinicJSON(w, http.StatusCreated, map[string]any{"id": id})
	})

	return r
}

func entityModel(w http.ResponseWriter, req *http.Request, cache *persistence.ModelCache) (*persistence.EntityModel, bool) {
	space, ok := tenant.FromContext(req.Context())
	if !ok {
		writeClinicJSON(w, http.StatusInternalServerError, map[string]string{"code": "internal", "message": "tenant space missing"})
		return nil, false
	}

	model, err := cache.Entity(space.Pool, chi.URLParam(req, "entity"))
	if err != nil {
		writeClinicJSON(w, http.StatusNotFound, map[string]string{"code": "unknown_entity", "message": err.Error()})
		return nil, false
	}
	return model, true
}

func writeClinicError(w http.ResponseWriter, req *http.Request, logger *zap.Logger, err error) {
	platformlogging.FromRequest(req, logger).Error("clinic request failed",
		zap.String("path", req.URL.Path), zap.Error(err))
	writeClinicJSON(w, http.StatusInternalServerError, map[string]string{"code": "internal", "message": "internal error"})
}

func writeClinicJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
