package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/tableup/scheduler/internal/apperr"
	"github.com/tableup/scheduler/internal/models"
)

func (r *Router) templatesCollection(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodPost:
		r.createTemplate(w, req)
	case http.MethodGet:
		r.listTemplates(w, req)
	default:
		writeError(w, apperr.Invalid("method not allowed"))
	}
}

func (r *Router) templatesItem(w http.ResponseWriter, req *http.Request) {
	idStr := strings.TrimPrefix(req.URL.Path, "/v1/templates/")
	id, err := uuid.Parse(idStr)
	if err != nil {
		writeError(w, apperr.Invalid("malformed template id"))
		return
	}
	switch req.Method {
	case http.MethodDelete:
		r.deleteTemplate(w, req, id)
	case http.MethodPost:
		r.setDefaultTemplate(w, req, id)
	default:
		writeError(w, apperr.Invalid("method not allowed"))
	}
}

func (r *Router) listTemplates(w http.ResponseWriter, req *http.Request) {
	tenant, err := r.boundTenant(req)
	if err != nil {
		writeError(w, err)
		return
	}
	templates, err := r.store.ListTemplates(req.Context(), tenant.ID)
	if err != nil {
		writeError(w, apperr.Transient("list templates", err))
		return
	}
	writeJSON(w, http.StatusOK, templates)
}

func (r *Router) createTemplate(w http.ResponseWriter, req *http.Request) {
	var in CreateTemplateRequest
	if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
		writeError(w, apperr.Invalid("malformed request body"))
		return
	}
	if strings.TrimSpace(in.Name) == "" {
		writeError(w, apperr.Invalid("name is required"))
		return
	}

	tenant, err := r.boundTenant(req)
	if err != nil {
		writeError(w, err)
		return
	}

	existing, err := r.store.ListTemplates(req.Context(), tenant.ID)
	if err != nil {
		writeError(w, apperr.Transient("list templates", err))
		return
	}

	t := &models.Template{
		TenantID:            tenant.ID,
		Name:                sanitize(in.Name),
		OrderIdx:            len(existing),
		IsDefault:           in.IsDefault,
		DefaultTitle:        sanitizePtr(in.DefaultTitle),
		DefaultDescription:  sanitizePtr(in.DefaultDescription),
		DefaultMaxPlayers:   in.DefaultMaxPlayers,
		DefaultMinPlayers:   in.DefaultMinPlayers,
		DefaultDurationMins: in.DefaultDurationMins,
	}
	if err := r.store.InsertTemplate(req.Context(), t); err != nil {
		writeError(w, apperr.Transient("insert template", err))
		return
	}
	if t.IsDefault {
		if err := r.store.SetDefaultTemplate(req.Context(), tenant.ID, t.ID); err != nil {
			writeError(w, apperr.Transient("set default template", err))
			return
		}
	}
	writeJSON(w, http.StatusCreated, t)
}

func (r *Router) deleteTemplate(w http.ResponseWriter, req *http.Request, id uuid.UUID) {
	if err := r.store.DeleteTemplate(req.Context(), id); err != nil {
		writeError(w, apperr.Transient("delete template", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) setDefaultTemplate(w http.ResponseWriter, req *http.Request, id uuid.UUID) {
	tenant, err := r.boundTenant(req)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := r.store.SetDefaultTemplate(req.Context(), tenant.ID, id); err != nil {
		writeError(w, apperr.Transient("set default template", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
