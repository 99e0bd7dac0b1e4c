package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/tableup/scheduler/internal/apperr"
)

func (r *Router) tenantSettings(w http.ResponseWriter, req *http.Request) {
	tenant, err := r.boundTenant(req)
	if err != nil {
		writeError(w, err)
		return
	}

	switch req.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, tenant)
	case http.MethodPatch:
		var in UpdateTenantSettingsRequest
		if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
			writeError(w, apperr.Invalid("malformed request body"))
			return
		}
		if in.DefaultMaxPlayers != nil {
			tenant.DefaultMaxPlayers = in.DefaultMaxPlayers
		}
		if in.DefaultOffsets != nil {
			tenant.DefaultOffsets = in.DefaultOffsets
		}
		if in.HostRoleIDs != nil {
			tenant.HostRoleIDs = in.HostRoleIDs
		}
		if in.ManagerRoleIDs != nil {
			tenant.ManagerRoleIDs = in.ManagerRoleIDs
		}
		if in.NotifyRoleIDs != nil {
			tenant.NotifyRoleIDs = in.NotifyRoleIDs
		}
		if err := r.store.UpdateTenantSettings(req.Context(), tenant); err != nil {
			writeError(w, apperr.Transient("update tenant settings", err))
			return
		}
		writeJSON(w, http.StatusOK, tenant)
	default:
		writeError(w, apperr.Invalid("method not allowed"))
	}
}

func (r *Router) channelSettings(w http.ResponseWriter, req *http.Request) {
	idStr := strings.TrimPrefix(req.URL.Path, "/v1/channels/")
	id, err := uuid.Parse(idStr)
	if err != nil {
		writeError(w, apperr.Invalid("malformed channel id"))
		return
	}

	channel, err := r.store.GetChannelByID(req.Context(), id)
	if err != nil {
		writeError(w, apperr.NotFound("channel not found"))
		return
	}

	switch req.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, channel)
	case http.MethodPatch:
		var in UpdateChannelSettingsRequest
		if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
			writeError(w, apperr.Invalid("malformed request body"))
			return
		}
		if in.Active != nil {
			channel.Active = *in.Active
		}
		if in.Category != nil {
			category := sanitize(*in.Category)
			channel.Category = &category
		}
		if in.OverrideMaxPlayers != nil {
			channel.OverrideMaxPlayers = in.OverrideMaxPlayers
		}
		if in.OverrideOffsets != nil {
			channel.OverrideOffsets = in.OverrideOffsets
		}
		if err := r.store.UpdateChannelSettings(req.Context(), channel); err != nil {
			writeError(w, apperr.Transient("update channel settings", err))
			return
		}
		writeJSON(w, http.StatusOK, channel)
	default:
		writeError(w, apperr.Invalid("method not allowed"))
	}
}
