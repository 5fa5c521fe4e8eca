// Spool is a print dispatch service for networked receipt printers.
// Copyright (C) 2025  Matthew Burns
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package api

import (
	"errors"
	"net/http"
	"strings"

	"spool/internal/audit"
	"spool/internal/metrics"
	"spool/pkg/auth"
	"spool/pkg/spool"
)

// reloadHandler forces a mapping refresh, bypassing the loader throttle.
// Operators hit this after editing the upstream mapping instead of waiting
// out the refresh interval.
func (a *API) reloadHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !a.adminAuthorized(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if a.Loader == nil {
		writeError(w, http.StatusNotFound, "no mapping source configured")
		return
	}
	if err := a.Loader.ForceRefresh(r.Context()); err != nil {
		a.Logger.Error("forced mapping refresh failed", "error", err)
		writeError(w, http.StatusInternalServerError, "mapping refresh failed: "+err.Error())
		return
	}

	serials := len(a.Registry.Serials())
	a.Logger.Info("mapping refreshed by operator", "serials", serials, "client", clientIP(r))
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "serials": serials})
}

// jobHandler serves /api/jobs/{token}: GET returns the live job view,
// GET {token}/trail the persisted audit trail, DELETE drops the job from
// its queue regardless of state.
func (a *API) jobHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	token, sub, _ := strings.Cut(rest, "/")
	if token == "" || (sub != "" && sub != "trail") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	switch {
	case r.Method == http.MethodGet && sub == "trail":
		a.handleJobTrail(w, r, token)
	case r.Method == http.MethodGet:
		a.handleJobView(w, token)
	case r.Method == http.MethodDelete && sub == "":
		a.handleJobDrop(w, r, token)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleJobView reports the current state of a live job. Jobs leave the
// store on completion or drop, so a 404 here only means "no longer queued";
// the trail endpoint covers finished jobs.
func (a *API) handleJobView(w http.ResponseWriter, token string) {
	job, ok := a.Store.Peek(token)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown token: "+token)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (a *API) handleJobTrail(w http.ResponseWriter, r *http.Request, token string) {
	if a.Trail == nil {
		writeError(w, http.StatusNotFound, "audit log not enabled")
		return
	}
	events, err := a.Trail.TokenEvents(r.Context(), token)
	if err != nil {
		if errors.Is(err, audit.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no events for token: "+token)
			return
		}
		a.Logger.Error("audit trail query failed", "token", token, "error", err)
		writeError(w, http.StatusInternalServerError, "audit query failed")
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// handleJobDrop is the administrative escape hatch for a wedged job, for
// example a render-failed entry that keeps a queue depth alarm ringing.
func (a *API) handleJobDrop(w http.ResponseWriter, r *http.Request, token string) {
	if !a.adminAuthorized(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	info, ok := a.Store.Remove(token)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown token: "+token)
		return
	}
	a.record(audit.Event{
		Stage:  spool.StageFailed,
		Token:  token,
		Tenant: info.Tenant,
		Serial: info.Serial,
		Detail: "dropped by operator",
	})
	metrics.SetQueueDepth(info.Tenant, a.Store.Depth(info.Tenant))
	a.Logger.Info("job dropped by operator",
		"token", token, "tenant", info.Tenant, "client", clientIP(r))
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "token": token})
}

// adminAuthorized checks the request against the configured bcrypt hash.
// An empty hash leaves the admin surface open for closed deployments.
func (a *API) adminAuthorized(r *http.Request) bool {
	if a.AdminTokenHash == "" {
		return true
	}
	token := r.Header.Get("X-Admin-Token")
	if h := r.Header.Get("Authorization"); h != "" {
		if bearer, ok := strings.CutPrefix(h, "Bearer "); ok {
			token = bearer
		}
	}
	if token == "" {
		return false
	}
	return auth.VerifyToken(token, a.AdminTokenHash) == nil
}
