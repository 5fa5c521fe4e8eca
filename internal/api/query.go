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
	"net/http"
	"strings"

	"spool/pkg/spool"
)

// printersHandler lists every configured printer with presence and queue
// depth joined in, sorted by serial.
func (a *API) printersHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	out := make([]spool.PrinterStatus, 0)
	for _, serial := range a.Registry.Serials() {
		out = append(out, a.printerStatus(serial))
	}
	writeJSON(w, http.StatusOK, out)
}

// printerSubHandler routes /api/printers/online and
// /api/printers/{serial}/history.
func (a *API) printerSubHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/printers/")
	if rest == "online" {
		a.handleOnline(w, r)
		return
	}
	serial, tail, found := strings.Cut(rest, "/")
	if !found || tail != "history" || serial == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	a.handleHistory(w, serial)
}

// handleOnline lists printers seen inside the presence window, most recent
// first. A serial dropped from the mapping but still polling shows up with
// an empty tenant list rather than disappearing from the view.
func (a *API) handleOnline(w http.ResponseWriter, r *http.Request) {
	out := make([]spool.PrinterStatus, 0)
	if a.Presence != nil {
		for _, entry := range a.Presence.OnlineSnapshot(a.now()) {
			out = append(out, a.printerStatus(entry.Serial))
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleHistory(w http.ResponseWriter, serial string) {
	var entries []spool.HistoryEntry
	if a.History != nil {
		entries = a.History.For(serial)
	}
	if len(entries) == 0 && !a.Registry.KnownSerial(serial) {
		writeError(w, http.StatusNotFound, "unknown serial: "+serial)
		return
	}
	if entries == nil {
		entries = []spool.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// queueHandler returns the tenant's queue snapshot in creation order. The
// tenant stays queryable while jobs linger even if a mapping refresh just
// dropped it.
func (a *API) queueHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	tenant := strings.TrimPrefix(r.URL.Path, "/api/queues/")
	if tenant == "" || strings.Contains(tenant, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if !a.Registry.KnownTenant(tenant) && a.Store.Depth(tenant) == 0 {
		writeError(w, http.StatusNotFound, "Unknown restaurantId: "+tenant)
		return
	}
	jobs := a.Store.Snapshot(tenant)
	if jobs == nil {
		jobs = []spool.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

// presenceHandler dumps the raw poll tracker, most recent first.
func (a *API) presenceHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	out := make([]spool.PresenceEntry, 0)
	if a.Presence != nil {
		out = a.Presence.Snapshot(a.now())
	}
	if out == nil {
		out = []spool.PresenceEntry{}
	}
	writeJSON(w, http.StatusOK, out)
}

// printerStatus joins one serial's mapping, presence, and queue depth.
func (a *API) printerStatus(serial string) spool.PrinterStatus {
	tenants := a.Registry.TenantsFor(serial)
	if tenants == nil {
		tenants = []string{}
	}
	status := spool.PrinterStatus{Serial: serial, Tenants: tenants}
	for _, tenant := range tenants {
		status.Queued += a.Store.Depth(tenant)
	}
	if a.Presence != nil {
		now := a.now()
		status.Online = a.Presence.Online(serial, now)
		if seen, addr, ok := a.Presence.LastSeen(serial); ok {
			status.LastSeen = &seen
			status.Addr = addr
		}
	}
	return status
}
