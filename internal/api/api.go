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

// Package api implements the HTTP surface of the dispatch service: the
// printer-facing protocol on /cloudprnt, order intake on /api/print, the
// operator query endpoints, and the admin actions.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"spool/internal/audit"
	"spool/internal/queue"
	"spool/internal/render"
	"spool/pkg/spool"
)

// mediaTypePNG is the only content encoding printers may fetch.
const mediaTypePNG = "image/png"

// Mapping is the registry surface the handlers consume.
type Mapping interface {
	TenantsFor(serial string) []string
	SerialsFor(tenant string) []string
	KnownSerial(serial string) bool
	KnownTenant(tenant string) bool
	Serials() []string
}

// JobStore is the queue surface the handlers consume.
type JobStore interface {
	Create(tenant string, meta spool.OrderMeta) string
	AttachContent(token string, content []byte) bool
	MarkRenderFailed(token string) (queue.JobInfo, bool)
	SelectForSerial(serial string) (queue.Offer, bool)
	Fetch(token string) ([]byte, queue.JobInfo, queue.FetchOutcome, bool)
	Confirm(token string) (queue.JobInfo, bool)
	Reject(token string) (queue.JobInfo, bool, bool)
	Remove(token string) (queue.JobInfo, bool)
	Peek(token string) (spool.Job, bool)
	Snapshot(tenant string) []spool.Job
	Depth(tenant string) int
}

// PresenceTracker records printer poll activity.
type PresenceTracker interface {
	MarkSeen(serial, addr string, now time.Time)
	LastSeen(serial string) (time.Time, string, bool)
	Online(serial string, now time.Time) bool
	Snapshot(now time.Time) []spool.PresenceEntry
	OnlineSnapshot(now time.Time) []spool.PresenceEntry
}

// SerialSweeper requeues stale deliveries for one printer's tenants.
type SerialSweeper interface {
	SweepSerial(tenants []string)
}

// RenderBroker accepts asynchronous render work.
type RenderBroker interface {
	Submit(job render.Job)
}

// MappingRefresher exposes the config loader operations the handlers need.
type MappingRefresher interface {
	EnsureFresh(ctx context.Context)
	ForceRefresh(ctx context.Context) error
	Ready() bool
}

// AuditReader is the query side of a persistent audit sink. Only set when
// the service runs with a SQLite audit log.
type AuditReader interface {
	TokenEvents(ctx context.Context, token string) ([]audit.Event, error)
}

// Deps bundles the collaborators the API dispatches to. Registry and Store
// are required; the rest may be nil and the matching behavior is skipped.
type Deps struct {
	Registry Mapping
	Store    JobStore
	History  *queue.History
	Presence PresenceTracker
	Sweeper  SerialSweeper
	Broker   RenderBroker
	Loader   MappingRefresher
	Sink     audit.Sink
	Trail    AuditReader
}

// API serves the dispatch HTTP endpoints.
type API struct {
	Registry Mapping
	Store    JobStore
	History  *queue.History
	Presence PresenceTracker
	Sweeper  SerialSweeper
	Broker   RenderBroker
	Loader   MappingRefresher
	Sink     audit.Sink
	Trail    AuditReader

	// AdminTokenHash is the bcrypt hash admin requests must match. Empty
	// leaves the admin endpoints open.
	AdminTokenHash string

	Logger *slog.Logger
	Now    func() time.Time
}

// New creates an API. A nil logger falls back to slog.Default.
func New(d Deps, adminTokenHash string, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	sink := d.Sink
	if sink == nil {
		sink = audit.NopSink{}
	}
	return &API{
		Registry:       d.Registry,
		Store:          d.Store,
		History:        d.History,
		Presence:       d.Presence,
		Sweeper:        d.Sweeper,
		Broker:         d.Broker,
		Loader:         d.Loader,
		Sink:           sink,
		Trail:          d.Trail,
		AdminTokenHash: adminTokenHash,
		Logger:         logger,
		Now:            time.Now,
	}
}

// Register wires the API routes into the provided mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("/cloudprnt", a.cloudprntHandler)
	mux.HandleFunc("/api/print", a.intakeHandler)
	mux.HandleFunc("/api/printers", a.printersHandler)
	mux.HandleFunc("/api/printers/", a.printerSubHandler)
	mux.HandleFunc("/api/queues/", a.queueHandler)
	mux.HandleFunc("/api/presence", a.presenceHandler)
	mux.HandleFunc("/api/jobs/", a.jobHandler)
	mux.HandleFunc("/api/admin/reload", a.reloadHandler)
	mux.HandleFunc("/healthz", a.healthzHandler)
	mux.HandleFunc("/readyz", a.readyzHandler)
}

func (a *API) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

func (a *API) record(e audit.Event) {
	if a.Sink == nil {
		return
	}
	if e.At.IsZero() {
		e.At = a.now()
	}
	a.Sink.Record(e)
}

func (a *API) appendHistory(serial string, e spool.HistoryEntry) {
	if a.History == nil || serial == "" {
		return
	}
	if e.At.IsZero() {
		e.At = a.now()
	}
	a.History.Append(serial, e)
}

func (a *API) healthzHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// readyzHandler reports 503 until the first tenant mapping has loaded so a
// fronting balancer does not route printer polls into an empty registry.
func (a *API) readyzHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	ready := a.Loader == nil || a.Loader.Ready()
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]bool{"ready": ready})
}

// writeJSON writes v as the response body with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// apiError is the envelope for non-printer error responses.
type apiError struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, apiError{OK: false, Error: msg})
}

// clientIP extracts the requester address, honoring the first hop of an
// X-Forwarded-For header when present.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.Index(xff, ","); i >= 0 {
			xff = xff[:i]
		}
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
