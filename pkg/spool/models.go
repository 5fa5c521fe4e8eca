// Spool is a print dispatch service for networked receipt printers.
// Copyright (C) 2025 Matthew Burns
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

// Package spool contains the shared data models used by the dispatch
// server, the spoolctl CLI, and tests. The wire-facing field names follow
// the upstream point-of-sale conventions (camelCase, restaurantId).
package spool

import "time"

// JobStatus tracks a print job through the dispatch lifecycle.
type JobStatus string

const (
	// StatusQueued means the job is waiting for a printer poll. Content
	// may still be rendering; a queued job is only offered once content
	// is attached.
	StatusQueued JobStatus = "queued"

	// StatusOffered means a poll response handed the job's token to a
	// printer and the service is waiting for the content fetch.
	StatusOffered JobStatus = "offered"

	// StatusSent means the printer fetched the content and the service is
	// waiting for the print confirmation.
	StatusSent JobStatus = "sent"

	// StatusDone means the printer confirmed the print. Done jobs leave
	// the queue immediately; the status appears only in history and audit.
	StatusDone JobStatus = "done"

	// StatusFailed means rendering failed before any content was
	// attached. Failed jobs stay visible in queue snapshots and are never
	// offered.
	StatusFailed JobStatus = "failed"
)

// Valid reports whether the status is one of the defined constants.
func (s JobStatus) Valid() bool {
	switch s {
	case StatusQueued, StatusOffered, StatusSent, StatusDone, StatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status ends the lifecycle.
func (s JobStatus) IsTerminal() bool {
	return s == StatusDone || s == StatusFailed
}

func (s JobStatus) String() string { return string(s) }

// Stage identifies a lifecycle transition recorded in per-printer history
// and in the audit stream. Stages are observability labels; they are looser
// than JobStatus because a single status can be reached in different ways.
type Stage string

const (
	StageReceived  Stage = "received"  // job accepted at intake
	StageOffered   Stage = "offered"   // token handed out on a poll
	StageSent      Stage = "sent"      // content fetched by the printer
	StageCompleted Stage = "completed" // printer confirmed success
	StageFailed    Stage = "failed"    // printer reported a print failure
	StageRequeued  Stage = "requeued"  // sweeper rewound a stalled job
	// StageRenderFailed marks the terminal render error; the job never
	// reached a printer.
	StageRenderFailed Stage = "render-failed"
)

// Valid reports whether the stage is one of the defined constants.
func (s Stage) Valid() bool {
	switch s {
	case StageReceived, StageOffered, StageSent, StageCompleted,
		StageFailed, StageRequeued, StageRenderFailed:
		return true
	default:
		return false
	}
}

func (s Stage) String() string { return string(s) }

// OrderMeta is the passthrough metadata captured at intake and echoed in
// queue snapshots, history, and audit events. The dispatch path never
// interprets it.
type OrderMeta struct {
	OrderID     string `json:"orderId,omitempty"`
	OrderNumber string `json:"orderNumber,omitempty"`
	Customer    string `json:"customerName,omitempty"`
}

// Job is the externally visible snapshot of a print job as returned by the
// queue introspection endpoint. Timestamps are pointers so that states
// which have not happened serialize as absent rather than zero.
type Job struct {
	Token      string     `json:"token"`
	Tenant     string     `json:"restaurantId"`
	Status     JobStatus  `json:"status"`
	HasContent bool       `json:"hasContent"`
	CreatedAt  time.Time  `json:"createdAt"`
	OfferedAt  *time.Time `json:"offeredAt,omitempty"`
	SentAt     *time.Time `json:"sentAt,omitempty"`
	// Serial is the printer the job was most recently offered to, empty
	// until the first offer.
	Serial string    `json:"serial,omitempty"`
	Meta   OrderMeta `json:"meta"`
}

// HistoryEntry is one row in a printer's dispatch history ring.
type HistoryEntry struct {
	At       time.Time `json:"at"`
	Tenant   string    `json:"restaurantId"`
	Stage    Stage     `json:"stage"`
	Token    string    `json:"token"`
	Customer string    `json:"customer,omitempty"`
	Order    string    `json:"order,omitempty"`
}

// PrinterStatus is a row in the configured-printer listing: the registry
// mapping joined with presence and queue depth.
type PrinterStatus struct {
	Serial   string     `json:"serial"`
	Tenants  []string   `json:"restaurantIds"`
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
	Addr     string     `json:"addr,omitempty"`
	// Queued counts every live job across the printer's tenants, failed
	// renders included.
	Queued int `json:"queuedJobs"`
}

// PresenceEntry is a row in the raw presence dump. Unlike PrinterStatus it
// only contains serials that have actually polled.
type PresenceEntry struct {
	Serial   string    `json:"serial"`
	LastSeen time.Time `json:"lastSeen"`
	AgeMS    int64     `json:"ageMs"`
	Addr     string    `json:"addr,omitempty"`
	Online   bool      `json:"online"`
}
