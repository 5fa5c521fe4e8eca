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

// Package audit streams job lifecycle events to an optional sink. Dispatch
// state itself stays in memory; the sink is the one place an operator can
// reconstruct what happened after a restart.
package audit

import (
	"time"

	"spool/pkg/spool"
)

// Event is one lifecycle transition.
type Event struct {
	At     time.Time
	Stage  spool.Stage
	Token  string
	Tenant string
	Serial string
	Detail string
}

// Sink receives lifecycle events. Record must never block the caller:
// dispatch latency outranks audit completeness, so a slow sink drops
// events.
type Sink interface {
	Record(Event)
	Close() error
}

// NopSink drops everything. The default when no audit database is
// configured.
type NopSink struct{}

func (NopSink) Record(Event) {}

func (NopSink) Close() error { return nil }
