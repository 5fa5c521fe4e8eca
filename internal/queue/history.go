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

package queue

import (
	"sync"

	"spool/pkg/spool"
)

// historyDepth is the per-serial ring capacity. Memory stays bounded no
// matter how long the process runs; 500 entries cover a busy day for one
// printer.
const historyDepth = 500

type ring struct {
	entries []spool.HistoryEntry
	next    int
	full    bool
}

func (r *ring) append(e spool.HistoryEntry) {
	r.entries[r.next] = e
	r.next++
	if r.next == len(r.entries) {
		r.next = 0
		r.full = true
	}
}

// newestFirst copies the ring contents, most recent entry first.
func (r *ring) newestFirst() []spool.HistoryEntry {
	size := r.next
	if r.full {
		size = len(r.entries)
	}
	out := make([]spool.HistoryEntry, 0, size)
	for i := 1; i <= size; i++ {
		idx := r.next - i
		if idx < 0 {
			idx += len(r.entries)
		}
		out = append(out, r.entries[idx])
	}
	return out
}

// History keeps a bounded dispatch log per printer serial for the query
// surface. It is observability, not dispatch state: nothing reads it back
// into the lifecycle.
type History struct {
	mu    sync.Mutex
	rings map[string]*ring
}

func NewHistory() *History {
	return &History{rings: make(map[string]*ring)}
}

// Append records an entry against a serial, evicting the oldest entry once
// the ring is full.
func (h *History) Append(serial string, e spool.HistoryEntry) {
	if serial == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rings[serial]
	if !ok {
		r = &ring{entries: make([]spool.HistoryEntry, historyDepth)}
		h.rings[serial] = r
	}
	r.append(e)
}

// For returns the serial's history, newest first. Unknown serials get an
// empty slice.
func (h *History) For(serial string) []spool.HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rings[serial]
	if !ok {
		return []spool.HistoryEntry{}
	}
	return r.newestFirst()
}
