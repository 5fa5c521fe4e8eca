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

// Package presence tracks when each printer last polled. Printers poll
// every few seconds, so "online" means a poll within the window, three
// missed polls at the default cadence.
package presence

import (
	"sort"
	"sync"
	"time"

	"spool/pkg/spool"
)

// DefaultWindow assumes the 5s poll period recommended to printers; a
// printer is offline after three missed polls.
const DefaultWindow = 15 * time.Second

type record struct {
	lastSeen time.Time
	addr     string
}

// Tracker is safe for concurrent use. Entries are never evicted; the set of
// serials that ever polled is bounded by the fleet size.
type Tracker struct {
	mu     sync.RWMutex
	seen   map[string]record
	window time.Duration
}

func New(window time.Duration) *Tracker {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Tracker{
		seen:   make(map[string]record),
		window: window,
	}
}

// MarkSeen records a poll from the serial. Only polls from serials in the
// registry reach here; unknown serials leave no trace.
func (t *Tracker) MarkSeen(serial, addr string, now time.Time) {
	t.mu.Lock()
	t.seen[serial] = record{lastSeen: now, addr: addr}
	t.mu.Unlock()
}

// LastSeen returns the serial's last poll time and source address.
func (t *Tracker) LastSeen(serial string) (time.Time, string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.seen[serial]
	return rec.lastSeen, rec.addr, ok
}

// Online reports whether the serial polled within the window.
func (t *Tracker) Online(serial string, now time.Time) bool {
	t.mu.RLock()
	rec, ok := t.seen[serial]
	t.mu.RUnlock()
	return ok && now.Sub(rec.lastSeen) <= t.window
}

// Window returns the online threshold.
func (t *Tracker) Window() time.Duration { return t.window }

// Snapshot lists every serial that ever polled, most recent first; ties
// break on serial so the output is stable.
func (t *Tracker) Snapshot(now time.Time) []spool.PresenceEntry {
	t.mu.RLock()
	out := make([]spool.PresenceEntry, 0, len(t.seen))
	for serial, rec := range t.seen {
		out = append(out, spool.PresenceEntry{
			Serial:   serial,
			LastSeen: rec.lastSeen,
			AgeMS:    now.Sub(rec.lastSeen).Milliseconds(),
			Addr:     rec.addr,
			Online:   now.Sub(rec.lastSeen) <= t.window,
		})
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastSeen.Equal(out[j].LastSeen) {
			return out[i].LastSeen.After(out[j].LastSeen)
		}
		return out[i].Serial < out[j].Serial
	})
	return out
}

// OnlineSnapshot is Snapshot filtered to serials within the window.
func (t *Tracker) OnlineSnapshot(now time.Time) []spool.PresenceEntry {
	all := t.Snapshot(now)
	out := all[:0]
	for _, e := range all {
		if e.Online {
			out = append(out, e)
		}
	}
	return out
}
