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

package presence

import (
	"testing"
	"time"
)

func TestOnlineWindow(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tr := New(15 * time.Second)

	tr.MarkSeen("S1", "10.0.0.5:4321", base)

	if !tr.Online("S1", base) {
		t.Error("S1 should be online immediately after poll")
	}
	if !tr.Online("S1", base.Add(15*time.Second)) {
		t.Error("S1 should be online exactly at the window edge")
	}
	if tr.Online("S1", base.Add(15*time.Second+time.Millisecond)) {
		t.Error("S1 should be offline past the window")
	}
	if tr.Online("ghost", base) {
		t.Error("never-seen serial reported online")
	}
}

func TestMarkSeenOverwrites(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tr := New(0) // default window

	tr.MarkSeen("S1", "10.0.0.5:1111", base)
	tr.MarkSeen("S1", "10.0.0.9:2222", base.Add(5*time.Second))

	seen, addr, ok := tr.LastSeen("S1")
	if !ok {
		t.Fatal("S1 missing from tracker")
	}
	if !seen.Equal(base.Add(5 * time.Second)) {
		t.Errorf("lastSeen = %v", seen)
	}
	if addr != "10.0.0.9:2222" {
		t.Errorf("addr = %q", addr)
	}
}

func TestSnapshotOrdering(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tr := New(15 * time.Second)

	tr.MarkSeen("S3", "addr3", base.Add(-30*time.Second))
	tr.MarkSeen("S1", "addr1", base.Add(-2*time.Second))
	tr.MarkSeen("S2", "addr2", base.Add(-10*time.Second))

	snap := tr.Snapshot(base)
	if len(snap) != 3 {
		t.Fatalf("snapshot size = %d", len(snap))
	}
	if snap[0].Serial != "S1" || snap[1].Serial != "S2" || snap[2].Serial != "S3" {
		t.Errorf("order = %s, %s, %s", snap[0].Serial, snap[1].Serial, snap[2].Serial)
	}
	if snap[0].AgeMS != 2000 {
		t.Errorf("S1 ageMs = %d", snap[0].AgeMS)
	}
	if !snap[0].Online || !snap[1].Online || snap[2].Online {
		t.Error("online flags wrong")
	}

	online := tr.OnlineSnapshot(base)
	if len(online) != 2 {
		t.Fatalf("online snapshot size = %d", len(online))
	}
	if online[0].Serial != "S1" || online[1].Serial != "S2" {
		t.Errorf("online order = %s, %s", online[0].Serial, online[1].Serial)
	}
}
