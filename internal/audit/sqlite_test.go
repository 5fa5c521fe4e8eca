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

// Tests for the SQLite audit sink: migrations, ordered writes, drain on
// close, and the non-blocking Record contract.

package audit

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"spool/pkg/spool"
)

func newTestSink(t *testing.T) *SQLiteSink {
	t.Helper()
	dir := t.TempDir()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	s, err := OpenSQLite(ctx, filepath.Join(dir, "audit.db"), nil)
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func event(stage spool.Stage, token string, at time.Time) Event {
	return Event{
		At:     at,
		Stage:  stage,
		Token:  token,
		Tenant: "resto-a",
		Serial: "S1",
	}
}

// waitForEvents polls until the token has n events or the deadline passes.
// Record is asynchronous, so reads must wait out the writer goroutine.
func waitForEvents(t *testing.T, s *SQLiteSink, token string, n int) []Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		events, err := s.TokenEvents(context.Background(), token)
		if err == nil && len(events) >= n {
			return events
		}
		select {
		case <-deadline:
			t.Fatalf("token %s never reached %d events (have %d, err %v)", token, n, len(events), err)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestRecordAndReadBack(t *testing.T) {
	s := newTestSink(t)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	stages := []spool.Stage{
		spool.StageReceived,
		spool.StageOffered,
		spool.StageSent,
		spool.StageCompleted,
	}
	for i, stage := range stages {
		s.Record(event(stage, "tok-1", base.Add(time.Duration(i)*time.Second)))
	}

	events := waitForEvents(t, s, "tok-1", len(stages))
	if len(events) != len(stages) {
		t.Fatalf("events = %d, want %d", len(events), len(stages))
	}
	for i, e := range events {
		if e.Stage != stages[i] {
			t.Errorf("event %d stage = %s, want %s", i, e.Stage, stages[i])
		}
		if e.Tenant != "resto-a" || e.Serial != "S1" {
			t.Errorf("event %d attribution = %q/%q", i, e.Tenant, e.Serial)
		}
		if !e.At.Equal(base.Add(time.Duration(i) * time.Second)) {
			t.Errorf("event %d at = %v", i, e.At)
		}
	}
}

func TestTokenEventsUnknownToken(t *testing.T) {
	s := newTestSink(t)

	_, err := s.TokenEvents(context.Background(), "ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRecentNewestFirst(t *testing.T) {
	s := newTestSink(t)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.Record(event(spool.StageReceived, "tok-a", base))
	s.Record(event(spool.StageReceived, "tok-b", base.Add(time.Second)))
	waitForEvents(t, s, "tok-b", 1)

	recent, err := s.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("recent = %d events", len(recent))
	}
	if recent[0].Token != "tok-b" || recent[1].Token != "tok-a" {
		t.Errorf("order = %s, %s", recent[0].Token, recent[1].Token)
	}
}

func TestCloseDrainsBuffer(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.db")
	ctx := context.Background()

	s, err := OpenSQLite(ctx, path, nil)
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	for i := 0; i < 50; i++ {
		s.Record(event(spool.StageReceived, "tok-drain", time.Now()))
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Reopen and verify every buffered event landed.
	s2, err := OpenSQLite(ctx, path, nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s2.Close()
	events, err := s2.TokenEvents(ctx, "tok-drain")
	if err != nil {
		t.Fatalf("TokenEvents failed: %v", err)
	}
	if len(events) != 50 {
		t.Errorf("drained events = %d, want 50", len(events))
	}
}

func TestRecordAfterCloseIsNoop(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenSQLite(context.Background(), filepath.Join(dir, "audit.db"), nil)
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	s.Record(event(spool.StageReceived, "tok-late", time.Now())) // must not panic
	if err := s.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
}

func TestNopSink(t *testing.T) {
	var sink Sink = NopSink{}
	sink.Record(Event{Stage: spool.StageReceived, Token: "x"})
	if err := sink.Close(); err != nil {
		t.Fatalf("NopSink Close = %v", err)
	}
}
