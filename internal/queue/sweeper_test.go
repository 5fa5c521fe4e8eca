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
	"context"
	"sync"
	"testing"
	"time"

	"spool/internal/audit"
	"spool/pkg/spool"
)

// captureSink records audit events for assertions.
type captureSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (c *captureSink) Record(e audit.Event) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
}

func (c *captureSink) Close() error { return nil }

func (c *captureSink) all() []audit.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]audit.Event(nil), c.events...)
}

func TestNewSweeperDefaults(t *testing.T) {
	st, _, _ := newTestStore(t, nil)
	w := NewSweeper(st, NewHistory(), nil, nil, SweeperConfig{})

	if w.cfg.Interval != 3*time.Second {
		t.Errorf("interval = %v", w.cfg.Interval)
	}
	if w.cfg.OfferTimeout != 10*time.Second {
		t.Errorf("offer timeout = %v", w.cfg.OfferTimeout)
	}
	if w.cfg.SentTimeout != 20*time.Second {
		t.Errorf("sent timeout = %v", w.cfg.SentTimeout)
	}
	if w.sink == nil || w.logger == nil {
		t.Error("nil collaborators not defaulted")
	}
}

func TestSweepSerialEmitsRecords(t *testing.T) {
	st, _, clock := newTestStore(t, map[string][]string{"S1": {"resto-a"}})
	history := NewHistory()
	sink := &captureSink{}
	w := NewSweeper(st, history, sink, nil, SweeperConfig{})

	token := readyJob(t, st, "resto-a", spool.OrderMeta{OrderNumber: "7", Customer: "Ada"})
	st.SelectForSerial("S1")
	*clock = clock.Add(11 * time.Second)

	w.SweepSerial([]string{"resto-a"})

	entries := history.For("S1")
	if len(entries) != 1 {
		t.Fatalf("history entries = %d", len(entries))
	}
	e := entries[0]
	if e.Stage != spool.StageRequeued || e.Token != token {
		t.Errorf("entry = %+v", e)
	}
	if e.Customer != "Ada" || e.Order != "7" {
		t.Errorf("metadata passthrough = %+v", e)
	}

	events := sink.all()
	if len(events) != 1 {
		t.Fatalf("audit events = %d", len(events))
	}
	if events[0].Stage != spool.StageRequeued || events[0].Serial != "S1" {
		t.Errorf("event = %+v", events[0])
	}
	if events[0].Detail != "timeout from offered" {
		t.Errorf("detail = %q", events[0].Detail)
	}
}

func TestSweepSerialNoTenantsIsNoop(t *testing.T) {
	st, _, _ := newTestStore(t, nil)
	w := NewSweeper(st, NewHistory(), nil, nil, SweeperConfig{})
	w.SweepSerial(nil) // must not panic or lock anything
}

func TestRunStopsOnCancel(t *testing.T) {
	st, _, _ := newTestStore(t, nil)
	w := NewSweeper(st, NewHistory(), nil, nil, SweeperConfig{Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop on cancel")
	}
}

func TestRunRewindsStalledJobs(t *testing.T) {
	st, _, _ := newTestStore(t, map[string][]string{"S1": {"resto-a"}})
	// Real clock for this one: the ticker needs to observe elapsed time.
	st.now = time.Now
	history := NewHistory()
	w := NewSweeper(st, history, nil, nil, SweeperConfig{
		Interval:     5 * time.Millisecond,
		OfferTimeout: 10 * time.Millisecond,
		SentTimeout:  20 * time.Millisecond,
	})

	token := readyJob(t, st, "resto-a", spool.OrderMeta{})
	st.SelectForSerial("S1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	deadline := time.After(2 * time.Second)
	for {
		snap := st.Snapshot("resto-a")
		if len(snap) == 1 && snap[0].Status == spool.StatusQueued && snap[0].Token == token {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("job never requeued; snapshot = %+v", snap)
		case <-time.After(5 * time.Millisecond):
		}
	}
}
