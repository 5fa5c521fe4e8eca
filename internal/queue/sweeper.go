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
	"log/slog"
	"time"

	"spool/internal/audit"
	"spool/internal/metrics"
	"spool/pkg/spool"
)

// SweeperConfig holds the sweep cadence and the two stall timeouts. Zero
// values use the defaults noted per field.
type SweeperConfig struct {
	// Interval between background sweeps. Default 3s, comfortably inside
	// the offer timeout so a stalled job is rewound within one poll cycle.
	Interval time.Duration

	// OfferTimeout rewinds jobs whose token was offered but never
	// fetched. Default 10s, two poll periods.
	OfferTimeout time.Duration

	// SentTimeout rewinds jobs whose content was fetched but never
	// confirmed. Default 20s, long enough for the printer to finish
	// cutting before we assume it died.
	SentTimeout time.Duration
}

// Sweeper rewinds stalled handshakes in the background and on the poll
// path, and emits the history, audit, and metrics records for each rewind.
type Sweeper struct {
	store   *Store
	history *History
	sink    audit.Sink
	logger  *slog.Logger
	cfg     SweeperConfig
}

func NewSweeper(store *Store, history *History, sink audit.Sink, logger *slog.Logger, cfg SweeperConfig) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 3 * time.Second
	}
	if cfg.OfferTimeout <= 0 {
		cfg.OfferTimeout = 10 * time.Second
	}
	if cfg.SentTimeout <= 0 {
		cfg.SentTimeout = 20 * time.Second
	}
	if sink == nil {
		sink = audit.NopSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:   store,
		history: history,
		sink:    sink,
		logger:  logger,
		cfg:     cfg,
	}
}

// Run sweeps on the configured interval until ctx is cancelled.
func (w *Sweeper) Run(ctx context.Context) {
	w.logger.Info("sweeper started",
		"interval", w.cfg.Interval,
		"offer_timeout", w.cfg.OfferTimeout,
		"sent_timeout", w.cfg.SentTimeout)

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			w.sweepOnce()
		}
	}
}

func (w *Sweeper) sweepOnce() {
	requeues, swept := w.store.TrySweepAll(w.cfg.OfferTimeout, w.cfg.SentTimeout)
	if !swept {
		// Store lock is busy; the next tick is seconds away.
		w.logger.Debug("store busy, skipping sweep tick")
		return
	}
	w.emit(requeues)
}

// SweepSerial sweeps only the given tenants, used on the poll path so a
// printer that went away and came back gets its stalled jobs re-offered on
// the same poll rather than waiting for the next background tick.
func (w *Sweeper) SweepSerial(tenants []string) {
	if len(tenants) == 0 {
		return
	}
	w.emit(w.store.SweepTenants(tenants, w.cfg.OfferTimeout, w.cfg.SentTimeout))
}

func (w *Sweeper) emit(requeues []Requeue) {
	for _, rq := range requeues {
		w.history.Append(rq.Info.Serial, spool.HistoryEntry{
			At:       rq.At,
			Tenant:   rq.Info.Tenant,
			Stage:    spool.StageRequeued,
			Token:    rq.Info.Token,
			Customer: rq.Info.Meta.Customer,
			Order:    rq.Info.Meta.OrderNumber,
		})
		w.sink.Record(audit.Event{
			At:     rq.At,
			Stage:  spool.StageRequeued,
			Token:  rq.Info.Token,
			Tenant: rq.Info.Tenant,
			Serial: rq.Info.Serial,
			Detail: "timeout from " + rq.From.String(),
		})
		metrics.IncRequeue(rq.From.String())
		w.logger.Info("requeued stalled job",
			"token", rq.Info.Token,
			"tenant", rq.Info.Tenant,
			"serial", rq.Info.Serial,
			"from", rq.From)
	}
}
