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

package metrics

import (
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	mu  sync.RWMutex
	reg *prometheus.Registry

	polls          *prometheus.CounterVec
	fetches        *prometheus.CounterVec
	confirms       *prometheus.CounterVec
	intakeJobs     *prometheus.CounterVec
	renders        *prometheus.CounterVec
	renderDuration prometheus.Histogram
	requeues       *prometheus.CounterVec
	queueDepth     *prometheus.GaugeVec
	configRefresh  *prometheus.CounterVec
	auditDropped   prometheus.Counter
)

// Label values shared between the dispatch components and tests.
const (
	PollOffer         = "offer"
	PollIdle          = "idle"
	PollUnknownSerial = "unknown_serial"

	FetchSent    = "sent"
	FetchPending = "pending"
	FetchUnknown = "unknown_token"
	FetchBadType = "unsupported_type"

	ConfirmCompleted = "completed"
	ConfirmRequeued  = "requeued"
	ConfirmUnknown   = "unknown_token"

	RenderOK     = "ok"
	RenderError  = "error"
	RenderCached = "cached"

	RequeueFromOffered = "offered"
	RequeueFromSent    = "sent"

	RefreshOK        = "ok"
	RefreshError     = "error"
	RefreshThrottled = "throttled"
)

func init() {
	resetLocked()
}

// Reset clears and reinitializes all metrics collectors.
// Primarily used by tests to ensure clean state.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	resetLocked()
}

// Handler returns an HTTP handler that exposes metrics in Prometheus format.
func Handler() http.Handler {
	mu.RLock()
	registry := reg
	mu.RUnlock()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// IncPoll records one printer poll grouped by outcome.
func IncPoll(result string) {
	label := sanitizeLabel(result, "unknown")

	mu.RLock()
	defer mu.RUnlock()
	if polls != nil {
		polls.WithLabelValues(label).Inc()
	}
}

// IncFetch records one content fetch grouped by outcome.
func IncFetch(result string) {
	label := sanitizeLabel(result, "unknown")

	mu.RLock()
	defer mu.RUnlock()
	if fetches != nil {
		fetches.WithLabelValues(label).Inc()
	}
}

// IncConfirm records one print confirmation grouped by outcome.
func IncConfirm(result string) {
	label := sanitizeLabel(result, "unknown")

	mu.RLock()
	defer mu.RUnlock()
	if confirms != nil {
		confirms.WithLabelValues(label).Inc()
	}
}

// IncIntakeJob records one job accepted at intake for a tenant.
func IncIntakeJob(tenant string) {
	label := sanitizeTenant(tenant)

	mu.RLock()
	defer mu.RUnlock()
	if intakeJobs != nil {
		intakeJobs.WithLabelValues(label).Inc()
	}
}

// ObserveRender records a completed render attempt and its duration.
// Cached results pass a zero duration.
func ObserveRender(result string, duration time.Duration) {
	label := sanitizeLabel(result, "unknown")

	mu.RLock()
	defer mu.RUnlock()
	if renders != nil {
		renders.WithLabelValues(label).Inc()
	}
	if renderDuration != nil && result != RenderCached {
		renderDuration.Observe(durationSeconds(duration))
	}
}

// IncRequeue records a sweeper or confirm-failure requeue by prior state.
func IncRequeue(from string) {
	label := sanitizeLabel(from, "unknown")

	mu.RLock()
	defer mu.RUnlock()
	if requeues != nil {
		requeues.WithLabelValues(label).Inc()
	}
}

// SetQueueDepth sets the live queue depth gauge for a tenant.
func SetQueueDepth(tenant string, depth int) {
	label := sanitizeTenant(tenant)

	mu.RLock()
	defer mu.RUnlock()
	if queueDepth != nil {
		queueDepth.WithLabelValues(label).Set(float64(depth))
	}
}

// IncConfigRefresh records one mapping refresh attempt grouped by outcome.
func IncConfigRefresh(result string) {
	label := sanitizeLabel(result, "unknown")

	mu.RLock()
	defer mu.RUnlock()
	if configRefresh != nil {
		configRefresh.WithLabelValues(label).Inc()
	}
}

// IncAuditDropped records one audit event dropped on a full sink buffer.
func IncAuditDropped() {
	mu.RLock()
	defer mu.RUnlock()
	if auditDropped != nil {
		auditDropped.Inc()
	}
}

func resetLocked() {
	registry := prometheus.NewRegistry()

	pollsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spool",
		Subsystem: "dispatch",
		Name:      "polls_total",
		Help:      "Total printer polls grouped by outcome.",
	}, []string{"result"})

	fetchesTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spool",
		Subsystem: "dispatch",
		Name:      "fetches_total",
		Help:      "Total content fetches grouped by outcome.",
	}, []string{"result"})

	confirmsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spool",
		Subsystem: "dispatch",
		Name:      "confirms_total",
		Help:      "Total print confirmations grouped by outcome.",
	}, []string{"result"})

	intakeTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spool",
		Subsystem: "dispatch",
		Name:      "intake_jobs_total",
		Help:      "Total jobs accepted at intake per tenant.",
	}, []string{"tenant"})

	rendersTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spool",
		Subsystem: "dispatch",
		Name:      "renders_total",
		Help:      "Total render attempts grouped by outcome.",
	}, []string{"result"})

	renderHist := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "spool",
		Subsystem: "dispatch",
		Name:      "render_duration_seconds",
		Help:      "Duration of receipt renders, excluding cache hits.",
		Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15},
	})

	requeuesTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spool",
		Subsystem: "dispatch",
		Name:      "requeues_total",
		Help:      "Total jobs rewound to queued, grouped by prior state.",
	}, []string{"from"})

	depthGauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "spool",
		Subsystem: "dispatch",
		Name:      "queue_depth",
		Help:      "Live jobs per tenant queue, including failed jobs.",
	}, []string{"tenant"})

	refreshTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spool",
		Subsystem: "dispatch",
		Name:      "config_refreshes_total",
		Help:      "Total mapping refresh attempts grouped by outcome.",
	}, []string{"result"})

	droppedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "spool",
		Subsystem: "dispatch",
		Name:      "audit_dropped_total",
		Help:      "Audit events dropped because the sink buffer was full.",
	})

	registry.MustRegister(pollsTotal, fetchesTotal, confirmsTotal, intakeTotal,
		rendersTotal, renderHist, requeuesTotal, depthGauge, refreshTotal,
		droppedTotal)

	reg = registry
	polls = pollsTotal
	fetches = fetchesTotal
	confirms = confirmsTotal
	intakeJobs = intakeTotal
	renders = rendersTotal
	renderDuration = renderHist
	requeues = requeuesTotal
	queueDepth = depthGauge
	configRefresh = refreshTotal
	auditDropped = droppedTotal
}

func sanitizeTenant(v string) string {
	v = strings.TrimSpace(strings.ToLower(v))
	if v == "" {
		return "unknown"
	}
	var b strings.Builder
	for _, r := range v {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '-' || r == '.':
		default:
			r = '_'
		}
		b.WriteRune(r)
	}
	return b.String()
}

func sanitizeLabel(v string, fallback string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return fallback
	}
	var b strings.Builder
	for _, r := range v {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ':' || r == '.' || r == '-' || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

func durationSeconds(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return d.Seconds()
}
