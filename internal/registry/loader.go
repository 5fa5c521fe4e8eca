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

package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"spool/internal/metrics"
)

// maxMappingBytes caps the remote mapping document. The largest production
// mapping is a few kilobytes; anything near the cap is a misconfigured URL.
const maxMappingBytes = 1 << 20

// LoaderConfig controls the mapping refresh behaviour. Zero values pick up
// the defaults noted per field.
type LoaderConfig struct {
	// URL of the remote mapping source. Empty disables remote refresh and
	// the registry serves whatever was seeded from the mapping file.
	URL string

	// Refresh is the background reload period. Default 5m.
	Refresh time.Duration

	// Throttle bounds how often the intake path may trigger an on-demand
	// refresh. Default 30s.
	Throttle time.Duration

	// FetchTimeout bounds a single fetch. Default 10s.
	FetchTimeout time.Duration
}

// Loader keeps the registry in sync with the remote mapping source. Fetch
// failures keep the last good mapping; the loader never propagates them to
// dispatch paths.
type Loader struct {
	reg    *Registry
	cfg    LoaderConfig
	client *http.Client
	logger *slog.Logger
	now    func() time.Time

	mu          sync.Mutex
	lastAttempt time.Time
	loaded      bool
}

func NewLoader(reg *Registry, cfg LoaderConfig, logger *slog.Logger) *Loader {
	if cfg.Refresh <= 0 {
		cfg.Refresh = 5 * time.Minute
	}
	if cfg.Throttle <= 0 {
		cfg.Throttle = 30 * time.Second
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		reg:    reg,
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.FetchTimeout},
		logger: logger,
		now:    time.Now,
	}
}

// SeedFallback applies a static mapping and marks the loader ready. Used at
// startup with the mapping file so printers resolve before the first
// successful remote fetch.
func (l *Loader) SeedFallback(bindings []Binding) {
	l.reg.ReplaceAll(bindings)
	l.mu.Lock()
	l.loaded = true
	l.mu.Unlock()
	serials, tenants := l.reg.Counts()
	l.logger.Info("seeded fallback mapping", "serials", serials, "tenants", tenants)
}

// Ready reports whether any mapping, remote or fallback, has been applied.
func (l *Loader) Ready() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loaded
}

// Run refreshes the mapping on a fixed period until ctx is cancelled. The
// first refresh happens immediately so a restart converges without waiting
// out a full period.
func (l *Loader) Run(ctx context.Context) {
	if l.cfg.URL == "" {
		l.logger.Info("no mapping source configured; using static mapping only")
		return
	}

	l.markAttempt()
	if err := l.refresh(ctx); err != nil {
		l.logger.Warn("initial mapping refresh failed", "error", err)
	}

	ticker := time.NewTicker(l.cfg.Refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.markAttempt()
			if err := l.refresh(ctx); err != nil {
				l.logger.Warn("mapping refresh failed", "error", err)
			}
		}
	}
}

// EnsureFresh triggers a refresh unless one was attempted within the
// throttle window. The intake path calls it when a tenant is missing, so a
// mapping update lands without waiting out the refresh period.
func (l *Loader) EnsureFresh(ctx context.Context) {
	if l.cfg.URL == "" {
		return
	}
	l.mu.Lock()
	if l.now().Sub(l.lastAttempt) < l.cfg.Throttle {
		l.mu.Unlock()
		metrics.IncConfigRefresh(metrics.RefreshThrottled)
		return
	}
	l.lastAttempt = l.now()
	l.mu.Unlock()

	if err := l.refresh(ctx); err != nil {
		l.logger.Warn("on-demand mapping refresh failed", "error", err)
	}
}

// ForceRefresh bypasses the throttle. Backing the admin reload endpoint.
func (l *Loader) ForceRefresh(ctx context.Context) error {
	if l.cfg.URL == "" {
		return fmt.Errorf("no mapping source configured")
	}
	l.markAttempt()
	return l.refresh(ctx)
}

func (l *Loader) markAttempt() {
	l.mu.Lock()
	l.lastAttempt = l.now()
	l.mu.Unlock()
}

func (l *Loader) refresh(ctx context.Context) error {
	bindings, err := l.fetch(ctx)
	if err != nil {
		metrics.IncConfigRefresh(metrics.RefreshError)
		return err
	}
	if len(bindings) == 0 {
		// An empty document would unmap every printer; treat it as a bad
		// fetch and keep the last good mapping.
		metrics.IncConfigRefresh(metrics.RefreshError)
		return fmt.Errorf("mapping source returned no bindings")
	}

	l.reg.ReplaceAll(bindings)
	l.mu.Lock()
	l.loaded = true
	l.mu.Unlock()

	metrics.IncConfigRefresh(metrics.RefreshOK)
	serials, tenants := l.reg.Counts()
	l.logger.Info("applied mapping", "serials", serials, "tenants", tenants)
	return nil
}

func (l *Loader) fetch(ctx context.Context) ([]Binding, error) {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", l.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch mapping: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch mapping: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMappingBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read mapping body: %w", err)
	}
	return parseMapping(body)
}

// LoadMappingFile reads a static mapping document from disk. Same format as
// the remote source.
func LoadMappingFile(path string) ([]Binding, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read mapping file: %w", err)
	}
	bindings, err := parseMapping(data)
	if err != nil {
		return nil, fmt.Errorf("mapping file %s: %w", path, err)
	}
	return bindings, nil
}

func parseMapping(data []byte) ([]Binding, error) {
	var raw []Binding
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse mapping: %w", err)
	}
	out := raw[:0]
	for _, b := range raw {
		if b.Tenant == "" || b.Serial == "" {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}
