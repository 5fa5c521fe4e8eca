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

// Package render turns order payloads into printer-ready raster payloads.
// The broker bounds render concurrency so a burst of intake traffic cannot
// starve the poll handlers, and caches results so a resubmitted order skips
// the render entirely.
package render

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"spool/internal/metrics"
)

var (
	// ErrQueueFull means the render backlog is saturated; the job fails
	// terminally and the upstream caller resubmits.
	ErrQueueFull = errors.New("render queue full")
	// ErrClosed means the broker is shutting down.
	ErrClosed = errors.New("render broker closed")
)

// Job is one render request. Exactly one of the callbacks fires, either on
// a worker goroutine or, for cache hits, on the submitter's; callbacks must
// not hold locks the store paths need.
type Job struct {
	// Key identifies the payload for the result cache; use CanonicalKey.
	Key       string
	Receipt   Receipt
	OnSuccess func(content []byte)
	OnFailure func(err error)
}

// Config bounds the broker. Zero values use the defaults noted per field.
type Config struct {
	// Workers is the render concurrency. Default 2: rendering is the
	// expensive step and two workers keep up with a full fleet while
	// leaving the CPU to the dispatch paths.
	Workers int

	// Timeout bounds a single render. Default 15s.
	Timeout time.Duration

	// CacheSize is the result cache capacity in entries. Default 256.
	CacheSize int

	// QueueSize is the backlog capacity. Submissions beyond it fail
	// terminally rather than block intake. Default 512.
	QueueSize int
}

// Broker runs renders on a fixed pool of workers.
type Broker struct {
	cfg      Config
	renderer Renderer
	logger   *slog.Logger
	cache    *lru.Cache[string, []byte]
	jobs     chan Job

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewBroker(renderer Renderer, logger *slog.Logger, cfg Config) *Broker {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 256
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 512
	}
	if logger == nil {
		logger = slog.Default()
	}

	cache, err := lru.New[string, []byte](cfg.CacheSize)
	if err != nil {
		// Unreachable: size is defaulted positive above.
		panic(err)
	}

	b := &Broker{
		cfg:      cfg,
		renderer: renderer,
		logger:   logger,
		cache:    cache,
		jobs:     make(chan Job, cfg.QueueSize),
	}
	b.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go b.worker()
	}
	return b
}

// Submit enqueues a render. Cache hits complete synchronously on the
// caller's goroutine; everything else completes on a worker. Submit never
// blocks: a full queue fails the job terminally.
func (b *Broker) Submit(job Job) {
	if content, ok := b.cache.Get(job.Key); ok {
		metrics.ObserveRender(metrics.RenderCached, 0)
		b.succeed(job, content)
		return
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.fail(job, ErrClosed)
		return
	}
	select {
	case b.jobs <- job:
		b.mu.Unlock()
	default:
		b.mu.Unlock()
		metrics.ObserveRender(metrics.RenderError, 0)
		b.logger.Warn("render queue full, failing job", "key", keyPreview(job.Key))
		b.fail(job, ErrQueueFull)
	}
}

// Close stops intake, drains the backlog, and waits for the workers.
func (b *Broker) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.jobs)
	b.mu.Unlock()
	b.wg.Wait()
}

func (b *Broker) worker() {
	defer b.wg.Done()
	for job := range b.jobs {
		b.process(job)
	}
}

func (b *Broker) process(job Job) {
	// A duplicate may have been rendered while this one sat in the queue.
	if content, ok := b.cache.Get(job.Key); ok {
		metrics.ObserveRender(metrics.RenderCached, 0)
		b.succeed(job, content)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.Timeout)
	defer cancel()

	start := time.Now()
	img, err := b.renderer.Render(ctx, job.Receipt)
	if err != nil {
		metrics.ObserveRender(metrics.RenderError, time.Since(start))
		b.logger.Warn("render failed", "key", keyPreview(job.Key), "error", err)
		b.fail(job, err)
		return
	}

	content, err := Finish(img)
	if err != nil {
		metrics.ObserveRender(metrics.RenderError, time.Since(start))
		b.logger.Warn("raster conversion failed", "key", keyPreview(job.Key), "error", err)
		b.fail(job, err)
		return
	}

	b.cache.Add(job.Key, content)
	metrics.ObserveRender(metrics.RenderOK, time.Since(start))
	b.succeed(job, content)
}

func (b *Broker) succeed(job Job, content []byte) {
	if job.OnSuccess != nil {
		job.OnSuccess(content)
	}
}

func (b *Broker) fail(job Job, err error) {
	if job.OnFailure != nil {
		job.OnFailure(err)
	}
}

// CanonicalKey derives the cache key from the raw order document. The
// document is re-marshalled so key order in the upstream JSON does not
// defeat the cache.
func CanonicalKey(raw json.RawMessage) string {
	canonical := []byte(raw)
	var v any
	if err := json.Unmarshal(raw, &v); err == nil {
		if b, err := json.Marshal(v); err == nil {
			canonical = b
		}
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

func keyPreview(key string) string {
	if len(key) > 12 {
		return key[:12]
	}
	return key
}
