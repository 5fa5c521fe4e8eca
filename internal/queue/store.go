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

// Package queue holds the in-memory job store: per-tenant FIFO queues, the
// token index, the lifecycle transitions, and the timeout sweeps that keep
// jobs from stalling when a printer disappears mid-handshake.
//
// Everything lives under one mutex. Queues are small (tens of jobs) and
// every operation is a short scan, so a single lock beats a lock per tenant.
// Nothing here persists; a restart loses the queue and upstream callers
// resubmit.
package queue

import (
	"sync"
	"time"

	"spool/pkg/spool"
)

// Rotation is the registry surface selection needs: the tenant list for a
// serial and the serial's round-robin cursor.
type Rotation interface {
	TenantsFor(serial string) []string
	Cursor(serial string) int
	SetCursor(serial string, v int)
}

// JobInfo identifies a job to loggers, history, and the audit stream.
type JobInfo struct {
	Token  string
	Tenant string
	Serial string
	Meta   spool.OrderMeta
}

// Offer is a successful selection: the token handed to a polling printer.
type Offer struct {
	Token  string
	Tenant string
	Meta   spool.OrderMeta
}

// FetchOutcome classifies a content fetch.
type FetchOutcome int

const (
	// FetchUnknown means the token is not in the index.
	FetchUnknown FetchOutcome = iota
	// FetchPending means the job exists but has no content to serve,
	// either still rendering or terminally failed.
	FetchPending
	// FetchServed means content was returned and the job is now sent.
	FetchServed
)

// Requeue reports one job rewound to queued by a sweep.
type Requeue struct {
	Info JobInfo
	From spool.JobStatus
	At   time.Time
}

// Store is safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	rot    Rotation
	queues map[string][]*job
	tokens map[string]*job
	now    func() time.Time
}

// NewStore builds an empty store rotating offers with rot. The registry
// lock nests inside the store lock; Rotation implementations must not call
// back into the store.
func NewStore(rot Rotation) *Store {
	return &Store{
		rot:    rot,
		queues: make(map[string][]*job),
		tokens: make(map[string]*job),
		now:    time.Now,
	}
}

// Create enqueues a content-less job for the tenant and returns its token.
// The job becomes offerable once content is attached.
func (s *Store) Create(tenant string, meta spool.OrderMeta) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	j := newJob(tenant, meta, s.now())
	s.queues[tenant] = append(s.queues[tenant], j)
	s.tokens[j.token] = j
	return j.token
}

// AttachContent stores the rendered bytes. First write wins; later calls
// and unknown tokens are dropped. Reports whether the attach happened.
func (s *Store) AttachContent(token string, content []byte) bool {
	if len(content) == 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.tokens[token]
	if !ok || j.content != nil {
		return false
	}
	j.content = content
	return true
}

// MarkRenderFailed moves a still-rendering job to failed. Jobs that already
// have content or left queued are untouched.
func (s *Store) MarkRenderFailed(token string) (JobInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.tokens[token]
	if !ok || j.status != spool.StatusQueued || j.content != nil {
		return JobInfo{}, false
	}
	j.fail()
	return j.info(), true
}

// SelectForSerial picks the next job to offer the printer: scan the
// serial's tenants from the rotation cursor, first content-ready queued job
// in FIFO order wins. The cursor moves one past the winning tenant only on
// a hit, so an idle poll keeps the rotation in place and a busy tenant
// cannot starve its neighbours.
func (s *Store) SelectForSerial(serial string) (Offer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tenants := s.rot.TenantsFor(serial)
	n := len(tenants)
	if n == 0 {
		return Offer{}, false
	}
	k := s.rot.Cursor(serial) % n

	for i := 0; i < n; i++ {
		tenant := tenants[(k+i)%n]
		for _, j := range s.queues[tenant] {
			if j.status == spool.StatusQueued && j.content != nil {
				j.offer(serial, s.now())
				s.rot.SetCursor(serial, (k+i+1)%n)
				return Offer{Token: j.token, Tenant: tenant, Meta: j.meta}, true
			}
		}
	}
	return Offer{}, false
}

// Fetch serves a job's content and marks it sent. An offered job is the
// normal case. A queued job with content is served too but flagged as a
// protocol violation (the printer skipped the poll). A sent job is served
// again with a fresh sentAt, covering a printer that lost the response.
func (s *Store) Fetch(token string) (content []byte, info JobInfo, outcome FetchOutcome, violation bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.tokens[token]
	if !ok {
		return nil, JobInfo{}, FetchUnknown, false
	}
	if j.content == nil {
		return nil, j.info(), FetchPending, false
	}

	violation = j.status == spool.StatusQueued
	j.send(s.now())
	return j.content, j.info(), FetchServed, violation
}

// Confirm removes a job on a positive print confirmation. Any live job
// goes; unknown tokens report known=false and the handler still answers 200.
func (s *Store) Confirm(token string) (JobInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.tokens[token]
	if !ok {
		return JobInfo{}, false
	}
	j.status = spool.StatusDone
	s.removeLocked(j)
	return j.info(), true
}

// Reject requeues a job on a negative print confirmation, clearing both
// timestamps so the sweeper starts from scratch. Render-failed jobs stay
// failed: they have no content and requeueing would wedge them at the front
// of the queue.
func (s *Store) Reject(token string) (info JobInfo, requeued bool, known bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.tokens[token]
	if !ok {
		return JobInfo{}, false, false
	}
	if j.status == spool.StatusFailed {
		return j.info(), false, true
	}
	j.requeue()
	return j.info(), true, true
}

// Remove drops a job in any state. This is the administrative escape hatch
// for clearing a wedged entry, so unlike Confirm it does not mark the job
// done first.
func (s *Store) Remove(token string) (JobInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.tokens[token]
	if !ok {
		return JobInfo{}, false
	}
	s.removeLocked(j)
	return j.info(), true
}

// SweepTenants rewinds stalled jobs in the given tenants: offered past
// offerTimeout and sent past sentTimeout go back to queued at their
// original queue position. The poll path uses this for the polling serial's
// tenants so a recovered printer is re-offered work immediately.
func (s *Store) SweepTenants(tenants []string, offerTimeout, sentTimeout time.Duration) []Requeue {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(tenants, offerTimeout, sentTimeout)
}

// TrySweepAll sweeps every queue if the lock is free. The background
// sweeper tick skips rather than queue behind a busy store; the next tick
// is three seconds away.
func (s *Store) TrySweepAll(offerTimeout, sentTimeout time.Duration) ([]Requeue, bool) {
	if !s.mu.TryLock() {
		return nil, false
	}
	defer s.mu.Unlock()

	tenants := make([]string, 0, len(s.queues))
	for tenant := range s.queues {
		tenants = append(tenants, tenant)
	}
	return s.sweepLocked(tenants, offerTimeout, sentTimeout), true
}

func (s *Store) sweepLocked(tenants []string, offerTimeout, sentTimeout time.Duration) []Requeue {
	now := s.now()
	var out []Requeue
	for _, tenant := range tenants {
		for _, j := range s.queues[tenant] {
			var from spool.JobStatus
			switch {
			case j.status == spool.StatusOffered && now.Sub(j.offeredAt) > offerTimeout:
				from = spool.StatusOffered
			case j.status == spool.StatusSent && now.Sub(j.sentAt) > sentTimeout:
				from = spool.StatusSent
			default:
				continue
			}
			out = append(out, Requeue{Info: j.info(), From: from, At: now})
			j.requeue()
		}
	}
	return out
}

// Peek returns a read-only view of one live job by token.
func (s *Store) Peek(token string) (spool.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.tokens[token]
	if !ok {
		return spool.Job{}, false
	}
	return j.view(), true
}

// Snapshot copies the tenant's queue for the query surface, creation order.
func (s *Store) Snapshot(tenant string) []spool.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queues[tenant]
	out := make([]spool.Job, 0, len(q))
	for _, j := range q {
		out = append(out, j.view())
	}
	return out
}

// Depth counts the tenant's live jobs, failed included.
func (s *Store) Depth(tenant string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queues[tenant])
}

// removeLocked splices the job out of its tenant queue and the token index.
func (s *Store) removeLocked(j *job) {
	delete(s.tokens, j.token)
	q := s.queues[j.tenant]
	for i, cand := range q {
		if cand == j {
			s.queues[j.tenant] = append(q[:i], q[i+1:]...)
			break
		}
	}
	if len(s.queues[j.tenant]) == 0 {
		delete(s.queues, j.tenant)
	}
}
