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
	"strconv"
	"time"

	"github.com/google/uuid"

	"spool/pkg/spool"
)

// job is the internal mutable record. Status and timestamps only change
// together through the transition methods below, so a job whose timestamps
// disagree with its status cannot exist: queued jobs carry no timestamps,
// offered jobs carry offeredAt, sent jobs carry sentAt.
type job struct {
	token     string
	tenant    string
	status    spool.JobStatus
	content   []byte
	createdAt time.Time
	offeredAt time.Time
	sentAt    time.Time
	serial    string // printer of the most recent offer
	meta      spool.OrderMeta
}

// newToken builds a job token: a base-36 millisecond timestamp for rough
// ordering in logs, and a UUID for collision resistance.
func newToken(now time.Time) string {
	return strconv.FormatInt(now.UnixMilli(), 36) + "-" + uuid.NewString()
}

func newJob(tenant string, meta spool.OrderMeta, now time.Time) *job {
	return &job{
		token:     newToken(now),
		tenant:    tenant,
		status:    spool.StatusQueued,
		createdAt: now.UTC(),
		meta:      meta,
	}
}

func (j *job) offer(serial string, now time.Time) {
	j.status = spool.StatusOffered
	j.offeredAt = now
	j.sentAt = time.Time{}
	j.serial = serial
}

func (j *job) send(now time.Time) {
	j.status = spool.StatusSent
	j.sentAt = now
	j.offeredAt = time.Time{}
}

func (j *job) requeue() {
	j.status = spool.StatusQueued
	j.offeredAt = time.Time{}
	j.sentAt = time.Time{}
}

func (j *job) fail() {
	j.status = spool.StatusFailed
	j.offeredAt = time.Time{}
	j.sentAt = time.Time{}
}

func (j *job) info() JobInfo {
	return JobInfo{
		Token:  j.token,
		Tenant: j.tenant,
		Serial: j.serial,
		Meta:   j.meta,
	}
}

// view builds the external snapshot. Timestamps appear only in the states
// they belong to.
func (j *job) view() spool.Job {
	v := spool.Job{
		Token:      j.token,
		Tenant:     j.tenant,
		Status:     j.status,
		HasContent: j.content != nil,
		CreatedAt:  j.createdAt,
		Serial:     j.serial,
		Meta:       j.meta,
	}
	switch j.status {
	case spool.StatusOffered:
		at := j.offeredAt
		v.OfferedAt = &at
	case spool.StatusSent:
		at := j.sentAt
		v.SentAt = &at
	}
	return v
}
