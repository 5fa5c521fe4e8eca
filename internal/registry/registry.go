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

// Package registry owns the device mapping: which printer serials serve
// which tenants, and each serial's round-robin rotation cursor. The mapping
// is replaced wholesale by the loader; dispatch paths only read it.
package registry

import (
	"slices"
	"sort"
	"sync"
)

// Binding pairs one tenant with one printer serial. A serial bound to
// several tenants polls for all of them; a tenant bound to several serials
// receives one job per serial at intake.
type Binding struct {
	Tenant string `json:"restaurantId"`
	Serial string `json:"serial"`
}

// Registry is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	tenants map[string][]string // serial -> tenants, rotation order
	serials map[string][]string // tenant -> serials, intake fan-out order
	cursors map[string]int      // serial -> next rotation offset
}

func New() *Registry {
	return &Registry{
		tenants: make(map[string][]string),
		serials: make(map[string][]string),
		cursors: make(map[string]int),
	}
}

// ReplaceAll swaps in a new mapping. Duplicate bindings collapse; tenant
// order per serial is first appearance order, which fixes the rotation
// order until the next replace. A serial whose tenant list is unchanged
// keeps its cursor, anything else starts over at zero, and cursors for
// removed serials are dropped.
func (r *Registry) ReplaceAll(bindings []Binding) {
	tenants := make(map[string][]string)
	serials := make(map[string][]string)
	for _, b := range bindings {
		if b.Tenant == "" || b.Serial == "" {
			continue
		}
		if !slices.Contains(tenants[b.Serial], b.Tenant) {
			tenants[b.Serial] = append(tenants[b.Serial], b.Tenant)
		}
		if !slices.Contains(serials[b.Tenant], b.Serial) {
			serials[b.Tenant] = append(serials[b.Tenant], b.Serial)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cursors := make(map[string]int, len(tenants))
	for serial := range tenants {
		if slices.Equal(r.tenants[serial], tenants[serial]) {
			cursors[serial] = r.cursors[serial]
		}
	}
	r.tenants = tenants
	r.serials = serials
	r.cursors = cursors
}

// TenantsFor returns the serial's tenant list in rotation order, or nil for
// an unknown serial. The slice is a copy.
func (r *Registry) TenantsFor(serial string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.tenants[serial])
}

// SerialsFor returns the tenant's serial list in fan-out order, or nil for
// an unknown tenant. The slice is a copy.
func (r *Registry) SerialsFor(tenant string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.serials[tenant])
}

// KnownSerial reports whether the serial appears in the current mapping.
func (r *Registry) KnownSerial(serial string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tenants[serial]
	return ok
}

// KnownTenant reports whether the tenant appears in the current mapping.
func (r *Registry) KnownTenant(tenant string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.serials[tenant]
	return ok
}

// Serials lists every configured serial, sorted for stable output.
func (r *Registry) Serials() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tenants))
	for s := range r.tenants {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Tenants lists every configured tenant, sorted for stable output.
func (r *Registry) Tenants() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.serials))
	for t := range r.serials {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Counts returns the number of configured serials and tenants.
func (r *Registry) Counts() (serials, tenants int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tenants), len(r.serials)
}

// Cursor returns the serial's rotation cursor. Callers normalize it modulo
// the tenant list length; the stored value may be stale after a replace.
func (r *Registry) Cursor(serial string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cursors[serial]
}

// SetCursor records the serial's next rotation offset. Only successful
// offers move the cursor, so repeated empty polls keep scanning from the
// same tenant.
func (r *Registry) SetCursor(serial string, v int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cursors[serial] = v
}
