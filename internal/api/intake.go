// Spool is a print dispatch service for networked receipt printers.
// Copyright (C) 2025  Matthew Burns
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

package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"spool/internal/audit"
	"spool/internal/metrics"
	"spool/internal/render"
	"spool/pkg/spool"
)

// maxIntakeBytes caps an order payload. Receipts are small; anything near
// the cap is a caller bug.
const maxIntakeBytes = 1 << 20

// tenantList accepts the restaurantId field as either a single string or an
// array of strings, the two shapes upstream point-of-sale systems send.
type tenantList []string

func (t *tenantList) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*t = tenantList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err == nil {
		*t = tenantList(many)
		return nil
	}
	return fmt.Errorf("restaurantId must be a string or an array of strings")
}

type printRequest struct {
	RestaurantID tenantList      `json:"restaurantId"`
	Order        json.RawMessage `json:"order"`
}

type printResponse struct {
	OK     bool     `json:"ok"`
	Tokens []string `json:"tokens"`
}

// intakeHandler accepts an order for printing: one queued job per requested
// tenant, all fed by a single render. The 202 means accepted, not printed;
// delivery happens when the printers poll.
func (a *API) intakeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req printRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxIntakeBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	tenants := make([]string, 0, len(req.RestaurantID))
	for _, tenant := range req.RestaurantID {
		tenants = append(tenants, strings.TrimSpace(tenant))
	}
	if len(tenants) == 0 {
		writeError(w, http.StatusBadRequest, "restaurantId is required")
		return
	}
	for _, tenant := range tenants {
		if tenant == "" {
			writeError(w, http.StatusBadRequest, "restaurantId entries must be non-empty")
			return
		}
	}

	var order map[string]any
	if len(req.Order) == 0 {
		writeError(w, http.StatusBadRequest, "order is required")
		return
	}
	if err := json.Unmarshal(req.Order, &order); err != nil || order == nil {
		writeError(w, http.StatusBadRequest, "order must be a JSON object")
		return
	}

	if unknown := a.unknownTenants(tenants); len(unknown) > 0 {
		// The mapping may simply be stale; give the loader one throttled
		// chance to catch up before rejecting.
		if a.Loader != nil {
			a.Loader.EnsureFresh(r.Context())
			unknown = a.unknownTenants(tenants)
		}
		if len(unknown) > 0 {
			writeError(w, http.StatusNotFound,
				"Unknown restaurantId(s): "+strings.Join(unknown, ", "))
			return
		}
	}

	receipt := render.ParseReceipt(order)
	meta := spool.OrderMeta{
		OrderID:     receipt.OrderID,
		OrderNumber: receipt.OrderNumber,
		Customer:    receipt.Customer,
	}

	now := a.now()
	tokens := make([]string, 0, len(tenants))
	for _, tenant := range tenants {
		token := a.Store.Create(tenant, meta)
		tokens = append(tokens, token)

		entry := spool.HistoryEntry{
			At:       now,
			Tenant:   tenant,
			Stage:    spool.StageReceived,
			Token:    token,
			Customer: meta.Customer,
			Order:    meta.OrderNumber,
		}
		for _, serial := range a.Registry.SerialsFor(tenant) {
			a.appendHistory(serial, entry)
		}
		a.record(audit.Event{
			At:     now,
			Stage:  spool.StageReceived,
			Token:  token,
			Tenant: tenant,
		})
		metrics.IncIntakeJob(tenant)
		metrics.SetQueueDepth(tenant, a.Store.Depth(tenant))
	}

	// One render feeds every copy of the order, so fan-out requests cost a
	// single pass through the worker pool and all printers get identical
	// bytes.
	if a.Broker != nil {
		a.Broker.Submit(render.Job{
			Key:     render.CanonicalKey(req.Order),
			Receipt: receipt,
			OnSuccess: func(content []byte) {
				for _, token := range tokens {
					a.Store.AttachContent(token, content)
				}
			},
			OnFailure: func(err error) {
				a.failRenders(tokens, err)
			},
		})
	}

	a.Logger.Info("print request accepted",
		"tenants", len(tenants), "tokens", tokens,
		"order", meta.OrderNumber, "customer", meta.Customer)
	writeJSON(w, http.StatusAccepted, printResponse{OK: true, Tokens: tokens})
}

// unknownTenants returns the request-order, deduplicated subset of tenants
// missing from the registry.
func (a *API) unknownTenants(tenants []string) []string {
	var unknown []string
	seen := make(map[string]bool, len(tenants))
	for _, tenant := range tenants {
		if seen[tenant] || a.Registry.KnownTenant(tenant) {
			continue
		}
		seen[tenant] = true
		unknown = append(unknown, tenant)
	}
	return unknown
}

// failRenders marks every job of a failed render and fans the history entry
// out to the serials bound to each tenant at failure time. Runs on a broker
// goroutine.
func (a *API) failRenders(tokens []string, err error) {
	now := a.now()
	for _, token := range tokens {
		info, ok := a.Store.MarkRenderFailed(token)
		if !ok {
			continue
		}
		entry := spool.HistoryEntry{
			At:       now,
			Tenant:   info.Tenant,
			Stage:    spool.StageRenderFailed,
			Token:    token,
			Customer: info.Meta.Customer,
			Order:    info.Meta.OrderNumber,
		}
		for _, serial := range a.Registry.SerialsFor(info.Tenant) {
			a.appendHistory(serial, entry)
		}
		a.record(audit.Event{
			At:     now,
			Stage:  spool.StageRenderFailed,
			Token:  token,
			Tenant: info.Tenant,
			Detail: err.Error(),
		})
	}
	a.Logger.Error("render failed, jobs marked failed",
		"jobs", len(tokens), "error", err)
}
