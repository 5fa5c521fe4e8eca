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
	"net/http"
	"strconv"
	"strings"

	"spool/internal/audit"
	"spool/internal/metrics"
	"spool/internal/queue"
	"spool/pkg/spool"
)

// serialHeader carries the printer's self-reported identity on every poll.
const serialHeader = "X-Star-Serial-Number"

// pollResponse is the poll reply body. The field set and spelling are fixed
// by the printer firmware; jobReady:false must be the entire idle body.
type pollResponse struct {
	JobReady     bool     `json:"jobReady"`
	JobToken     string   `json:"jobToken,omitempty"`
	MediaTypes   []string `json:"mediaTypes,omitempty"`
	DeleteMethod string   `json:"deleteMethod,omitempty"`
}

func (a *API) cloudprntHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.handlePoll(w, r)
	case http.MethodGet:
		a.handleFetch(w, r)
	case http.MethodDelete:
		a.handleConfirm(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handlePoll answers a printer's job inquiry. Unknown serials get an idle
// body rather than an error so a misconfigured printer keeps polling quietly
// and leaves no presence record behind.
func (a *API) handlePoll(w http.ResponseWriter, r *http.Request) {
	serial := strings.TrimSpace(r.Header.Get(serialHeader))
	tenants := a.Registry.TenantsFor(serial)
	if serial == "" || len(tenants) == 0 {
		metrics.IncPoll(metrics.PollUnknownSerial)
		a.Logger.Debug("poll from unknown serial", "serial", serial, "client", clientIP(r))
		writeJSON(w, http.StatusOK, pollResponse{JobReady: false})
		return
	}

	now := a.now()
	if a.Presence != nil {
		a.Presence.MarkSeen(serial, clientIP(r), now)
	}
	// Sweep this serial's tenants before selecting so a printer recovering
	// from silence is immediately re-offered the job it dropped.
	if a.Sweeper != nil {
		a.Sweeper.SweepSerial(tenants)
	}

	offer, ok := a.Store.SelectForSerial(serial)
	if !ok {
		metrics.IncPoll(metrics.PollIdle)
		writeJSON(w, http.StatusOK, pollResponse{JobReady: false})
		return
	}

	a.appendHistory(serial, spool.HistoryEntry{
		At:       now,
		Tenant:   offer.Tenant,
		Stage:    spool.StageOffered,
		Token:    offer.Token,
		Customer: offer.Meta.Customer,
		Order:    offer.Meta.OrderNumber,
	})
	a.record(audit.Event{
		At:     now,
		Stage:  spool.StageOffered,
		Token:  offer.Token,
		Tenant: offer.Tenant,
		Serial: serial,
	})
	metrics.IncPoll(metrics.PollOffer)
	a.Logger.Info("job offered",
		"token", offer.Token, "tenant", offer.Tenant, "serial", serial)

	writeJSON(w, http.StatusOK, pollResponse{
		JobReady:     true,
		JobToken:     offer.Token,
		MediaTypes:   []string{mediaTypePNG},
		DeleteMethod: "DELETE",
	})
}

// handleFetch serves the rendered content for a token. A known token whose
// render is still in flight answers jobReady:false so the printer retries
// instead of treating the job as gone.
func (a *API) handleFetch(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	mediaType := r.URL.Query().Get("type")
	if mediaType != mediaTypePNG {
		metrics.IncFetch(metrics.FetchBadType)
		a.Logger.Warn("fetch with unsupported media type", "type", mediaType, "token", token)
		http.Error(w, "unsupported media type", http.StatusUnsupportedMediaType)
		return
	}

	content, info, outcome, violation := a.Store.Fetch(token)
	switch outcome {
	case queue.FetchUnknown:
		metrics.IncFetch(metrics.FetchUnknown)
		http.Error(w, "unknown token", http.StatusNotFound)
		return
	case queue.FetchPending:
		metrics.IncFetch(metrics.FetchPending)
		writeJSON(w, http.StatusOK, pollResponse{JobReady: false})
		return
	}

	now := a.now()
	detail := ""
	if violation {
		detail = "fetched while queued"
		a.Logger.Warn("content fetched for a token that was never offered",
			"token", token, "tenant", info.Tenant, "client", clientIP(r))
	}
	a.appendHistory(info.Serial, spool.HistoryEntry{
		At:       now,
		Tenant:   info.Tenant,
		Stage:    spool.StageSent,
		Token:    token,
		Customer: info.Meta.Customer,
		Order:    info.Meta.OrderNumber,
	})
	a.record(audit.Event{
		At:     now,
		Stage:  spool.StageSent,
		Token:  token,
		Tenant: info.Tenant,
		Serial: info.Serial,
		Detail: detail,
	})
	metrics.IncFetch(metrics.FetchSent)

	w.Header().Set("Content-Type", mediaTypePNG)
	w.Header().Set("Content-Length", strconv.Itoa(len(content)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(content)
}

// handleConfirm processes the printer's delete call after a print attempt.
// The reply is 200 no matter what: the printer only needs to know the
// confirmation landed, and a failure already triggered a requeue.
func (a *API) handleConfirm(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	code := r.URL.Query().Get("code")
	now := a.now()

	if isPrintSuccess(code) {
		info, known := a.Store.Confirm(token)
		if !known {
			metrics.IncConfirm(metrics.ConfirmUnknown)
			w.WriteHeader(http.StatusOK)
			return
		}
		a.appendHistory(info.Serial, spool.HistoryEntry{
			At:       now,
			Tenant:   info.Tenant,
			Stage:    spool.StageCompleted,
			Token:    token,
			Customer: info.Meta.Customer,
			Order:    info.Meta.OrderNumber,
		})
		a.record(audit.Event{
			At:     now,
			Stage:  spool.StageCompleted,
			Token:  token,
			Tenant: info.Tenant,
			Serial: info.Serial,
			Detail: "code " + code,
		})
		metrics.IncConfirm(metrics.ConfirmCompleted)
		metrics.SetQueueDepth(info.Tenant, a.Store.Depth(info.Tenant))
		a.Logger.Info("job completed",
			"token", token, "tenant", info.Tenant, "serial", info.Serial)
		w.WriteHeader(http.StatusOK)
		return
	}

	info, requeued, known := a.Store.Reject(token)
	if !known {
		metrics.IncConfirm(metrics.ConfirmUnknown)
		w.WriteHeader(http.StatusOK)
		return
	}
	a.appendHistory(info.Serial, spool.HistoryEntry{
		At:       now,
		Tenant:   info.Tenant,
		Stage:    spool.StageFailed,
		Token:    token,
		Customer: info.Meta.Customer,
		Order:    info.Meta.OrderNumber,
	})
	a.record(audit.Event{
		At:     now,
		Stage:  spool.StageFailed,
		Token:  token,
		Tenant: info.Tenant,
		Serial: info.Serial,
		Detail: "code " + code,
	})
	metrics.IncConfirm(metrics.ConfirmRequeued)
	a.Logger.Warn("print failed, job requeued",
		"token", token, "tenant", info.Tenant, "serial", info.Serial,
		"code", code, "requeued", requeued)
	w.WriteHeader(http.StatusOK)
}

// isPrintSuccess interprets the printer's statusCode query parameter. The
// firmware reports "OK", "200 OK", a bare status number, or vendor strings;
// anything in the 2xx family or a literal OK counts as printed.
func isPrintSuccess(code string) bool {
	c := strings.TrimSpace(code)
	if strings.EqualFold(c, "OK") {
		return true
	}
	return strings.HasPrefix(c, "2")
}
