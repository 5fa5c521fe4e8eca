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
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"spool/internal/audit"
	"spool/internal/presence"
	"spool/internal/queue"
	"spool/internal/registry"
	"spool/internal/render"
	"spool/pkg/auth"
	"spool/pkg/spool"
)

// syncBroker completes renders on the caller's goroutine, which makes
// handler tests deterministic. The real broker behaves this way on cache
// hits, so synchronous completion is inside the contract.
type syncBroker struct {
	content []byte
	err     error
}

func (b *syncBroker) Submit(job render.Job) {
	if b.err != nil {
		job.OnFailure(b.err)
		return
	}
	job.OnSuccess(b.content)
}

// nopBroker never completes a render; jobs stay content-less.
type nopBroker struct{}

func (nopBroker) Submit(render.Job) {}

type captureSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (c *captureSink) Record(e audit.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *captureSink) Close() error { return nil }

func (c *captureSink) all() []audit.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]audit.Event, len(c.events))
	copy(out, c.events)
	return out
}

type fakeTrail struct {
	events []audit.Event
	err    error
}

func (f *fakeTrail) TokenEvents(ctx context.Context, token string) ([]audit.Event, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.events, nil
}

type testEnv struct {
	t       *testing.T
	mux     *http.ServeMux
	api     *API
	reg     *registry.Registry
	store   *queue.Store
	history *queue.History
	tracker *presence.Tracker
	sink    *captureSink
	logger  *slog.Logger
}

func newTestEnv(t *testing.T, bindings []registry.Binding) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := registry.New()
	reg.ReplaceAll(bindings)
	store := queue.NewStore(reg)
	history := queue.NewHistory()
	tracker := presence.New(presence.DefaultWindow)
	sink := &captureSink{}

	env := &testEnv{
		t:       t,
		reg:     reg,
		store:   store,
		history: history,
		tracker: tracker,
		sink:    sink,
		logger:  logger,
	}
	env.api = New(Deps{
		Registry: reg,
		Store:    store,
		History:  history,
		Presence: tracker,
		Sweeper:  queue.NewSweeper(store, history, sink, logger, queue.SweeperConfig{Interval: time.Hour}),
		Broker:   &syncBroker{content: []byte("rendered-ticket")},
		Sink:     sink,
	}, "", logger)
	env.mux = http.NewServeMux()
	env.api.Register(env.mux)
	return env
}

// shortSweeps swaps in a sweeper whose timeouts fire within a test sleep.
func (e *testEnv) shortSweeps(offer, sent time.Duration) {
	e.api.Sweeper = queue.NewSweeper(e.store, e.history, e.sink, e.logger, queue.SweeperConfig{
		Interval:     time.Hour,
		OfferTimeout: offer,
		SentTimeout:  sent,
	})
}

func (e *testEnv) do(method, target, body string, hdr map[string]string) *httptest.ResponseRecorder {
	e.t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	req.RemoteAddr = "10.1.2.3:4567"
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) poll(serial string) (int, pollResponse) {
	e.t.Helper()
	rec := e.do(http.MethodPost, "/cloudprnt", "", map[string]string{serialHeader: serial})
	var out pollResponse
	decodeBody(e.t, rec, &out)
	return rec.Code, out
}

func (e *testEnv) fetch(token, mediaType string) *httptest.ResponseRecorder {
	e.t.Helper()
	return e.do(http.MethodGet,
		"/cloudprnt?token="+url.QueryEscape(token)+"&type="+url.QueryEscape(mediaType), "", nil)
}

func (e *testEnv) confirm(token, code string) *httptest.ResponseRecorder {
	e.t.Helper()
	return e.do(http.MethodDelete,
		"/cloudprnt?token="+url.QueryEscape(token)+"&code="+url.QueryEscape(code), "", nil)
}

// mustIntake posts an order and returns the issued tokens.
func (e *testEnv) mustIntake(body string) []string {
	e.t.Helper()
	rec := e.do(http.MethodPost, "/api/print", body, nil)
	if rec.Code != http.StatusAccepted {
		e.t.Fatalf("intake status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp printResponse
	decodeBody(e.t, rec, &resp)
	if !resp.OK || len(resp.Tokens) == 0 {
		e.t.Fatalf("intake response = %+v", resp)
	}
	return resp.Tokens
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
}

func singleBinding() []registry.Binding {
	return []registry.Binding{{Tenant: "t1", Serial: "S1"}}
}

// ---------------- Poll ----------------

func TestPollUnknownSerialIsSilent(t *testing.T) {
	env := newTestEnv(t, singleBinding())

	code, resp := env.poll("GHOST")
	if code != http.StatusOK || resp.JobReady {
		t.Fatalf("poll = %d %+v", code, resp)
	}
	if resp.JobToken != "" || resp.DeleteMethod != "" {
		t.Fatalf("idle body must carry no offer fields: %+v", resp)
	}
	// No presence record for a serial outside the mapping.
	if entries := env.tracker.Snapshot(time.Now()); len(entries) != 0 {
		t.Fatalf("presence = %+v", entries)
	}
}

func TestPollMissingSerialHeader(t *testing.T) {
	env := newTestEnv(t, singleBinding())

	rec := env.do(http.MethodPost, "/cloudprnt", "", nil)
	var resp pollResponse
	decodeBody(t, rec, &resp)
	if rec.Code != http.StatusOK || resp.JobReady {
		t.Fatalf("poll = %d %+v", rec.Code, resp)
	}
}

func TestPollIdleMarksPresence(t *testing.T) {
	env := newTestEnv(t, singleBinding())

	code, resp := env.poll("S1")
	if code != http.StatusOK || resp.JobReady {
		t.Fatalf("poll = %d %+v", code, resp)
	}

	entries := env.tracker.Snapshot(time.Now())
	if len(entries) != 1 || entries[0].Serial != "S1" || !entries[0].Online {
		t.Fatalf("presence = %+v", entries)
	}
	if entries[0].Addr != "10.1.2.3" {
		t.Fatalf("addr = %q", entries[0].Addr)
	}
}

func TestPollOffersReadyJob(t *testing.T) {
	env := newTestEnv(t, singleBinding())
	tokens := env.mustIntake(`{"restaurantId":"t1","order":{"orderNumber":"7"}}`)

	code, resp := env.poll("S1")
	if code != http.StatusOK || !resp.JobReady {
		t.Fatalf("poll = %d %+v", code, resp)
	}
	if resp.JobToken != tokens[0] {
		t.Fatalf("token = %q, want %q", resp.JobToken, tokens[0])
	}
	if len(resp.MediaTypes) != 1 || resp.MediaTypes[0] != "image/png" {
		t.Fatalf("mediaTypes = %v", resp.MediaTypes)
	}
	if resp.DeleteMethod != "DELETE" {
		t.Fatalf("deleteMethod = %q", resp.DeleteMethod)
	}

	snap := env.store.Snapshot("t1")
	if snap[0].Status != spool.StatusOffered || snap[0].Serial != "S1" {
		t.Fatalf("job after offer = %+v", snap[0])
	}
	hist := env.history.For("S1")
	if hist[0].Stage != spool.StageOffered || hist[0].Token != tokens[0] {
		t.Fatalf("history = %+v", hist)
	}
}

func TestPollSkipsContentlessJob(t *testing.T) {
	env := newTestEnv(t, singleBinding())
	env.api.Broker = nopBroker{}
	env.mustIntake(`{"restaurantId":"t1","order":{}}`)

	if _, resp := env.poll("S1"); resp.JobReady {
		t.Fatal("job without content must not be offered")
	}
}

// ---------------- Fetch ----------------

func TestFetchWrongMediaType(t *testing.T) {
	env := newTestEnv(t, singleBinding())
	env.mustIntake(`{"restaurantId":"t1","order":{}}`)
	_, resp := env.poll("S1")

	rec := env.fetch(resp.JobToken, "text/plain")
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status = %d", rec.Code)
	}
	// The job must not transition on a rejected fetch.
	if got := env.store.Snapshot("t1")[0].Status; got != spool.StatusOffered {
		t.Fatalf("status after 415 = %s", got)
	}

	if rec := env.fetch(resp.JobToken, "image/png"); rec.Code != http.StatusOK {
		t.Fatalf("follow-up fetch = %d", rec.Code)
	}
}

func TestFetchUnknownToken(t *testing.T) {
	env := newTestEnv(t, singleBinding())
	if rec := env.fetch("ghost", "image/png"); rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestFetchPendingContent(t *testing.T) {
	env := newTestEnv(t, singleBinding())
	env.api.Broker = nopBroker{}
	tokens := env.mustIntake(`{"restaurantId":"t1","order":{}}`)

	rec := env.fetch(tokens[0], "image/png")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp pollResponse
	decodeBody(t, rec, &resp)
	if resp.JobReady {
		t.Fatalf("pending fetch body = %+v", resp)
	}
	if got := env.store.Snapshot("t1")[0].Status; got != spool.StatusQueued {
		t.Fatalf("pending fetch must not transition, status = %s", got)
	}
}

func TestFetchServesContent(t *testing.T) {
	env := newTestEnv(t, singleBinding())
	env.mustIntake(`{"restaurantId":"t1","order":{"customerName":"Ada"}}`)
	_, offer := env.poll("S1")

	rec := env.fetch(offer.JobToken, "image/png")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("content type = %q", ct)
	}
	body := rec.Body.Bytes()
	if cl := rec.Header().Get("Content-Length"); cl != strconv.Itoa(len(body)) {
		t.Fatalf("content length = %q, body %d bytes", cl, len(body))
	}
	if string(body) != "rendered-ticket" {
		t.Fatalf("body = %q", body)
	}

	snap := env.store.Snapshot("t1")[0]
	if snap.Status != spool.StatusSent || snap.SentAt == nil {
		t.Fatalf("job after fetch = %+v", snap)
	}
	hist := env.history.For("S1")
	if hist[0].Stage != spool.StageSent || hist[0].Customer != "Ada" {
		t.Fatalf("history = %+v", hist[0])
	}
}

func TestFetchWhileQueuedServedAndAudited(t *testing.T) {
	env := newTestEnv(t, singleBinding())
	tokens := env.mustIntake(`{"restaurantId":"t1","order":{}}`)

	// Fetch without a poll: the token was never offered.
	rec := env.fetch(tokens[0], "image/png")
	if rec.Code != http.StatusOK || rec.Body.String() != "rendered-ticket" {
		t.Fatalf("fetch = %d %q", rec.Code, rec.Body.String())
	}
	if got := env.store.Snapshot("t1")[0].Status; got != spool.StatusSent {
		t.Fatalf("status = %s", got)
	}

	var sentEvent *audit.Event
	for _, e := range env.sink.all() {
		if e.Stage == spool.StageSent && e.Token == tokens[0] {
			ev := e
			sentEvent = &ev
		}
	}
	if sentEvent == nil || sentEvent.Detail != "fetched while queued" {
		t.Fatalf("audit event = %+v", sentEvent)
	}
}

// ---------------- Confirm ----------------

func TestConfirmSuccessRemovesJobOnce(t *testing.T) {
	env := newTestEnv(t, singleBinding())
	tokens := env.mustIntake(`{"restaurantId":"t1","order":{}}`)
	_, offer := env.poll("S1")
	env.fetch(offer.JobToken, "image/png")

	if rec := env.confirm(tokens[0], "OK"); rec.Code != http.StatusOK {
		t.Fatalf("confirm = %d", rec.Code)
	}
	if depth := env.store.Depth("t1"); depth != 0 {
		t.Fatalf("depth = %d", depth)
	}
	hist := env.history.For("S1")
	if hist[0].Stage != spool.StageCompleted {
		t.Fatalf("history = %+v", hist[0])
	}

	// Confirming again is a 200 no-op.
	if rec := env.confirm(tokens[0], "OK"); rec.Code != http.StatusOK {
		t.Fatalf("second confirm = %d", rec.Code)
	}
	completed := 0
	for _, e := range env.history.For("S1") {
		if e.Stage == spool.StageCompleted {
			completed++
		}
	}
	if completed != 1 {
		t.Fatalf("completed entries = %d", completed)
	}
}

func TestConfirmFailureRequeues(t *testing.T) {
	env := newTestEnv(t, singleBinding())
	tokens := env.mustIntake(`{"restaurantId":"t1","order":{}}`)
	_, offer := env.poll("S1")
	env.fetch(offer.JobToken, "image/png")

	if rec := env.confirm(tokens[0], "500"); rec.Code != http.StatusOK {
		t.Fatalf("confirm = %d", rec.Code)
	}
	snap := env.store.Snapshot("t1")[0]
	if snap.Status != spool.StatusQueued || snap.OfferedAt != nil || snap.SentAt != nil {
		t.Fatalf("job after reject = %+v", snap)
	}
	hist := env.history.For("S1")
	if hist[0].Stage != spool.StageFailed {
		t.Fatalf("history = %+v", hist[0])
	}
}

func TestConfirmUnknownToken(t *testing.T) {
	env := newTestEnv(t, singleBinding())
	if rec := env.confirm("ghost", "OK"); rec.Code != http.StatusOK {
		t.Fatalf("confirm = %d", rec.Code)
	}
	if rec := env.confirm("ghost", "500"); rec.Code != http.StatusOK {
		t.Fatalf("confirm = %d", rec.Code)
	}
}

func TestIsPrintSuccess(t *testing.T) {
	cases := []struct {
		code string
		want bool
	}{
		{"OK", true},
		{"ok", true},
		{"Ok", true},
		{"200 OK", true},
		{"200", true},
		{"201", true},
		{"2xx", true},
		{" 200 ", true},
		{"500", false},
		{"ERROR", false},
		{"", false},
		{"print failed", false},
	}
	for _, tc := range cases {
		if got := isPrintSuccess(tc.code); got != tc.want {
			t.Errorf("isPrintSuccess(%q) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

// ---------------- Intake ----------------

func TestIntakeValidation(t *testing.T) {
	env := newTestEnv(t, singleBinding())

	cases := []struct {
		name string
		body string
	}{
		{"no body", `{}`},
		{"empty array", `{"restaurantId":[],"order":{}}`},
		{"blank tenant", `{"restaurantId":" ","order":{}}`},
		{"blank entry", `{"restaurantId":["t1",""],"order":{}}`},
		{"bad tenant type", `{"restaurantId":7,"order":{}}`},
		{"missing order", `{"restaurantId":"t1"}`},
		{"order not object", `{"restaurantId":"t1","order":[1,2]}`},
		{"order null", `{"restaurantId":"t1","order":null}`},
		{"invalid json", `{"restaurantId":`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(http.MethodPost, "/api/print", tc.body, nil)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
			}
			var resp apiError
			decodeBody(t, rec, &resp)
			if resp.OK || resp.Error == "" {
				t.Fatalf("error body = %+v", resp)
			}
		})
	}
	if depth := env.store.Depth("t1"); depth != 0 {
		t.Fatalf("rejected intakes must not create jobs, depth = %d", depth)
	}
}

func TestIntakeUnknownTenantsListed(t *testing.T) {
	env := newTestEnv(t, singleBinding())

	rec := env.do(http.MethodPost, "/api/print",
		`{"restaurantId":["t1","ghost","phantom","ghost"],"order":{}}`, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp apiError
	decodeBody(t, rec, &resp)
	if resp.Error != "Unknown restaurantId(s): ghost, phantom" {
		t.Fatalf("error = %q", resp.Error)
	}
	// The whole request is rejected, known tenants included.
	if depth := env.store.Depth("t1"); depth != 0 {
		t.Fatalf("depth = %d", depth)
	}
}

func TestIntakeAcceptsStringAndArray(t *testing.T) {
	env := newTestEnv(t, []registry.Binding{
		{Tenant: "t1", Serial: "S1"},
		{Tenant: "t2", Serial: "S2"},
	})

	one := env.mustIntake(`{"restaurantId":"t1","order":{}}`)
	if len(one) != 1 {
		t.Fatalf("tokens = %v", one)
	}
	two := env.mustIntake(`{"restaurantId":["t1","t2"],"order":{}}`)
	if len(two) != 2 || two[0] == two[1] {
		t.Fatalf("tokens = %v", two)
	}
}

func TestIntakeMetadataPassthrough(t *testing.T) {
	env := newTestEnv(t, singleBinding())
	env.mustIntake(`{"restaurantId":"t1","order":{
		"orderId":"ord-9","orderNumber":"42","customerName":"Ada"}}`)

	snap := env.store.Snapshot("t1")[0]
	if snap.Meta.OrderID != "ord-9" || snap.Meta.OrderNumber != "42" || snap.Meta.Customer != "Ada" {
		t.Fatalf("meta = %+v", snap.Meta)
	}
	if !snap.HasContent {
		t.Fatal("sync broker should have attached content")
	}
	// Intake lands in the history of every serial bound to the tenant.
	hist := env.history.For("S1")
	if hist[0].Stage != spool.StageReceived || hist[0].Customer != "Ada" {
		t.Fatalf("history = %+v", hist[0])
	}
}

func TestIntakeSnakeCaseMetadata(t *testing.T) {
	env := newTestEnv(t, singleBinding())
	env.mustIntake(`{"restaurantId":"t1","order":{
		"order_id":"ord-9","order_number":"42","customer_name":"Ada"}}`)

	snap := env.store.Snapshot("t1")[0]
	if snap.Meta.OrderID != "ord-9" || snap.Meta.OrderNumber != "42" || snap.Meta.Customer != "Ada" {
		t.Fatalf("meta = %+v", snap.Meta)
	}
}

func TestIntakeRenderFailureFailsJobs(t *testing.T) {
	env := newTestEnv(t, singleBinding())
	env.api.Broker = &syncBroker{err: errors.New("deliberate render error")}

	tokens := env.mustIntake(`{"restaurantId":"t1","order":{}}`)

	snap := env.store.Snapshot("t1")[0]
	if snap.Status != spool.StatusFailed || snap.HasContent {
		t.Fatalf("job = %+v", snap)
	}
	if _, resp := env.poll("S1"); resp.JobReady {
		t.Fatal("failed job must not be offered")
	}

	var stages []spool.Stage
	for _, e := range env.history.For("S1") {
		stages = append(stages, e.Stage)
	}
	if stages[0] != spool.StageRenderFailed {
		t.Fatalf("history stages = %v", stages)
	}
	found := false
	for _, e := range env.sink.all() {
		if e.Stage == spool.StageRenderFailed && e.Token == tokens[0] {
			found = true
		}
	}
	if !found {
		t.Fatal("render failure missing from audit stream")
	}
}

func TestIntakeRefreshesStaleMapping(t *testing.T) {
	env := newTestEnv(t, singleBinding())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"restaurantId":"t1","serial":"S1"},
			{"restaurantId":"fresh","serial":"SF"}
		]`))
	}))
	defer srv.Close()
	env.api.Loader = registry.NewLoader(env.reg, registry.LoaderConfig{URL: srv.URL}, env.logger)

	tokens := env.mustIntake(`{"restaurantId":"fresh","order":{}}`)
	if len(tokens) != 1 {
		t.Fatalf("tokens = %v", tokens)
	}
	if !env.reg.KnownTenant("fresh") {
		t.Fatal("mapping refresh did not land")
	}
}

// ---------------- Query surface ----------------

func TestPrintersListing(t *testing.T) {
	env := newTestEnv(t, []registry.Binding{
		{Tenant: "t1", Serial: "S1"},
		{Tenant: "t2", Serial: "S2"},
		{Tenant: "t2b", Serial: "S2"},
	})
	env.mustIntake(`{"restaurantId":"t2","order":{}}`)
	env.poll("S2")

	rec := env.do(http.MethodGet, "/api/printers", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var list []spool.PrinterStatus
	decodeBody(t, rec, &list)
	if len(list) != 2 {
		t.Fatalf("printers = %+v", list)
	}
	// Sorted by serial.
	if list[0].Serial != "S1" || list[1].Serial != "S2" {
		t.Fatalf("order = %s, %s", list[0].Serial, list[1].Serial)
	}
	if list[0].Online || list[0].LastSeen != nil {
		t.Fatalf("S1 should be offline: %+v", list[0])
	}
	s2 := list[1]
	if !s2.Online || s2.LastSeen == nil || s2.Addr != "10.1.2.3" {
		t.Fatalf("S2 = %+v", s2)
	}
	if len(s2.Tenants) != 2 || s2.Tenants[0] != "t2" || s2.Tenants[1] != "t2b" {
		t.Fatalf("S2 tenants = %v", s2.Tenants)
	}
	// One job queued for t2; the poll offered it but it stays counted.
	if s2.Queued != 1 {
		t.Fatalf("S2 queued = %d", s2.Queued)
	}
}

func TestPrintersOnline(t *testing.T) {
	env := newTestEnv(t, []registry.Binding{
		{Tenant: "t1", Serial: "S1"},
		{Tenant: "t2", Serial: "S2"},
	})
	env.poll("S2")

	rec := env.do(http.MethodGet, "/api/printers/online", "", nil)
	var list []spool.PrinterStatus
	decodeBody(t, rec, &list)
	if len(list) != 1 || list[0].Serial != "S2" || !list[0].Online {
		t.Fatalf("online = %+v", list)
	}
}

func TestPrinterHistoryEndpoint(t *testing.T) {
	env := newTestEnv(t, []registry.Binding{
		{Tenant: "t1", Serial: "S1"},
		{Tenant: "t9", Serial: "S9"},
	})
	env.mustIntake(`{"restaurantId":"t1","order":{}}`)
	env.poll("S1")

	rec := env.do(http.MethodGet, "/api/printers/S1/history", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var hist []spool.HistoryEntry
	decodeBody(t, rec, &hist)
	if len(hist) != 2 || hist[0].Stage != spool.StageOffered || hist[1].Stage != spool.StageReceived {
		t.Fatalf("history = %+v", hist)
	}

	if rec := env.do(http.MethodGet, "/api/printers/GHOST/history", "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown serial status = %d", rec.Code)
	}
	// Configured but silent serial: empty list, not 404.
	rec = env.do(http.MethodGet, "/api/printers/S9/history", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := strings.TrimSpace(rec.Body.String()); body != "[]" {
		t.Fatalf("body = %q", body)
	}
}

func TestQueueEndpoint(t *testing.T) {
	env := newTestEnv(t, singleBinding())
	tokens := env.mustIntake(`{"restaurantId":"t1","order":{"orderNumber":"7"}}`)

	rec := env.do(http.MethodGet, "/api/queues/t1", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var jobs []spool.Job
	decodeBody(t, rec, &jobs)
	if len(jobs) != 1 || jobs[0].Token != tokens[0] || !jobs[0].HasContent {
		t.Fatalf("jobs = %+v", jobs)
	}
	if jobs[0].Meta.OrderNumber != "7" {
		t.Fatalf("meta = %+v", jobs[0].Meta)
	}

	if rec := env.do(http.MethodGet, "/api/queues/ghost", "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown tenant status = %d", rec.Code)
	}
}

func TestQueueEndpointEmptyConfiguredTenant(t *testing.T) {
	env := newTestEnv(t, singleBinding())

	rec := env.do(http.MethodGet, "/api/queues/t1", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := strings.TrimSpace(rec.Body.String()); body != "[]" {
		t.Fatalf("body = %q", body)
	}
}

func TestPresenceEndpoint(t *testing.T) {
	env := newTestEnv(t, singleBinding())
	env.poll("S1")

	rec := env.do(http.MethodGet, "/api/presence", "", nil)
	var entries []spool.PresenceEntry
	decodeBody(t, rec, &entries)
	if len(entries) != 1 || entries[0].Serial != "S1" || !entries[0].Online {
		t.Fatalf("presence = %+v", entries)
	}
	if entries[0].AgeMS < 0 {
		t.Fatalf("ageMs = %d", entries[0].AgeMS)
	}
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t, singleBinding())

	if rec := env.do(http.MethodGet, "/healthz", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rec.Code)
	}
	// No loader configured: the static mapping is all there is, so ready.
	if rec := env.do(http.MethodGet, "/readyz", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("readyz = %d", rec.Code)
	}

	loader := registry.NewLoader(env.reg, registry.LoaderConfig{URL: "http://127.0.0.1:0/mapping"}, env.logger)
	env.api.Loader = loader
	if rec := env.do(http.MethodGet, "/readyz", "", nil); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz before first load = %d", rec.Code)
	}
	loader.SeedFallback(singleBinding())
	if rec := env.do(http.MethodGet, "/readyz", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("readyz after seed = %d", rec.Code)
	}
}

// ---------------- Admin ----------------

func TestAdminReloadAuth(t *testing.T) {
	env := newTestEnv(t, singleBinding())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"restaurantId":"t9","serial":"S9"}]`))
	}))
	defer srv.Close()
	env.api.Loader = registry.NewLoader(env.reg, registry.LoaderConfig{URL: srv.URL}, env.logger)

	hash, err := auth.HashToken("sesame")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	env.api.AdminTokenHash = hash

	if rec := env.do(http.MethodPost, "/api/admin/reload", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token = %d", rec.Code)
	}
	wrong := map[string]string{"Authorization": "Bearer wrong"}
	if rec := env.do(http.MethodPost, "/api/admin/reload", "", wrong); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token = %d", rec.Code)
	}

	good := map[string]string{"Authorization": "Bearer sesame"}
	rec := env.do(http.MethodPost, "/api/admin/reload", "", good)
	if rec.Code != http.StatusOK {
		t.Fatalf("reload = %d, body %s", rec.Code, rec.Body.String())
	}
	if !env.reg.KnownTenant("t9") {
		t.Fatal("reload did not apply the new mapping")
	}

	alt := map[string]string{"X-Admin-Token": "sesame"}
	if rec := env.do(http.MethodPost, "/api/admin/reload", "", alt); rec.Code != http.StatusOK {
		t.Fatalf("X-Admin-Token reload = %d", rec.Code)
	}
}

func TestAdminReloadOpenWithoutHash(t *testing.T) {
	env := newTestEnv(t, singleBinding())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"restaurantId":"t1","serial":"S1"}]`))
	}))
	defer srv.Close()
	env.api.Loader = registry.NewLoader(env.reg, registry.LoaderConfig{URL: srv.URL}, env.logger)

	if rec := env.do(http.MethodPost, "/api/admin/reload", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("reload = %d", rec.Code)
	}
}

func TestAdminReloadWithoutLoader(t *testing.T) {
	env := newTestEnv(t, singleBinding())
	if rec := env.do(http.MethodPost, "/api/admin/reload", "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("reload = %d", rec.Code)
	}
}

func TestJobViewEndpoint(t *testing.T) {
	env := newTestEnv(t, singleBinding())
	tokens := env.mustIntake(`{"restaurantId":"t1","order":{"orderNumber":"41"}}`)

	rec := env.do(http.MethodGet, "/api/jobs/"+tokens[0], "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("view = %d", rec.Code)
	}
	var job spool.Job
	decodeBody(t, rec, &job)
	if job.Token != tokens[0] || job.Status != spool.StatusQueued || !job.HasContent {
		t.Fatalf("job = %+v", job)
	}
	if job.Meta.OrderNumber != "41" {
		t.Fatalf("meta = %+v", job.Meta)
	}

	if rec := env.do(http.MethodGet, "/api/jobs/ghost", "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown token view = %d", rec.Code)
	}
	if rec := env.do(http.MethodGet, "/api/jobs/"+tokens[0]+"/bogus", "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("bogus subpath = %d", rec.Code)
	}
}

func TestJobTrailEndpoint(t *testing.T) {
	env := newTestEnv(t, singleBinding())

	if rec := env.do(http.MethodGet, "/api/jobs/tok-1/trail", "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("without trail = %d", rec.Code)
	}

	env.api.Trail = &fakeTrail{events: []audit.Event{
		{Stage: spool.StageReceived, Token: "tok-1", Tenant: "t1"},
		{Stage: spool.StageOffered, Token: "tok-1", Tenant: "t1", Serial: "S1"},
	}}
	rec := env.do(http.MethodGet, "/api/jobs/tok-1/trail", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("trail = %d", rec.Code)
	}
	var events []audit.Event
	decodeBody(t, rec, &events)
	if len(events) != 2 || events[0].Stage != spool.StageReceived {
		t.Fatalf("events = %+v", events)
	}

	env.api.Trail = &fakeTrail{err: audit.ErrNotFound}
	if rec := env.do(http.MethodGet, "/api/jobs/tok-1/trail", "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown token trail = %d", rec.Code)
	}
}

func TestJobDropEndpoint(t *testing.T) {
	env := newTestEnv(t, singleBinding())
	tokens := env.mustIntake(`{"restaurantId":"t1","order":{}}`)

	rec := env.do(http.MethodDelete, "/api/jobs/"+tokens[0], "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("drop = %d", rec.Code)
	}
	if depth := env.store.Depth("t1"); depth != 0 {
		t.Fatalf("depth = %d", depth)
	}
	if rec := env.do(http.MethodDelete, "/api/jobs/"+tokens[0], "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("second drop = %d", rec.Code)
	}

	hash, err := auth.HashToken("sesame")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	env.api.AdminTokenHash = hash
	more := env.mustIntake(`{"restaurantId":"t1","order":{}}`)
	if rec := env.do(http.MethodDelete, "/api/jobs/"+more[0], "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated drop = %d", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, singleBinding())

	cases := []struct {
		method string
		target string
	}{
		{http.MethodPut, "/cloudprnt"},
		{http.MethodGet, "/api/print"},
		{http.MethodPost, "/api/printers"},
		{http.MethodPost, "/api/presence"},
		{http.MethodGet, "/api/admin/reload"},
		{http.MethodPost, "/healthz"},
	}
	for _, tc := range cases {
		rec := env.do(tc.method, tc.target, "", nil)
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s = %d", tc.method, tc.target, rec.Code)
		}
	}
}
