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

package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"spool/internal/ctxkeys"
)

func TestRequestLogAssignsCorrelationID(t *testing.T) {
	var seen string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ctxkeys.GetCorrelationID(r.Context())
		w.WriteHeader(http.StatusAccepted)
	})

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	handler := RequestLog(logger)(inner)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("POST", "/api/print", nil))

	if seen == "" {
		t.Fatal("handler saw no correlation ID")
	}
	if got := w.Header().Get("X-Correlation-Id"); got != seen {
		t.Errorf("response header = %q, context = %q", got, seen)
	}

	line := buf.String()
	if !strings.Contains(line, "status=202") {
		t.Errorf("access line missing status: %s", line)
	}
	if !strings.Contains(line, seen) {
		t.Errorf("access line missing correlation ID: %s", line)
	}
}

func TestRequestLogKeepsExistingCorrelationID(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	handler := RequestLog(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))(inner)

	req := httptest.NewRequest("GET", "/api/printers", nil)
	req = req.WithContext(ctxkeys.WithCorrelationID(req.Context(), "fixed-id"))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if got := w.Header().Get("X-Correlation-Id"); got != "fixed-id" {
		t.Errorf("correlation ID = %q, want fixed-id", got)
	}
}
