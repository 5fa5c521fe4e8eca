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

// Package middleware holds the HTTP middleware shared by the dispatch and
// query surfaces: security headers, request logging, and rate limiting for
// the intake endpoint.
package middleware

import (
	"net/http"
	"strconv"
)

// SecurityHeadersConfig controls the security header middleware.
type SecurityHeadersConfig struct {
	// EnableHSTS adds Strict-Transport-Security; only meaningful on the
	// HTTPS listener.
	EnableHSTS bool
	// HSTSMaxAge is the max-age value in seconds (default one year).
	HSTSMaxAge int
	// HSTSIncludeSubdomains adds includeSubDomains to the HSTS value.
	HSTSIncludeSubdomains bool
}

// DefaultSecurityHeadersConfig returns the defaults used by spoold.
func DefaultSecurityHeadersConfig() SecurityHeadersConfig {
	return SecurityHeadersConfig{
		EnableHSTS:            false,
		HSTSMaxAge:            31536000,
		HSTSIncludeSubdomains: false,
	}
}

// SecurityHeaders returns middleware that stamps baseline security headers
// on every response. Printer firmware ignores them; they exist for the
// query surface reached from browsers.
func SecurityHeaders(cfg SecurityHeadersConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "no-referrer")

			if cfg.EnableHSTS {
				hstsValue := "max-age=" + strconv.Itoa(cfg.HSTSMaxAge)
				if cfg.HSTSIncludeSubdomains {
					hstsValue += "; includeSubDomains"
				}
				w.Header().Set("Strict-Transport-Security", hstsValue)
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Chain applies middlewares right to left, so the first argument is the
// outermost wrapper.
func Chain(h http.Handler, wrappers ...func(http.Handler) http.Handler) http.Handler {
	for i := len(wrappers) - 1; i >= 0; i-- {
		h = wrappers[i](h)
	}
	return h
}
