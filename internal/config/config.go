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

// Package config assembles the spoold runtime configuration from
// environment variables and flags. Flags take precedence over environment
// variables.
package config

import (
	"flag"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds runtime configuration for spoold.
type Config struct {
	Port             string        // PORT
	HTTPSPort        string        // HTTPS_PORT
	ForceHTTPToHTTPS bool          // FORCE_HTTP_TO_HTTPS
	TLSCert          string        // TLS_CERT
	TLSKey           string        // TLS_KEY
	ConfigURL        string        // CONFIG_URL
	MappingFile      string        // MAPPING_FILE
	ConfigRefresh    time.Duration // CONFIG_REFRESH
	ConfigThrottle   time.Duration // CONFIG_THROTTLE
	PollWindow       time.Duration // POLL_WINDOW
	SweepInterval    time.Duration // SWEEP_INTERVAL
	OfferTimeout     time.Duration // OFFER_TIMEOUT
	SentTimeout      time.Duration // SENT_TIMEOUT
	RenderWorkers    int           // RENDER_WORKERS
	RenderTimeout    time.Duration // RENDER_TIMEOUT
	AuditDB          string        // AUDIT_DB
	AdminTokenHash   string        // ADMIN_TOKEN_HASH (do not log value)
	LogLevel         string        // LOG_LEVEL: debug|info|warn|error
}

// Default returns the defaults spoold runs with when nothing is set.
func Default() Config {
	return Config{
		Port:             "8080",
		HTTPSPort:        "8443",
		ForceHTTPToHTTPS: false,
		TLSCert:          "/etc/spool/tls/server.crt",
		TLSKey:           "/etc/spool/tls/server.key",
		ConfigURL:        "",
		MappingFile:      "",
		ConfigRefresh:    5 * time.Minute,
		ConfigThrottle:   30 * time.Second,
		PollWindow:       15 * time.Second,
		SweepInterval:    3 * time.Second,
		OfferTimeout:     10 * time.Second,
		SentTimeout:      20 * time.Second,
		RenderWorkers:    2,
		RenderTimeout:    15 * time.Second,
		AuditDB:          "",
		AdminTokenHash:   "",
		LogLevel:         "info",
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// FromEnv seeds a Config from the environment, falling back to defaults.
func FromEnv() Config {
	def := Default()
	return Config{
		Port:             getenv("PORT", def.Port),
		HTTPSPort:        getenv("HTTPS_PORT", def.HTTPSPort),
		ForceHTTPToHTTPS: getenvBool("FORCE_HTTP_TO_HTTPS", def.ForceHTTPToHTTPS),
		TLSCert:          getenv("TLS_CERT", def.TLSCert),
		TLSKey:           getenv("TLS_KEY", def.TLSKey),
		ConfigURL:        getenv("CONFIG_URL", def.ConfigURL),
		MappingFile:      getenv("MAPPING_FILE", def.MappingFile),
		ConfigRefresh:    getenvDuration("CONFIG_REFRESH", def.ConfigRefresh),
		ConfigThrottle:   getenvDuration("CONFIG_THROTTLE", def.ConfigThrottle),
		PollWindow:       getenvDuration("POLL_WINDOW", def.PollWindow),
		SweepInterval:    getenvDuration("SWEEP_INTERVAL", def.SweepInterval),
		OfferTimeout:     getenvDuration("OFFER_TIMEOUT", def.OfferTimeout),
		SentTimeout:      getenvDuration("SENT_TIMEOUT", def.SentTimeout),
		RenderWorkers:    getenvInt("RENDER_WORKERS", def.RenderWorkers),
		RenderTimeout:    getenvDuration("RENDER_TIMEOUT", def.RenderTimeout),
		AuditDB:          getenv("AUDIT_DB", def.AuditDB),
		AdminTokenHash:   getenv("ADMIN_TOKEN_HASH", def.AdminTokenHash),
		LogLevel:         getenv("LOG_LEVEL", def.LogLevel),
	}
}

// Load builds the Config from env + args. Flags override environment
// variables.
func Load(args []string) (Config, error) {
	cfg := FromEnv()

	fs := flag.NewFlagSet("spoold", flag.ContinueOnError)
	fs.StringVar(&cfg.Port, "port", cfg.Port, "HTTP listen port (env PORT)")
	fs.StringVar(&cfg.HTTPSPort, "https-port", cfg.HTTPSPort, "HTTPS listen port (env HTTPS_PORT)")
	fs.BoolVar(&cfg.ForceHTTPToHTTPS, "force-https", cfg.ForceHTTPToHTTPS, "Redirect HTTP to HTTPS when HTTPS is up (env FORCE_HTTP_TO_HTTPS)")
	fs.StringVar(&cfg.TLSCert, "tls-cert", cfg.TLSCert, "TLS certificate path (env TLS_CERT)")
	fs.StringVar(&cfg.TLSKey, "tls-key", cfg.TLSKey, "TLS key path (env TLS_KEY)")
	fs.StringVar(&cfg.ConfigURL, "config-url", cfg.ConfigURL, "Remote mapping source URL (env CONFIG_URL)")
	fs.StringVar(&cfg.MappingFile, "mapping-file", cfg.MappingFile, "Local mapping fallback file (env MAPPING_FILE)")
	fs.DurationVar(&cfg.ConfigRefresh, "config-refresh", cfg.ConfigRefresh, "Mapping refresh period (env CONFIG_REFRESH)")
	fs.DurationVar(&cfg.ConfigThrottle, "config-throttle", cfg.ConfigThrottle, "On-demand refresh throttle (env CONFIG_THROTTLE)")
	fs.DurationVar(&cfg.PollWindow, "poll-window", cfg.PollWindow, "Presence window (env POLL_WINDOW)")
	fs.DurationVar(&cfg.SweepInterval, "sweep-interval", cfg.SweepInterval, "Background sweep period (env SWEEP_INTERVAL)")
	fs.DurationVar(&cfg.OfferTimeout, "offer-timeout", cfg.OfferTimeout, "Offered job requeue timeout (env OFFER_TIMEOUT)")
	fs.DurationVar(&cfg.SentTimeout, "sent-timeout", cfg.SentTimeout, "Sent job requeue timeout (env SENT_TIMEOUT)")
	fs.IntVar(&cfg.RenderWorkers, "render-workers", cfg.RenderWorkers, "Render concurrency (env RENDER_WORKERS)")
	fs.DurationVar(&cfg.RenderTimeout, "render-timeout", cfg.RenderTimeout, "Single render timeout (env RENDER_TIMEOUT)")
	fs.StringVar(&cfg.AuditDB, "audit-db", cfg.AuditDB, "SQLite audit database path, empty disables (env AUDIT_DB)")
	fs.StringVar(&cfg.AdminTokenHash, "admin-token-hash", cfg.AdminTokenHash, "bcrypt hash guarding admin endpoints (env ADMIN_TOKEN_HASH)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug|info|warn|error (env LOG_LEVEL)")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func redactedSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}

// Log writes the effective configuration. Secret values are redacted.
func (c Config) Log(logger *slog.Logger) {
	logger.Info("spoold configuration",
		"port", c.Port,
		"https_port", c.HTTPSPort,
		"force_http_to_https", c.ForceHTTPToHTTPS,
		"tls_cert", c.TLSCert,
		"tls_key", c.TLSKey,
		"config_url", c.ConfigURL,
		"mapping_file", c.MappingFile,
		"config_refresh", c.ConfigRefresh,
		"config_throttle", c.ConfigThrottle,
		"poll_window", c.PollWindow,
		"sweep_interval", c.SweepInterval,
		"offer_timeout", c.OfferTimeout,
		"sent_timeout", c.SentTimeout,
		"render_workers", c.RenderWorkers,
		"render_timeout", c.RenderTimeout,
		"audit_db", c.AuditDB,
		"admin_token_hash", redactedSecret(c.AdminTokenHash),
		"log_level", c.LogLevel)
}
