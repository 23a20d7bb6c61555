package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kDuration
	kList
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "ECLIPSE_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.allowed_origins", typ: kList, env: "ECLIPSE_SERVER_ALLOWED_ORIGINS",
		apply:   func(cfg *Config, v any) { cfg.Server.AllowedOrigins = v.([]string) },
		extract: func(cfg Config) any { return strings.Join(cfg.Server.AllowedOrigins, ",") },
	},
	{
		key: "storage.data_dir", typ: kString, env: "ECLIPSE_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "ECLIPSE_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "scan.max_upload_mb", typ: kInt, env: "ECLIPSE_SCAN_MAX_UPLOAD_MB",
		apply:   func(cfg *Config, v any) { cfg.Scan.MaxUploadMB = v.(int) },
		extract: func(cfg Config) any { return cfg.Scan.MaxUploadMB },
	},
	{
		key: "scan.upload_delay", typ: kDuration, env: "ECLIPSE_SCAN_UPLOAD_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Scan.UploadDelay = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Scan.UploadDelay },
	},
	{
		key: "scan.analysis_delay", typ: kDuration, env: "ECLIPSE_SCAN_ANALYSIS_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Scan.AnalysisDelay = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Scan.AnalysisDelay },
	},
	{
		key: "scan.progress_interval", typ: kDuration, env: "ECLIPSE_SCAN_PROGRESS_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Scan.ProgressInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Scan.ProgressInterval },
	},
	{
		key: "history.limit", typ: kInt, env: "ECLIPSE_HISTORY_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.History.Limit = v.(int) },
		extract: func(cfg Config) any { return cfg.History.Limit },
	},
	{
		key: "history.key", typ: kString, env: "ECLIPSE_HISTORY_KEY",
		apply:   func(cfg *Config, v any) { cfg.History.Key = v.(string) },
		extract: func(cfg Config) any { return cfg.History.Key },
	},
	{
		key: "client.base_url", typ: kString, env: "ECLIPSE_CLIENT_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Client.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Client.BaseURL },
	},
	{
		key: "client.timeout", typ: kDuration, env: "ECLIPSE_CLIENT_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Client.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Client.Timeout },
	},
	{
		key: "specialists.url", typ: kString, env: "ECLIPSE_SPECIALISTS_URL",
		apply:   func(cfg *Config, v any) { cfg.Specialists.URL = v.(string) },
		extract: func(cfg Config) any { return cfg.Specialists.URL },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kDuration:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if d, err := time.ParseDuration(v); err == nil {
					s.apply(cfg, d)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		case kList:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, splitList(v))
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kDuration:
			if d, err := time.ParseDuration(raw); err == nil {
				s.apply(cfg, d)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kList:
			s.apply(cfg, splitList(raw))
		}
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
