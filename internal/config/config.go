package config

import (
	"fmt"
	"time"
)

type Config struct {
	Server      ServerConfig
	Storage     StorageConfig
	Log         LogConfig
	Scan        ScanConfig
	History     HistoryConfig
	Client      ClientConfig
	Specialists SpecialistsConfig
}

type ServerConfig struct {
	Port           int
	AllowedOrigins []string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type ScanConfig struct {
	MaxUploadMB      int
	UploadDelay      time.Duration
	AnalysisDelay    time.Duration
	ProgressInterval time.Duration
}

// MaxUploadBytes returns the upload ceiling in bytes.
func (s ScanConfig) MaxUploadBytes() int64 {
	return int64(s.MaxUploadMB) << 20
}

type HistoryConfig struct {
	Limit int
	Key   string
}

type ClientConfig struct {
	BaseURL string
	Timeout time.Duration
}

type SpecialistsConfig struct {
	URL string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:           5000,
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		Scan: ScanConfig{
			MaxUploadMB:      10,
			UploadDelay:      3 * time.Second,
			AnalysisDelay:    1500 * time.Millisecond,
			ProgressInterval: 200 * time.Millisecond,
		},
		History: HistoryConfig{
			Limit: 50,
			Key:   "eclipseScanHistory",
		},
		Client: ClientConfig{
			BaseURL: "http://localhost:5000/api",
			Timeout: 30 * time.Second,
		},
		Specialists: SpecialistsConfig{
			URL: "https://www.aedv.es/buscador-de-dermatologos/",
		},
	}
}

// Load reads configuration from the YAML file at
// $XDG_CONFIG_HOME/eclipse/config.yaml, then applies ECLIPSE_* environment
// overrides. A missing file yields the defaults.
func Load() (Config, error) {
	return loadFromPath(configFilePath())
}

func loadFromPath(path string) (Config, error) {
	return loadWith(newFileBackend(path))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid config: server.port %d out of range", c.Server.Port)
	}
	if c.Scan.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid config: scan.max_upload_mb must be positive, got %d", c.Scan.MaxUploadMB)
	}
	if c.History.Limit <= 0 {
		return fmt.Errorf("invalid config: history.limit must be positive, got %d", c.History.Limit)
	}
	if c.History.Key == "" {
		return fmt.Errorf("invalid config: history.key is empty")
	}
	return nil
}
