package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Host is the configuration of the host process.
type Host struct {
	ChatURL        string
	ChatToken      string
	AdminToken     string
	HTTPPort       int
	PublicURL      string
	ConfigDir      string
	PluginDir      string
	InstancesFile  string
	DatabaseDriver string
	DatabaseDSN    string
	Workers        int
	WatchInterval  time.Duration
}

// Host defaults.
const (
	DefaultHTTPPort      = 29316
	DefaultConfigDir     = "config"
	DefaultPluginDir     = "plugins"
	DefaultInstancesFile = "instances.yaml"
	DefaultWorkers       = 4
	DefaultWatchInterval = 10 * time.Second
)

// LoadHost reads the host configuration from the environment, loading a
// .env file first when one exists.
func LoadHost(logger *zap.Logger) (*Host, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file found, using environment variables")
	}

	h := &Host{
		ChatURL:        os.Getenv("CHAT_URL"),
		ChatToken:      os.Getenv("CHAT_TOKEN"),
		AdminToken:     os.Getenv("ADMIN_TOKEN"),
		PublicURL:      os.Getenv("PUBLIC_URL"),
		ConfigDir:      getenv("CONFIG_DIR", DefaultConfigDir),
		PluginDir:      getenv("PLUGIN_DIR", DefaultPluginDir),
		InstancesFile:  getenv("INSTANCES_FILE", DefaultInstancesFile),
		DatabaseDriver: os.Getenv("DATABASE_DRIVER"),
		DatabaseDSN:    os.Getenv("DATABASE_DSN"),
	}

	var err error
	if h.HTTPPort, err = getenvInt("HTTP_PORT", DefaultHTTPPort); err != nil {
		return nil, err
	}
	if h.Workers, err = getenvInt("WORKERS", DefaultWorkers); err != nil {
		return nil, err
	}
	if h.WatchInterval, err = getenvDuration("CONFIG_WATCH_INTERVAL", DefaultWatchInterval); err != nil {
		return nil, err
	}

	if h.ChatURL == "" || h.ChatToken == "" {
		return nil, fmt.Errorf("CHAT_URL and CHAT_TOKEN environment variables must be set")
	}
	if h.PublicURL == "" {
		h.PublicURL = fmt.Sprintf("http://localhost:%d", h.HTTPPort)
	}

	return h, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

func getenvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}
