// Package config loads the server and client configuration from an
// optional yaml file with environment overrides.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from yaml strings like "10s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Server configures the ad server process.
type Server struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	MediaDir       string   `yaml:"media_dir"`
	AdDuration     Duration `yaml:"ad_duration"`
	RescanInterval Duration `yaml:"rescan_interval"`
	SweepInterval  Duration `yaml:"sweep_interval"`
	StaleAfter     Duration `yaml:"stale_after"`
	ReadTimeout    Duration `yaml:"read_timeout"`
}

// Client configures the display client process.
type Client struct {
	ServerHost         string   `yaml:"server_host"`
	ServerPort         int      `yaml:"server_port"`
	ClientID           string   `yaml:"client_id"`
	CacheDir           string   `yaml:"cache_dir"`
	ReconnectInterval  Duration `yaml:"reconnect_interval"`
	DriftCheckInterval Duration `yaml:"drift_check_interval"`

	// IdleTimeout is how long the client stays idle before auto-resuming.
	// Zero means idle mode lasts until an explicit resume.
	IdleTimeout Duration `yaml:"idle_timeout"`
}

func DefaultServer() Server {
	return Server{
		Host:           "0.0.0.0",
		Port:           5000,
		MediaDir:       "ads",
		AdDuration:     Duration(10 * time.Second),
		RescanInterval: Duration(5 * time.Second),
		SweepInterval:  Duration(30 * time.Second),
		StaleAfter:     Duration(60 * time.Second),
		ReadTimeout:    Duration(15 * time.Second),
	}
}

func DefaultClient() Client {
	return Client{
		ServerHost:         "localhost",
		ServerPort:         5000,
		CacheDir:           "ads_local",
		ReconnectInterval:  Duration(5 * time.Second),
		DriftCheckInterval: Duration(5 * time.Minute),
	}
}

func (c Client) Addr() string {
	return net.JoinHostPort(c.ServerHost, strconv.Itoa(c.ServerPort))
}

func (s Server) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// LoadServer reads path over the defaults; a missing file is not an error.
// ADSYNC_HOST, ADSYNC_PORT and ADSYNC_MEDIA_DIR override both.
func LoadServer(path string) (Server, error) {
	cfg := DefaultServer()
	if err := loadYAML(path, &cfg); err != nil {
		return Server{}, err
	}
	cfg.Host = getEnv("ADSYNC_HOST", cfg.Host)
	cfg.Port = getEnvAsInt("ADSYNC_PORT", cfg.Port)
	cfg.MediaDir = getEnv("ADSYNC_MEDIA_DIR", cfg.MediaDir)
	return cfg, nil
}

// LoadClient reads path over the defaults; a missing file is not an error.
// ADSYNC_SERVER_HOST, ADSYNC_SERVER_PORT, ADSYNC_CLIENT_ID and
// ADSYNC_CACHE_DIR override both.
func LoadClient(path string) (Client, error) {
	cfg := DefaultClient()
	if err := loadYAML(path, &cfg); err != nil {
		return Client{}, err
	}
	cfg.ServerHost = getEnv("ADSYNC_SERVER_HOST", cfg.ServerHost)
	cfg.ServerPort = getEnvAsInt("ADSYNC_SERVER_PORT", cfg.ServerPort)
	cfg.ClientID = getEnv("ADSYNC_CLIENT_ID", cfg.ClientID)
	cfg.CacheDir = getEnv("ADSYNC_CACHE_DIR", cfg.CacheDir)
	return cfg, nil
}

func loadYAML(path string, out any) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
