package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	// ServerURL is the backend REST base URL.
	ServerURL string `env:"SERVER_URL" envDefault:"http://localhost:3000"`
	// SocketURL is the realtime websocket endpoint. Derived from
	// ServerURL when unset.
	SocketURL string `env:"SOCKET_URL"`

	// DeviceSecret seals the on-device credential store.
	DeviceSecret string `env:"DEVICE_SECRET,required"`
	// CredentialDir overrides where sealed credentials live. Defaults to
	// the user config dir.
	CredentialDir string `env:"CREDENTIAL_DIR"`

	// ArchiveDatabaseURL enables the transcript archiver when set.
	ArchiveDatabaseURL string `env:"ARCHIVE_DATABASE_URL"`

	// FoursquareKey enables venue search when set.
	FoursquareKey string `env:"FSQ_KEY"`

	ConnectTimeout time.Duration `env:"CONNECT_TIMEOUT" envDefault:"10s"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("[CONFIG] No .env file found, relying on system environment variables")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.SocketURL == "" {
		socketURL, err := DeriveSocketURL(cfg.ServerURL)
		if err != nil {
			return nil, err
		}
		cfg.SocketURL = socketURL
	}

	if cfg.CredentialDir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("resolve config dir: %w", err)
		}
		cfg.CredentialDir = filepath.Join(base, "pickup-chat")
	}

	log.Printf("[CONFIG] Server: %s", cfg.ServerURL)
	log.Printf("[CONFIG] Socket: %s", cfg.SocketURL)
	return cfg, nil
}

// DeriveSocketURL maps the REST base URL onto the realtime endpoint:
// same host, ws scheme, /ws path.
func DeriveSocketURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("parse SERVER_URL: %w", err)
	}

	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported SERVER_URL scheme %q", u.Scheme)
	}
	u.Path = "/ws"
	return u.String(), nil
}
