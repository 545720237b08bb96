// Package config loads and validates the flat KEY=VALUE configuration
// document described in SPEC_FULL.md §6. Grounded on gossip.go's
// loadOrInitConfig (defaulting behavior) and VinMeld-go-send's
// internal/server/server.go (godotenv-based env parsing), generalized from
// godotenv.Load's process-env side effect to a pure godotenv.Parse over the
// config file's bytes so the result can be validated field-by-field before
// anything touches os.Environ.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/p2pchat/p2pchat/internal/chaterr"
)

// Config holds everything a session needs that isn't negotiated with the
// peer. Logger falls back to logrus.New() when left nil, the way
// i5heu-ouroboros-db's StoreConfig.Logger and peer-it's Node.Logger do.
type Config struct {
	Nickname          string
	ListenPort        uint16
	ReadBufferBytes   int
	HeartbeatInterval time.Duration
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	EncryptionEnabled bool
	MaxFileBytes      int64
	DownloadDirectory string
	AutoOpenMedia     bool
	MediaExtensions   map[string]bool
	LogLevel          string
	SaveHistory       bool
	Logger            *logrus.Logger
}

// Default returns the configuration with every SPEC_FULL.md §3 default
// filled in. Nickname is left empty; callers assign one (flag, prompt, or
// a generated placeholder).
func Default() Config {
	home, _ := os.UserHomeDir()
	return Config{
		ListenPort:        8080,
		ReadBufferBytes:   8192,
		HeartbeatInterval: 30 * time.Second,
		ReconnectAttempts: 5,
		ReconnectDelay:    500 * time.Millisecond,
		EncryptionEnabled: true,
		MaxFileBytes:      100 << 20,
		DownloadDirectory: filepath.Join(home, "Downloads"),
		AutoOpenMedia:     false,
		MediaExtensions: map[string]bool{
			".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true,
		},
		LogLevel:    "info",
		SaveHistory: false,
		Logger:      logrus.New(),
	}
}

// knownKeys enumerates every field this document format can set. A key
// outside this set is a chaterr.ConfigInvalid, not a silent no-op.
var knownKeys = map[string]bool{
	"NICKNAME":           true,
	"LISTEN_PORT":        true,
	"READ_BUFFER_BYTES":  true,
	"HEARTBEAT_INTERVAL": true,
	"RECONNECT_ATTEMPTS": true,
	"RECONNECT_DELAY":    true,
	"ENCRYPTION_ENABLED": true,
	"MAX_FILE_BYTES":     true,
	"DOWNLOAD_DIRECTORY": true,
	"AUTO_OPEN_MEDIA":    true,
	"MEDIA_EXTENSIONS":   true,
	"LOG_LEVEL":          true,
	"SAVE_HISTORY":       true,
}

// Parse reads a flat KEY=VALUE document (godotenv syntax: '#' comments,
// optional quoting) and applies it on top of Default(). Unknown keys and
// malformed values both fail with chaterr.ConfigInvalid.
func Parse(doc string) (Config, error) {
	values, err := godotenv.Parse(strings.NewReader(doc))
	if err != nil {
		return Config{}, &chaterr.ConfigInvalid{Field: "<document>", Reason: err.Error()}
	}

	cfg := Default()
	for key, raw := range values {
		if !knownKeys[key] {
			return Config{}, &chaterr.ConfigInvalid{Field: key, Reason: "unknown configuration key"}
		}
		if err := apply(&cfg, key, raw); err != nil {
			return Config{}, err
		}
	}
	return cfg, nil
}

func apply(cfg *Config, key, raw string) error {
	switch key {
	case "NICKNAME":
		cfg.Nickname = raw
	case "LISTEN_PORT":
		port, err := strconv.ParseUint(raw, 10, 16)
		if err != nil {
			return &chaterr.ConfigInvalid{Field: key, Reason: "not a valid port number"}
		}
		cfg.ListenPort = uint16(port)
	case "READ_BUFFER_BYTES":
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return &chaterr.ConfigInvalid{Field: key, Reason: "must be a positive integer"}
		}
		cfg.ReadBufferBytes = n
	case "HEARTBEAT_INTERVAL":
		d, err := time.ParseDuration(raw)
		if err != nil {
			return &chaterr.ConfigInvalid{Field: key, Reason: "not a valid duration"}
		}
		cfg.HeartbeatInterval = d
	case "RECONNECT_ATTEMPTS":
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return &chaterr.ConfigInvalid{Field: key, Reason: "must be a non-negative integer"}
		}
		cfg.ReconnectAttempts = n
	case "RECONNECT_DELAY":
		d, err := time.ParseDuration(raw)
		if err != nil {
			return &chaterr.ConfigInvalid{Field: key, Reason: "not a valid duration"}
		}
		cfg.ReconnectDelay = d
	case "ENCRYPTION_ENABLED":
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return &chaterr.ConfigInvalid{Field: key, Reason: "must be true or false"}
		}
		cfg.EncryptionEnabled = b
	case "MAX_FILE_BYTES":
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			return &chaterr.ConfigInvalid{Field: key, Reason: "must be a positive integer"}
		}
		cfg.MaxFileBytes = n
	case "DOWNLOAD_DIRECTORY":
		if raw == "" {
			return &chaterr.ConfigInvalid{Field: key, Reason: "must not be empty"}
		}
		cfg.DownloadDirectory = raw
	case "AUTO_OPEN_MEDIA":
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return &chaterr.ConfigInvalid{Field: key, Reason: "must be true or false"}
		}
		cfg.AutoOpenMedia = b
	case "MEDIA_EXTENSIONS":
		exts := map[string]bool{}
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(strings.ToLower(part))
			if part == "" {
				continue
			}
			if !strings.HasPrefix(part, ".") {
				part = "." + part
			}
			exts[part] = true
		}
		cfg.MediaExtensions = exts
	case "LOG_LEVEL":
		if _, err := logrus.ParseLevel(raw); err != nil {
			return &chaterr.ConfigInvalid{Field: key, Reason: "not a recognized log level"}
		}
		cfg.LogLevel = strings.ToLower(raw)
	case "SAVE_HISTORY":
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return &chaterr.ConfigInvalid{Field: key, Reason: "must be true or false"}
		}
		cfg.SaveHistory = b
	}
	return nil
}

// Load reads and parses the configuration file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(string(data))
}

// DefaultPath returns os.UserConfigDir()/p2p-chat/config.env.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "p2p-chat", "config.env"), nil
}

// Render serializes cfg back into the KEY=VALUE document format, suitable
// for `p2pchat config --write`.
func Render(cfg Config) string {
	var b strings.Builder
	b.WriteString("# p2p-chat configuration\n")
	b.WriteString("NICKNAME=" + cfg.Nickname + "\n")
	b.WriteString("LISTEN_PORT=" + strconv.FormatUint(uint64(cfg.ListenPort), 10) + "\n")
	b.WriteString("READ_BUFFER_BYTES=" + strconv.Itoa(cfg.ReadBufferBytes) + "\n")
	b.WriteString("HEARTBEAT_INTERVAL=" + cfg.HeartbeatInterval.String() + "\n")
	b.WriteString("RECONNECT_ATTEMPTS=" + strconv.Itoa(cfg.ReconnectAttempts) + "\n")
	b.WriteString("RECONNECT_DELAY=" + cfg.ReconnectDelay.String() + "\n")
	b.WriteString("ENCRYPTION_ENABLED=" + strconv.FormatBool(cfg.EncryptionEnabled) + "\n")
	b.WriteString("MAX_FILE_BYTES=" + strconv.FormatInt(cfg.MaxFileBytes, 10) + "\n")
	b.WriteString("DOWNLOAD_DIRECTORY=" + cfg.DownloadDirectory + "\n")
	b.WriteString("AUTO_OPEN_MEDIA=" + strconv.FormatBool(cfg.AutoOpenMedia) + "\n")
	exts := make([]string, 0, len(cfg.MediaExtensions))
	for ext := range cfg.MediaExtensions {
		exts = append(exts, strings.TrimPrefix(ext, "."))
	}
	b.WriteString("MEDIA_EXTENSIONS=" + strings.Join(exts, ",") + "\n")
	b.WriteString("LOG_LEVEL=" + cfg.LogLevel + "\n")
	b.WriteString("SAVE_HISTORY=" + strconv.FormatBool(cfg.SaveHistory) + "\n")
	return b.String()
}
