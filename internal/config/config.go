// Package config loads the repeater daemon's YAML configuration file and
// manages the on-disk Ed25519 identity seed.
package config

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Repeater holds the core behavioral settings for the repeater engine.
type Repeater struct {
	NodeName                string  `yaml:"node_name"`
	Mode                    string  `yaml:"mode"` // "forward" or "monitor"
	CacheTTL                int     `yaml:"cache_ttl"`
	UseScoreForTx           bool    `yaml:"use_score_for_tx"`
	ScoreThreshold          float64 `yaml:"score_threshold"`
	SendAdvertIntervalHours float64 `yaml:"send_advert_interval_hours"`
	Latitude                float64 `yaml:"latitude"`
	Longitude               float64 `yaml:"longitude"`
	AllowDiscovery          bool    `yaml:"allow_discovery"`
}

// CAD holds channel-activity-detection threshold configuration.
type CAD struct {
	PeakThreshold int `yaml:"peak_threshold"`
	MinThreshold  int `yaml:"min_threshold"`
}

// Radio holds the PHY parameters the radio driver is configured with.
type Radio struct {
	Frequency       float64 `yaml:"frequency"`
	Bandwidth       float64 `yaml:"bandwidth"`
	SpreadingFactor int     `yaml:"spreading_factor"`
	CodingRate      int     `yaml:"coding_rate"`
	PreambleLength  int     `yaml:"preamble_length"`
	SyncWord        int     `yaml:"sync_word"`
	TxPower         int     `yaml:"tx_power"`
	CAD             CAD     `yaml:"cad"`
}

// Delays holds the transmit-delay scaling factors.
type Delays struct {
	TxDelayFactor       float64 `yaml:"tx_delay_factor"`
	DirectTxDelayFactor float64 `yaml:"direct_tx_delay_factor"`
}

// DutyCycle holds airtime enforcement settings.
type DutyCycle struct {
	MaxAirtimePerMinute float64 `yaml:"max_airtime_per_minute"`
	EnforcementEnabled  bool    `yaml:"enforcement_enabled"`
}

// Mesh holds identity and flood-policy settings.
type Mesh struct {
	IdentityKey      string `yaml:"identity_key"`
	GlobalFloodAllow bool   `yaml:"global_flood_allow"`
}

// MQTT holds the local-broker publication settings.
type MQTT struct {
	Enabled   bool   `yaml:"enabled"`
	Broker    string `yaml:"broker"`
	Port      int    `yaml:"port"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	BaseTopic string `yaml:"base_topic"`
}

// LetsMesh holds the upstream-broker publication settings.
type LetsMesh struct {
	Enabled               bool   `yaml:"enabled"`
	IataCode              string `yaml:"iata_code"`
	BrokerIndex           int    `yaml:"broker_index"`
	StatusInterval        int    `yaml:"status_interval"`
	Email                 string `yaml:"email"`
	Owner                 string `yaml:"owner"`
	DisallowedPacketTypes []int  `yaml:"disallowed_packet_types"`
}

// HTTP holds the control-surface bind address.
type HTTP struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Web holds dashboard-facing HTTP behavior.
type Web struct {
	CORSEnabled bool `yaml:"cors_enabled"`
}

// Logging holds ambient logging settings.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the top-level configuration file shape.
type Config struct {
	Repeater   Repeater  `yaml:"repeater"`
	Radio      Radio     `yaml:"radio"`
	Delays     Delays    `yaml:"delays"`
	DutyCycle  DutyCycle `yaml:"duty_cycle"`
	Mesh       Mesh      `yaml:"mesh"`
	MQTT       MQTT      `yaml:"mqtt"`
	LetsMesh   LetsMesh  `yaml:"letsmesh"`
	HTTP       HTTP      `yaml:"http"`
	Web        Web       `yaml:"web"`
	StorageDir string    `yaml:"storage_dir"`
	Logging    Logging   `yaml:"logging"`
}

// envLogLevel overrides Logging.Level when set, matching the Python
// original's PYMC_REPEATER_LOG_LEVEL override.
const envLogLevel = "REPEATERD_LOG_LEVEL"

// Load reads and parses the YAML config file at path. Unlike many Go
// config loaders this applies no built-in defaults for missing sections —
// the file is the single source of truth, matching the original daemon's
// config.py, which refuses to start without one. The one exception is an
// empty storage_dir, which falls back to the current directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config file not found at %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %q: %w", path, err)
	}

	if lvl := os.Getenv(envLogLevel); lvl != "" {
		cfg.Logging.Level = lvl
	}

	if cfg.StorageDir == "" {
		cfg.StorageDir = "."
	}

	return &cfg, nil
}

// LoadOrCreateIdentity returns the node's Ed25519 key pair. If
// cfg.Mesh.IdentityKey is set, it is base64-decoded as the 32-byte seed.
// Otherwise a seed is loaded from (or generated into) the on-disk identity
// file and the decoded config value is ignored.
func LoadOrCreateIdentity(cfg *Config) (ed25519.PublicKey, ed25519.PrivateKey, error) {
	if cfg.Mesh.IdentityKey != "" {
		seed, err := base64.StdEncoding.DecodeString(cfg.Mesh.IdentityKey)
		if err != nil {
			return nil, nil, fmt.Errorf("decoding mesh.identity_key: %w", err)
		}
		return keyPairFromSeed(seed)
	}

	path, err := identityFilePath()
	if err != nil {
		return nil, nil, err
	}

	seed, err := loadOrCreateIdentityFile(path)
	if err != nil {
		return nil, nil, err
	}
	return keyPairFromSeed(seed)
}

func keyPairFromSeed(seed []byte) (ed25519.PublicKey, ed25519.PrivateKey, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, nil, fmt.Errorf("identity seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return pub, priv, nil
}

// identityFilePath mirrors the Python original's XDG_CONFIG_HOME-based
// identity path: $XDG_CONFIG_HOME/meshcore-repeater/identity.key, falling
// back to ~/.config when XDG_CONFIG_HOME is unset.
func identityFilePath() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "meshcore-repeater", "identity.key"), nil
}

func loadOrCreateIdentityFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		seed, err := base64.StdEncoding.DecodeString(string(data))
		if err != nil {
			return nil, fmt.Errorf("decoding identity file %q: %w", path, err)
		}
		return seed, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading identity file %q: %w", path, err)
	}

	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("generating identity seed: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating identity directory: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(seed)
	if err := os.WriteFile(path, []byte(encoded), 0o600); err != nil {
		return nil, fmt.Errorf("writing identity file %q: %w", path, err)
	}
	return seed, nil
}
