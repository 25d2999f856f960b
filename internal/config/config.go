package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	CollectedDir   string `toml:"collected_dir"`
	DeploymentsDir string `toml:"deployments_dir"`
	TempDir        string `toml:"temp_dir"`
	LogDir         string `toml:"log_dir"`
	StateDir       string `toml:"state_dir"`
	APIBind        string `toml:"api_bind"`
}

// Loader identifies this loader installation and its operator.
type Loader struct {
	ID           string `toml:"id"`
	HexID        string `toml:"hex_id"`
	UserName     string `toml:"user_name"`
	UserEmail    string `toml:"user_email"`
	SerialPrefix string `toml:"serial_prefix"`
	Location     string `toml:"location"`
	Coordinates  string `toml:"coordinates"`
}

// SRN configures the serial number reservation service.
type SRN struct {
	ReservationURL    string `toml:"reservation_url"`
	APIToken          string `toml:"api_token"`
	BlockSize         int    `toml:"block_size"`
	RequestsPerMinute int    `toml:"requests_per_minute"`
	TimeoutSeconds    int    `toml:"timeout_seconds"`
}

// Update holds defaults for update sessions.
type Update struct {
	RefreshFirmware    bool     `toml:"refresh_firmware"`
	AcceptableFirmware []string `toml:"acceptable_firmware"`
	PostUpdateDelayMS  int      `toml:"post_update_delay_ms"`
	StatsOnly          bool     `toml:"stats_only"`
}

// Disk configures the external FAT utilities used for check, format, and relabel.
type Disk struct {
	Enabled        bool   `toml:"enabled"`
	FsckBinary     string `toml:"fsck_binary"`
	MkfsBinary     string `toml:"mkfs_binary"`
	LabelBinary    string `toml:"label_binary"`
	LsblkBinary    string `toml:"lsblk_binary"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Collection selects where collected statistics and audit logs are written.
type Collection struct {
	Backend       string `toml:"backend"`
	S3Bucket      string `toml:"s3_bucket"`
	S3Prefix      string `toml:"s3_prefix"`
	S3Region      string `toml:"s3_region"`
	DynamoDBTable string `toml:"dynamodb_table"`
}

// Daemon configures device watching.
type Daemon struct {
	AutoCollect         bool     `toml:"auto_collect"`
	DeviceLabelPrefixes []string `toml:"device_label_prefixes"`
	MountRoot           string   `toml:"mount_root"`
	SettleSeconds       int      `toml:"settle_seconds"`
	// APIToken, when set, is required as a bearer token on every API call.
	APIToken string `toml:"api_token"`
}

// Notifications configures ntfy alerts for failed sessions and low serial
// number stock.
type Notifications struct {
	NtfyTopic             string `toml:"ntfy_topic"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
	LowSerialThreshold    int    `toml:"low_serial_threshold"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for tbloader.
//
// Configuration sections by subsystem:
//   - Paths: collected data, deployments, temp, logs, state, API bind
//   - Loader: loader identity and operator details stamped on every record
//   - SRN: serial number reservation service
//   - Update: session defaults (firmware refresh, stats-only)
//   - Disk: fsck/mkfs/label utilities
//   - Collection: local or S3 collected-data backend plus DynamoDB audit table
//   - Daemon: device watching and auto-collection
//   - Notifications: ntfy alerts
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	Loader        Loader        `toml:"loader"`
	SRN           SRN           `toml:"srn"`
	Update        Update        `toml:"update"`
	Disk          Disk          `toml:"disk"`
	Collection    Collection    `toml:"collection"`
	Daemon        Daemon        `toml:"daemon"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

const defaultConfigPath = "~/.config/tbloader/config.toml"

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("tbloader.toml")
	if err != nil {
		return "", false, err
	}
	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	return defaultPath, false, nil
}

// EnsureDirectories creates the local directories tbloader reads and writes.
// The collected-data and deployments directories are skipped when
// collection goes to S3.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.TempDir, c.Paths.LogDir, c.Paths.StateDir}
	if c.Collection.Backend == BackendLocal {
		dirs = append(dirs, c.Paths.CollectedDir, c.Paths.DeploymentsDir)
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// StorePath is the sqlite database holding serial allocations and session history.
func (c *Config) StorePath() string {
	return filepath.Join(c.Paths.StateDir, "tbloader.db")
}

// LockPath is the daemon's single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "tbloaderd.lock")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
