package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeLoader()
	c.normalizeSRN()
	c.normalizeUpdate()
	c.normalizeDisk()
	c.normalizeCollection()
	c.normalizeDaemon()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	fields := []struct {
		name     string
		value    *string
		fallback string
	}{
		{"paths.collected_dir", &c.Paths.CollectedDir, defaultCollectedDir},
		{"paths.deployments_dir", &c.Paths.DeploymentsDir, defaultDeploymentsDir},
		{"paths.temp_dir", &c.Paths.TempDir, defaultTempDir},
		{"paths.log_dir", &c.Paths.LogDir, defaultLogDir},
		{"paths.state_dir", &c.Paths.StateDir, defaultStateDir},
	}
	for _, f := range fields {
		if strings.TrimSpace(*f.value) == "" {
			*f.value = f.fallback
		}
		expanded, err := expandPath(strings.TrimSpace(*f.value))
		if err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
		*f.value = expanded
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	return nil
}

func (c *Config) normalizeLoader() {
	c.Loader.ID = strings.ToUpper(strings.TrimSpace(c.Loader.ID))
	c.Loader.HexID = strings.ToLower(strings.TrimSpace(c.Loader.HexID))
	c.Loader.UserName = strings.TrimSpace(c.Loader.UserName)
	c.Loader.UserEmail = strings.TrimSpace(c.Loader.UserEmail)
	c.Loader.Location = strings.TrimSpace(c.Loader.Location)
	c.Loader.Coordinates = strings.TrimSpace(c.Loader.Coordinates)
	c.Loader.SerialPrefix = strings.ToLower(strings.TrimSpace(c.Loader.SerialPrefix))
	if c.Loader.SerialPrefix == "" {
		c.Loader.SerialPrefix = defaultSerialPrefix
	}
}

func (c *Config) normalizeSRN() {
	c.SRN.ReservationURL = strings.TrimRight(strings.TrimSpace(c.SRN.ReservationURL), "/")
	if value, ok := os.LookupEnv("TBLOADER_SRN_TOKEN"); ok && strings.TrimSpace(value) != "" {
		c.SRN.APIToken = strings.TrimSpace(value)
	}
	if c.SRN.BlockSize <= 0 {
		c.SRN.BlockSize = defaultSRNBlockSize
	}
	if c.SRN.RequestsPerMinute <= 0 {
		c.SRN.RequestsPerMinute = defaultSRNRequestsPerMin
	}
	if c.SRN.TimeoutSeconds <= 0 {
		c.SRN.TimeoutSeconds = defaultSRNTimeoutSeconds
	}
}

func (c *Config) normalizeUpdate() {
	firmware := make([]string, 0, len(c.Update.AcceptableFirmware))
	for _, fw := range c.Update.AcceptableFirmware {
		if fw = strings.ToLower(strings.TrimSpace(fw)); fw != "" {
			firmware = append(firmware, fw)
		}
	}
	c.Update.AcceptableFirmware = firmware
	if c.Update.PostUpdateDelayMS < 0 {
		c.Update.PostUpdateDelayMS = 0
	}
}

func (c *Config) normalizeDisk() {
	pairs := []struct {
		value    *string
		fallback string
	}{
		{&c.Disk.FsckBinary, defaultFsckBinary},
		{&c.Disk.MkfsBinary, defaultMkfsBinary},
		{&c.Disk.LabelBinary, defaultLabelBinary},
		{&c.Disk.LsblkBinary, defaultLsblkBinary},
	}
	for _, p := range pairs {
		*p.value = strings.TrimSpace(*p.value)
		if *p.value == "" {
			*p.value = p.fallback
		}
	}
	if c.Disk.TimeoutSeconds <= 0 {
		c.Disk.TimeoutSeconds = defaultDiskTimeoutSeconds
	}
}

func (c *Config) normalizeCollection() {
	c.Collection.Backend = strings.ToLower(strings.TrimSpace(c.Collection.Backend))
	if c.Collection.Backend == "" {
		c.Collection.Backend = defaultCollectionBackend
	}
	c.Collection.S3Bucket = strings.TrimSpace(c.Collection.S3Bucket)
	c.Collection.S3Prefix = strings.Trim(strings.TrimSpace(c.Collection.S3Prefix), "/")
	c.Collection.DynamoDBTable = strings.TrimSpace(c.Collection.DynamoDBTable)
	c.Collection.S3Region = strings.TrimSpace(c.Collection.S3Region)
	if value, ok := os.LookupEnv("AWS_REGION"); ok && strings.TrimSpace(value) != "" && c.Collection.S3Region == "" {
		c.Collection.S3Region = strings.TrimSpace(value)
	}
	if c.Collection.S3Region == "" {
		c.Collection.S3Region = defaultS3Region
	}
}

func (c *Config) normalizeDaemon() {
	prefixes := make([]string, 0, len(c.Daemon.DeviceLabelPrefixes))
	for _, p := range c.Daemon.DeviceLabelPrefixes {
		if p = strings.ToUpper(strings.TrimSpace(p)); p != "" {
			prefixes = append(prefixes, p)
		}
	}
	c.Daemon.DeviceLabelPrefixes = prefixes
	c.Daemon.MountRoot = strings.TrimSpace(c.Daemon.MountRoot)
	if c.Daemon.MountRoot == "" {
		c.Daemon.MountRoot = defaultMountRoot
	}
	if c.Daemon.SettleSeconds < 0 {
		c.Daemon.SettleSeconds = 0
	}
	c.Daemon.APIToken = strings.TrimSpace(c.Daemon.APIToken)
	if value, ok := os.LookupEnv("TBLOADER_API_TOKEN"); ok && strings.TrimSpace(value) != "" {
		c.Daemon.APIToken = strings.TrimSpace(value)
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeoutSeconds <= 0 {
		c.Notifications.RequestTimeoutSeconds = defaultNtfyTimeoutSeconds
	}
	if c.Notifications.LowSerialThreshold < 0 {
		c.Notifications.LowSerialThreshold = 0
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
