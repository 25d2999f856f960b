package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var hexIDPattern = regexp.MustCompile(`^[0-9a-f]{1,4}$`)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateLoader(); err != nil {
		return err
	}
	if err := c.validateSRN(); err != nil {
		return err
	}
	if err := c.validateCollection(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateLoader() error {
	if c.Loader.HexID != "" && !hexIDPattern.MatchString(c.Loader.HexID) {
		return fmt.Errorf("loader.hex_id must be 1-4 hex digits, got %q", c.Loader.HexID)
	}
	if strings.ContainsAny(c.Loader.ID, `/\ `) {
		return fmt.Errorf("loader.id must not contain spaces or path separators, got %q", c.Loader.ID)
	}
	if len(c.Loader.SerialPrefix) != 2 || c.Loader.SerialPrefix[1] != '-' {
		return fmt.Errorf("loader.serial_prefix must look like \"b-\", got %q", c.Loader.SerialPrefix)
	}
	return nil
}

func (c *Config) validateSRN() error {
	url := c.SRN.ReservationURL
	if url != "" && !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return fmt.Errorf("srn.reservation_url must be an http(s) URL, got %q", url)
	}
	if c.SRN.BlockSize > 0x10000 {
		return errors.New("srn.block_size must not exceed 65536")
	}
	return nil
}

func (c *Config) validateCollection() error {
	switch c.Collection.Backend {
	case BackendLocal:
		return nil
	case BackendS3:
		if c.Collection.S3Bucket == "" {
			return errors.New("collection.s3_bucket must be set when collection.backend is \"s3\"")
		}
		return nil
	default:
		return fmt.Errorf("collection.backend: unsupported value %q", c.Collection.Backend)
	}
}

func (c *Config) validateNotifications() error {
	topic := c.Notifications.NtfyTopic
	if topic != "" && !strings.HasPrefix(topic, "http://") && !strings.HasPrefix(topic, "https://") {
		return fmt.Errorf("notifications.ntfy_topic must be a full http(s) topic URL, got %q", topic)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
