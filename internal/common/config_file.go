package common

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// fileConfig mirrors Config for the TOML layer. Durations are strings such as "45s".
type fileConfig struct {
	Database struct {
		URL              string `toml:"url"`
		MaxConns         int32  `toml:"max_conns"`
		MinConns         int32  `toml:"min_conns"`
		DialTimeout      string `toml:"dial_timeout"`
		StatementTimeout string `toml:"statement_timeout"`
	} `toml:"database"`
	Org struct {
		ID         string `toml:"id"`
		LocationID string `toml:"location_id"`
	} `toml:"org"`
	Upload struct {
		PresignURL    string `toml:"presign_url"`
		APIKey        string `toml:"api_key"`
		MaxImageBytes int64  `toml:"max_image_bytes"`
		Timeout       string `toml:"timeout"`
	} `toml:"upload"`
	Extraction struct {
		BaseURL         string   `toml:"base_url"`
		Model           string   `toml:"model"`
		APIKey          string   `toml:"api_key"`
		Temperature     *float32 `toml:"temperature"`
		Timeout         string   `toml:"timeout"`
		ImageDetail     string   `toml:"image_detail"`
		LenientOptional *bool    `toml:"lenient_optional"`
	} `toml:"extraction"`
	CRM struct {
		WebhookURL  string `toml:"webhook_url"`
		APIKey      string `toml:"api_key"`
		Workers     int    `toml:"workers"`
		QueueSize   int    `toml:"queue_size"`
		SyncTimeout string `toml:"sync_timeout"`
		MaxAttempts int    `toml:"max_attempts"`
	} `toml:"crm"`
	Queue struct {
		StageTimeout string `toml:"stage_timeout"`
	} `toml:"queue"`
	Session struct {
		StateDir string `toml:"state_dir"`
	} `toml:"session"`
	Server struct {
		HealthAddr string `toml:"health_addr"`
	} `toml:"server"`
}

func applyFile(c *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return NewAppError(CodeConfig, fmt.Sprintf("read config %s", path), err)
	}
	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return NewAppError(CodeConfig, fmt.Sprintf("parse config %s", path), err)
	}

	setString(&c.Database.DSN, fc.Database.URL)
	setInt32(&c.Database.MaxConns, fc.Database.MaxConns)
	setInt32(&c.Database.MinConns, fc.Database.MinConns)
	setString(&c.Org.OrgID, fc.Org.ID)
	setString(&c.Org.LocationID, fc.Org.LocationID)
	setString(&c.Upload.PresignURL, fc.Upload.PresignURL)
	setString(&c.Upload.APIKey, fc.Upload.APIKey)
	if fc.Upload.MaxImageBytes > 0 {
		c.Upload.MaxImageBytes = fc.Upload.MaxImageBytes
	}
	setString(&c.Extraction.BaseURL, fc.Extraction.BaseURL)
	setString(&c.Extraction.Model, fc.Extraction.Model)
	setString(&c.Extraction.APIKey, fc.Extraction.APIKey)
	setString(&c.Extraction.ImageDetail, fc.Extraction.ImageDetail)
	if fc.Extraction.Temperature != nil {
		c.Extraction.Temperature = *fc.Extraction.Temperature
	}
	if fc.Extraction.LenientOptional != nil {
		c.Extraction.LenientOptional = *fc.Extraction.LenientOptional
	}
	setString(&c.CRM.WebhookURL, fc.CRM.WebhookURL)
	setString(&c.CRM.APIKey, fc.CRM.APIKey)
	setInt(&c.CRM.Workers, fc.CRM.Workers)
	setInt(&c.CRM.QueueSize, fc.CRM.QueueSize)
	setInt(&c.CRM.MaxAttempts, fc.CRM.MaxAttempts)
	setString(&c.Session.StateDir, fc.Session.StateDir)
	setString(&c.Server.HealthAddr, fc.Server.HealthAddr)

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"database.dial_timeout", fc.Database.DialTimeout, &c.Database.DialTimeout},
		{"database.statement_timeout", fc.Database.StatementTimeout, &c.Database.StatementTimeout},
		{"upload.timeout", fc.Upload.Timeout, &c.Upload.Timeout},
		{"extraction.timeout", fc.Extraction.Timeout, &c.Extraction.Timeout},
		{"crm.sync_timeout", fc.CRM.SyncTimeout, &c.CRM.SyncTimeout},
		{"queue.stage_timeout", fc.Queue.StageTimeout, &c.Queue.StageTimeout},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return NewAppError(CodeConfig, fmt.Sprintf("%s: invalid duration %q", d.key, d.raw), ErrInvalidInput)
		}
		*d.dst = parsed
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func setInt32(dst *int32, v int32) {
	if v > 0 {
		*dst = v
	}
}

func defaultStateDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "connect-cards")
	}
	return ".connect-cards"
}
