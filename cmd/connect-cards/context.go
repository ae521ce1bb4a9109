package main

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/joseph-ayodele/connect-cards/internal/common"
	"github.com/joseph-ayodele/connect-cards/internal/repository"
	"github.com/joseph-ayodele/connect-cards/internal/session"
)

type commandContext struct {
	configFlag *string
	logger     *slog.Logger

	configOnce sync.Once
	config     *common.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag, logger: slog.Default()}
}

// setupLogger installs the process-wide slog handler.
func (c *commandContext) setupLogger(w io.Writer, asJSON, verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if asJSON {
		h = slog.NewJSONHandler(w, opts)
	} else {
		opts.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
			// Remove time attribute, keep level, message and other variables
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		}
		h = slog.NewTextHandler(w, opts)
	}
	c.logger = slog.New(h)
	slog.SetDefault(c.logger)
}

func (c *commandContext) ensureConfig() (*common.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		c.config, c.configErr = common.LoadConfig(path)
	})
	return c.config, c.configErr
}

func (c *commandContext) sessionStore() (*session.FileStore, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return session.NewFileStore(cfg.Session.StateDir, c.logger)
}

func (c *commandContext) openDB(ctx context.Context) (*repository.Client, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	db := cfg.Database
	return repository.Open(ctx, repository.Config{
		DSN:              db.DSN,
		MaxConns:         db.MaxConns,
		MinConns:         db.MinConns,
		MaxConnLifetime:  db.MaxConnLifetime,
		MaxConnIdleTime:  db.MaxConnIdleTime,
		DialTimeout:      db.DialTimeout,
		StatementTimeout: db.StatementTimeout,
	}, c.logger)
}
