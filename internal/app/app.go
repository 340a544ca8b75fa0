package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/vk/psmgrid/internal/config"
	"github.com/vk/psmgrid/internal/ctxlog"
	"github.com/vk/psmgrid/internal/ledger"
	"github.com/vk/psmgrid/internal/lookup"
	"github.com/vk/psmgrid/internal/notify"
)

// runLogName is the JSON run log kept in the workspace log directory.
const runLogName = "psmgrid.jsonl"

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	ctx    context.Context
	outW   io.Writer
	logger *slog.Logger
	config *Config

	pipeline *config.Pipeline
	resolver lookup.Resolver
	ledger   *ledger.Ledger
	notifier notify.Notifier
	status   *status

	socket     *notify.SocketIO
	runLog     *os.File
	httpServer *http.Server
}

// New loads the pipeline configuration and opens everything the phases
// share. Close releases it.
func New(ctx context.Context, outW io.Writer, cfg *Config) (*App, error) {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW, nil)
	ctx = ctxlog.WithLogger(ctx, logger)
	logger.Debug("Logger configured successfully.")

	p, err := config.Load(ctx, cfg.ConfigPaths...)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	a := &App{outW: outW, config: cfg, pipeline: p, status: newStatus()}
	if err := a.openRunLog(); err != nil {
		return nil, err
	}
	a.logger = newLogger(cfg.LogLevel, cfg.LogFormat, outW, a.writerOrNil())
	a.ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("Configuration loaded.", "files", p.Files, "engines", len(p.Engines))

	if err := a.open(); err != nil {
		a.Close()
		return nil, err
	}
	a.healthCheckServer()
	return a, nil
}

// Context returns the application context, which carries its logger.
func (a *App) Context() context.Context { return a.ctx }

// Pipeline returns the loaded configuration.
func (a *App) Pipeline() *config.Pipeline { return a.pipeline }

func (a *App) openRunLog() error {
	path := a.config.LogFile
	if path == "-" {
		return nil
	}
	if path == "" {
		if a.pipeline.Workspace.LogDir == "" {
			return nil
		}
		path = filepath.Join(a.pipeline.Workspace.LogDir, runLogName)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening run log: %w", err)
	}
	a.runLog = f
	return nil
}

func (a *App) writerOrNil() io.Writer {
	if a.runLog == nil {
		return nil
	}
	return a.runLog
}

func (a *App) open() error {
	if a.pipeline.Lookup.File == "" {
		return errors.New("a lookup block naming the reference tables is required")
	}
	table, err := lookup.LoadFile(a.pipeline.Lookup.File)
	if err != nil {
		return err
	}
	a.resolver = table

	if l := a.pipeline.Ledger; l != nil {
		db, err := ledger.Open(a.ctx, l.Path)
		if err != nil {
			return err
		}
		a.ledger = db
		a.logger.Debug("Run ledger opened.", "path", l.Path)
	}

	notifiers := notify.Multi{a.status}
	if n := a.pipeline.Notify; n != nil {
		socket, err := notify.DialSocketIO(a.ctx, notify.SocketIOOptions{
			URL:       n.URL,
			Namespace: n.Namespace,
			Event:     n.Event,
			Timeout:   n.Timeout,
		})
		if err != nil {
			// Progress events are best effort.
			a.logger.Warn("Progress notifier unavailable, continuing without it.", "error", err)
		} else {
			a.socket = socket
			notifiers = append(notifiers, socket)
		}
	}
	a.notifier = notifiers
	return nil
}

// Close releases every resource New opened.
func (a *App) Close() error {
	var errs []error
	if err := a.closeHealthCheckServer(); err != nil {
		errs = append(errs, err)
	}
	if a.socket != nil {
		errs = append(errs, a.socket.Close())
	}
	if a.ledger != nil {
		errs = append(errs, a.ledger.Close())
	}
	if a.runLog != nil {
		errs = append(errs, a.runLog.Close())
	}
	return errors.Join(errs...)
}
