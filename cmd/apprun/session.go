package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/apprun/internal/config"
	"github.com/loykin/apprun/internal/history"
	"github.com/loykin/apprun/internal/history/factory"
	"github.com/loykin/apprun/internal/logger"
	"github.com/loykin/apprun/internal/metrics"
)

// session carries what every command needs: resolved config, diagnostics
// logger, history recorder and the metrics registry.
type session struct {
	cfg      *config.Config
	log      *slog.Logger
	recorder *history.Recorder
	registry *prometheus.Registry
	logClose io.Closer
}

func openSession(g GlobalFlags, errOut io.Writer) (*session, error) {
	cfg, err := config.Load(g.ConfigPath)
	if err != nil {
		return nil, err
	}
	if g.RuntimeDir != "" {
		dir, err := filepath.Abs(g.RuntimeDir)
		if err != nil {
			return nil, fmt.Errorf("resolve runtime dir: %w", err)
		}
		cfg.RuntimeDir = dir
	}
	if g.LogLevel != "" {
		cfg.Log.Level = g.LogLevel
	}
	if g.LogFormat != "" {
		cfg.Log.Format = g.LogFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log, closer, err := logger.New(cfg.Log, errOut)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg); err != nil {
		log.Warn("metrics registration failed", "error", err)
	}

	var sinks []history.Sink
	if cfg.History.DSN != "" {
		sink, err := factory.NewSinkFromDSN(cfg.History.DSN)
		if err != nil {
			log.Warn("history sink unavailable", "error", err)
		} else {
			sinks = append(sinks, sink)
		}
	}

	return &session{
		cfg:      cfg,
		log:      log,
		recorder: history.NewRecorder(log, sinks...),
		registry: reg,
		logClose: closer,
	}, nil
}

// Close exports the metrics textfile when configured and releases sinks and
// the log file. Failures are logged; they never change a command's result.
func (s *session) Close() {
	var errs []error
	if path := s.cfg.Metrics.Textfile; path != "" {
		if err := metrics.WriteTextfile(path, s.registry); err != nil {
			errs = append(errs, fmt.Errorf("write metrics textfile: %w", err))
		}
	}
	if err := s.recorder.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close history: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		s.log.Warn("session cleanup failed", "error", err)
	}
	_ = s.logClose.Close()
}
