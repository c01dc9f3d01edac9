package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"staycheck/internal/browser"
	"staycheck/internal/config"
	"staycheck/internal/correlation"
	"staycheck/internal/facts"
	"staycheck/internal/recorder"
	"staycheck/internal/scenario"
	"staycheck/internal/verify"
	"staycheck/internal/visual"
	"staycheck/internal/waitfor"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// app owns the long-lived collaborators of one process.
type app struct {
	logger   *zap.Logger
	session  *browser.Session
	engine   *facts.Engine
	recorder *recorder.Recorder
	verifier *verify.Verifier
	runner   *scenario.Runner
}

func newApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	a := &app{logger: logger}

	if cfg.Facts.Enable {
		engine, err := facts.NewEngine(cfg.Facts, logger)
		if err != nil {
			return nil, fmt.Errorf("facts engine: %w", err)
		}
		a.engine = engine
	}

	rec, err := recorder.NewRecorder(cfg.Verify.TraceDir, cfg.Verify.GetMaxTraceFiles())
	if err != nil {
		return nil, fmt.Errorf("recorder: %w", err)
	}
	if _, err := rec.Start(""); err != nil {
		return nil, fmt.Errorf("recorder: %w", err)
	}
	a.recorder = rec

	store, err := visual.NewStore(cfg.Verify.ArtifactDir)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("snapshot store: %w", err)
	}

	verifySel, err := verify.SelectorsFrom(cfg.Locators)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("verify locators: %w", err)
	}
	scenarioSel, err := scenario.SelectorsFrom(cfg.Locators)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("scenario locators: %w", err)
	}

	a.session = browser.NewSession(cfg.Browser, logger)
	if err := a.session.Start(ctx); err != nil {
		a.close()
		return nil, fmt.Errorf("browser: %w", err)
	}

	waiter := waitfor.New(cfg.Verify.GetWaitTimeout(), cfg.Verify.GetPollInterval(), logger)
	settings := verify.Settings{
		Selectors:    verifySel,
		GuestsPerBed: cfg.Verify.GuestsPerBed,
		PriceSuffix:  cfg.Verify.PriceSuffix,
		PinCurrency:  cfg.Verify.PinCurrency,
		Settle:       cfg.Verify.GetSettleTimeout(),
		Normalizer:   correlation.Normalizer{Separator: correlation.MoreDetailsSeparator, Marker: cfg.Verify.FreeCancellationMarker},
		Waiter:       waiter,
		Snapshots:    store,
		Recorder:     rec,
		Logger:       logger,
	}
	if a.engine != nil {
		settings.Facts = a.engine
	}
	a.verifier = verify.New(a.session, settings)
	runSettings := scenario.Settings{
		BaseURL:   cfg.Browser.BaseURL,
		Selectors: scenarioSel,
		Waiter:    waiter,
		Recorder:  rec,
		Logger:    logger,
	}
	if cfg.Verify.ArtifactDir != "" {
		runSettings.Capturer = a.session
		runSettings.CaptureDir = filepath.Join(cfg.Verify.ArtifactDir, "failures")
	}
	a.runner = scenario.NewRunner(a.verifier, runSettings)
	return a, nil
}

func (a *app) close() {
	if a.session != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.session.Shutdown(ctx); err != nil {
			a.logger.Warn("browser shutdown failed", zap.Error(err))
		}
	}
	if a.recorder != nil {
		if err := a.recorder.Close(); err != nil {
			a.logger.Warn("recorder close failed", zap.Error(err))
		}
	}
}

// newLogger logs JSON to the configured file and, when allowed, to stderr. With neither
// available logging is discarded.
func newLogger(cfg config.ServerConfig, allowStderr bool) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.LogLevel != "" {
		parsed, err := zapcore.ParseLevel(cfg.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("server.log_level: %w", err)
		}
		level = parsed
	}

	var outputs []string
	if cfg.LogFile != "" {
		outputs = append(outputs, cfg.LogFile)
	}
	if allowStderr {
		outputs = append(outputs, "stderr")
	}
	if len(outputs) == 0 {
		return zap.NewNop(), nil
	}

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = outputs
	zc.ErrorOutputPaths = outputs
	zc.EncoderConfig.TimeKey = "ts"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zc.Build(zap.Fields(zap.String("service", cfg.Name)))
}

// searchFromFlags builds the one-shot search from command line values.
func searchFromFlags(location string, adults, children int, checkIn, checkOut, features string) (scenario.Search, []scenario.Feature, error) {
	s := scenario.Search{Location: location, Adults: adults, Children: children}
	var err error
	if s.CheckIn, err = parseDate("check-in", checkIn); err != nil {
		return s, nil, err
	}
	if s.CheckOut, err = parseDate("check-out", checkOut); err != nil {
		return s, nil, err
	}
	fs, err := scenario.ParseFeatures(features)
	if err != nil {
		return s, nil, err
	}
	return s, fs, nil
}

func parseDate(name, raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	d, err := time.ParseInLocation(time.DateOnly, raw, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("-%s: expected YYYY-MM-DD, got %q", name, raw)
	}
	return d, nil
}
