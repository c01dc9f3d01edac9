package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"staycheck/internal/config"
	mcpserver "staycheck/internal/mcp"
	"staycheck/internal/scenario"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "Path to a staycheck config file (overrides the workspace config)")
	ssePort := flag.Int("sse-port", 0, "Optional SSE port override (falls back to config)")
	run := flag.String("run", "", "Run features once (comma separated or 'all') and exit instead of serving MCP")
	initWS := flag.Bool("init", false, "Create a .staycheck/ workspace in the current directory and exit")
	noWorkspace := flag.Bool("no-workspace", false, "Skip .staycheck/ workspace discovery")
	workspace := flag.String("workspace", "", "Use this directory as the workspace root")

	location := flag.String("location", "Rome, Italy", "Destination for -run")
	adults := flag.Int("adults", 2, "Adult guests for -run")
	children := flag.Int("children", 1, "Child guests for -run")
	checkIn := flag.String("check-in", "", "YYYY-MM-DD check-in for -run (default: a week from today)")
	checkOut := flag.String("check-out", "", "YYYY-MM-DD check-out for -run (default: a week after check-in)")
	flag.Parse()

	if *initWS {
		cwd, err := os.Getwd()
		if err != nil {
			log.Fatalf("failed to resolve working directory: %v", err)
		}
		if err := config.InitWorkspace(cwd); err != nil {
			log.Fatalf("failed to initialize workspace: %v", err)
		}
		fmt.Printf("initialized %s in %s\n", config.WorkspaceDirName, cwd)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, wsDir, err := config.LoadWithWorkspace(*configPath, config.WorkspaceOptions{Disable: *noWorkspace, ExplicitDir: *workspace})
	if err != nil {
		// Before the logger exists, stderr is the only channel.
		log.Fatalf("failed to load config: %v", err)
	}
	if *ssePort != 0 {
		cfg.MCP.SSEPort = *ssePort
	}

	// stdio MCP owns stdout and stderr must stay quiet, so only file logging is allowed there.
	stdioMode := *run == "" && cfg.MCP.SSEPort == 0
	logger, err := newLogger(cfg.Server, !stdioMode)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	if wsDir != "" {
		logger.Info("using workspace", zap.String("dir", wsDir))
	}

	var search scenario.Search
	var features []scenario.Feature
	if *run != "" {
		if search, features, err = searchFromFlags(*location, *adults, *children, *checkIn, *checkOut, *run); err != nil {
			logger.Fatal("invalid run arguments", zap.Error(err))
		}
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize", zap.Error(err))
	}
	defer a.close()

	if *run != "" {
		code := a.runOnce(ctx, search, features)
		a.close()
		_ = logger.Sync()
		os.Exit(code)
	}

	server, err := mcpserver.NewServer(cfg, mcpserver.Deps{Runner: a.runner, Verifier: a.verifier, Engine: a.engine, Logger: logger})
	if err != nil {
		logger.Fatal("failed to initialize MCP server", zap.Error(err))
	}

	var startErr error
	if cfg.MCP.SSEPort > 0 {
		logger.Info("starting MCP SSE server", zap.Int("port", cfg.MCP.SSEPort))
		startErr = server.StartSSE(ctx, cfg.MCP.SSEPort)
	} else {
		logger.Info("starting MCP stdio server")
		startErr = server.Start(ctx)
	}

	if startErr != nil && !errors.Is(startErr, context.Canceled) {
		logger.Fatal("server exited with error", zap.Error(startErr))
	}
}

// runOnce executes the scenario, prints the report as JSON and returns the exit code.
func (a *app) runOnce(ctx context.Context, search scenario.Search, features []scenario.Feature) int {
	report, err := a.runner.Run(ctx, search, features)
	if report != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(report); encErr != nil {
			a.logger.Error("failed to write report", zap.Error(encErr))
		}
	}
	switch {
	case err != nil:
		a.logger.Error("run aborted", zap.Error(err))
		return 2
	case !report.Passed():
		a.logger.Warn("run failed", zap.Int("failures", len(report.Failures())))
		return 1
	}
	a.logger.Info("run passed", zap.Int("steps", len(report.Steps)))
	return 0
}
