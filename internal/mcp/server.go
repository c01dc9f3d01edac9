package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"staycheck/internal/config"
	"staycheck/internal/facts"
	"staycheck/internal/scenario"
	"staycheck/internal/verify"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

// Deps are the collaborators the tools drive. Engine may be nil when facts are disabled.
type Deps struct {
	Runner   *scenario.Runner
	Verifier *verify.Verifier
	Engine   *facts.Engine
	Logger   *zap.Logger
}

// Server exposes scenario runs, single verifications and fact queries over MCP.
type Server struct {
	cfg       config.Config
	deps      Deps
	logger    *zap.Logger
	tools     map[string]Tool
	mcpServer *mcpserver.MCPServer
}

// Tool describes the contract for MCP tool implementations.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) (interface{}, error)
}

// NewServer constructs the MCP server and registers all tools and resources.
func NewServer(cfg config.Config, deps Deps) (*Server, error) {
	if deps.Runner == nil || deps.Verifier == nil {
		return nil, fmt.Errorf("mcp server needs a runner and a verifier")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	mcpSrv := mcpserver.NewMCPServer(
		cfg.Server.Name,
		cfg.Server.Version,
		mcpserver.WithResourceCapabilities(false, true),
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithLogging(),
		mcpserver.WithRecovery(),
	)

	server := &Server{
		cfg:       cfg,
		deps:      deps,
		logger:    logger.Named("mcp"),
		tools:     make(map[string]Tool),
		mcpServer: mcpSrv,
	}

	server.registerAllTools()
	server.registerAllResources()
	return server, nil
}

// Start serves over stdio.
func (s *Server) Start(ctx context.Context) error {
	stdio := mcpserver.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// StartSSE hosts the server over HTTP using SSE endpoints with graceful shutdown.
func (s *Server) StartSSE(ctx context.Context, port int) error {
	sseServer := mcpserver.NewSSEServer(s.mcpServer, mcpserver.WithBaseURL("http://localhost:"+strconv.Itoa(port)))

	mux := http.NewServeMux()
	mux.Handle("/sse", sseServer.SSEHandler())
	mux.Handle("/message", sseServer.MessageHandler())

	httpServer := &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("serving SSE", zap.Int("port", port))

	select {
	case <-ctx.Done():
		s.logger.Info("SSE server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// ExecuteTool executes a tool directly, bypassing the transport.
func (s *Server) ExecuteTool(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	tool, exists := s.tools[name]
	if !exists {
		return nil, fmt.Errorf("tool not found: %s", name)
	}
	return tool.Execute(ctx, args)
}

func (s *Server) registerAllTools() {
	s.registerTool(&RunScenarioTool{runner: s.deps.Runner})
	s.registerTool(&VerifyConstraintTool{verifier: s.deps.Verifier})
	s.registerTool(&VerifyMapPinTool{verifier: s.deps.Verifier})
	s.registerTool(&VerifyAmenityTool{verifier: s.deps.Verifier})
	if s.deps.Engine != nil {
		s.registerTool(&QueryFactsTool{engine: s.deps.Engine})
	}
}

func (s *Server) registerTool(tool Tool) {
	s.tools[tool.Name()] = tool

	schema, err := json.Marshal(tool.InputSchema())
	if err != nil {
		schema = json.RawMessage(`{"type":"object"}`)
	}

	mcpTool := mcp.NewToolWithRawSchema(tool.Name(), tool.Description(), schema)
	s.mcpServer.AddTool(mcpTool, s.wrapTool(tool))
}

func (s *Server) wrapTool(tool Tool) mcpserver.ToolHandlerFunc {
	name := tool.Name()
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		if args == nil {
			args = map[string]interface{}{}
		}

		start := time.Now()
		out, err := tool.Execute(ctx, args)
		log := s.logger.With(zap.String("tool", name), zap.Duration("took", time.Since(start)))
		if err != nil {
			log.Warn("tool failed", zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("%s: %v", name, err)), nil
		}

		text, err := encodeResult(out)
		if err != nil {
			log.Error("tool result not encodable", zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("%s: result not encodable: %v", name, err)), nil
		}
		log.Debug("tool done")
		return mcp.NewToolResultText(text), nil
	}
}

func encodeResult(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
