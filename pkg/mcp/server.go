package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"

	"github.com/hnmirror/hn-mirror/pkg/config"
	"github.com/hnmirror/hn-mirror/pkg/storage"
	"github.com/hnmirror/hn-mirror/pkg/watch"
)

const (
	serverName    = "hn-mirror"
	serverVersion = "1.0.0"
)

// Transports accepted by Server.Run
const (
	TransportStdio = "stdio"
	TransportSSE   = "sse"
)

// ServerConfig wires the MCP surface to a crawler and its state
type ServerConfig struct {
	AppConfig  *config.AppConfig
	ConfigPath string
	Transport  string
	Port       int // sse only
	Logger     *logrus.Logger
	Runner     watch.CycleRunner
	Store      storage.SeenStore
	State      *watch.StateManager
}

// Server exposes crawler status and on-demand cycles over MCP
type Server struct {
	srv  *server.MCPServer
	cfg  *ServerConfig
	jobs *JobManager
	log  *logrus.Entry
}

// NewServer registers the crawler tools on a fresh MCP server
func NewServer(cfg *ServerConfig) (*Server, error) {
	switch {
	case cfg.AppConfig == nil:
		return nil, errors.New("mcp: missing app config")
	case cfg.Runner == nil, cfg.Store == nil, cfg.State == nil:
		return nil, errors.New("mcp: runner, store and state must all be set")
	}
	switch cfg.Transport {
	case "", TransportStdio, TransportSSE:
	default:
		return nil, fmt.Errorf("mcp: unknown transport %q (supported: %s, %s)", cfg.Transport, TransportStdio, TransportSSE)
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	srv := server.NewMCPServer(serverName, serverVersion,
		server.WithLogging(),
		server.WithToolCapabilities(false),
	)
	s := &Server{
		srv:  srv,
		cfg:  cfg,
		jobs: NewJobManager(),
		log:  cfg.Logger.WithField("component", "mcp"),
	}
	tools := s.tools()
	srv.AddTools(tools...)
	s.log.Debugf("Registered %d MCP tools", len(tools))
	return s, nil
}

// tools describes every tool the server exposes
func (s *Server) tools() []server.ServerTool {
	return []server.ServerTool{
		{
			Tool: mcp.NewTool("crawler_status",
				mcp.WithDescription("Show the crawler configuration, dedup store size and the last recorded cycle"),
			),
			Handler: s.handleCrawlerStatus,
		},
		{
			Tool: mcp.NewTool("list_seen",
				mcp.WithDescription("List story identifiers already discovered, most recently seen first"),
				mcp.WithNumber("limit",
					mcp.Description(fmt.Sprintf("Maximum number of entries to return (default: %d, max: %d)", defaultSeenLimit, maxSeenLimit)),
				),
			),
			Handler: s.handleListSeen,
		},
		{
			Tool: mcp.NewTool("run_cycle",
				mcp.WithDescription("Start one poll cycle in the background. Returns immediately with a job ID; only one cycle runs at a time."),
			),
			Handler: s.handleRunCycle,
		},
		{
			Tool: mcp.NewTool("get_job_status",
				mcp.WithDescription("Get the status and cycle summary of a run_cycle job"),
				mcp.WithString("job_id",
					mcp.Required(),
					mcp.Description("The job ID returned by run_cycle"),
				),
			),
			Handler: s.handleGetJobStatus,
		},
	}
}

// Run serves until the transport stops or ctx is cancelled.
// Cancellation stops any running cycle job.
func (s *Server) Run(ctx context.Context) error {
	defer s.jobs.CancelAll()

	if s.cfg.Transport == TransportSSE {
		return s.runSSE(ctx)
	}
	s.log.Info("MCP server listening on stdio")
	stdio := server.NewStdioServer(s.srv)
	if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (s *Server) runSSE(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	sse := server.NewSSEServer(s.srv)
	s.log.Infof("MCP server listening for SSE on %s", addr)

	errCh := make(chan error, 1)
	go func() { errCh <- sse.Start(addr) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.log.Info("MCP server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return sse.Shutdown(shutdownCtx)
	}
}

// Shutdown cancels any running cycle job
func (s *Server) Shutdown(_ context.Context) error {
	s.log.Info("Cancelling MCP cycle jobs")
	s.jobs.CancelAll()
	return nil
}
