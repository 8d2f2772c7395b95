package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/hnmirror/hn-mirror/pkg/crawler"
	"github.com/hnmirror/hn-mirror/pkg/mcp"
	"github.com/hnmirror/hn-mirror/pkg/storage"
	"github.com/hnmirror/hn-mirror/pkg/watch"
)

// runMcpServer handles the mcp-server subcommand
func runMcpServer(args []string) {
	fs := flag.NewFlagSet("mcp-server", flag.ExitOnError)
	common := registerCommonFlags(fs)
	transport := fs.String("transport", "stdio", "Transport type (stdio, sse)")
	port := fs.Int("port", 8080, "HTTP port (for sse transport)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: hn-mirror mcp-server [options]

Start an MCP (Model Context Protocol) server for AI tool integration.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  hn-mirror mcp-server -config hn.yaml
  hn-mirror mcp-server -config hn.yaml -transport sse -port 8080

Available MCP Tools:
  crawler_status  Configuration, dedup store size and last cycle
  list_seen       Discovered story identifiers, most recent first
  run_cycle       Start one poll cycle in the background
  get_job_status  Status and summary of a run_cycle job
`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	ctx, stop := signalContext()
	defer stop()
	os.Exit(doMcpServer(ctx, common, *transport, *port, os.Stderr))
}

// doMcpServer serves the MCP tools until ctx is cancelled. Stdout carries the
// stdio protocol, so every log line goes to stderr.
func doMcpServer(ctx context.Context, common *commonFlags, transport string, port int, stderr io.Writer) int {
	log := setupLogger(common.logLevel, stderr)

	appCfg, warnings, err := loadEffectiveConfig(common)
	for _, w := range warnings {
		log.Warn(w)
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error loading config: %v\n", err)
		return 1
	}

	store, err := storage.NewSeenStore(appCfg, log.WithField("component", "dedup"))
	if err != nil {
		fmt.Fprintf(stderr, "Error opening dedup store: %v\n", err)
		return 1
	}
	defer store.Close()

	c, err := crawler.NewCrawler(appCfg, store, log.WithField("component", "crawler"))
	if err != nil {
		fmt.Fprintf(stderr, "Error creating crawler: %v\n", err)
		return 1
	}

	server, err := mcp.NewServer(&mcp.ServerConfig{
		AppConfig:  appCfg,
		ConfigPath: common.configFile,
		Transport:  transport,
		Port:       port,
		Logger:     log,
		Runner:     c,
		Store:      store,
		State:      watch.NewStateManager(appCfg.StateDir),
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error creating MCP server: %v\n", err)
		return 1
	}

	if err := server.Run(ctx); err != nil {
		fmt.Fprintf(stderr, "MCP server error: %v\n", err)
		return 1
	}
	return 0
}
