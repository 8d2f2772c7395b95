package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hnmirror/hn-mirror/pkg/models"
	"github.com/hnmirror/hn-mirror/pkg/watch"
)

const (
	defaultSeenLimit = 20
	maxSeenLimit     = 500
)

// handleCrawlerStatus handles the crawler_status tool
func (s *Server) handleCrawlerStatus(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	appCfg := s.cfg.AppConfig

	count, err := s.cfg.Store.Count()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to count seen identifiers: %v", err)), nil
	}

	// Another process may own the poll loop; read what it last saved unless
	// a job of ours is about to record into the same state.
	if s.jobs.ActiveJob() == nil {
		if err := s.cfg.State.Load(); err != nil {
			s.log.Warnf("Failed to reload crawler state: %v", err)
		}
	}
	state := s.cfg.State.State()

	result := map[string]interface{}{
		"base_url":       appCfg.BaseURL,
		"poll_interval":  watch.FormatInterval(appCfg.PollInterval),
		"output_dir":     appCfg.OutputDir,
		"dedup_backend":  appCfg.Dedup.Backend,
		"seen_count":     count,
		"config_path":    s.cfg.ConfigPath,
		"total_cycles":   state.Totals.Cycles,
		"failed_cycles":  state.Totals.FailedCycles,
		"total_stored":   state.Totals.ItemsStored + state.Totals.LinksStored,
		"next_cycle_due": s.cfg.State.NextRunTime(appCfg.PollInterval).Format(time.RFC3339),
	}
	if state.LastCycle != nil {
		result["last_cycle"] = cycleSummary(*state.LastCycle)
	}
	if job := s.jobs.ActiveJob(); job != nil {
		result["running_job_id"] = job.ID
	}

	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleListSeen handles the list_seen tool
func (s *Server) handleListSeen(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := request.GetInt("limit", defaultSeenLimit)
	if limit <= 0 {
		limit = defaultSeenLimit
	}
	if limit > maxSeenLimit {
		limit = maxSeenLimit
	}

	entries, err := s.cfg.Store.Snapshot(limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to read seen identifiers: %v", err)), nil
	}

	items := make([]map[string]interface{}, 0, len(entries))
	for _, e := range entries {
		items = append(items, map[string]interface{}{
			"id":         e.ID,
			"first_seen": e.FirstSeen.Format(time.RFC3339),
			"last_seen":  e.LastSeen.Format(time.RFC3339),
		})
	}

	result := map[string]interface{}{
		"entries": items,
		"count":   len(items),
		"limit":   limit,
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleRunCycle handles the run_cycle tool
func (s *Server) handleRunCycle(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	job, created := s.jobs.CreateJob()
	if !created {
		result := map[string]interface{}{
			"status":  "already_running",
			"message": "A cycle is already in progress",
			"job_id":  job.ID,
		}
		return mcp.NewToolResultText(formatJSON(result)), nil
	}

	go s.runCycleJob(job.ID)

	result := map[string]interface{}{
		"status":  "started",
		"message": "Cycle started successfully",
		"job_id":  job.ID,
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleGetJobStatus handles the get_job_status tool
func (s *Server) handleGetJobStatus(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID := request.GetString("job_id", "")
	if jobID == "" {
		return mcp.NewToolResultError("job_id parameter is required"), nil
	}

	job := s.jobs.GetJob(jobID)
	if job == nil {
		return mcp.NewToolResultError(fmt.Sprintf("job '%s' not found", jobID)), nil
	}

	result := map[string]interface{}{
		"job_id":     job.ID,
		"status":     job.Status,
		"started_at": job.StartedAt.Format(time.RFC3339),
	}
	if !job.CompletedAt.IsZero() {
		result["completed_at"] = job.CompletedAt.Format(time.RFC3339)
		result["duration_seconds"] = job.CompletedAt.Sub(job.StartedAt).Seconds()
	}
	if job.Result != nil {
		result["cycle"] = cycleSummary(*job.Result)
	}
	if job.ErrorMessage != "" {
		result["error_message"] = job.ErrorMessage
	}

	return mcp.NewToolResultText(formatJSON(result)), nil
}

// runCycleJob runs one cycle in the background and records it like the
// poll loop would
func (s *Server) runCycleJob(jobID string) {
	s.jobs.UpdateStatus(jobID, JobStatusRunning, "")
	jobLog := s.log.WithField("job_id", jobID)

	result, err := s.cfg.Runner.RunCycle(s.jobs.GetContext(jobID))
	s.jobs.SetResult(jobID, result)

	if errors.Is(err, context.Canceled) {
		s.jobs.UpdateStatus(jobID, JobStatusCancelled, "")
		return
	}

	s.cfg.State.Record(result)
	if saveErr := s.cfg.State.Save(); saveErr != nil {
		jobLog.Errorf("Failed to save crawler state: %v", saveErr)
	}

	if err != nil {
		jobLog.Errorf("Cycle job failed: %v", err)
		s.jobs.UpdateStatus(jobID, JobStatusFailed, err.Error())
		return
	}
	jobLog.Infof("Cycle job completed: %d discovered", result.Discovered)
	s.jobs.UpdateStatus(jobID, JobStatusCompleted, "")
}

// cycleSummary flattens a cycle result for tool output
func cycleSummary(r models.CycleResult) map[string]interface{} {
	summary := map[string]interface{}{
		"cycle_id":         r.CycleID,
		"started_at":       r.StartedAt.Format(time.RFC3339),
		"duration_seconds": r.Duration().Seconds(),
		"listing_entries":  r.ListingEntries,
		"discovered":       r.Discovered,
		"items_stored":     r.ItemsStored,
		"item_failures":    r.ItemFailures,
		"comment_failures": r.CommentFailures,
		"comment_links":    r.CommentLinks,
		"links_stored":     r.LinksStored,
		"link_failures":    r.LinkFailures,
		"success":          r.Success(),
	}
	if r.Error != "" {
		summary["error"] = r.Error
	}
	return summary
}

// formatJSON formats data as an indented JSON string
func formatJSON(data map[string]interface{}) string {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("{\"error\": %q}", err.Error())
	}
	return string(b)
}
