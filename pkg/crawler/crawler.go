package crawler

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hnmirror/hn-mirror/pkg/config"
	"github.com/hnmirror/hn-mirror/pkg/fetch"
	"github.com/hnmirror/hn-mirror/pkg/models"
	"github.com/hnmirror/hn-mirror/pkg/orchestrate"
	"github.com/hnmirror/hn-mirror/pkg/parse"
	"github.com/hnmirror/hn-mirror/pkg/process"
	"github.com/hnmirror/hn-mirror/pkg/storage"
	"github.com/hnmirror/hn-mirror/pkg/utils"
)

// Crawler runs poll cycles against one listing site
type Crawler struct {
	cfg       *config.AppConfig
	base      *url.URL
	store     storage.SeenStore
	extractor parse.Extractor
	writer    *storage.FileWriter
	log       *logrus.Entry

	// cycleMu keeps listing discovery from ever running concurrently with itself
	cycleMu sync.Mutex
}

// NewCrawler creates a Crawler. cfg must already be validated.
func NewCrawler(cfg *config.AppConfig, store storage.SeenStore, log *logrus.Entry) (*Crawler, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: base_url %q: %v", utils.ErrConfigValidation, cfg.BaseURL, err)
	}
	return &Crawler{
		cfg:       cfg,
		base:      base,
		store:     store,
		extractor: parse.NewHTMLExtractor(cfg.Selectors, log.WithField("component", "extractor")),
		writer:    storage.NewFileWriter(log.WithField("component", "storage")),
		log:       log,
	}, nil
}

// RunCycle performs one poll cycle: fetch the listing, discover new items,
// store every primary document, then every comment-linked document.
//
// The returned error is non-nil when the listing could not be fetched, the
// output directory could not be created, a propagated comment failure aborted
// the comment round, or ctx was cancelled. The result is filled in either way.
func (c *Crawler) RunCycle(ctx context.Context) (models.CycleResult, error) {
	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()

	result := models.CycleResult{CycleID: uuid.NewString(), StartedAt: time.Now()}
	cycleLog := c.log.WithField("cycle_id", result.CycleID)

	finish := func(err error) (models.CycleResult, error) {
		result.FinishedAt = time.Now()
		if err != nil {
			result.Error = err.Error()
			cycleLog.WithField("error_type", utils.CategorizeError(err)).Errorf("Cycle failed: %v", err)
		}
		return result, err
	}

	// A fresh transport per cycle; every task of the cycle shares it read-only.
	client := fetch.NewClient(c.cfg, cycleLog)
	defer client.CloseIdleConnections()
	fetcher := fetch.NewFetcher(client, c.cfg, cycleLog.WithField("component", "fetcher"))

	// --- Listing and discovery ---
	listing, err := fetcher.Fetch(ctx, c.base.String())
	if err != nil {
		return finish(fmt.Errorf("listing fetch: %w", err))
	}
	entries := c.extractor.ListingEntries(listing)
	items := parse.DiscoverItems(entries, c.base, c.store, cycleLog.WithField("component", "discovery"))
	result.ListingEntries = len(entries)
	result.Discovered = len(items)
	cycleLog.WithField("listing_entries", len(entries)).Infof("Crawler found %d new links", len(items))

	if len(items) == 0 {
		return finish(nil)
	}

	if err := c.writer.EnsureDir(c.cfg.OutputDir); err != nil {
		return finish(fmt.Errorf("output directory: %w", err))
	}

	var recorder process.Recorder
	if c.cfg.WriteURLMapping() {
		om := NewOutputManager(c.cfg.OutputDir, result.CycleID, cycleLog.WithField("component", "output"))
		defer func() {
			if err := om.Close(); err != nil {
				cycleLog.Warn(err)
			}
		}()
		recorder = om
	}

	// --- Round 1: primary documents, always contained ---
	itemProc := process.NewItemProcessor(fetcher, c.writer, c.cfg, cycleLog).WithRecorder(recorder)
	_, _ = orchestrate.RunRound(ctx, "items", items, config.PolicyContain,
		func(ctx context.Context, item models.Item) error {
			itemProc.Process(ctx, item)
			return nil
		}, cycleLog)
	itemStats := itemProc.Stats()
	result.ItemsStored = int(itemStats.Stored)
	result.ItemFailures = int(itemStats.Failed)

	if err := ctx.Err(); err != nil {
		return finish(err)
	}

	// --- Round 2: comment threads ---
	var robots process.RobotsChecker
	if c.cfg.RespectRobots {
		robots = fetch.NewRobotsPolicy(fetcher, c.cfg.UserAgent, cycleLog.WithField("component", "robots"))
	}
	commentProc := process.NewCommentProcessor(fetcher, c.writer, c.extractor, robots, c.cfg, cycleLog).WithRecorder(recorder)
	round, roundErr := orchestrate.RunRound(ctx, "comments", items, c.cfg.CommentFailurePolicy, commentProc.Process, cycleLog)
	commentStats := commentProc.Stats()
	result.CommentFailures = int(round.Failures)
	result.CommentLinks = int(commentStats.Links)
	result.LinksStored = int(commentStats.Stored)
	result.LinkFailures = int(commentStats.Failed)

	if roundErr != nil {
		return finish(fmt.Errorf("comment round: %w", roundErr))
	}
	if err := ctx.Err(); err != nil {
		return finish(err)
	}

	cycleLog.WithFields(logrus.Fields{
		"items_stored":     result.ItemsStored,
		"item_failures":    result.ItemFailures,
		"comment_failures": result.CommentFailures,
		"links_stored":     result.LinksStored,
		"link_failures":    result.LinkFailures,
	}).Info("Crawler end processing")
	return finish(nil)
}
