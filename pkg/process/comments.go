package process

import (
	"context"
	"fmt"
	"math/rand"
	"net/url"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/hnmirror/hn-mirror/pkg/config"
	"github.com/hnmirror/hn-mirror/pkg/fetch"
	"github.com/hnmirror/hn-mirror/pkg/models"
	"github.com/hnmirror/hn-mirror/pkg/parse"
	"github.com/hnmirror/hn-mirror/pkg/utils"
)

// RobotsChecker decides whether an outbound link may be fetched
type RobotsChecker interface {
	Allowed(ctx context.Context, target *url.URL) bool
}

// CommentStats counts comment-link outcomes for one cycle
type CommentStats struct {
	Links  int64 // links extracted from comment threads
	Stored int64
	Failed int64
}

// CommentProcessor downloads every outbound link of an item's comment thread.
// The comments page fetch failure is returned to the caller; failures of
// individual links are logged and counted.
type CommentProcessor struct {
	fetcher    fetch.HTTPFetcher
	writer     DocumentWriter
	extractor  parse.Extractor
	robots     RobotsChecker // nil = no robots.txt checks
	outputDir  string
	naming     string
	randomName func() int
	recorder   Recorder // nil = no index
	links      atomic.Int64
	stored     atomic.Int64
	failed     atomic.Int64
	log        *logrus.Entry
}

// NewCommentProcessor creates a CommentProcessor. robots may be nil.
func NewCommentProcessor(
	fetcher fetch.HTTPFetcher,
	writer DocumentWriter,
	extractor parse.Extractor,
	robots RobotsChecker,
	cfg *config.AppConfig,
	log *logrus.Entry,
) *CommentProcessor {
	return &CommentProcessor{
		fetcher:    fetcher,
		writer:     writer,
		extractor:  extractor,
		robots:     robots,
		outputDir:  cfg.OutputDir,
		naming:     cfg.CommentFileNaming,
		randomName: func() int { return rand.Intn(90) + 10 },
		log:        log.WithField("component", "comment_processor"),
	}
}

// WithRecorder makes the processor report every stored document to r
func (p *CommentProcessor) WithRecorder(r Recorder) *CommentProcessor {
	p.recorder = r
	return p
}

// ThreadDir is the per-item directory holding comment-linked documents
func ThreadDir(outputDir, id string) string {
	return filepath.Join(outputDir, utils.SanitizeFilename(id))
}

// Process fetches item.CommentsURL, extracts outbound links and stores each
// linked document under ThreadDir. No directory is created when the thread
// has no links.
func (p *CommentProcessor) Process(ctx context.Context, item models.Item) error {
	taskLog := p.log.WithFields(logrus.Fields{"item_id": item.ID, "url": item.CommentsURL})

	page, err := p.fetcher.Fetch(ctx, item.CommentsURL)
	if err != nil {
		return err
	}
	commentsURL, err := url.Parse(item.CommentsURL)
	if err != nil {
		return utils.WrapErrorf(utils.ErrParsing, "comments URL %q: %v", item.CommentsURL, err)
	}

	links := p.extractor.CommentLinks(page)
	if len(links) == 0 {
		taskLog.Debug("No links in comment thread")
		return nil
	}
	p.links.Add(int64(len(links)))
	taskLog.Infof("Start processing of %d links from comments page", len(links))

	dir := ThreadDir(p.outputDir, item.ID)
	if err := p.writer.EnsureDir(dir); err != nil {
		return err
	}

	var wg sync.WaitGroup
	for _, href := range links {
		wg.Add(1)
		go func(href string) {
			defer wg.Done()
			if err := p.processLink(ctx, item.ID, commentsURL, dir, href, taskLog); err != nil {
				p.failed.Add(1)
				linkLog := taskLog.WithFields(logrus.Fields{"link": href, "error_type": utils.CategorizeError(err)})
				if ctx.Err() != nil {
					linkLog.Debugf("Link abandoned: %v", err)
					return
				}
				linkLog.Errorf("Error retrieving from link: %v", err)
				return
			}
			p.stored.Add(1)
		}(href)
	}
	wg.Wait()
	return nil
}

func (p *CommentProcessor) processLink(ctx context.Context, itemID string, commentsURL *url.URL, dir, href string, taskLog *logrus.Entry) error {
	target, err := parse.ResolveLink(commentsURL, href)
	if err != nil {
		return err
	}
	if p.robots != nil && !p.robots.Allowed(ctx, target) {
		return fmt.Errorf("%w: %s", utils.ErrRobotsDisallowed, target)
	}

	body, err := p.fetcher.Fetch(ctx, target.String())
	if err != nil {
		return err
	}

	path := filepath.Join(dir, p.fileName(target))
	if err := p.writer.Write(path, body); err != nil {
		return err
	}
	taskLog.WithFields(logrus.Fields{"link": target.String(), "path": path}).Debug("Comment link stored")
	if p.recorder != nil {
		p.recorder.RecordDocument(itemID, KindComment, target.String(), path)
	}
	return nil
}

// fileName derives the stored name of one linked document. Hash naming is
// stable per link; random naming may collide and overwrite.
func (p *CommentProcessor) fileName(target *url.URL) string {
	if p.naming == config.NamingRandom {
		return fmt.Sprintf("%d.html", p.randomName())
	}
	return utils.ShortHash(parse.NormalizeURL(target), 16) + ".html"
}

// Stats returns the outcome counters accumulated so far
func (p *CommentProcessor) Stats() CommentStats {
	return CommentStats{Links: p.links.Load(), Stored: p.stored.Load(), Failed: p.failed.Load()}
}
