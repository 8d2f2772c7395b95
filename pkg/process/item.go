package process

import (
	"context"
	"net/url"
	"path/filepath"
	"sync/atomic"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/sirupsen/logrus"

	"github.com/hnmirror/hn-mirror/pkg/config"
	"github.com/hnmirror/hn-mirror/pkg/fetch"
	"github.com/hnmirror/hn-mirror/pkg/models"
	"github.com/hnmirror/hn-mirror/pkg/utils"
)

// DocumentWriter persists fetched documents
type DocumentWriter interface {
	EnsureDir(dir string) error
	Write(path, body string) error
}

// Recorder indexes stored documents by their source URL
type Recorder interface {
	RecordDocument(itemID, kind, sourceURL, path string)
}

// Document kinds passed to Recorder
const (
	KindPrimary  = "primary"
	KindMarkdown = "markdown"
	KindComment  = "comment"
)

// ItemStats counts primary-document outcomes for one cycle
type ItemStats struct {
	Stored int64
	Failed int64
}

// ItemProcessor downloads and stores each item's primary document.
// Failures are logged and counted, never returned: one item can not affect another.
type ItemProcessor struct {
	fetcher   fetch.HTTPFetcher
	writer    DocumentWriter
	outputDir string
	markdown  bool
	recorder  Recorder // nil = no index
	stored    atomic.Int64
	failed    atomic.Int64
	log       *logrus.Entry
}

// NewItemProcessor creates an ItemProcessor writing under cfg.OutputDir
func NewItemProcessor(fetcher fetch.HTTPFetcher, writer DocumentWriter, cfg *config.AppConfig, log *logrus.Entry) *ItemProcessor {
	return &ItemProcessor{
		fetcher:   fetcher,
		writer:    writer,
		outputDir: cfg.OutputDir,
		markdown:  cfg.MarkdownSidecar,
		log:       log.WithField("component", "item_processor"),
	}
}

// WithRecorder makes the processor report every stored document to r
func (p *ItemProcessor) WithRecorder(r Recorder) *ItemProcessor {
	p.recorder = r
	return p
}

// PrimaryPath is where an item's primary document is stored. It depends on
// the identifier alone, so re-processing an id overwrites the same file.
func PrimaryPath(outputDir, id string) string {
	return filepath.Join(outputDir, "news_"+utils.SanitizeFilename(id)+".html")
}

// MarkdownPath is the optional markdown rendition next to the primary document
func MarkdownPath(outputDir, id string) string {
	return filepath.Join(outputDir, "news_"+utils.SanitizeFilename(id)+".md")
}

// Process fetches item.PrimaryURL and stores it
func (p *ItemProcessor) Process(ctx context.Context, item models.Item) {
	taskLog := p.log.WithFields(logrus.Fields{"item_id": item.ID, "url": item.PrimaryURL})
	taskLog.Info("Start processing item of news")

	body, err := p.fetcher.Fetch(ctx, item.PrimaryURL)
	if err != nil {
		p.failed.Add(1)
		taskLog.WithField("error_type", utils.CategorizeError(err)).Errorf("Error retrieving primary document: %v", err)
		return
	}

	path := PrimaryPath(p.outputDir, item.ID)
	if err := p.writer.Write(path, body); err != nil {
		p.failed.Add(1)
		taskLog.WithField("error_type", utils.CategorizeError(err)).Errorf("Error storing primary document: %v", err)
		return
	}
	p.stored.Add(1)
	taskLog.WithField("path", path).Debug("Primary document stored")
	if p.recorder != nil {
		p.recorder.RecordDocument(item.ID, KindPrimary, item.PrimaryURL, path)
	}

	if p.markdown {
		p.writeMarkdown(item, body, taskLog)
	}
}

// writeMarkdown stores a markdown rendition; failures only warn since the
// HTML copy is already on disk.
func (p *ItemProcessor) writeMarkdown(item models.Item, body string, taskLog *logrus.Entry) {
	domain := ""
	if u, err := url.Parse(item.PrimaryURL); err == nil {
		domain = u.Host
	}
	converter := md.NewConverter(domain, true, nil)
	markdown, err := converter.ConvertString(body)
	if err != nil {
		taskLog.Warnf("Markdown conversion failed: %v", err)
		return
	}
	path := MarkdownPath(p.outputDir, item.ID)
	if err := p.writer.Write(path, markdown); err != nil {
		taskLog.WithField("error_type", utils.CategorizeError(err)).Warnf("Error storing markdown rendition: %v", err)
		return
	}
	if p.recorder != nil {
		p.recorder.RecordDocument(item.ID, KindMarkdown, item.PrimaryURL, path)
	}
}

// Stats returns the outcome counters accumulated so far
func (p *ItemProcessor) Stats() ItemStats {
	return ItemStats{Stored: p.stored.Load(), Failed: p.failed.Load()}
}
