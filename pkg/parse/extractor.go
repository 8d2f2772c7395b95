package parse

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"github.com/hnmirror/hn-mirror/pkg/config"
	"github.com/hnmirror/hn-mirror/pkg/models"
)

// Extractor pulls links out of fetched documents. Implementations do no I/O,
// keep no state and never fail: markup they cannot make sense of yields no
// links.
type Extractor interface {
	// ListingEntries returns one (id, href) tuple per story row, in document order.
	ListingEntries(body string) []models.ListingEntry
	// CommentLinks returns every anchor href inside comment-text regions,
	// in document order, duplicates included.
	CommentLinks(body string) []string
}

// HTMLExtractor implements Extractor with CSS selectors evaluated by goquery
type HTMLExtractor struct {
	selectors config.SelectorConfig
	log       *logrus.Entry
}

// NewHTMLExtractor creates an HTMLExtractor using the given selectors
func NewHTMLExtractor(selectors config.SelectorConfig, log *logrus.Entry) *HTMLExtractor {
	return &HTMLExtractor{selectors: selectors, log: log}
}

func (e *HTMLExtractor) document(body string) *goquery.Document {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		e.log.Warnf("Unparsable document, treating as link-free: %v", err)
		return nil
	}
	return doc
}

// ListingEntries locates story rows and reads each row's id attribute and
// first story link. Rows lacking either are skipped.
func (e *HTMLExtractor) ListingEntries(body string) []models.ListingEntry {
	doc := e.document(body)
	if doc == nil {
		return nil
	}

	var entries []models.ListingEntry
	doc.Find(e.selectors.StoryRow).Each(func(i int, row *goquery.Selection) {
		id := strings.TrimSpace(row.AttrOr("id", ""))
		if id == "" {
			e.log.Debugf("Story row %d has no id attribute, skipping", i)
			return
		}
		href, ok := row.Find(e.selectors.StoryLink).First().Attr("href")
		if !ok {
			e.log.WithField("item_id", id).Debug("Story row has no link, skipping")
			return
		}
		entries = append(entries, models.ListingEntry{ID: id, Href: strings.TrimSpace(href)})
	})
	return entries
}

// CommentLinks collects the hrefs of anchors inside comment-text regions.
// Anchors without an href are ignored.
func (e *HTMLExtractor) CommentLinks(body string) []string {
	doc := e.document(body)
	if doc == nil {
		return nil
	}

	var links []string
	doc.Find(e.selectors.CommentText).Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		if href := strings.TrimSpace(a.AttrOr("href", "")); href != "" {
			links = append(links, href)
		}
	})
	return links
}
