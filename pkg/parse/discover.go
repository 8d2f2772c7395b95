package parse

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/hnmirror/hn-mirror/pkg/models"
	"github.com/hnmirror/hn-mirror/pkg/utils"
)

// SeenMarker records discovered identifiers. MarkSeen reports whether id was
// newly added; an id that is already present is refreshed and reported false.
type SeenMarker interface {
	MarkSeen(id string) (added bool, err error)
}

// DiscoverItems turns listing entries into Items for identifiers the store has
// not seen before, preserving document order. Entries whose link cannot be
// resolved, or whose identifier the store fails to record, are logged and
// skipped; the rest continue.
func DiscoverItems(entries []models.ListingEntry, base *url.URL, store SeenMarker, log *logrus.Entry) []models.Item {
	items := make([]models.Item, 0, len(entries))
	for _, entry := range entries {
		entryLog := log.WithFields(logrus.Fields{"item_id": entry.ID, "href": entry.Href})

		primary, err := ResolveLink(base, entry.Href)
		if err != nil {
			entryLog.WithField("error_type", utils.CategorizeError(err)).Warnf("Skipping listing entry: %v", err)
			continue
		}

		added, err := store.MarkSeen(entry.ID)
		if err != nil {
			entryLog.WithField("error_type", utils.CategorizeError(err)).Errorf("Dedup store failed, skipping entry: %v", err)
			continue
		}
		if !added {
			continue
		}

		items = append(items, models.Item{
			ID:          entry.ID,
			PrimaryURL:  primary.String(),
			CommentsURL: CommentsURL(base, entry.ID),
		})
	}
	return items
}

// ResolveLink qualifies href against base when it is not absolute.
// Only http(s) targets are accepted.
func ResolveLink(base *url.URL, href string) (*url.URL, error) {
	href = strings.TrimSpace(href)
	if href == "" {
		return nil, utils.WrapErrorf(utils.ErrParsing, "empty URL")
	}
	resolved, err := base.Parse(href)
	if err != nil {
		return nil, utils.WrapErrorf(utils.ErrParsing, "invalid URL %q: %v", href, err)
	}
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return nil, utils.WrapErrorf(utils.ErrParsing, "unsupported URL scheme %q in %q", resolved.Scheme, href)
	}
	if resolved.Host == "" {
		return nil, utils.WrapErrorf(utils.ErrParsing, "URL %q has no host", href)
	}
	return resolved, nil
}

// CommentsURL builds the comment-thread page address for an identifier:
// <base>item?id=<id>.
func CommentsURL(base *url.URL, id string) string {
	ref := &url.URL{Path: "item", RawQuery: fmt.Sprintf("id=%s", url.QueryEscape(id))}
	return base.ResolveReference(ref).String()
}
