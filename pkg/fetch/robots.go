package fetch

import (
	"context"
	"net/url"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/temoto/robotstxt"
	"golang.org/x/sync/singleflight"
)

// RobotsPolicy answers whether a comment link may be downloaded according to
// the target host's robots.txt. Results are cached for the lifetime of the
// policy, which is one poll cycle.
type RobotsPolicy struct {
	fetcher   HTTPFetcher
	userAgent string
	cache     map[string]*robotstxt.RobotsData // scheme://host -> parsed data (nil = allow all)
	cacheMu   sync.Mutex
	inflight  singleflight.Group
	log       *logrus.Entry
}

// NewRobotsPolicy creates a RobotsPolicy that fetches robots.txt through fetcher
func NewRobotsPolicy(fetcher HTTPFetcher, userAgent string, log *logrus.Entry) *RobotsPolicy {
	return &RobotsPolicy{
		fetcher:   fetcher,
		userAgent: userAgent,
		cache:     make(map[string]*robotstxt.RobotsData),
		log:       log,
	}
}

// Allowed reports whether userAgent may fetch target. A robots.txt that is
// missing, unreachable or unparsable allows everything.
func (rp *RobotsPolicy) Allowed(ctx context.Context, target *url.URL) bool {
	data := rp.robotsData(ctx, target)
	if data == nil {
		return true
	}
	return data.TestAgent(target.RequestURI(), rp.userAgent)
}

func (rp *RobotsPolicy) robotsData(ctx context.Context, target *url.URL) *robotstxt.RobotsData {
	scheme := target.Scheme
	if scheme != "http" && scheme != "https" {
		scheme = "https"
	}
	key := scheme + "://" + target.Host

	rp.cacheMu.Lock()
	data, found := rp.cache[key]
	rp.cacheMu.Unlock()
	if found {
		return data
	}

	// Concurrent link fetches to the same host share one robots.txt request.
	v, _, _ := rp.inflight.Do(key, func() (interface{}, error) {
		robotsURL := (&url.URL{Scheme: scheme, Host: target.Host, Path: "/robots.txt"}).String()
		robotsLog := rp.log.WithField("robots_url", robotsURL)

		var parsed *robotstxt.RobotsData
		body, err := rp.fetcher.Fetch(ctx, robotsURL)
		if err != nil {
			robotsLog.Debugf("robots.txt unavailable, allowing all: %v", err)
		} else if parsed, err = robotstxt.FromString(body); err != nil {
			robotsLog.Warnf("Error parsing robots.txt, allowing all: %v", err)
			parsed = nil
		}

		rp.cacheMu.Lock()
		rp.cache[key] = parsed
		rp.cacheMu.Unlock()
		return parsed, nil
	})
	data, _ = v.(*robotstxt.RobotsData)
	return data
}
