package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hnmirror/hn-mirror/pkg/config"
	"github.com/hnmirror/hn-mirror/pkg/process"
	"github.com/hnmirror/hn-mirror/pkg/storage"
	"github.com/hnmirror/hn-mirror/pkg/utils"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

// fakeSite serves a two-story listing. Story 1's thread links to one good
// and one failing page; story 2's thread has no links.
type fakeSite struct {
	srv *httptest.Server

	mu            sync.Mutex
	hits          map[string]int
	listingStatus int
	failThread    string // item id whose comments page returns 500
	stallStory    string // story id whose page never answers
}

func newFakeSite(t *testing.T) *fakeSite {
	t.Helper()
	s := &fakeSite{hits: map[string]int{}, listingStatus: http.StatusOK}
	s.srv = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *fakeSite) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	key := r.URL.Path
	if r.URL.RawQuery != "" {
		key += "?" + r.URL.RawQuery
	}
	s.hits[key]++
	listingStatus, failThread, stallStory := s.listingStatus, s.failThread, s.stallStory
	s.mu.Unlock()

	switch {
	case r.URL.Path == "/":
		if listingStatus != http.StatusOK {
			w.WriteHeader(listingStatus)
			return
		}
		fmt.Fprint(w, `<html><body><table>
<tr class="athing" id="1"><td><span class="titleline"><a href="story/1">One</a></span></td></tr>
<tr class="athing" id="2"><td><span class="titleline"><a href="/story/2">Two</a></span></td></tr>
</table></body></html>`)
	case r.URL.Path == "/item":
		id := r.URL.Query().Get("id")
		if id == failThread {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if id == "1" {
			fmt.Fprint(w, `<div class="comment"><span class="commtext c00">see <a href="/ext/good">good</a> and <a href="/ext/bad">bad</a></span></div>`)
			return
		}
		fmt.Fprint(w, `<div class="comment"><span class="commtext c00">no links here</span></div>`)
	case strings.HasPrefix(r.URL.Path, "/story/"):
		if id := strings.TrimPrefix(r.URL.Path, "/story/"); id == stallStory {
			select {
			case <-r.Context().Done():
			case <-time.After(5 * time.Second):
			}
			return
		}
		fmt.Fprintf(w, "<html><body>story %s</body></html>", strings.TrimPrefix(r.URL.Path, "/story/"))
	case r.URL.Path == "/ext/good":
		fmt.Fprint(w, "<html><body>good page</body></html>")
	default:
		w.WriteHeader(http.StatusInternalServerError)
	}
}

func (s *fakeSite) hitCount(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[key]
}

func (s *fakeSite) setListingStatus(code int) {
	s.mu.Lock()
	s.listingStatus = code
	s.mu.Unlock()
}

func (s *fakeSite) setFailThread(id string) {
	s.mu.Lock()
	s.failThread = id
	s.mu.Unlock()
}

func (s *fakeSite) setStallStory(id string) {
	s.mu.Lock()
	s.stallStory = id
	s.mu.Unlock()
}

func testConfig(t *testing.T, baseURL string, mutate func(*config.AppConfig)) *config.AppConfig {
	t.Helper()
	cfg := &config.AppConfig{
		BaseURL:   baseURL,
		OutputDir: t.TempDir(),
		StateDir:  t.TempDir(),
	}
	if mutate != nil {
		mutate(cfg)
	}
	_, err := cfg.Validate()
	require.NoError(t, err)
	return cfg
}

func newTestCrawler(t *testing.T, cfg *config.AppConfig) *Crawler {
	t.Helper()
	c, err := NewCrawler(cfg, storage.NewMemoryStore(100, testLogger()), testLogger())
	require.NoError(t, err)
	return c
}

func TestRunCycle_StoresItemsAndCommentLinks(t *testing.T) {
	site := newFakeSite(t)
	cfg := testConfig(t, site.srv.URL, nil)
	c := newTestCrawler(t, cfg)

	result, err := c.RunCycle(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, result.CycleID)
	assert.True(t, result.Success())
	assert.Equal(t, 2, result.ListingEntries)
	assert.Equal(t, 2, result.Discovered)
	assert.Equal(t, 2, result.ItemsStored)
	assert.Equal(t, 0, result.ItemFailures)
	assert.Equal(t, 0, result.CommentFailures)
	assert.Equal(t, 2, result.CommentLinks)
	assert.Equal(t, 1, result.LinksStored)
	assert.Equal(t, 1, result.LinkFailures)
	assert.False(t, result.FinishedAt.Before(result.StartedAt))

	// Relative story links resolve against the base URL
	body, err := os.ReadFile(process.PrimaryPath(cfg.OutputDir, "1"))
	require.NoError(t, err)
	assert.Contains(t, string(body), "story 1")
	body, err = os.ReadFile(process.PrimaryPath(cfg.OutputDir, "2"))
	require.NoError(t, err)
	assert.Contains(t, string(body), "story 2")

	files, err := os.ReadDir(process.ThreadDir(cfg.OutputDir, "1"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	body, err = os.ReadFile(filepath.Join(process.ThreadDir(cfg.OutputDir, "1"), files[0].Name()))
	require.NoError(t, err)
	assert.Contains(t, string(body), "good page")

	_, err = os.Stat(process.ThreadDir(cfg.OutputDir, "2"))
	assert.True(t, os.IsNotExist(err), "a thread without links gets no directory")

	mapping, err := os.ReadFile(filepath.Join(cfg.OutputDir, MappingFileName))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(mapping)), "\n")
	assert.Len(t, lines, 3)
	for _, line := range lines {
		assert.True(t, strings.HasPrefix(line, result.CycleID+"\t"), line)
	}
	assert.Contains(t, string(mapping), site.srv.URL+"/ext/good")
}

func TestRunCycle_SecondCycleSkipsSeenItems(t *testing.T) {
	site := newFakeSite(t)
	c := newTestCrawler(t, testConfig(t, site.srv.URL, nil))

	first, err := c.RunCycle(context.Background())
	require.NoError(t, err)
	second, err := c.RunCycle(context.Background())
	require.NoError(t, err)

	assert.NotEqual(t, first.CycleID, second.CycleID)
	assert.Equal(t, 2, second.ListingEntries)
	assert.Equal(t, 0, second.Discovered)
	assert.Equal(t, 2, site.hitCount("/"))
	assert.Equal(t, 1, site.hitCount("/story/1"))
	assert.Equal(t, 1, site.hitCount("/item?id=1"))
}

func TestRunCycle_ListingFailureFailsCycle(t *testing.T) {
	site := newFakeSite(t)
	site.setListingStatus(http.StatusServiceUnavailable)
	cfg := testConfig(t, site.srv.URL, nil)
	c := newTestCrawler(t, cfg)

	result, err := c.RunCycle(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrHTTPStatus)
	assert.False(t, result.Success())
	assert.Contains(t, result.Error, "503")
	assert.Equal(t, 0, result.Discovered)

	// Nothing was marked seen, so the next healthy cycle picks everything up
	site.setListingStatus(http.StatusOK)
	result, err = c.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Discovered)
}

func TestRunCycle_CommentFailureContained(t *testing.T) {
	site := newFakeSite(t)
	site.setFailThread("2")
	c := newTestCrawler(t, testConfig(t, site.srv.URL, nil))

	result, err := c.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.CommentFailures)
	assert.Equal(t, 1, result.LinksStored)
	assert.True(t, result.Success())
}

func TestRunCycle_CommentFailurePropagated(t *testing.T) {
	site := newFakeSite(t)
	site.setFailThread("2")
	c := newTestCrawler(t, testConfig(t, site.srv.URL, func(cfg *config.AppConfig) {
		cfg.CommentFailurePolicy = config.PolicyPropagate
	}))

	result, err := c.RunCycle(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrHTTPStatus)
	assert.Contains(t, err.Error(), "comment round")
	assert.False(t, result.Success())
	// Primary documents were stored before the comment round started
	assert.Equal(t, 2, result.ItemsStored)
}

func TestRunCycle_StalledStoryTimesOutAlone(t *testing.T) {
	site := newFakeSite(t)
	site.setStallStory("1")
	cfg := testConfig(t, site.srv.URL, func(cfg *config.AppConfig) {
		cfg.FetchTimeout = 200 * time.Millisecond
	})
	c := newTestCrawler(t, cfg)

	result, err := c.RunCycle(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Success())
	assert.Equal(t, 1, result.ItemFailures)
	assert.Equal(t, 1, result.ItemsStored)

	_, err = os.Stat(process.PrimaryPath(cfg.OutputDir, "1"))
	assert.True(t, os.IsNotExist(err), "the stalled story leaves no primary document")
	body, err := os.ReadFile(process.PrimaryPath(cfg.OutputDir, "2"))
	require.NoError(t, err)
	assert.Contains(t, string(body), "story 2")

	// The comment round still runs for both items
	assert.Equal(t, 1, site.hitCount("/item?id=1"))
	assert.Equal(t, 1, site.hitCount("/item?id=2"))
	assert.Equal(t, 1, result.LinksStored)
}

func TestRunCycle_MappingDisabled(t *testing.T) {
	site := newFakeSite(t)
	disabled := false
	cfg := testConfig(t, site.srv.URL, func(cfg *config.AppConfig) { cfg.URLMapping = &disabled })
	c := newTestCrawler(t, cfg)

	_, err := c.RunCycle(context.Background())
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(cfg.OutputDir, MappingFileName))
	assert.True(t, os.IsNotExist(err))
}

func TestRunCycle_CancelledContext(t *testing.T) {
	site := newFakeSite(t)
	c := newTestCrawler(t, testConfig(t, site.srv.URL, nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := c.RunCycle(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.NotEmpty(t, result.Error)
}

func TestNewCrawler_InvalidBaseURL(t *testing.T) {
	cfg := config.Default()
	cfg.BaseURL = "http://[::1"
	_, err := NewCrawler(cfg, storage.NewMemoryStore(10, testLogger()), testLogger())
	assert.ErrorIs(t, err, utils.ErrConfigValidation)
}
