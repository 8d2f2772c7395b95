package process

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hnmirror/hn-mirror/pkg/config"
	"github.com/hnmirror/hn-mirror/pkg/models"
	"github.com/hnmirror/hn-mirror/pkg/parse"
	"github.com/hnmirror/hn-mirror/pkg/storage"
	"github.com/hnmirror/hn-mirror/pkg/utils"
)

const threadURL = "https://news.ycombinator.com/item?id=9"

func commentPage(links ...string) string {
	page := `<html><body><table>`
	for _, l := range links {
		page += `<tr><td><span class="commtext c00">see <a href="` + l + `">this</a></span></td></tr>`
	}
	return page + `</table></body></html>`
}

func newTestCommentProcessor(t *testing.T, cfg *config.AppConfig, f *fakeFetcher, robots RobotsChecker) *CommentProcessor {
	t.Helper()
	return NewCommentProcessor(f, storage.NewFileWriter(testLogger()),
		parse.NewHTMLExtractor(cfg.Selectors, testLogger()), robots, cfg, testLogger())
}

func listFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func TestCommentProcessor_NoLinks_NoDirectoryNoFetches(t *testing.T) {
	cfg := testConfig(t)
	f := newFakeFetcher()
	f.pages[threadURL] = `<html><body><p>no comments yet</p></body></html>`

	p := newTestCommentProcessor(t, cfg, f, nil)
	err := p.Process(context.Background(), models.Item{ID: "9", CommentsURL: threadURL})

	require.NoError(t, err)
	assert.Equal(t, []string{threadURL}, f.calls(), "only the comments page is fetched")
	_, statErr := os.Stat(ThreadDir(cfg.OutputDir, "9"))
	assert.True(t, os.IsNotExist(statErr), "no per-item directory expected")
}

func TestCommentProcessor_StoresEveryLinkWithHashNames(t *testing.T) {
	cfg := testConfig(t)
	f := newFakeFetcher()
	f.pages[threadURL] = commentPage("https://a.example/1", "https://b.example/2")
	f.pages["https://a.example/1"] = "A"
	f.pages["https://b.example/2"] = "B"

	p := newTestCommentProcessor(t, cfg, f, nil)
	require.NoError(t, p.Process(context.Background(), models.Item{ID: "9", CommentsURL: threadURL}))

	dir := ThreadDir(cfg.OutputDir, "9")
	nameA := utils.ShortHash("https://a.example/1", 16) + ".html"
	nameB := utils.ShortHash("https://b.example/2", 16) + ".html"
	expected := []string{nameA, nameB}
	sort.Strings(expected)
	assert.Equal(t, expected, listFiles(t, dir))

	data, err := os.ReadFile(filepath.Join(dir, nameA))
	require.NoError(t, err)
	assert.Equal(t, "A", string(data))
	assert.Equal(t, CommentStats{Links: 2, Stored: 2}, p.Stats())
}

func TestCommentProcessor_DuplicateLinksShareOneFile(t *testing.T) {
	cfg := testConfig(t)
	f := newFakeFetcher()
	f.pages[threadURL] = commentPage("https://a.example/1", "https://a.example/1#frag")
	f.pages["https://a.example/1"] = "A"
	f.pages["https://a.example/1#frag"] = "A"

	p := newTestCommentProcessor(t, cfg, f, nil)
	require.NoError(t, p.Process(context.Background(), models.Item{ID: "9", CommentsURL: threadURL}))

	assert.Len(t, listFiles(t, ThreadDir(cfg.OutputDir, "9")), 1)
	assert.Equal(t, int64(2), p.Stats().Links)
}

func TestCommentProcessor_RandomNaming(t *testing.T) {
	cfg := testConfig(t)
	cfg.CommentFileNaming = config.NamingRandom
	f := newFakeFetcher()
	f.pages[threadURL] = commentPage("https://a.example/1")
	f.pages["https://a.example/1"] = "A"

	p := newTestCommentProcessor(t, cfg, f, nil)
	p.randomName = func() int { return 37 }
	require.NoError(t, p.Process(context.Background(), models.Item{ID: "9", CommentsURL: threadURL}))

	assert.Equal(t, []string{"37.html"}, listFiles(t, ThreadDir(cfg.OutputDir, "9")))
}

func TestCommentProcessor_DefaultRandomNameRange(t *testing.T) {
	cfg := testConfig(t)
	p := newTestCommentProcessor(t, cfg, newFakeFetcher(), nil)
	for i := 0; i < 500; i++ {
		n := p.randomName()
		require.GreaterOrEqual(t, n, 10)
		require.LessOrEqual(t, n, 99)
	}
}

func TestCommentProcessor_PerLinkFailuresContained(t *testing.T) {
	cfg := testConfig(t)
	f := newFakeFetcher()
	f.pages[threadURL] = commentPage("https://broken.example/", "mailto:x@example.com", "https://ok.example/", "https://blocked.example/p")
	f.pages["https://ok.example/"] = "ok"
	f.pages["https://blocked.example/p"] = "should not be fetched"
	// broken.example has no page: fake returns a 404 fetch error

	p := newTestCommentProcessor(t, cfg, f, denyRobots{host: "blocked.example"})
	require.NoError(t, p.Process(context.Background(), models.Item{ID: "9", CommentsURL: threadURL}))

	assert.Equal(t, []string{utils.ShortHash("https://ok.example/", 16) + ".html"}, listFiles(t, ThreadDir(cfg.OutputDir, "9")))
	assert.NotContains(t, f.calls(), "https://blocked.example/p")
	assert.Equal(t, CommentStats{Links: 4, Stored: 1, Failed: 3}, p.Stats())
}

func TestCommentProcessor_RelativeLinksResolvedAgainstThread(t *testing.T) {
	cfg := testConfig(t)
	f := newFakeFetcher()
	f.pages[threadURL] = commentPage("item?id=10", "/newest")
	f.pages["https://news.ycombinator.com/item?id=10"] = "ten"
	f.pages["https://news.ycombinator.com/newest"] = "newest"

	p := newTestCommentProcessor(t, cfg, f, nil)
	require.NoError(t, p.Process(context.Background(), models.Item{ID: "9", CommentsURL: threadURL}))

	assert.Equal(t, CommentStats{Links: 2, Stored: 2}, p.Stats())
}

func TestCommentProcessor_CommentsPageFailureReturned(t *testing.T) {
	cfg := testConfig(t)
	f := newFakeFetcher()
	f.errs[threadURL] = &utils.FetchError{URL: threadURL, Err: context.DeadlineExceeded}

	p := newTestCommentProcessor(t, cfg, f, nil)
	err := p.Process(context.Background(), models.Item{ID: "9", CommentsURL: threadURL})

	require.Error(t, err)
	assert.True(t, errors.Is(err, utils.ErrFetch))
	_, statErr := os.Stat(ThreadDir(cfg.OutputDir, "9"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestCommentProcessor_CancelledLinksAreAbandoned(t *testing.T) {
	cfg := testConfig(t)
	f := newFakeFetcher()
	f.pages[threadURL] = commentPage("https://hang.example/")
	f.block["https://hang.example/"] = true

	ctx, cancel := context.WithCancel(context.Background())
	p := newTestCommentProcessor(t, cfg, f, nil)

	done := make(chan error, 1)
	go func() { done <- p.Process(ctx, models.Item{ID: "9", CommentsURL: threadURL}) }()
	cancel()

	require.NoError(t, <-done)
	assert.Equal(t, int64(0), p.Stats().Stored)
}

// alternatingFetcher serves the thread page, then answers every other request
// for the linked page with a much longer body
type alternatingFetcher struct {
	thread      string
	long, short string
	n           atomic.Int64
}

func (f *alternatingFetcher) Fetch(_ context.Context, rawURL string) (string, error) {
	if rawURL == threadURL {
		return f.thread, nil
	}
	if f.n.Add(1)%2 == 0 {
		return f.long, nil
	}
	return f.short, nil
}

func TestCommentProcessor_RepeatedDynamicLinkStoredWhole(t *testing.T) {
	links := make([]string, 64)
	for i := range links {
		links[i] = "https://a.example/live"
	}
	f := &alternatingFetcher{
		thread: commentPage(links...),
		long:   strings.Repeat("L", 200000),
		short:  strings.Repeat("s", 1000),
	}

	for round := 0; round < 10; round++ {
		cfg := testConfig(t)
		p := NewCommentProcessor(f, storage.NewFileWriter(testLogger()),
			parse.NewHTMLExtractor(cfg.Selectors, testLogger()), nil, cfg, testLogger())
		require.NoError(t, p.Process(context.Background(), models.Item{ID: "9", CommentsURL: threadURL}))

		dir := ThreadDir(cfg.OutputDir, "9")
		names := listFiles(t, dir)
		require.Len(t, names, 1)
		data, err := os.ReadFile(filepath.Join(dir, names[0]))
		require.NoError(t, err)
		got := string(data)
		require.True(t, got == f.long || got == f.short, "round %d: stored body of %d bytes mixes two responses", round, len(got))
	}
}
