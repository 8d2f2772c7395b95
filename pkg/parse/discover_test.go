package parse

import (
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hnmirror/hn-mirror/pkg/models"
	"github.com/hnmirror/hn-mirror/pkg/utils"
)

// setStore is an unbounded SeenMarker for tests
type setStore struct {
	ids     map[string]bool
	failFor string
}

func newSetStore(ids ...string) *setStore {
	s := &setStore{ids: make(map[string]bool)}
	for _, id := range ids {
		s.ids[id] = true
	}
	return s
}

func (s *setStore) MarkSeen(id string) (bool, error) {
	if id == s.failFor {
		return false, utils.WrapErrorf(utils.ErrDatabase, "write failed for %s", id)
	}
	if s.ids[id] {
		return false, nil
	}
	s.ids[id] = true
	return true, nil
}

func mustBase(t *testing.T) *url.URL {
	t.Helper()
	base, err := url.Parse("https://news.ycombinator.com/")
	require.NoError(t, err)
	return base
}

func TestDiscoverItems_SkipsAlreadySeen(t *testing.T) {
	store := newSetStore("1")
	entries := []models.ListingEntry{
		{ID: "1", Href: "https://example.com/one"},
		{ID: "2", Href: "https://example.com/two"},
	}

	items := DiscoverItems(entries, mustBase(t), store, testLogger())

	require.Len(t, items, 1)
	assert.Equal(t, models.Item{
		ID:          "2",
		PrimaryURL:  "https://example.com/two",
		CommentsURL: "https://news.ycombinator.com/item?id=2",
	}, items[0])
	assert.True(t, store.ids["2"])
}

func TestDiscoverItems_NeverEmitsTwiceAcrossCycles(t *testing.T) {
	store := newSetStore()
	base := mustBase(t)
	entries := []models.ListingEntry{
		{ID: "7", Href: "https://example.com/7"},
		{ID: "8", Href: "https://example.com/8"},
	}

	first := DiscoverItems(entries, base, store, testLogger())
	second := DiscoverItems(append(entries, models.ListingEntry{ID: "9", Href: "https://example.com/9"}), base, store, testLogger())

	assert.Len(t, first, 2)
	require.Len(t, second, 1)
	assert.Equal(t, "9", second[0].ID)
}

func TestDiscoverItems_DuplicateRowInSameListing(t *testing.T) {
	entries := []models.ListingEntry{
		{ID: "5", Href: "https://example.com/a"},
		{ID: "5", Href: "https://example.com/a"},
	}
	items := DiscoverItems(entries, mustBase(t), newSetStore(), testLogger())
	assert.Len(t, items, 1)
}

func TestDiscoverItems_QualifiesRelativeLinks(t *testing.T) {
	entries := []models.ListingEntry{{ID: "300", Href: "item?id=300"}}

	items := DiscoverItems(entries, mustBase(t), newSetStore(), testLogger())

	require.Len(t, items, 1)
	assert.Equal(t, "https://news.ycombinator.com/item?id=300", items[0].PrimaryURL)
}

func TestDiscoverItems_StoreErrorSkipsOnlyThatEntry(t *testing.T) {
	store := newSetStore()
	store.failFor = "bad"
	entries := []models.ListingEntry{
		{ID: "bad", Href: "https://example.com/bad"},
		{ID: "good", Href: "https://example.com/good"},
	}

	items := DiscoverItems(entries, mustBase(t), store, testLogger())

	require.Len(t, items, 1)
	assert.Equal(t, "good", items[0].ID)
}

func TestDiscoverItems_UnresolvableLinkIsNotMarkedSeen(t *testing.T) {
	store := newSetStore()
	entries := []models.ListingEntry{{ID: "js", Href: "javascript:void(0)"}}

	items := DiscoverItems(entries, mustBase(t), store, testLogger())

	assert.Empty(t, items)
	assert.False(t, store.ids["js"])
}

func TestResolveLink(t *testing.T) {
	base := mustBase(t)
	tests := []struct {
		name    string
		href    string
		want    string
		wantErr bool
	}{
		{"Absolute", "https://example.com/x?y=1", "https://example.com/x?y=1", false},
		{"Relative", "item?id=1", "https://news.ycombinator.com/item?id=1", false},
		{"RootRelative", "/from?site=example.com", "https://news.ycombinator.com/from?site=example.com", false},
		{"ProtocolRelative", "//cdn.example.com/a", "https://cdn.example.com/a", false},
		{"Whitespace", "  https://example.com/  ", "https://example.com/", false},
		{"Empty", "", "", true},
		{"Mailto", "mailto:someone@example.com", "", true},
		{"Javascript", "javascript:alert(1)", "", true},
		{"Invalid", "http://[::1", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveLink(base, tt.href)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, utils.ErrParsing))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestCommentsURL(t *testing.T) {
	base := mustBase(t)
	assert.Equal(t, "https://news.ycombinator.com/item?id=42", CommentsURL(base, "42"))
	assert.Equal(t, "https://news.ycombinator.com/item?id=a%26b", CommentsURL(base, "a&b"))

	mirror, err := url.Parse("http://mirror.local/hn/")
	require.NoError(t, err)
	assert.Equal(t, "http://mirror.local/hn/item?id=42", CommentsURL(mirror, "42"))
}
