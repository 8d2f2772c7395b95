package models

import "time"

// Item is one newly discovered story. Created once per listing entry and
// never mutated after discovery.
type Item struct {
	ID          string // Row identifier from the listing page
	PrimaryURL  string // Absolute link to the story itself
	CommentsURL string // Absolute link to the story's comment thread
}

// ListingEntry is a raw (identifier, link) tuple read from a listing page,
// before deduplication and link qualification.
type ListingEntry struct {
	ID   string
	Href string
}

// SeenEntry is one record of the deduplication store.
type SeenEntry struct {
	ID        string    `json:"id"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// CycleResult summarizes one poll cycle.
type CycleResult struct {
	CycleID         string    `json:"cycle_id"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
	ListingEntries  int       `json:"listing_entries"`
	Discovered      int       `json:"discovered"`
	ItemsStored     int       `json:"items_stored"`
	ItemFailures    int       `json:"item_failures"`
	CommentFailures int       `json:"comment_failures"` // comments pages that could not be fetched
	CommentLinks    int       `json:"comment_links"`    // outbound links attempted across all threads
	LinksStored     int       `json:"links_stored"`
	LinkFailures    int       `json:"link_failures"`
	Error           string    `json:"error,omitempty"`
}

// Duration returns how long the cycle ran.
func (r CycleResult) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Success reports whether the cycle ran to completion without a propagated error.
func (r CycleResult) Success() bool {
	return r.Error == ""
}
