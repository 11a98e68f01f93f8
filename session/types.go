// Package session implements the Session Orchestrator: it drives
// Fetch → Normalize → Chunk → Embed → Insert for one site under bounded
// concurrency, tracks progress, isolates per-page failures, and exposes a
// bounded event stream for subscribers. The state-machine and directory
// ownership model follow domkeeper's Keeper: one registry of in-memory
// session records, each exclusively mutated by the goroutine that owns it,
// mirrored to a per-session directory on disk.
package session

import "time"

// Mode selects whether a session scrapes one page or an entire site.
type Mode string

const (
	ModeSinglePage Mode = "single-page"
	ModeWholeSite  Mode = "whole-site"
)

// Status is a session's position in its state machine:
// pending → in_progress → {completed, failed}.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Session is one scrape job. Mutated only by the orchestrator goroutine
// that owns it; readers elsewhere (GetSession, subscribers) see snapshots.
type Session struct {
	SessionID       string    `json:"session_id"`
	URL             string    `json:"url"`
	Mode            Mode      `json:"mode"`
	Purpose         string    `json:"purpose,omitempty"`
	Status          Status    `json:"status"`
	TotalPages      int       `json:"total_pages"`
	PagesScraped    int       `json:"pages_scraped"`
	Failures        int       `json:"failures"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	DurationSeconds float64   `json:"duration_seconds"`
	ErrorMessage    string    `json:"error_message,omitempty"`
}

// Clone returns a value copy safe to hand to a caller outside the owning
// goroutine.
func (s *Session) Clone() *Session {
	c := *s
	return &c
}

// PageRecord is one scraped page, persisted to cleaned_markdown/*.json.
type PageRecord struct {
	URL       string    `json:"page_url"`
	Domain    string    `json:"-"`
	PageName  string    `json:"page_name"`
	Markdown  string    `json:"content"`
	FetchedAt time.Time `json:"-"`
}

// EventType enumerates the events a subscriber observes.
type EventType string

const (
	EventProgress EventType = "progress"
	EventPageDone EventType = "page_done"
	EventTerminal EventType = "terminal"
)

// Event is one message on a session's subscribe_session stream.
type Event struct {
	Type      EventType   `json:"type"`
	SessionID string      `json:"session_id"`
	Payload   interface{} `json:"payload"`
}
