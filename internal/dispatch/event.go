// Package dispatch consumes content-creation events and drives the
// cache, provider chain and vector store to produce durable embeddings.
package dispatch

import "time"

// EventContentCreated is the only event type the pipeline embeds;
// everything else is acknowledged and skipped.
const EventContentCreated = "content_created"

// Event is one record from a tenant's append-only creation log.
type Event struct {
	Type      string    `json:"event_type"`
	Tenant    string    `json:"tenant"`
	ContentID string    `json:"content_id"`
	Timestamp time.Time `json:"timestamp"`

	// Content is optional inline content; when empty the dispatcher
	// resolves it through the content source.
	Content string `json:"content,omitempty"`

	// Importance is an opaque external relevance signal carried through
	// to record metadata when present.
	Importance float64 `json:"importance,omitempty"`
}
