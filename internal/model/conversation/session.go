package conversation

import "time"

// SourceRecord registers one ingested URL within a session.
type SourceRecord struct {
	URL        string    `json:"url"`
	Title      string    `json:"title"`
	CapturedAt time.Time `json:"capturedAt"`
}

// Session is a chat transcript plus the registry of pages captured into it.
// Turns are append-only; a turn is removed only when its backing source is
// removed from the registry.
type Session struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Turns     []Turn         `json:"turns,omitempty"`
	Sources   []SourceRecord `json:"sources,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// HasSource reports whether url is already registered as an ingested source.
func (s Session) HasSource(url string) bool {
	for _, rec := range s.Sources {
		if rec.URL == url {
			return true
		}
	}
	return false
}

// LastUserText returns the text of the most recent user turn, or "" when the
// session has no user turns yet.
func LastUserText(turns []Turn) string {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == RoleUser {
			return turns[i].Text
		}
	}
	return ""
}
