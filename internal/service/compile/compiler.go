// Package compile turns a session transcript into the request payload sent
// to the completion endpoint: a fixed system instruction plus an ordered,
// size-bounded selection of context excerpts and recent dialogue.
package compile

import (
	"fmt"
	"time"

	"github.com/devhaln/pagepal/backend/internal/model/conversation"
	"github.com/devhaln/pagepal/backend/internal/model/prompt"
	"github.com/devhaln/pagepal/backend/internal/relevance"
)

// SystemInstruction is constant across calls; it is never assembled from
// session state.
const SystemInstruction = `You are a reading companion embedded in a browser side panel. ` +
	`The user captures pages they are viewing and asks questions about them.

Rules:
- Prefer facts from the provided context blocks over your own prior knowledge.
- When you use a context block, cite its source domain or title inline.
- If context blocks contradict each other, say so explicitly.
- Stay concise. Use fenced code blocks for code.
- Never invent URLs, quotes, or page content that was not provided.`

const (
	// DefaultHistoryLimit is the number of most recent dialogue turns kept
	// in the outgoing request.
	DefaultHistoryLimit = 8

	// DefaultContextLimit is the number of most recently captured context
	// turns kept in the outgoing request.
	DefaultContextLimit = 5
)

// Options tunes the selection windows and excerpt extraction. Zero values
// fall back to the defaults.
type Options struct {
	HistoryLimit int
	ContextLimit int
	Extract      relevance.Options
}

// Compiler selects and assembles request content. It holds no mutable
// state: Compile is a pure function of its inputs, so a single Compiler is
// safe for concurrent use across sessions.
type Compiler struct {
	opts Options
}

// New returns a Compiler with zero options replaced by defaults.
func New(opts Options) *Compiler {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.ContextLimit <= 0 {
		opts.ContextLimit = DefaultContextLimit
	}
	return &Compiler{opts: opts}
}

// LastUserQuery returns the text of the most recent user turn in the full,
// unfiltered sequence. An empty result makes every excerpt degrade to the
// extractor's prefix fallback.
func LastUserQuery(turns []conversation.Turn) string {
	return conversation.LastUserText(turns)
}

// Compile builds the outgoing request from the transcript. All selected
// context entries precede all dialogue entries: grounding material has to
// be established before the model reads the running exchange. Compile never
// fails on data shape; absent fields degrade to placeholders or defaults.
func (c *Compiler) Compile(turns []conversation.Turn, lastUserQuery string) prompt.CompiledRequest {
	req := prompt.CompiledRequest{SystemInstruction: SystemInstruction}

	contexts := selectTail(turns, c.opts.ContextLimit, func(t conversation.Turn) bool {
		return t.Role == conversation.RoleContext
	})
	for _, t := range contexts {
		// The completion endpoint has no document role; context rides as
		// user-authored text so the model treats it as input, not as its
		// own prior statement.
		req.Contents = append(req.Contents, prompt.UserContent(c.contextBlock(t, lastUserQuery)))
	}

	history := selectTail(turns, c.opts.HistoryLimit, conversation.Turn.IsDialogue)
	for _, t := range history {
		if t.Role == conversation.RoleModel {
			req.Contents = append(req.Contents, prompt.ModelContent(t.Text))
			continue
		}
		req.Contents = append(req.Contents, prompt.UserContent(t.Text))
	}

	return req
}

// contextBlock renders one captured page as a header line plus its excerpt.
func (c *Compiler) contextBlock(t conversation.Turn, query string) string {
	var page conversation.Page
	if t.Page != nil {
		page = *t.Page
	}

	title := page.Title
	if title == "" {
		title = "Untitled"
	}
	url := page.URL
	if url == "" {
		url = "Unknown"
	}
	captured := "Unknown"
	if !page.CapturedAt.IsZero() {
		captured = page.CapturedAt.UTC().Format(time.RFC3339)
	}

	return fmt.Sprintf("[Source: %s | %s | captured %s]\n%s", title, url, captured, c.excerpt(page, query))
}

// excerpt runs query-aware extraction over the full text when it exists.
// Summary-only captures are already short; they are truncated to the same
// budget without windowing.
func (c *Compiler) excerpt(page conversation.Page, query string) string {
	if page.FullText != "" {
		return relevance.Extract(query, page.FullText, c.opts.Extract)
	}
	summary := page.SummaryText
	max := c.opts.Extract.MaxOutputChars
	if max <= 0 {
		max = relevance.DefaultMaxOutputChars
	}
	if len(summary) > max {
		summary = summary[:max]
	}
	return summary
}

// selectTail returns the last limit turns matching keep, preserving order.
func selectTail(turns []conversation.Turn, limit int, keep func(conversation.Turn) bool) []conversation.Turn {
	var matched []conversation.Turn
	for _, t := range turns {
		if keep(t) {
			matched = append(matched, t)
		}
	}
	if len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return matched
}
