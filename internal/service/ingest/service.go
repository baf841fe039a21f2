// Package ingest turns submitted page captures into context turns.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"

	model "github.com/devhaln/pagepal/backend/internal/model/conversation"
	store "github.com/devhaln/pagepal/backend/internal/service/conversation"
)

// summaryChars bounds the fallback excerpt stored alongside the full text.
const summaryChars = 6000

var (
	ErrMissingURL   = errors.New("capture has no url")
	ErrEmptyContent = errors.New("capture has no text or html")
)

// Capture is a page submitted by the side panel. Text is the page's plain
// text when the panel extracted it client side; HTML is the raw document
// for server-side extraction when Text is empty.
type Capture struct {
	URL        string    `json:"url"`
	Title      string    `json:"title"`
	Text       string    `json:"text"`
	HTML       string    `json:"html"`
	CapturedAt time.Time `json:"capturedAt"`
}

// Service extracts readable content from captures and records them as
// context turns in a session.
type Service struct {
	store store.Store
}

func New(s store.Store) *Service {
	return &Service{store: s}
}

// Ingest validates the capture, extracts its readable text, and appends a
// context turn to the session. The stored turn carries the full extracted
// text plus a bounded summary used when no query is available to bias an
// excerpt.
func (s *Service) Ingest(ctx context.Context, sessionID string, capture Capture) (model.Turn, error) {
	if strings.TrimSpace(capture.URL) == "" {
		return model.Turn{}, ErrMissingURL
	}

	title := strings.TrimSpace(capture.Title)
	text := strings.TrimSpace(capture.Text)

	if text == "" && capture.HTML != "" {
		article, err := extractArticle(capture.URL, capture.HTML)
		if err != nil {
			return model.Turn{}, fmt.Errorf("extract article from %s: %w", capture.URL, err)
		}
		text = strings.TrimSpace(article.TextContent)
		if title == "" {
			title = strings.TrimSpace(article.Title)
		}
	}
	if text == "" {
		return model.Turn{}, ErrEmptyContent
	}

	capturedAt := capture.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = time.Now()
	}

	page := model.Page{
		Title:       title,
		URL:         capture.URL,
		CapturedAt:  capturedAt,
		FullText:    text,
		SummaryText: summarize(text),
	}

	turn, err := s.store.AppendTurn(ctx, sessionID, model.NewContextTurn(page))
	if err != nil {
		return model.Turn{}, err
	}

	log.Printf("[ingest] captured %s (%d chars) into session %s", capture.URL, len(text), sessionID)
	return turn, nil
}

func extractArticle(rawURL, html string) (readability.Article, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		u = &url.URL{}
	}
	return readability.FromReader(strings.NewReader(html), u)
}

// summarize keeps the leading slice of the text as a query-independent
// stand-in for the full document.
func summarize(text string) string {
	if len(text) <= summaryChars {
		return text
	}
	return text[:summaryChars]
}
