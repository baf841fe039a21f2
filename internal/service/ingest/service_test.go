package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	model "github.com/devhaln/pagepal/backend/internal/model/conversation"
	store "github.com/devhaln/pagepal/backend/internal/service/conversation"
)

func setup(t *testing.T) (*Service, *store.MemoryStore, string) {
	t.Helper()
	s := store.NewMemoryStore()
	session, err := s.CreateSession(context.Background(), "")
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}
	return New(s), s, session.ID
}

func TestIngestPlainText(t *testing.T) {
	svc, s, sessionID := setup(t)

	turn, err := svc.Ingest(context.Background(), sessionID, Capture{
		URL:        "https://example.com/post",
		Title:      "A Post",
		Text:       "The captured body text.",
		CapturedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Ingest err: %v", err)
	}
	if turn.Role != model.RoleContext || turn.Page == nil {
		t.Fatalf("expected a context turn, got %+v", turn)
	}
	if turn.Page.FullText != "The captured body text." {
		t.Fatalf("unexpected full text: %q", turn.Page.FullText)
	}

	session, _ := s.GetSession(context.Background(), sessionID)
	if len(session.Sources) != 1 || session.Sources[0].URL != "https://example.com/post" {
		t.Fatalf("source not registered: %+v", session.Sources)
	}
}

func TestIngestExtractsFromHTML(t *testing.T) {
	svc, _, sessionID := setup(t)

	html := `<html><head><title>Readable Title</title></head><body>
		<article><h1>Readable Title</h1>
		<p>First paragraph of the article body with enough words to keep.</p>
		<p>Second paragraph continues the discussion in more detail here.</p>
		</article></body></html>`

	turn, err := svc.Ingest(context.Background(), sessionID, Capture{
		URL:  "https://example.com/article",
		HTML: html,
	})
	if err != nil {
		t.Fatalf("Ingest err: %v", err)
	}
	if !strings.Contains(turn.Page.FullText, "First paragraph of the article") {
		t.Fatalf("article body not extracted: %q", turn.Page.FullText)
	}
	if turn.Page.Title == "" {
		t.Fatal("expected title recovered from html")
	}
}

func TestIngestSummaryBounded(t *testing.T) {
	svc, _, sessionID := setup(t)

	turn, err := svc.Ingest(context.Background(), sessionID, Capture{
		URL:  "https://example.com/long",
		Text: strings.Repeat("x", summaryChars+500),
	})
	if err != nil {
		t.Fatalf("Ingest err: %v", err)
	}
	if len(turn.Page.SummaryText) != summaryChars {
		t.Fatalf("summary length = %d, want %d", len(turn.Page.SummaryText), summaryChars)
	}
	if len(turn.Page.FullText) != summaryChars+500 {
		t.Fatal("full text must not be truncated")
	}
}

func TestIngestValidation(t *testing.T) {
	svc, _, sessionID := setup(t)
	ctx := context.Background()

	if _, err := svc.Ingest(ctx, sessionID, Capture{Text: "no url"}); !errors.Is(err, ErrMissingURL) {
		t.Fatalf("expected ErrMissingURL, got %v", err)
	}
	if _, err := svc.Ingest(ctx, sessionID, Capture{URL: "https://example.com"}); !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("expected ErrEmptyContent, got %v", err)
	}
}

func TestIngestDuplicateURL(t *testing.T) {
	svc, _, sessionID := setup(t)
	ctx := context.Background()

	capture := Capture{URL: "https://example.com/a", Text: "body"}
	if _, err := svc.Ingest(ctx, sessionID, capture); err != nil {
		t.Fatalf("first ingest err: %v", err)
	}
	if _, err := svc.Ingest(ctx, sessionID, capture); !errors.Is(err, store.ErrSourceExists) {
		t.Fatalf("expected ErrSourceExists, got %v", err)
	}
}
