package compile

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/devhaln/pagepal/backend/internal/model/conversation"
	"github.com/devhaln/pagepal/backend/internal/relevance"
)

func userTurn(text string) conversation.Turn {
	return conversation.Turn{Role: conversation.RoleUser, Text: text}
}

func modelTurn(text string) conversation.Turn {
	return conversation.Turn{Role: conversation.RoleModel, Text: text}
}

func contextTurn(url, fullText string) conversation.Turn {
	return conversation.Turn{Role: conversation.RoleContext, Page: &conversation.Page{
		Title:      "Page " + url,
		URL:        url,
		CapturedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		FullText:   fullText,
	}}
}

func TestCompileEmptySession(t *testing.T) {
	req := New(Options{}).Compile(nil, "")

	if req.SystemInstruction != SystemInstruction {
		t.Fatal("system instruction must be the fixed constant")
	}
	if len(req.Contents) != 0 {
		t.Fatalf("expected no contents, got %d", len(req.Contents))
	}
}

func TestCompileHistoryWindow(t *testing.T) {
	var turns []conversation.Turn
	for i := 0; i < 20; i++ {
		turns = append(turns, userTurn("question"), modelTurn("answer"))
	}

	req := New(Options{HistoryLimit: 8}).Compile(turns, "question")

	if len(req.Contents) != 8 {
		t.Fatalf("expected 8 history entries, got %d", len(req.Contents))
	}
}

func TestCompileContextWindow(t *testing.T) {
	var turns []conversation.Turn
	for i := 0; i < 10; i++ {
		turns = append(turns, contextTurn(string(rune('a'+i)), "document body"))
	}
	turns = append(turns, userTurn("what now"))

	req := New(Options{ContextLimit: 5, HistoryLimit: 8}).Compile(turns, "what now")

	var contexts int
	for _, c := range req.Contents {
		if strings.HasPrefix(c.Parts[0].Text, "[Source:") {
			contexts++
		}
	}
	if contexts != 5 {
		t.Fatalf("expected 5 context entries, got %d", contexts)
	}
	// The five survivors are the most recently appended captures.
	if !strings.Contains(req.Contents[0].Parts[0].Text, "| f |") {
		t.Fatalf("oldest surviving context should be f, got %q", req.Contents[0].Parts[0].Text)
	}
}

func TestCompileContextPrecedesHistory(t *testing.T) {
	turns := []conversation.Turn{
		userTurn("first"),
		contextTurn("https://example.com/a", "alpha body"),
		modelTurn("reply"),
		contextTurn("https://example.com/b", "beta body"),
		userTurn("second"),
	}

	req := New(Options{}).Compile(turns, "second")

	seenHistory := false
	for _, c := range req.Contents {
		isContext := strings.HasPrefix(c.Parts[0].Text, "[Source:")
		if isContext && seenHistory {
			t.Fatal("context entry found after a history entry")
		}
		if !isContext {
			seenHistory = true
		}
	}
	if !seenHistory {
		t.Fatal("expected history entries in compiled request")
	}
}

func TestCompileContextRoleIsUser(t *testing.T) {
	turns := []conversation.Turn{contextTurn("https://example.com", "body text")}

	req := New(Options{}).Compile(turns, "")

	if len(req.Contents) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(req.Contents))
	}
	if req.Contents[0].Role != "user" {
		t.Fatalf("context must ride with role user, got %q", req.Contents[0].Role)
	}
}

func TestCompileSummaryFallbackUnchanged(t *testing.T) {
	turns := []conversation.Turn{{
		Role: conversation.RoleContext,
		Page: &conversation.Page{URL: "https://example.com", SummaryText: "short text"},
	}}

	req := New(Options{}).Compile(turns, "some question")

	text := req.Contents[0].Parts[0].Text
	if !strings.HasSuffix(text, "\nshort text") {
		t.Fatalf("summary must pass through without windowing, got %q", text)
	}
}

func TestCompileSummaryTruncatedToBudget(t *testing.T) {
	long := strings.Repeat("s", 300)
	turns := []conversation.Turn{{
		Role: conversation.RoleContext,
		Page: &conversation.Page{URL: "https://example.com", SummaryText: long},
	}}

	req := New(Options{Extract: relevance.Options{MaxOutputChars: 100}}).Compile(turns, "")

	text := req.Contents[0].Parts[0].Text
	if !strings.HasSuffix(text, long[:100]) || strings.Contains(text, long[:101]) {
		t.Fatalf("summary should be cut to the excerpt budget")
	}
}

func TestCompilePlaceholdersForMalformedContext(t *testing.T) {
	turns := []conversation.Turn{{Role: conversation.RoleContext}}

	req := New(Options{}).Compile(turns, "")

	text := req.Contents[0].Parts[0].Text
	if !strings.Contains(text, "Untitled") || !strings.Contains(text, "Unknown") {
		t.Fatalf("malformed context should get placeholder labels, got %q", text)
	}
}

func TestCompileQueryBiasesExcerpt(t *testing.T) {
	body := strings.Repeat("filler sentence without matching words. ", 400) +
		"A flux capacitor requires one point twenty-one gigawatts."
	turns := []conversation.Turn{
		contextTurn("https://example.com/doc", body),
		userTurn("what powers a flux capacitor?"),
	}

	req := New(Options{Extract: relevance.Options{WindowChars: 200, MaxOutputChars: 500}}).
		Compile(turns, LastUserQuery(turns))

	if !strings.Contains(req.Contents[0].Parts[0].Text, "flux capacitor") {
		t.Fatal("excerpt should be biased toward the query term")
	}
}

func TestCompileIdempotent(t *testing.T) {
	turns := []conversation.Turn{
		contextTurn("https://example.com/a", strings.Repeat("alpha content here. ", 500)),
		userTurn("tell me about alpha"),
		modelTurn("alpha is covered above"),
		userTurn("more detail please"),
	}
	c := New(Options{})

	first := c.Compile(turns, LastUserQuery(turns))
	second := c.Compile(turns, LastUserQuery(turns))

	if !reflect.DeepEqual(first, second) {
		t.Fatal("identical inputs must compile to identical output")
	}
}

func TestLastUserQuery(t *testing.T) {
	turns := []conversation.Turn{
		userTurn("first"),
		modelTurn("reply"),
		userTurn("latest"),
		modelTurn("after"),
	}
	if got := LastUserQuery(turns); got != "latest" {
		t.Fatalf("expected latest user text, got %q", got)
	}
	if got := LastUserQuery(nil); got != "" {
		t.Fatalf("expected empty query for empty session, got %q", got)
	}
}
