package chat

import (
	"context"
	"errors"
	"strings"
	"testing"

	model "github.com/devhaln/pagepal/backend/internal/model/conversation"
	"github.com/devhaln/pagepal/backend/internal/model/prompt"
	"github.com/devhaln/pagepal/backend/internal/service/compile"
	store "github.com/devhaln/pagepal/backend/internal/service/conversation"
)

type fakeCompleter struct {
	reply    string
	chunks   []string
	err      error
	lastSent prompt.CompiledRequest
}

func (f *fakeCompleter) Send(ctx context.Context, compiled prompt.CompiledRequest) (string, error) {
	f.lastSent = compiled
	return f.reply, f.err
}

func (f *fakeCompleter) Stream(ctx context.Context, compiled prompt.CompiledRequest) (<-chan string, <-chan error) {
	f.lastSent = compiled
	out := make(chan string, len(f.chunks))
	errc := make(chan error, 1)
	for _, c := range f.chunks {
		out <- c
	}
	close(out)
	if f.err != nil {
		errc <- f.err
	}
	close(errc)
	return out, errc
}

func setup(t *testing.T, completer *fakeCompleter) (*Service, *store.MemoryStore, string) {
	t.Helper()
	s := store.NewMemoryStore()
	session, err := s.CreateSession(context.Background(), "")
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}
	svc := New(s, compile.New(compile.Options{}), completer)
	return svc, s, session.ID
}

func TestAskPersistsBothTurns(t *testing.T) {
	completer := &fakeCompleter{reply: "an answer"}
	svc, s, sessionID := setup(t, completer)

	reply, err := svc.Ask(context.Background(), sessionID, "a question")
	if err != nil {
		t.Fatalf("Ask err: %v", err)
	}
	if reply != "an answer" {
		t.Fatalf("unexpected reply: %q", reply)
	}

	turns, _ := s.Turns(context.Background(), sessionID)
	if len(turns) != 2 {
		t.Fatalf("expected user+model turns, got %d", len(turns))
	}
	if turns[0].Role != model.RoleUser || turns[1].Role != model.RoleModel {
		t.Fatalf("unexpected roles: %+v", turns)
	}
}

func TestAskKeepsQuestionOnFailure(t *testing.T) {
	completer := &fakeCompleter{err: errors.New("upstream down")}
	svc, s, sessionID := setup(t, completer)

	if _, err := svc.Ask(context.Background(), sessionID, "a question"); err == nil {
		t.Fatal("expected error from completer")
	}

	turns, _ := s.Turns(context.Background(), sessionID)
	if len(turns) != 1 || turns[0].Role != model.RoleUser {
		t.Fatalf("user turn should survive a failed round: %+v", turns)
	}
}

func TestAskEmptyMessage(t *testing.T) {
	svc, _, sessionID := setup(t, &fakeCompleter{})

	if _, err := svc.Ask(context.Background(), sessionID, "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
}

func TestAskCompilesContextBeforeQuestion(t *testing.T) {
	completer := &fakeCompleter{reply: "ok"}
	svc, s, sessionID := setup(t, completer)

	page := model.Page{Title: "Doc", URL: "https://example.com", FullText: "relevant body"}
	if _, err := s.AppendTurn(context.Background(), sessionID, model.NewContextTurn(page)); err != nil {
		t.Fatalf("AppendTurn err: %v", err)
	}

	if _, err := svc.Ask(context.Background(), sessionID, "what does the doc say?"); err != nil {
		t.Fatalf("Ask err: %v", err)
	}

	contents := completer.lastSent.Contents
	if len(contents) != 2 {
		t.Fatalf("expected context block plus question, got %d entries", len(contents))
	}
	if !strings.HasPrefix(contents[0].Parts[0].Text, "[Source:") {
		t.Fatalf("context block must come first: %q", contents[0].Parts[0].Text)
	}
	if contents[1].Parts[0].Text != "what does the doc say?" {
		t.Fatalf("question must come last: %q", contents[1].Parts[0].Text)
	}
}

func TestAskDoesNotDuplicatePersistedMessage(t *testing.T) {
	completer := &fakeCompleter{reply: "ok"}
	svc, s, sessionID := setup(t, completer)

	if _, err := s.AppendTurn(context.Background(), sessionID, model.NewUserTurn("already saved")); err != nil {
		t.Fatalf("AppendTurn err: %v", err)
	}

	if _, err := svc.Ask(context.Background(), sessionID, "already saved"); err != nil {
		t.Fatalf("Ask err: %v", err)
	}

	turns, _ := s.Turns(context.Background(), sessionID)
	userCount := 0
	for _, turn := range turns {
		if turn.Role == model.RoleUser {
			userCount++
		}
	}
	if userCount != 1 {
		t.Fatalf("user message duplicated: %+v", turns)
	}
}

func TestStreamPersistsFullReply(t *testing.T) {
	completer := &fakeCompleter{chunks: []string{"Hello", ", ", "world"}}
	svc, s, sessionID := setup(t, completer)

	chunks, errc := svc.Stream(context.Background(), sessionID, "greet me")

	var got strings.Builder
	for chunk := range chunks {
		got.WriteString(chunk)
	}
	if err := <-errc; err != nil {
		t.Fatalf("Stream err: %v", err)
	}
	if got.String() != "Hello, world" {
		t.Fatalf("unexpected streamed text: %q", got.String())
	}

	turns, _ := s.Turns(context.Background(), sessionID)
	last := turns[len(turns)-1]
	if last.Role != model.RoleModel || last.Text != "Hello, world" {
		t.Fatalf("full reply not persisted: %+v", last)
	}
}

func TestStreamErrorSkipsPersistence(t *testing.T) {
	completer := &fakeCompleter{chunks: []string{"partial"}, err: errors.New("stream broke")}
	svc, s, sessionID := setup(t, completer)

	chunks, errc := svc.Stream(context.Background(), sessionID, "greet me")
	for range chunks {
	}
	if err := <-errc; err == nil {
		t.Fatal("expected stream error")
	}

	turns, _ := s.Turns(context.Background(), sessionID)
	for _, turn := range turns {
		if turn.Role == model.RoleModel {
			t.Fatalf("partial reply must not be persisted: %+v", turn)
		}
	}
}

func TestCompileDoesNotMutateSession(t *testing.T) {
	svc, s, sessionID := setup(t, &fakeCompleter{})

	if _, err := s.AppendTurn(context.Background(), sessionID, model.NewUserTurn("question")); err != nil {
		t.Fatalf("AppendTurn err: %v", err)
	}

	compiled, err := svc.Compile(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("Compile err: %v", err)
	}
	if len(compiled.Contents) != 1 {
		t.Fatalf("unexpected compiled contents: %+v", compiled.Contents)
	}

	turns, _ := s.Turns(context.Background(), sessionID)
	if len(turns) != 1 {
		t.Fatalf("Compile must not append turns: %+v", turns)
	}
}
