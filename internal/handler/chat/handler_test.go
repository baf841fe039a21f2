package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/devhaln/pagepal/backend/internal/model/prompt"
	chatService "github.com/devhaln/pagepal/backend/internal/service/chat"
	"github.com/devhaln/pagepal/backend/internal/service/compile"
	"github.com/devhaln/pagepal/backend/internal/service/completion"
	store "github.com/devhaln/pagepal/backend/internal/service/conversation"
)

type fakeCompleter struct {
	reply string
	err   error
}

func (f *fakeCompleter) Send(ctx context.Context, compiled prompt.CompiledRequest) (string, error) {
	return f.reply, f.err
}

func (f *fakeCompleter) Stream(ctx context.Context, compiled prompt.CompiledRequest) (<-chan string, <-chan error) {
	out := make(chan string, 1)
	errc := make(chan error, 1)
	if f.err != nil {
		errc <- f.err
	} else {
		out <- f.reply
	}
	close(out)
	close(errc)
	return out, errc
}

func setupRouter(t *testing.T, completer *fakeCompleter) (*chi.Mux, string) {
	t.Helper()
	s := store.NewMemoryStore()
	session, err := s.CreateSession(context.Background(), "")
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}

	svc := chatService.New(s, compile.New(compile.Options{}), completer)
	handler := New(svc)

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r, session.ID
}

func chatRequest(sessionID, message string) *http.Request {
	payload, _ := json.Marshal(map[string]string{"message": message})
	req := httptest.NewRequest(http.MethodPost, "/session/"+sessionID+"/chat", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestChatReturnsReply(t *testing.T) {
	r, sessionID := setupRouter(t, &fakeCompleter{reply: "an answer"})

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, chatRequest(sessionID, "a question"))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var body map[string]string
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("response not JSON: %v", err)
	}
	if body["reply"] != "an answer" {
		t.Fatalf("unexpected reply: %q", body["reply"])
	}
}

func TestChatEmptyMessage(t *testing.T) {
	r, sessionID := setupRouter(t, &fakeCompleter{})

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, chatRequest(sessionID, "  "))

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestChatUnknownSession(t *testing.T) {
	r, _ := setupRouter(t, &fakeCompleter{})

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, chatRequest("missing", "hello"))

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestChatFailureStatuses(t *testing.T) {
	cases := []struct {
		kind completion.Kind
		want int
	}{
		{completion.KindUnauthorized, http.StatusUnauthorized},
		{completion.KindInvalidRequest, http.StatusBadRequest},
		{completion.KindRateLimited, http.StatusTooManyRequests},
		{completion.KindTimeout, http.StatusGatewayTimeout},
		{completion.KindServiceUnavailable, http.StatusServiceUnavailable},
		{completion.KindNoCandidates, http.StatusBadGateway},
		{completion.KindEmptyText, http.StatusBadGateway},
	}

	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			failure := &completion.Failure{Kind: tc.kind, Message: "upstream said no"}
			r, sessionID := setupRouter(t, &fakeCompleter{err: failure})

			resp := httptest.NewRecorder()
			r.ServeHTTP(resp, chatRequest(sessionID, "a question"))

			if resp.Code != tc.want {
				t.Fatalf("kind %s: expected %d, got %d", tc.kind, tc.want, resp.Code)
			}
		})
	}
}

func TestPromptInspection(t *testing.T) {
	r, sessionID := setupRouter(t, &fakeCompleter{reply: "ok"})

	ask := httptest.NewRecorder()
	r.ServeHTTP(ask, chatRequest(sessionID, "remember this"))
	if ask.Code != http.StatusOK {
		t.Fatalf("chat expected 200, got %d", ask.Code)
	}

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/session/"+sessionID+"/prompt", nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var body struct {
		SystemInstruction string           `json:"systemInstruction"`
		Contents          []prompt.Content `json:"contents"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("response not JSON: %v", err)
	}
	if body.SystemInstruction == "" {
		t.Fatal("system instruction missing")
	}
	if len(body.Contents) == 0 {
		t.Fatal("compiled contents missing")
	}
}
