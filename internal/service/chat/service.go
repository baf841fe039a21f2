// Package chat orchestrates a conversation round: persist the user turn,
// compile the session into a prompt, call the model, persist the reply.
package chat

import (
	"context"
	"errors"
	"log"
	"strings"

	model "github.com/devhaln/pagepal/backend/internal/model/conversation"
	"github.com/devhaln/pagepal/backend/internal/model/prompt"
	"github.com/devhaln/pagepal/backend/internal/service/compile"
	"github.com/devhaln/pagepal/backend/internal/service/completion"
	store "github.com/devhaln/pagepal/backend/internal/service/conversation"
)

var ErrEmptyMessage = errors.New("message is empty")

// Completer is the slice of the completion client the service needs.
type Completer interface {
	Send(ctx context.Context, compiled prompt.CompiledRequest) (string, error)
	Stream(ctx context.Context, compiled prompt.CompiledRequest) (<-chan string, <-chan error)
}

var _ Completer = (*completion.Client)(nil)

// Service runs chat rounds against a session store and a completion backend.
type Service struct {
	store    store.Store
	compiler *compile.Compiler
	client   Completer
}

func New(s store.Store, compiler *compile.Compiler, client Completer) *Service {
	return &Service{store: s, compiler: compiler, client: client}
}

// Ask runs one blocking round and returns the model's reply text. The
// user turn is persisted before the call and the reply after, so a
// failed call leaves the question in the transcript.
func (s *Service) Ask(ctx context.Context, sessionID, message string) (string, error) {
	compiled, err := s.prepare(ctx, sessionID, message)
	if err != nil {
		return "", err
	}

	reply, err := s.client.Send(ctx, compiled)
	if err != nil {
		return "", err
	}

	s.saveReply(ctx, sessionID, reply)
	return reply, nil
}

// Stream runs one round against the streaming endpoint. Chunks arrive on
// the first channel; the full reply is persisted once the stream ends
// cleanly. At most one error is sent before both channels close.
func (s *Service) Stream(ctx context.Context, sessionID, message string) (<-chan string, <-chan error) {
	out := make(chan string)
	errc := make(chan error, 1)

	compiled, err := s.prepare(ctx, sessionID, message)
	if err != nil {
		close(out)
		errc <- err
		close(errc)
		return out, errc
	}

	chunks, streamErr := s.client.Stream(ctx, compiled)

	go func() {
		defer close(out)
		defer close(errc)

		var full strings.Builder
		for chunk := range chunks {
			full.WriteString(chunk)
			select {
			case out <- chunk:
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}
		}
		if err := <-streamErr; err != nil {
			errc <- err
			return
		}
		s.saveReply(ctx, sessionID, full.String())
	}()

	return out, errc
}

// Compile returns the exact request that Ask would send, without calling
// the model. Used by the prompt inspection endpoint.
func (s *Service) Compile(ctx context.Context, sessionID string) (prompt.CompiledRequest, error) {
	turns, err := s.store.Turns(ctx, sessionID)
	if err != nil {
		return prompt.CompiledRequest{}, err
	}
	return s.compiler.Compile(turns, compile.LastUserQuery(turns)), nil
}

// prepare persists the user turn unless the client already did, then
// compiles the updated transcript.
func (s *Service) prepare(ctx context.Context, sessionID, message string) (prompt.CompiledRequest, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return prompt.CompiledRequest{}, ErrEmptyMessage
	}

	turns, err := s.store.Turns(ctx, sessionID)
	if err != nil {
		return prompt.CompiledRequest{}, err
	}

	if !hasMatchingUserTurn(turns, message) {
		turn, err := s.store.AppendTurn(ctx, sessionID, model.NewUserTurn(message))
		if err != nil {
			return prompt.CompiledRequest{}, err
		}
		turns = append(turns, turn)
	}

	return s.compiler.Compile(turns, message), nil
}

func (s *Service) saveReply(ctx context.Context, sessionID, reply string) {
	if strings.TrimSpace(reply) == "" {
		return
	}
	if _, err := s.store.AppendTurn(ctx, sessionID, model.NewModelTurn(reply)); err != nil {
		log.Printf("[chat] failed to save model reply for session=%s: %v", sessionID, err)
	}
}

// hasMatchingUserTurn avoids duplicating a message the client already
// persisted through the REST endpoint before opening a stream.
func hasMatchingUserTurn(turns []model.Turn, message string) bool {
	if len(turns) == 0 {
		return false
	}
	last := turns[len(turns)-1]
	return last.Role == model.RoleUser && last.Text == message
}
