// Package conversation owns durable session state: transcripts plus the
// registry of captured sources. The compiler only ever reads consistent
// snapshots taken from a Store; it never mutates one.
package conversation

import (
	"context"
	"errors"

	model "github.com/devhaln/pagepal/backend/internal/model/conversation"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSourceExists    = errors.New("source already captured in this session")
	ErrSourceNotFound  = errors.New("source not found")
	ErrInvalidTurn     = errors.New("invalid turn")
)

// Store persists sessions and their turns. Reads return defensive copies so
// a caller can compile from a snapshot while writes continue.
type Store interface {
	CreateSession(ctx context.Context, name string) (model.Session, error)
	GetSession(ctx context.Context, sessionID string) (model.Session, error)
	ListSessions(ctx context.Context) ([]model.Session, error)
	RenameSession(ctx context.Context, sessionID, name string) error

	// AppendTurn stores the turn at the end of the transcript. For context
	// turns it also registers the source record and enforces URL uniqueness
	// within the session.
	AppendTurn(ctx context.Context, sessionID string, turn model.Turn) (model.Turn, error)

	// Turns returns an ordered snapshot of the transcript.
	Turns(ctx context.Context, sessionID string) ([]model.Turn, error)

	// RemoveSource drops the source record for url and the context turn
	// that carries it. Dialogue turns are never removed.
	RemoveSource(ctx context.Context, sessionID, url string) error
}

const defaultSessionName = "New session"
