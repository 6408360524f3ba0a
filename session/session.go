// Package session keeps suspended analyses until the user answers their
// clarification request or the entry expires.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"geocompliance-backend/models"
)

var ErrNotFound = errors.New("clarification not found or expired")

// PendingClarification is a suspended analysis awaiting one answer
type PendingClarification struct {
	ID        string
	Request   models.ClarificationRequest
	Context   models.AnalysisContext
	CreatedAt time.Time
}

type pendingWire struct {
	Clarification models.Clarification   `json:"clarification"`
	Context       models.AnalysisContext `json:"context"`
	CreatedAt     time.Time              `json:"created_at"`
}

func (p *PendingClarification) MarshalJSON() ([]byte, error) {
	return json.Marshal(pendingWire{
		Clarification: models.Clarification{ID: p.ID, Request: p.Request},
		Context:       p.Context,
		CreatedAt:     p.CreatedAt,
	})
}

func (p *PendingClarification) UnmarshalJSON(data []byte) error {
	var w pendingWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	p.ID = w.Clarification.ID
	p.Request = w.Clarification.Request
	p.Context = w.Context
	p.CreatedAt = w.CreatedAt
	return nil
}

// Store holds pending clarifications keyed by id
type Store interface {
	// Put saves p until ttl elapses
	Put(ctx context.Context, p *PendingClarification, ttl time.Duration) error
	// Take removes and returns the entry; a second Take for the same id fails with ErrNotFound
	Take(ctx context.Context, id string) (*PendingClarification, error)
	// Peek returns the entry without consuming it
	Peek(ctx context.Context, id string) (*PendingClarification, error)
	// Delete removes the entry if present
	Delete(ctx context.Context, id string) error
}
