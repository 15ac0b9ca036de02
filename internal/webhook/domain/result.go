package domain

import (
	"context"
	"net/http"
)

// Outcome classifies how an accepted delivery was handled.
type Outcome string

const (
	OutcomeApplied        Outcome = "applied"
	OutcomeAlreadyApplied Outcome = "already_applied"
	OutcomeIgnored        Outcome = "ignored"
	OutcomeUnprocessable  Outcome = "unprocessable"
)

// Result is returned for every delivery that passed provider detection and
// signature verification.
type Result struct {
	Outcome  Outcome
	Provider string
	EventRef string
	Action   Action
	Change   string
	Reason   string
}

// Service runs the ingestion pipeline.
type Service interface {
	// Handle processes one raw provider delivery.
	Handle(ctx context.Context, headers http.Header, payload []byte) (Result, error)
	// Apply processes an event that is already canonical, such as an expiry sweep.
	Apply(ctx context.Context, event CanonicalEvent) (Result, error)
}
