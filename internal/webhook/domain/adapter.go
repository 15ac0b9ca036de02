package domain

import (
	"context"
	"net/http"
	"time"
)

// Adapter verifies and normalizes notifications for exactly one provider.
type Adapter interface {
	Provider() string
	// MatchHeaders reports whether the provider's distinguishing header is present.
	MatchHeaders(headers http.Header) bool
	// MatchBody reports whether the body shape belongs to this provider.
	MatchBody(shape BodyShape) bool
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*CanonicalEvent, error)
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (Adapter, error)
}

type AdapterConfig struct {
	WebhookSecret string
	// WebhookID is required by providers that sign over their own webhook id.
	WebhookID string
	// Tolerance bounds the accepted age of signed timestamps. Zero uses the
	// provider default.
	Tolerance time.Duration
}

// BodyShape holds the shape-distinguishing top-level fields of a JSON body.
type BodyShape struct {
	Object       string `json:"object"`
	Type         string `json:"type"`
	EventType    string `json:"event_type"`
	ResourceType string `json:"resource_type"`
	Entity       string `json:"entity"`
	Event        string `json:"event"`
}
