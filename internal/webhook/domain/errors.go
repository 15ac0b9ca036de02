package domain

import "errors"

var (
	ErrUnknownProvider  = errors.New("unknown_provider")
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrEventIgnored     = errors.New("event_ignored")
	ErrMissingField     = errors.New("missing_field")
	ErrInvalidAmount    = errors.New("invalid_amount")
	ErrInvalidConfig    = errors.New("invalid_config")
	ErrPayloadTooLarge  = errors.New("payload_too_large")
)

// IsUnprocessable reports parse failures that are acknowledged but never applied.
func IsUnprocessable(err error) bool {
	return errors.Is(err, ErrInvalidPayload) ||
		errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrInvalidAmount)
}
