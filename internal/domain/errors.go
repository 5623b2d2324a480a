package domain

import "errors"

// Typed outcomes let the scheduler distinguish retryable from terminal
// failures; lower layers wrap these with %w.
var (
	// ErrSourceUnavailable marks a transient source fault; the scheduler
	// retries with backoff.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrSourceExhausted signals the source has no new items past the
	// requested cursor. Not a failure.
	ErrSourceExhausted = errors.New("source exhausted")

	// ErrSourceContractViolation marks an upstream response that breaks the
	// connector contract. Fatal, never retried.
	ErrSourceContractViolation = errors.New("source contract violation")

	// ErrMalformedItem marks a single raw item missing required fields. The
	// containing sync job skips it and continues.
	ErrMalformedItem = errors.New("malformed item")

	// ErrNarrationUnavailable marks a failed text-to-speech call. Briefings
	// degrade to text-only.
	ErrNarrationUnavailable = errors.New("narration unavailable")

	// ErrNoContent signals a compile found nothing to include; any prior
	// ready briefing stays visible.
	ErrNoContent = errors.New("no content in window")
)
