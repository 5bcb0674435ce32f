package gemini

import "fmt"

// ProviderError is a failure reported by the Gemini backend. The HTTP
// status code classifies it for the caller's retry/fallback policy;
// this package never retries on its own.
type ProviderError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("gemini: %d %s: %s", e.StatusCode, e.Status, e.Message)
}

// RateLimited reports whether the backend rejected the call for quota
// or rate-limit reasons. Callers may retry with backoff.
func (e *ProviderError) RateLimited() bool {
	return e.StatusCode == 429
}

// ModelNotFound reports whether the requested model does not exist or
// is not available. Retrying the same model is pointless.
func (e *ProviderError) ModelNotFound() bool {
	return e.StatusCode == 404
}
