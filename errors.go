package crashpipe

import "fmt"

// ValidationError indicates that a configuration value or a query parameter
// was rejected before anything was sent over the network.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// TransportError describes a failed round trip to the collection endpoint:
// either the request could not be performed (Err is set) or the endpoint
// responded with an unexpected status code.
type TransportError struct {
	Op         string // "deliver" or "read"
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Body != "" {
		return fmt.Sprintf("%s: endpoint returned HTTP %d: %s", e.Op, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s: endpoint returned HTTP %d", e.Op, e.StatusCode)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// RateLimited reports whether the endpoint rejected the request with HTTP 429.
func (e *TransportError) RateLimited() bool {
	return e.StatusCode == 429
}
