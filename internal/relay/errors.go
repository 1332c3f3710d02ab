package relay

import "fmt"

// MaxRejectExcerptLen bounds the upstream error body carried in a terminal
// error frame.
const MaxRejectExcerptLen = 160

// UnavailableError reports that every connection attempt to the upstream
// endpoint failed. It is terminal for the session; no further retry happens
// at this layer.
type UnavailableError struct {
	Attempts int
	Err      error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("upstream unavailable after %d attempts: %v", e.Attempts, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// RejectedError reports a non-200 upstream status. A rejection is a
// deterministic refusal (bad key, quota), so it is never retried. Excerpt
// carries at most MaxRejectExcerptLen characters of the response body.
type RejectedError struct {
	Status  int
	Excerpt string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("upstream rejected request: status %d: %s", e.Status, e.Excerpt)
}

// errorText renders an open failure the way the client sees it in the
// terminal error frame.
func errorText(err error) string {
	switch e := err.(type) {
	case *RejectedError:
		return fmt.Sprintf("[API error] %d: %s", e.Status, e.Excerpt)
	case *UnavailableError:
		return fmt.Sprintf("[Connection error] %v", e.Err)
	default:
		return fmt.Sprintf("[Connection error] %v", err)
	}
}
