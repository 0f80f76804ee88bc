package checkout

// ValidationError is a malformed or insecure payload. It maps to 400 and is
// never retried server-side.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

// UpstreamError wraps a failed or timed-out provider call. Local state is
// untouched when it is returned, so the client may retry with the same cart.
type UpstreamError struct {
	Provider string
	Err      error
}

func (e *UpstreamError) Error() string {
	return "provider " + e.Provider + " call failed: " + e.Err.Error()
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
