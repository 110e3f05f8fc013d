package types

type SuccessEnvelope struct {
	Data any `json:"data"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	// Retryable tells clients the same request may succeed later, e.g. while
	// a payment provider is unavailable.
	Retryable bool `json:"retryable,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}
