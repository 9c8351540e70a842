package ssoguard

// Error codes surfaced in HTTP error responses.
const (
	ErrorCodeRateLimitExceeded = "rate_limit_exceeded"
	ErrorCodeIPBlocked         = "ip_blocked"
)

// ErrorResponse is the JSON body of a rejected request.
type ErrorResponse struct {
	// Error is the machine-readable code.
	Error string `json:"error"`

	// Message is the human-readable description.
	Message string `json:"message"`

	// RetryAfter is the number of seconds until capacity frees up.
	// Omitted for rejections that waiting cannot cure.
	RetryAfter int `json:"retry_after,omitempty"`
}
