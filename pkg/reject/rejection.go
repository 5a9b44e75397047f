package reject

import "fmt"

// Rejection records a policy denial. It is a value, not a Go error: denials
// are expected outcomes and travel inside Outcomes, never up error chains.
type Rejection struct {
	Code       Code   `json:"code"`
	Message    string `json:"message"`
	PolicyName string `json:"policy_name"`

	// RetryAfterSeconds is advisory and only set by the rate limiter.
	RetryAfterSeconds int `json:"retry_after_seconds,omitempty"`
}

// New builds a rejection. Unknown codes are a programmer error and panic;
// the code set is closed.
func New(code Code, message, policyName string) Rejection {
	if !code.Valid() {
		panic(fmt.Sprintf("reject: unknown rejection code %q", code))
	}
	return Rejection{Code: code, Message: message, PolicyName: policyName}
}

// Newf builds a rejection with a formatted message.
func Newf(code Code, policyName, format string, args ...any) Rejection {
	return New(code, fmt.Sprintf(format, args...), policyName)
}

// WithRetryAfter returns a copy carrying the advisory retry delay.
func (r Rejection) WithRetryAfter(seconds int) Rejection {
	r.RetryAfterSeconds = seconds
	return r
}

func (r Rejection) String() string {
	return fmt.Sprintf("%s: %s (policy=%s)", r.Code, r.Message, r.PolicyName)
}
