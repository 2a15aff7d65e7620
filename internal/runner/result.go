// internal/runner/result.go
package runner

// Outcome tags the result of one agent invocation. Callers switch on it
// instead of unwrapping error chains; every variant except Cancelled is
// retryable from the user's perspective.
type Outcome int

const (
	Success Outcome = iota
	// SessionExpired: the agent rejected the stored session id. The runner
	// has already cleared it, so the next call recreates cleanly.
	SessionExpired
	// EmptyResponse: exit code 0 but no usable output after noise filtering.
	EmptyResponse
	// Timeout: idle or total time limit exceeded, subprocess killed.
	Timeout
	// Cancelled: user-initiated stop. No session or history side effects
	// were committed for the call.
	Cancelled
	// Error wraps any other failure; Result.Text carries the raw message.
	Error
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case SessionExpired:
		return "session_expired"
	case EmptyResponse:
		return "empty_response"
	case Timeout:
		return "timeout"
	case Cancelled:
		return "cancelled"
	default:
		return "error"
	}
}

// Result is the outcome of one Invoke call. Text is the agent's reply on
// Success and a human-readable error line otherwise.
type Result struct {
	Outcome Outcome
	Text    string
}

// OK reports whether the invocation produced a usable reply.
func (r Result) OK() bool {
	return r.Outcome == Success
}

// UserMessage renders the result for display against an agent's status line.
func (r Result) UserMessage() string {
	switch r.Outcome {
	case Success:
		return r.Text
	case SessionExpired:
		return "Error: session expired or invalid, please retry"
	case EmptyResponse:
		return "Error: no response from agent (possible network issue), please retry"
	case Timeout:
		return "Error: agent response timed out"
	case Cancelled:
		return "Cancelled: operation interrupted by user"
	default:
		return "Error: " + r.Text
	}
}
