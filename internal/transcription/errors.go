package transcription

import (
	"fmt"
	"net/http"
)

// ErrorCode classifies a failed transcription
type ErrorCode string

const (
	// CodeTimeout means the service did not answer within the configured timeout
	CodeTimeout ErrorCode = "timeout"
	// CodeUpstreamStatus means the service answered with a non-200 status
	CodeUpstreamStatus ErrorCode = "upstream_status"
	// CodeRequestFailed covers connection, encoding and decoding failures
	CodeRequestFailed ErrorCode = "request_failed"
)

// Error is the failure half of a transcription outcome
type Error struct {
	Code       ErrorCode
	Message    string
	StatusCode int    // upstream status, set for CodeUpstreamStatus
	Body       string // upstream body, set for CodeUpstreamStatus
	Err        error

	transient bool // connection-level failure worth retrying
}

func (e *Error) Error() string {
	switch {
	case e.Code == CodeUpstreamStatus:
		return fmt.Sprintf("%s: %s", e.Message, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	default:
		return e.Message
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// retryable reports whether another attempt could succeed
func (e *Error) retryable() bool {
	switch e.Code {
	case CodeUpstreamStatus:
		return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
	case CodeRequestFailed:
		return e.transient
	default:
		return false
	}
}

// HTTPStatus maps the error onto the status the gateway reports to its caller
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeUpstreamStatus:
		if e.StatusCode >= 400 {
			return e.StatusCode
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
