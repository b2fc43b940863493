package platform

import (
	"errors"
	"fmt"
)

// Application-level envelope codes and the server messages the pipeline keys
// its control flow on.
const (
	CodeOK = 10000

	MsgAuthExpired        = "Authentication failed"
	MsgMaintenance        = "System Maintenance"
	MsgVerificationFailed = "Unfortunately, you did not pass our verification process."
	MsgWalletRegistered   = "Wallet was registed, please login again"
	MsgFollowersCondition = "Necessary condition: followers >= 10"
)

// Error is raised on any non-success response: non-2xx/3xx HTTP status, or a
// 2xx whose envelope code is not CodeOK.
type Error struct {
	HTTPStatus int
	Code       int
	Message    string
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("platform: (status %d, code %d) %s", e.HTTPStatus, e.Code, e.Message)
	}
	return fmt.Sprintf("platform: (status %d) %s", e.HTTPStatus, e.Message)
}

func asError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// AsError extracts a platform error from err's chain.
func AsError(err error) (*Error, bool) { return asError(err) }

// IsAuthExpired reports whether the session token was rejected and a fresh
// login is required.
func IsAuthExpired(err error) bool {
	pe, ok := asError(err)
	return ok && pe.Message == MsgAuthExpired
}

// IsMaintenance reports the designated process-fatal condition.
func IsMaintenance(err error) bool {
	pe, ok := asError(err)
	return ok && pe.Message == MsgMaintenance
}

// IsServerError reports an HTTP >= 500 response, retryable at pipeline
// granularity.
func IsServerError(err error) bool {
	pe, ok := asError(err)
	return ok && pe.HTTPStatus >= 500
}

func hasMessage(err error, msg string) bool {
	pe, ok := asError(err)
	return ok && pe.Message == msg
}

// IsVerificationRejected reports the permanent wallet verification failure.
func IsVerificationRejected(err error) bool {
	return hasMessage(err, MsgVerificationFailed)
}

// IsWalletRegistered reports the "already registered, relogin required"
// verify response.
func IsWalletRegistered(err error) bool {
	return hasMessage(err, MsgWalletRegistered)
}

// IsFollowersCondition reports the server-side follower eligibility failure.
func IsFollowersCondition(err error) bool {
	return hasMessage(err, MsgFollowersCondition)
}
