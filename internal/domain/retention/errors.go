package retention

import "errors"

var (
	ErrPolicyNotFound      = errors.New("no enabled retention policy matches")
	ErrRecordNotFound      = errors.New("lifecycle record not found")
	ErrCertificateNotFound = errors.New("deletion certificate not found")
	ErrLockBusy            = errors.New("execution lock is held elsewhere")
	ErrLockExpired         = errors.New("execution lock has expired")
	ErrInvalidTransition   = errors.New("transition not allowed from current state")
	ErrCertificateIssuance = errors.New("certificate issuance failed")
)

// EraseError is the retryable failure of a secure-erase attempt. The batch
// stays in deletion_pending; the sweep appends the message to each record's
// processing errors and bumps its retry count.
type EraseError struct {
	Method string
	Err    error
}

func (e *EraseError) Error() string {
	return "secure erase (" + e.Method + ") failed: " + e.Err.Error()
}

func (e *EraseError) Unwrap() error {
	return e.Err
}
