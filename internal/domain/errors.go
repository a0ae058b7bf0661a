package domain

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrNoImage      = errors.New("no image produced")
	ErrJobNotFailed = errors.New("job is not in failed state")
	ErrInvalidJob   = invalidJobError{}
)

// invalidJobError carries a validation reason while still matching
// errors.Is(err, ErrInvalidJob).
type invalidJobError struct {
	reason string
}

func (e invalidJobError) Error() string {
	if e.reason == "" {
		return "invalid job"
	}
	return "invalid job: " + e.reason
}

func (e invalidJobError) Is(target error) bool {
	_, ok := target.(invalidJobError)
	return ok
}

// With returns a copy of the error with a reason attached.
func (e invalidJobError) With(reason string) error {
	return invalidJobError{reason: reason}
}
