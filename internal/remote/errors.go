package remote

import (
	"errors"
	"fmt"
)

var (
	ErrNoResultLink   = errors.New("response has no result link")
	ErrNoToken        = errors.New("result link carries no token")
	ErrEmptyResult    = errors.New("export returned no data")
	ErrResultTooLarge = errors.New("response exceeds the size limit")
)

// RemoteJobError reports a failed remote submission. Stage is one of
// submit, result-link or export.
type RemoteJobError struct {
	Stage  string
	URL    string
	Status int
	Err    error
}

func (e *RemoteJobError) Error() string {
	msg := fmt.Sprintf("remote job failed at %s", e.Stage)
	if e.URL != "" {
		msg += " (" + e.URL + ")"
	}
	if e.Status != 0 {
		msg += fmt.Sprintf(": status %d", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RemoteJobError) Unwrap() error { return e.Err }
