package backend

import "errors"

var (
	ErrBadBaseURL       = errors.New("invalid backend base url")
	ErrServerStatus     = errors.New("backend server error")
	ErrUnexpectedStatus = errors.New("unexpected backend status")
)
