package services

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCode      = errors.New("clan code must be three letters A-Z")
	ErrClanExists       = errors.New("clan already exists")
	ErrClanNotFound     = errors.New("clan not found")
	ErrAlreadyMember    = errors.New("already in a clan")
	ErrNotMember        = errors.New("not a member of the clan")
	ErrNotLeader        = errors.New("not the clan leader")
	ErrAlreadySigned    = errors.New("already signed this charter")
	ErrIneligibleSigner = errors.New("one or more signatures on this charter are invalid")
	ErrClanFull         = errors.New("clan is full")
	ErrNoInvite         = errors.New("no pending invite")
	ErrRateLimited      = errors.New("rate limited")
	ErrSelfTarget       = errors.New("cannot target yourself")
)

// ValidationError is reported to the initiating actor; no state changed.
type ValidationError struct {
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Reason == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(err error, format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...), Err: err}
}

// PersistenceError wraps a failed store write. The cache is left as it was
// before the operation started.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err is a ValidationError (or wraps one).
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsPersistence reports whether err is a PersistenceError (or wraps one).
func IsPersistence(err error) bool {
	var p *PersistenceError
	return errors.As(err, &p)
}
