// Package errs wraps cockroachdb/errors and defines the error categories the
// HTTP layer maps to status codes.
package errs

import (
	"errors"
	"fmt"
	"strings"

	cr "github.com/cockroachdb/errors"
)

// Categories. Domain sentinels are marked with one of these.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrPersistence  = errors.New("persistence error")
	ErrPayment      = errors.New("payment failed")
)

func New(msg string) error {
	return cr.New(msg)
}

func Newf(format string, args ...any) error {
	return cr.Newf(format, args...)
}

func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return cr.Wrap(err, msg)
}

func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return cr.Wrapf(err, format, args...)
}

// Mark makes err match markErr. Marking with a sentinel also carries the
// sentinel's category.
func Mark(err error, markErr error) error {
	if err == nil {
		return markErr
	}
	if s, ok := markErr.(*sentinel); ok {
		err = cr.Mark(err, s.category)
	}
	return cr.Mark(err, markErr)
}

// sentinel is a leaf error with its own identity that also matches its
// category. Messages must be unique: marks compare by type and message.
type sentinel struct {
	msg      string
	category error
}

func (s *sentinel) Error() string { return s.msg }

func (s *sentinel) Is(target error) bool { return target == s.category }

// Sentinel returns a new sentinel error tagged with a category.
func Sentinel(msg string, category error) error {
	return &sentinel{msg: msg, category: category}
}

func Is(err, reference error) bool {
	return cr.Is(err, reference)
}

// Category returns the first category err belongs to, or nil.
func Category(err error) error {
	for _, c := range []error{
		ErrInvalidInput, ErrNotFound, ErrConflict, ErrUnauthorized,
		ErrForbidden, ErrPayment, ErrPersistence,
	} {
		if cr.Is(err, c) {
			return c
		}
	}
	return nil
}

func ExtractStackLines(err error, maxLines int) []string {
	if err == nil {
		return nil
	}
	s := fmt.Sprintf("%+v", err)
	lines := strings.Split(s, "\n")
	if maxLines > 0 && len(lines) > maxLines {
		lines = lines[:maxLines]
	}
	return lines
}
