package domain

import (
	"errors"

	"golang.org/x/xerrors"
)

// Kind groups errors by how callers are expected to react to them.
type Kind string

const (
	KindValidation    = Kind("validation")
	KindNotFound      = Kind("not_found")
	KindConflict      = Kind("conflict")
	KindInvalidState  = Kind("invalid_state")
	KindUnavailable   = Kind("unavailable")
	KindIntegrity     = Kind("integrity")
	KindSubmission    = Kind("submission")
	KindDuplicate     = Kind("duplicate")
	KindForbidden     = Kind("forbidden")
	KindConfiguration = Kind("configuration")
	KindInternal      = Kind("internal")
)

// Error is a stable, comparable error kind. Operations wrap one of the
// sentinels below with a human readable reason.
type Error struct {
	Code string
	Kind Kind
	msg  string
}

func (e *Error) Error() string {
	return e.msg
}

func newError(code string, kind Kind, msg string) *Error {
	return &Error{Code: code, Kind: kind, msg: msg}
}

var (
	ErrValidation         = newError("validation_failed", KindValidation, "validation failed")
	ErrNotFound           = newError("not_found", KindNotFound, "not found")
	ErrDuplicateDataset   = newError("duplicate_dataset", KindDuplicate, "dataset with identical digest already registered")
	ErrDigestComputation  = newError("digest_computation", KindValidation, "could not compute content digest")
	ErrDatasetUnavailable = newError("dataset_unavailable", KindValidation, "dataset not available for agreements")
	ErrConflict           = newError("conflict", KindConflict, "conflicting agreement")
	ErrInvalidState       = newError("invalid_state", KindInvalidState, "invalid agreement state")
	ErrSubmission         = newError("submission_failed", KindSubmission, "ledger submission rejected")
	ErrUnavailable        = newError("unavailable", KindUnavailable, "dependency unavailable")
	ErrIntegrity          = newError("integrity", KindIntegrity, "content digest mismatch")
	ErrDuplicateAccrual   = newError("duplicate_accrual", KindDuplicate, "accrual already recorded for agreement")
	ErrAlreadyPaid        = newError("already_paid", KindInvalidState, "accrual entry already paid out")
	ErrConfiguration      = newError("invalid_configuration", KindConfiguration, "invalid configuration")
	ErrAccessDenied       = newError("access_denied", KindForbidden, "access denied")
)

// Errorf wraps a sentinel with a formatted reason; errors.Is(err, sentinel) holds for the result.
func Errorf(sentinel *Error, format string, args ...interface{}) error {
	return xerrors.Errorf(format+": %w", append(args, sentinel)...)
}

// KindOf returns the kind of the first domain error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the stable code of the first domain error in err's chain.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "internal"
}
