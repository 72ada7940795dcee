package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrPackNotFound indicates the id is not in the catalog
	ErrPackNotFound = errors.New("pack not found")

	// ErrInvalidPackSize indicates a declared size <= 0
	ErrInvalidPackSize = errors.New("invalid pack size")

	// ErrAlreadyInProgress indicates a live session already owns the pack
	ErrAlreadyInProgress = errors.New("download already in progress")

	ErrNetworkUnavailable  = errors.New("network unavailable")
	ErrInsufficientStorage = errors.New("insufficient storage")

	// ErrVerificationFailed means the digest did not match. Never retried.
	ErrVerificationFailed = errors.New("verification failed")

	ErrInstallationFailed    = errors.New("installation failed")
	ErrInvalidDownloadTarget = errors.New("invalid download target")

	// ErrUnknown is the catch-all for faults outside the taxonomy.
	ErrUnknown = errors.New("unknown error")
)

var kinds = []error{
	ErrPackNotFound,
	ErrInvalidPackSize,
	ErrAlreadyInProgress,
	ErrNetworkUnavailable,
	ErrInsufficientStorage,
	ErrVerificationFailed,
	ErrInstallationFailed,
	ErrInvalidDownloadTarget,
	ErrUnknown,
}

// PackError ties a taxonomy kind to a pack id and the underlying cause.
type PackError struct {
	PackID string
	Kind   error
	Err    error
}

func NewPackError(packID string, kind, err error) *PackError {
	return &PackError{PackID: packID, Kind: kind, Err: err}
}

func (e *PackError) Error() string {
	if e.Err != nil {
		if errors.Is(e.Err, e.Kind) {
			return fmt.Sprintf("pack %s: %v", e.PackID, e.Err)
		}
		return fmt.Sprintf("pack %s: %v: %v", e.PackID, e.Kind, e.Err)
	}
	return fmt.Sprintf("pack %s: %v", e.PackID, e.Kind)
}

func (e *PackError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match the kind sentinel as well as the wrapped cause.
func (e *PackError) Is(target error) bool {
	return target == e.Kind
}

// Message is the human readable part without the pack prefix.
func (e *PackError) Message() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Kind.Error()
}

// KindOf maps any error onto the closed taxonomy. Unrecognised errors are
// reported as ErrUnknown.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return ErrUnknown
}

// KindName is a stable identifier for the kind, used by the API.
func KindName(kind error) string {
	switch kind {
	case ErrPackNotFound:
		return "PackNotFound"
	case ErrInvalidPackSize:
		return "InvalidPackSize"
	case ErrAlreadyInProgress:
		return "AlreadyInProgress"
	case ErrNetworkUnavailable:
		return "NetworkUnavailable"
	case ErrInsufficientStorage:
		return "InsufficientStorage"
	case ErrVerificationFailed:
		return "VerificationFailed"
	case ErrInstallationFailed:
		return "InstallationFailed"
	case ErrInvalidDownloadTarget:
		return "InvalidDownloadTarget"
	default:
		return "Unknown"
	}
}

// VerificationError is returned when a digest does not match.
type VerificationError struct {
	Path     string
	Expected string
	Actual   string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("sha256 mismatch for %s (expected %s, got %s)", e.Path, e.Expected, e.Actual)
}

func (e *VerificationError) Is(target error) bool {
	return target == ErrVerificationFailed
}
