package updater

import "fmt"

// Kind discriminates the taxonomy of failures the updater can produce. It is
// carried on a single Error type rather than modeled as distinct Go error
// types, so callers can switch on Kind without a long type-assertion chain.
type Kind string

const (
	KindConfigInvalid            Kind = "ConfigInvalid"
	KindBadLength                Kind = "BadLength"
	KindUnknownAlgorithm         Kind = "UnknownAlgorithm"
	KindUnsupportedKDF           Kind = "UnsupportedKDF"
	KindChecksumMismatch         Kind = "ChecksumMismatch"
	KindNoMatchingKey            Kind = "NoMatchingKey"
	KindInvalidSignature         Kind = "InvalidSignature"
	KindBadManifest              Kind = "BadManifest"
	KindInvalidVersion           Kind = "InvalidVersion"
	KindUnsupportedPlatform      Kind = "UnsupportedPlatform"
	KindNotFound                 Kind = "NotFound"
	KindTooManyRedirects         Kind = "TooManyRedirects"
	KindUnsafeRedirect           Kind = "UnsafeRedirect"
	KindUnexpectedContentType    Kind = "UnexpectedContentType"
	KindResponseTooLarge         Kind = "ResponseTooLarge"
	KindRequestFailed            Kind = "RequestFailed"
	KindRequestTimeout           Kind = "RequestTimeout"
	KindNoUpdate                 Kind = "NoUpdate"
	KindNoPlatformFile           Kind = "NoPlatformFile"
	KindHashMismatch             Kind = "HashMismatch"
	KindSizeMismatch             Kind = "SizeMismatch"
	KindDownloadInProgress       Kind = "DownloadInProgress"
	KindUpdateInfoInvalid        Kind = "UpdateInfoInvalid"
	KindUnknownPlatformInstaller Kind = "UnknownPlatformInstaller"
)

// Error is the single error type returned by every package in updater. Kind
// is meant to be switched on; Op names the operation that failed; Err, when
// set, is the underlying cause and participates in errors.Is/As via Unwrap.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("updater: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("updater: %s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, &Error{Kind: KindX}) style checks against Kind
// alone, ignoring Op and Err.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the Kind of err if it is (or wraps) an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if ok := asError(err, &e); ok {
		return e.Kind, true
	}
	return "", false
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
