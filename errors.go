package zipkit

import (
	"errors"
	"fmt"
)

// Sentinel errors for caller-misuse and well-known terminal conditions.
var (
	// ErrIllegalState is returned when a caller invokes an operation out of
	// protocol order, e.g. writing payload bytes before PutEntry, or calling
	// Finish after the writer already faulted.
	ErrIllegalState = errors.New("zipkit: illegal state")

	// ErrEncrypted matches (via errors.Is) the UnsupportedFeatureError a
	// reader returns when an entry's general-purpose bit 0 (or 6, strong
	// encryption) is set. Decryption is out of scope.
	ErrEncrypted = errors.New("zipkit: entry is encrypted")

	errLongName    = errors.New("zipkit: entry name too long")
	errLongExtra   = errors.New("zipkit: extra field data too long")
	errLongComment = errors.New("zipkit: comment too long")
)

// TruncatedError reports that the byte source ran out before a well-formed
// structure (header, data descriptor, central directory, EOCD) completed.
type TruncatedError struct {
	Msg string
}

func (e *TruncatedError) Error() string { return e.Msg }

func newTruncated() error { return &TruncatedError{Msg: "Truncated ZIP file"} }

// MalformedError reports a signature, length, or cross-field constraint
// violation: the bytes exist but do not describe a valid ZIP structure.
type MalformedError struct {
	Msg string
	Err error
}

func (e *MalformedError) Error() string { return e.Msg }
func (e *MalformedError) Unwrap() error { return e.Err }

func newMalformed(format string, args ...interface{}) error {
	return &MalformedError{Msg: fmt.Sprintf(format, args...)}
}

func wrapMalformed(err error, format string, args ...interface{}) error {
	return &MalformedError{Msg: fmt.Sprintf(format, args...), Err: err}
}

// ChecksumError reports a CRC32 mismatch, either for entry payload or for a
// CRC-protected extra field (e.g. Asi).
type ChecksumError struct {
	Msg string
}

func (e *ChecksumError) Error() string { return e.Msg }

// newBadCRC formats the fixed checksum-mismatch message: stored is the
// value the archive claims, actual the one computed over the bytes.
func newBadCRC(stored, actual uint32) error {
	return &ChecksumError{Msg: fmt.Sprintf("Bad CRC checksum, expected %x instead of %x", stored, actual)}
}

// FeatureKind enumerates the recognized-but-unimplemented ZIP features that
// UnsupportedFeatureError can report.
type FeatureKind int

const (
	FeatureEncryption FeatureKind = iota
	FeatureMethod
	FeatureDataDescriptor
	FeatureSplitting
)

// UnsupportedFeatureError reports a well-formed archive using a feature this
// core does not implement. It is recoverable: the caller may skip the entry
// or continue reading others.
type UnsupportedFeatureError struct {
	Kind   FeatureKind
	Method uint16
}

// Is lets errors.Is(err, ErrEncrypted) match an encryption-kind feature
// error without the caller needing a type assertion.
func (e *UnsupportedFeatureError) Is(target error) bool {
	return target == ErrEncrypted && e.Kind == FeatureEncryption
}

func (e *UnsupportedFeatureError) Error() string {
	switch e.Kind {
	case FeatureEncryption:
		return "zipkit: entry is encrypted, unsupported"
	case FeatureMethod:
		return fmt.Sprintf("zipkit: unsupported compression method %d", e.Method)
	case FeatureDataDescriptor:
		return "zipkit: unsupported data descriptor variant"
	case FeatureSplitting:
		return "zipkit: multi-volume (split) archives are not supported"
	default:
		return "zipkit: unsupported zip feature"
	}
}

// Zip64RequiredError is returned by a writer whose Zip64 policy is "never"
// when an entry's size or offset would require Zip64 extensions.
type Zip64RequiredError struct {
	Reason string
}

func (e *Zip64RequiredError) Error() string {
	return fmt.Sprintf("zipkit: entry requires zip64 extensions but policy forbids them: %s", e.Reason)
}

func extraFieldParseError(id uint16, err error) error {
	return wrapMalformed(err, "Failed to parse corrupt ZIP extra field of type %04x", id)
}
