package index

import "errors"

// Error taxonomy per the core's error handling design. NotLoaded and
// Unsupported are caller bugs or kind mismatches and propagate as-is;
// TransientIO/PermanentIO distinguish retryable I/O failures from
// corrupted artifacts that must be quarantined.
var (
	ErrNotLoaded   = errors.New("index: shard is not loaded")
	ErrUnsupported = errors.New("index: operation unsupported for this kind")
)

// IOError wraps a filesystem failure, tagging it transient or permanent
// so IndexRegistry and IndexWriter know whether to retry or quarantine.
type IOError struct {
	Permanent bool
	Err       error
}

func (e *IOError) Error() string {
	if e.Permanent {
		return "index: permanent I/O failure: " + e.Err.Error()
	}
	return "index: transient I/O failure: " + e.Err.Error()
}

func (e *IOError) Unwrap() error { return e.Err }

func transientIO(err error) error { return &IOError{Permanent: false, Err: err} }
func permanentIO(err error) error { return &IOError{Permanent: true, Err: err} }

// IsPermanent reports whether err is a quarantine-worthy PermanentIO failure.
func IsPermanent(err error) bool {
	var ioErr *IOError
	if errors.As(err, &ioErr) {
		return ioErr.Permanent
	}
	return false
}
