package http

import "fmt"

// ErrorKind classifies a fetch failure for the error ledger.
type ErrorKind int

const (
	// KindNetwork covers transport failures, timeouts and unexpected
	// HTTP statuses. Usually transient; worth retrying.
	KindNetwork ErrorKind = iota

	// KindNotFound means the source has no file under this id/filename.
	// The id may simply be a weekend slot, or the filename wrong.
	KindNotFound

	// KindIntegrity means the body arrived but was shorter or longer than
	// the announced Content-Length. The partial file is discarded.
	KindIntegrity
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindIntegrity:
		return "IntegrityError"
	default:
		return "NetworkError"
	}
}

// FetchError is a failed fetch of one URL. It is never fatal to a batch:
// the download engine records it in the ledger and moves on.
type FetchError struct {
	Kind ErrorKind
	URL  string
	Err  error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.URL)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Reason is the short form written to the error ledger.
func (e *FetchError) Reason() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}
