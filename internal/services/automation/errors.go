package automation

import (
	"errors"
	"fmt"
)

var (
	// ErrNotInitialized is returned by page operations before Initialize succeeds
	ErrNotInitialized = errors.New("session not initialized")
	// ErrLaunchFailed means the browser could not be started; the session must be re-initialized
	ErrLaunchFailed = errors.New("browser launch failed")
	// ErrInputNotFound means the prompt field did not appear within the visibility timeout
	ErrInputNotFound = errors.New("prompt input not found")
	// ErrSubmitNotFound means the generate control did not appear within the visibility timeout
	ErrSubmitNotFound = errors.New("generate button not found")
	// ErrTimeout means no terminal signal appeared within the generation timeout
	ErrTimeout = errors.New("generation timed out")
	// ErrDownloadTimeout means the browser did not finish the download in time
	ErrDownloadTimeout = errors.New("download timed out")
	// ErrDownloadControlNotFound means the download control was absent
	ErrDownloadControlNotFound = errors.New("download button not found")
	// ErrUnsupported is returned by pages that cannot perform an operation
	ErrUnsupported = errors.New("operation not supported by page")
)

// RemoteError is a failure reported by the target application, carrying its text verbatim
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}

// IsRemoteError reports whether err is a failure reported by the target application
func IsRemoteError(err error) bool {
	var remote *RemoteError
	return errors.As(err, &remote)
}

func wrap(sentinel error, selector string, err error) error {
	return fmt.Errorf("%w: %s: %v", sentinel, selector, err)
}
