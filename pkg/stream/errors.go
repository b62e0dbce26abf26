package stream

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrStreamUnavailable is returned when the transport did not hand back a readable
	// stream. It is always reported before the tree is touched.
	ErrStreamUnavailable = errors.New("stream unavailable")
	// ErrStreamAborted is the cause reported when the stream ended without the [DONE]
	// sentinel. Whatever was received is kept.
	ErrStreamAborted = errors.New("stream ended without sentinel")
	// ErrDecodeSkip marks a record that could not be decoded and was dropped.
	ErrDecodeSkip = errors.New("record skipped")
)

// UnavailableError carries the status and error body of a rejected completion request.
type UnavailableError struct {
	StatusCode int
	Payload    string
	Err        error
}

func (e *UnavailableError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", ErrStreamUnavailable, e.Err)
	case e.StatusCode != 0 && e.Payload != "":
		return fmt.Sprintf("%s: status %d: %s", ErrStreamUnavailable, e.StatusCode, e.Payload)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: status %d", ErrStreamUnavailable, e.StatusCode)
	}
	return ErrStreamUnavailable.Error()
}

func (e *UnavailableError) Is(target error) bool {
	return target == ErrStreamUnavailable
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}
