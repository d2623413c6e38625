package eventstream

import "errors"

var (
	// ErrNilRunEvent indicates a nil run event payload was provided to a publisher.
	ErrNilRunEvent = errors.New("nil run event")

	// ErrNilArtifactEvent indicates a nil artifact event payload was provided to a publisher.
	ErrNilArtifactEvent = errors.New("nil artifact event")
)
