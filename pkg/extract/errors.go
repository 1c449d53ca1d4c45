package extract

import "errors"

// Input errors. All are fatal and fail the extract phase.
var (
	// ErrSourceNotFound indicates the source path does not exist or is not
	// a regular file.
	ErrSourceNotFound = errors.New("source not found")

	// ErrUnsupportedFormat indicates the source is neither .json nor .tar,
	// or a tar archive contains no messages.json entry.
	ErrUnsupportedFormat = errors.New("unsupported source format")

	// ErrInvalidJSON indicates the source could not be parsed as JSON.
	ErrInvalidJSON = errors.New("invalid JSON")

	// ErrMissingMetadata indicates no userId or exportDate was discoverable
	// in the document.
	ErrMissingMetadata = errors.New("missing export metadata")
)
