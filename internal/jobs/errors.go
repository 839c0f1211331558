package jobs

import "errors"

// Queue errors.
var (
	ErrJobNotFound     = errors.New("job not found")
	ErrUnknownJobType  = errors.New("unknown job type")
	ErrInvalidPriority = errors.New("invalid job priority")
	ErrInvalidPayload  = errors.New("invalid job payload")
	ErrNotEnqueued     = errors.New("job not guaranteed enqueued")
)
