package models

import "errors"

// Error kinds recognized across the core. Everything except ErrConfigInvalid
// is recovered locally and surfaced through counters and status flags.
var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrStorageIO      = errors.New("storage io")
	ErrFeedStale      = errors.New("feed stale")
	ErrConfigInvalid  = errors.New("config invalid")
	ErrReplayInputGap = errors.New("replay input gap")
	ErrConsumer       = errors.New("consumer error")
)

// ErrorKind is the metrics label for an error class
type ErrorKind string

const (
	KindInvalidInput   ErrorKind = "INVALID_INPUT"
	KindStorageIO      ErrorKind = "STORAGE_IO"
	KindFeedStale      ErrorKind = "FEED_STALE"
	KindConfigInvalid  ErrorKind = "CONFIG_INVALID"
	KindReplayInputGap ErrorKind = "REPLAY_INPUT_GAP"
	KindConsumer       ErrorKind = "CONSUMER_ERROR"
	KindUnknown        ErrorKind = "UNKNOWN"
)

// KindOf maps an error onto its kind
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrStorageIO):
		return KindStorageIO
	case errors.Is(err, ErrFeedStale):
		return KindFeedStale
	case errors.Is(err, ErrConfigInvalid):
		return KindConfigInvalid
	case errors.Is(err, ErrReplayInputGap):
		return KindReplayInputGap
	case errors.Is(err, ErrConsumer):
		return KindConsumer
	}
	return KindUnknown
}
