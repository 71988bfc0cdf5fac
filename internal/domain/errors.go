package domain

import "errors"

var (
	ErrCodeGenerationFailed   = errors.New("code generation failed")
	ErrCodeDeletionFailed     = errors.New("code deletion failed")
	ErrOfferPollExhausted     = errors.New("offer poll exhausted")
	ErrOfferPollCancelled     = errors.New("offer poll cancelled")
	ErrMissingOffer           = errors.New("missing offer")
	ErrAnswerSubmissionFailed = errors.New("answer submission failed")
	ErrConnectionFailed       = errors.New("connection failed")
	ErrFrameIngest            = errors.New("frame ingest error")

	// ErrFrameTimeout is returned by Track.ReceiveNext when no frame arrived in time.
	ErrFrameTimeout = errors.New("timed out waiting for frame")
	// ErrTransportClosed is returned once the underlying connection is gone.
	ErrTransportClosed = errors.New("transport connection closed")

	ErrSessionActive = errors.New("session already active")
	ErrNoSession     = errors.New("no active session")
)

// GenerationFailedText is what the presentation layer shows when a code could
// not be issued.
const GenerationFailedText = "Error"
