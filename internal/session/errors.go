package session

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTransition = errors.New("invalid negotiation state transition")
	ErrNoMedia           = errors.New("session description has no media section")
)

// InvalidSdpError is returned when a remote description cannot be parsed.
type InvalidSdpError struct {
	SenderID string
	Err      error
}

func (e *InvalidSdpError) Error() string {
	return fmt.Sprintf("invalid sdp from sender %s: %v", e.SenderID, e.Err)
}

func (e *InvalidSdpError) Unwrap() error {
	return e.Err
}

// MediaInitError is returned when the media layer for a sender cannot be built.
type MediaInitError struct {
	SenderID string
	Err      error
}

func (e *MediaInitError) Error() string {
	return fmt.Sprintf("media init for sender %s: %v", e.SenderID, e.Err)
}

func (e *MediaInitError) Unwrap() error {
	return e.Err
}
