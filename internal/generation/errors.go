package generation

import (
	"errors"
	"fmt"
)

// Kind classifies why a generation failed.
type Kind string

const (
	KindInvalidInput Kind = "invalid_input"
	KindNetwork      Kind = "network"
	KindService      Kind = "service"
	KindTimeout      Kind = "timeout"
)

// GenerationError is returned by a Client when it cannot produce an image.
type GenerationError struct {
	Kind       Kind
	StatusCode int // upstream HTTP status for KindService, when known
	Message    string
	Err        error
}

func (e *GenerationError) Error() string {
	msg := fmt.Sprintf("generation %s: %s", e.Kind, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// UserMessage is the text shown next to the duckify widget.
func (e *GenerationError) UserMessage() string {
	switch e.Kind {
	case KindInvalidInput:
		return "That file doesn't look like a photo we can duckify. " + e.Message
	case KindNetwork:
		return "Couldn't reach the duck factory. Check your connection and try again."
	case KindTimeout:
		return "The duck factory took too long. Please try again."
	default:
		if e.Message != "" {
			return "The duck factory refused this one: " + e.Message
		}
		return "The duck factory refused this one. Try another photo."
	}
}

// KindOf returns the kind of err, or KindService for errors that did not
// come from a Client.
func KindOf(err error) Kind {
	var gerr *GenerationError
	if errors.As(err, &gerr) {
		return gerr.Kind
	}
	return KindService
}

// ErrBusy is returned by Submit while a request is uploading or generating.
var ErrBusy = errors.New("generation: a request is already in flight")

// ValidationError rejects a source image before anything is dispatched.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid source image: " + e.Reason
}
