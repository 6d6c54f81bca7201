package domain

import "fmt"

// StartupError is fatal: the process must not start listening.
type StartupError struct {
	Op  string
	Err error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("startup %s: %v", e.Op, e.Err)
}

func (e *StartupError) Unwrap() error { return e.Err }

// ConversionError reports malformed audio or a transcoder failure for one message.
type ConversionError struct {
	MessageID string
	Err       error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("convert message %s: %v", e.MessageID, e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }

// TranscriptionError reports an inference failure or an unavailable engine.
type TranscriptionError struct {
	MessageID string
	Err       error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("transcribe message %s: %v", e.MessageID, e.Err)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }

// RelayError reports a failed post to the destination channel. It is logged
// and never fails the pipeline.
type RelayError struct {
	MessageID string
	Channel   string
	Err       error
}

func (e *RelayError) Error() string {
	return fmt.Sprintf("relay message %s to %s: %v", e.MessageID, e.Channel, e.Err)
}

func (e *RelayError) Unwrap() error { return e.Err }
