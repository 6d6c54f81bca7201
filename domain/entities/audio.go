package entities

import "time"

// Canonical intermediate format fed to every transcription engine
const (
	CanonicalSampleRate = 16000
	CanonicalChannels   = 1
)

// ConversionResult holds mono PCM samples in [-1, 1]
type ConversionResult struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

// Duration of the decoded audio
func (c *ConversionResult) Duration() time.Duration {
	if c == nil || c.SampleRate <= 0 || c.Channels <= 0 {
		return 0
	}
	frames := len(c.Samples) / c.Channels
	return time.Duration(frames) * time.Second / time.Duration(c.SampleRate)
}

// ModelHandle references a provisioned speech-recognition model. It is built
// once at startup and only ever passed by value afterwards.
type ModelHandle struct {
	Name  string
	Path  string
	Ready bool
}
