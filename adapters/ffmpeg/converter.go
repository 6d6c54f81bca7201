// Package ffmpeg converts voice payloads to canonical PCM by spawning ffmpeg.
package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-audio/wav"
	"go.uber.org/zap"

	"github.com/satriahrh/voicenote-relay/domain"
	"github.com/satriahrh/voicenote-relay/domain/entities"
	"github.com/satriahrh/voicenote-relay/domain/repositories"
)

const (
	defaultBinary      = "ffmpeg"
	defaultGracePeriod = 2 * time.Second
	intermediateSuffix = ".wav"
	maxStderrTail      = 512
)

// Config holds configuration for the Converter
type Config struct {
	Binary      string        // Optional: ffmpeg executable (default "ffmpeg")
	Timeout     time.Duration // Optional: bound on one transcoding run
	GracePeriod time.Duration // Optional: SIGTERM to SIGKILL delay
}

// Converter implements AudioConverter with an ffmpeg subprocess
type Converter struct {
	binary      string
	timeout     time.Duration
	gracePeriod time.Duration
	logger      *zap.Logger
}

var _ repositories.AudioConverter = (*Converter)(nil)

// NewConverter creates a new ffmpeg converter
func NewConverter(config Config, logger *zap.Logger) *Converter {
	binary := config.Binary
	if binary == "" {
		binary = defaultBinary
	}
	grace := config.GracePeriod
	if grace == 0 {
		grace = defaultGracePeriod
	}
	return &Converter{
		binary:      binary,
		timeout:     config.Timeout,
		gracePeriod: grace,
		logger:      logger,
	}
}

// CheckBinary verifies the ffmpeg executable can be found
func (c *Converter) CheckBinary() error {
	if _, err := exec.LookPath(c.binary); err != nil {
		return fmt.Errorf("ffmpeg not found: %w", err)
	}
	return nil
}

// Convert transcodes msg to mono 16 kHz PCM. Scratch is released before
// returning on every path.
func (c *Converter) Convert(ctx context.Context, msg *entities.VoiceMessage, scratch repositories.Scratch) (result *entities.ConversionResult, err error) {
	defer func() {
		if releaseErr := scratch.Release(); releaseErr != nil {
			c.logger.Warn("Scratch release failed after conversion",
				zap.String("messageId", msg.ID),
				zap.Error(releaseErr))
		}
		if err != nil {
			err = &domain.ConversionError{MessageID: msg.ID, Err: err}
		}
	}()

	if len(msg.Audio) == 0 {
		return nil, errors.New("audio payload is empty")
	}

	rawSuffix := msg.Codec.Suffix()
	rawPath := scratch.Path(rawSuffix)
	if !scratch.Exists(rawSuffix) {
		if rawPath, err = scratch.Write(rawSuffix, msg.Audio); err != nil {
			return nil, err
		}
	}
	wavPath := scratch.Path(intermediateSuffix)

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	if err := c.run(ctx, []string{
		"-nostdin", "-hide_banner", "-loglevel", "error", "-y",
		"-i", rawPath,
		"-ac", strconv.Itoa(entities.CanonicalChannels),
		"-ar", strconv.Itoa(entities.CanonicalSampleRate),
		"-acodec", "pcm_s16le",
		"-f", "wav",
		wavPath,
	}); err != nil {
		return nil, err
	}

	result, err = decodeWAV(wavPath)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("Audio converted",
		zap.String("messageId", msg.ID),
		zap.Duration("audioDuration", result.Duration()),
		zap.Duration("elapsed", time.Since(start)))

	return result, nil
}

// run executes ffmpeg in its own process group. On cancellation the group
// gets SIGTERM, then SIGKILL after the grace period.
func (c *Converter) run(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, c.binary, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = c.gracePeriod

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg killed by context: %w", ctx.Err())
		}
		return fmt.Errorf("ffmpeg failed: %w: %s", err, tail(stderr.String()))
	}
	return nil
}

// decodeWAV reads a PCM WAV file into float32 samples of the first channel
func decodeWAV(path string) (*entities.ConversionResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open intermediate: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, errors.New("intermediate is not a valid wav file")
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to decode intermediate: %w", err)
	}

	channels := int(dec.NumChans)
	if channels < 1 {
		return nil, errors.New("intermediate has no channels")
	}
	bitDepth := int(dec.BitDepth)
	if bitDepth < 8 || bitDepth > 32 {
		return nil, fmt.Errorf("unsupported bit depth %d", bitDepth)
	}
	scale := float32(int64(1) << (bitDepth - 1))

	frames := len(buf.Data) / channels
	samples := make([]float32, frames)
	for i := 0; i < frames; i++ {
		v := buf.Data[i*channels]
		if bitDepth == 8 {
			// 8-bit wav is unsigned
			v -= 128
		}
		samples[i] = float32(v) / scale
	}

	return &entities.ConversionResult{
		Samples:    samples,
		SampleRate: int(dec.SampleRate),
		Channels:   entities.CanonicalChannels,
	}, nil
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxStderrTail {
		return "..." + s[len(s)-maxStderrTail:]
	}
	return s
}
