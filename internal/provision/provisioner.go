// Package provision makes a whisper.cpp model available on local storage.
package provision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/voicenote-relay/domain"
	"github.com/satriahrh/voicenote-relay/domain/entities"
	"github.com/satriahrh/voicenote-relay/domain/repositories"
)

// Config holds configuration for the Provisioner
type Config struct {
	OverridePath string        // Optional: local model file used as-is when it exists
	CacheDir     string        // Required: managed cache directory
	BaseURL      string        // Required: where ggml-<name>.bin is downloaded from
	Timeout      time.Duration // Optional: download timeout (default 30m)
}

// Provisioner resolves a model by override path, then cache, then download
type Provisioner struct {
	config Config
	client *http.Client
	logger *zap.Logger
}

var _ repositories.ModelProvisioner = (*Provisioner)(nil)

// NewProvisioner creates a new provisioner
func NewProvisioner(config Config, logger *zap.Logger) *Provisioner {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Minute
	}
	return &Provisioner{
		config: config,
		client: &http.Client{},
		logger: logger,
	}
}

// ModelFileName is the cache file name of a named model
func ModelFileName(name string) string {
	return fmt.Sprintf("ggml-%s.bin", name)
}

// CachePath is where a named model lives in the cache
func (p *Provisioner) CachePath(name string) string {
	return filepath.Join(p.config.CacheDir, ModelFileName(name))
}

// Check reports whether the named model is already cached
func (p *Provisioner) Check(name string) bool {
	return validModelFile(p.CachePath(name)) == nil
}

// Ensure returns a ready handle for the model. Any failure is a StartupError.
func (p *Provisioner) Ensure(ctx context.Context, name string) (entities.ModelHandle, error) {
	if override := p.config.OverridePath; override != "" {
		if err := validModelFile(override); err == nil {
			p.logger.Info("Using local model override", zap.String("path", override))
			return entities.ModelHandle{Name: name, Path: override, Ready: true}, nil
		}
		p.logger.Warn("Local model override not usable, falling back to cache",
			zap.String("path", override))
	}

	if name == "" || strings.ContainsAny(name, `/\`) {
		return entities.ModelHandle{}, &domain.StartupError{Op: "provision model", Err: fmt.Errorf("invalid model name %q", name)}
	}

	path := p.CachePath(name)
	if p.Check(name) {
		p.logger.Info("Model found in cache", zap.String("model", name), zap.String("path", path))
		return entities.ModelHandle{Name: name, Path: path, Ready: true}, nil
	}

	p.logger.Info("Model not cached, downloading", zap.String("model", name))
	if err := p.download(ctx, name, path); err != nil {
		return entities.ModelHandle{}, &domain.StartupError{Op: "download model", Err: err}
	}

	if err := validModelFile(path); err != nil {
		os.Remove(path)
		return entities.ModelHandle{}, &domain.StartupError{Op: "validate model", Err: err}
	}

	return entities.ModelHandle{Name: name, Path: path, Ready: true}, nil
}

func (p *Provisioner) download(ctx context.Context, name, dest string) error {
	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	if err := os.MkdirAll(p.config.CacheDir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache dir: %w", err)
	}

	url := strings.TrimRight(p.config.BaseURL, "/") + "/" + ModelFileName(name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("model download returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	part := dest + ".part"
	f, err := os.Create(part)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", part, err)
	}

	written, copyErr := io.Copy(f, &progressReader{
		r:      resp.Body,
		total:  resp.ContentLength,
		model:  name,
		logger: p.logger,
	})
	closeErr := f.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		os.Remove(part)
		return fmt.Errorf("failed to write model: %w", err)
	}

	if resp.ContentLength > 0 && written != resp.ContentLength {
		os.Remove(part)
		return fmt.Errorf("short download: got %d of %d bytes", written, resp.ContentLength)
	}

	if err := os.Rename(part, dest); err != nil {
		os.Remove(part)
		return fmt.Errorf("failed to move model into cache: %w", err)
	}

	p.logger.Info("Model downloaded",
		zap.String("model", name),
		zap.String("path", dest),
		zap.Int64("bytes", written))
	return nil
}

func validModelFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	if info.Size() == 0 {
		return fmt.Errorf("%s is empty", path)
	}
	return nil
}

// progressReader logs download progress every 10%
type progressReader struct {
	r      io.Reader
	total  int64
	read   int64
	step   int64
	model  string
	logger *zap.Logger
}

func (pr *progressReader) Read(b []byte) (int, error) {
	n, err := pr.r.Read(b)
	pr.read += int64(n)
	if pr.total > 0 {
		if step := pr.read * 10 / pr.total; step > pr.step {
			pr.step = step
			pr.logger.Info("Downloading model",
				zap.String("model", pr.model),
				zap.Int64("percent", step*10))
		}
	}
	return n, err
}
