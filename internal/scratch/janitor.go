package scratch

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const defaultJanitorInterval = 30 * time.Minute

// Janitor periodically removes scratch files orphaned by a crashed run
type Janitor struct {
	dir      *Dir
	maxAge   time.Duration
	interval time.Duration
	logger   *zap.Logger
	stopChan chan struct{}
}

// NewJanitor creates a janitor removing files older than maxAge.
// interval <= 0 uses 30 minutes.
func NewJanitor(dir *Dir, maxAge, interval time.Duration, logger *zap.Logger) *Janitor {
	if interval <= 0 {
		interval = defaultJanitorInterval
	}
	return &Janitor{
		dir:      dir,
		maxAge:   maxAge,
		interval: interval,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start begins the background cleanup process
func (j *Janitor) Start() {
	go j.cleanupLoop()
	j.logger.Info("Scratch janitor started",
		zap.Duration("maxAge", j.maxAge),
		zap.Duration("interval", j.interval))
}

// Stop gracefully stops the janitor
func (j *Janitor) Stop() {
	close(j.stopChan)
	j.logger.Info("Scratch janitor stopped")
}

func (j *Janitor) cleanupLoop() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.stopChan:
			return
		case <-ticker.C:
			j.RunOnce(context.Background())
		}
	}
}

// RunOnce performs one sweep and returns the number of removed files
func (j *Janitor) RunOnce(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}
	removed, err := j.dir.SweepOlderThan(j.maxAge, time.Now())
	if err != nil {
		j.logger.Error("Failed to sweep scratch dir", zap.Error(err))
		return 0
	}
	if removed > 0 {
		j.logger.Warn("Removed orphaned scratch files", zap.Int("count", removed))
	}
	return removed
}
