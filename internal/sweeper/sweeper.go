// Package sweeper reclaims storage and revokes access for expired jobs on a
// fixed schedule. Deletion failures are logged and swallowed: metadata
// consistency beats storage reclamation, and a stray orphaned file is the
// accepted residual failure mode.
package sweeper

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/roppunt/fixframe/internal/domain"
)

// Sweeper periodically expires jobs whose download grant has lapsed.
type Sweeper struct {
	repo     domain.JobRepository
	vault    domain.SecureStore
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a sweeper. The production interval is 12 hours.
func New(repo domain.JobRepository, vault domain.SecureStore, interval time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{repo: repo, vault: vault, interval: interval, logger: logger, now: time.Now}
}

// Run sweeps once immediately, then on every tick until the context ends.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("sweeper started", "interval", s.interval.String())
	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper shutting down")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	expired, err := s.SweepOnce(ctx)
	if err != nil {
		s.logger.Error("sweep failed", "error", err)
		return
	}
	if expired > 0 {
		s.logger.Info("sweep reclaimed expired jobs", "count", expired)
	}
}

// SweepOnce expires every job with a past grant: files removed, refs and
// grant cleared, status collapsed to expired. Returns how many jobs expired.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	expired := 0
	err := s.repo.Update(ctx, func(jobs []domain.Job) ([]domain.Job, error) {
		now := s.now()
		for i := range jobs {
			job := &jobs[i]
			if job.Grant == nil || !job.Grant.Expired(now) {
				continue
			}
			s.reclaim(job)
			job.Status = domain.StatusExpired
			job.EncryptedPath = ""
			job.ResultPath = ""
			job.Grant = nil
			expired++
		}
		return jobs, nil
	})
	if err != nil {
		return 0, err
	}
	return expired, nil
}

// reclaim deletes the job's files, swallowing failures.
func (s *Sweeper) reclaim(job *domain.Job) {
	if job.EncryptedPath != "" {
		if err := s.vault.Remove(job.EncryptedPath); err != nil {
			s.logger.Warn("could not remove ciphertext", "job", job.ID, "error", err)
		}
	}
	if job.ResultPath != "" {
		if err := os.Remove(job.ResultPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("could not remove result artifact", "job", job.ID, "error", err)
		}
	}
}
