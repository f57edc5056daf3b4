// Package download validates bearer tokens against a job's current grant.
package download

import (
	"context"
	"crypto/subtle"
	"fmt"
	"os"
	"time"

	"github.com/roppunt/fixframe/internal/domain"
)

// Authorizer gates access to result artifacts. It only reads the repository.
type Authorizer struct {
	repo domain.JobRepository
	now  func() time.Time
}

// New creates an authorizer.
func New(repo domain.JobRepository) *Authorizer {
	return &Authorizer{repo: repo, now: time.Now}
}

// Authorize checks the presented token against the job's grant. Denials are
// evaluated in a fixed order: missing token, unknown job, token mismatch,
// missing artifact, expired grant. Only a fully passing job exposes its
// result to the caller.
func (a *Authorizer) Authorize(ctx context.Context, jobID, token string) (*domain.Job, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: download token required", domain.ErrValidation)
	}

	job, err := a.repo.Find(ctx, jobID)
	if err != nil {
		return nil, err
	}

	var granted string
	if job.Grant != nil {
		granted = job.Grant.Token
	}
	if subtle.ConstantTimeCompare([]byte(granted), []byte(token)) != 1 {
		return nil, fmt.Errorf("%w: invalid download token", domain.ErrUnauthorized)
	}

	if job.ResultPath == "" {
		return nil, fmt.Errorf("%w: no result available", domain.ErrNotFound)
	}
	if _, err := os.Stat(job.ResultPath); err != nil {
		return nil, fmt.Errorf("%w: no result available", domain.ErrNotFound)
	}

	if job.Grant.Expired(a.now()) {
		return nil, fmt.Errorf("%w: download link expired", domain.ErrGone)
	}
	return job, nil
}
