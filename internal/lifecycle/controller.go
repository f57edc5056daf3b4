// Package lifecycle implements the job state machine:
//
//	awaiting_payment -> paid_processing -> (ready | manual_review) -> expired
//
// The controller is the only writer of job state outside the expiry sweeper,
// and every mutation goes through the repository's single-writer Update.
package lifecycle

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/roppunt/fixframe/internal/domain"
)

const downloadTokenBytes = 24

// Paths are the storage roots the controller writes under.
type Paths struct {
	EncryptedDir string
	ResultsDir   string
	TmpDir       string
}

// Controller orchestrates job transitions from intake to delivery.
type Controller struct {
	repo       domain.JobRepository
	vault      domain.SecureStore
	dispatcher domain.RepairDispatcher
	notifier   domain.Notifier
	gateway    domain.PaymentGateway
	paths      Paths
	grantTTL   time.Duration
	logger     *slog.Logger

	// flight collapses concurrent StartRepair calls for the same job into a
	// single execution.
	flight singleflight.Group
	wg     sync.WaitGroup

	now func() time.Time
}

// New wires a controller. grantTTL bounds how long a finished result stays
// downloadable (30 days in production).
func New(repo domain.JobRepository, vault domain.SecureStore, dispatcher domain.RepairDispatcher,
	notifier domain.Notifier, gateway domain.PaymentGateway, paths Paths, grantTTL time.Duration,
	logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		repo:       repo,
		vault:      vault,
		dispatcher: dispatcher,
		notifier:   notifier,
		gateway:    gateway,
		paths:      paths,
		grantTTL:   grantTTL,
		logger:     logger,
		now:        time.Now,
	}
}

// CreateJob takes ownership of a validated intake file, encrypts it at rest
// (consuming the temp file), and persists the new job.
func (c *Controller) CreateJob(ctx context.Context, intake domain.IntakeFile) (*domain.Job, error) {
	if intake.Email == "" {
		return nil, fmt.Errorf("%w: email address is required", domain.ErrValidation)
	}
	ext := strings.ToLower(intake.Extension)
	if !domain.AllowedExtension(ext) {
		return nil, fmt.Errorf("%w: unsupported file type %q", domain.ErrValidation, ext)
	}

	id := uuid.NewString()
	encryptedPath := filepath.Join(c.paths.EncryptedDir, id)
	nonce, err := c.vault.Encrypt(ctx, intake.TempPath, encryptedPath)
	if err != nil {
		return nil, err
	}
	if err := os.Remove(intake.TempPath); err != nil {
		c.logger.Warn("leaving stray intake temp file", "path", intake.TempPath, "error", err)
	}

	job := domain.Job{
		ID:              id,
		Email:           intake.Email,
		OriginalName:    intake.OriginalName,
		MimeType:        intake.MimeType,
		Extension:       ext,
		Size:            intake.Size,
		Status:          domain.StatusAwaitingPayment,
		PaymentStatus:   domain.PaymentOpen,
		EncryptedPath:   encryptedPath,
		EncryptionNonce: nonce,
		UploadedAt:      c.now(),
	}
	err = c.repo.Update(ctx, func(jobs []domain.Job) ([]domain.Job, error) {
		return append(jobs, job), nil
	})
	if err != nil {
		c.vault.Remove(encryptedPath)
		return nil, err
	}
	c.logger.Info("job created", "job", id, "extension", ext, "size", intake.Size)
	return &job, nil
}

// StartCheckout opens a payment session with the gateway and records it.
func (c *Controller) StartCheckout(ctx context.Context, jobID string) (domain.CheckoutSession, error) {
	job, err := c.repo.Find(ctx, jobID)
	if err != nil {
		return domain.CheckoutSession{}, err
	}
	session, err := c.gateway.StartCheckout(ctx, job)
	if err != nil {
		return domain.CheckoutSession{}, err
	}
	err = c.mutateJob(ctx, jobID, func(j *domain.Job) error {
		j.PaymentStatus = domain.PaymentCheckoutStarted
		j.PaymentSessionID = session.ID
		return nil
	})
	if err != nil {
		return domain.CheckoutSession{}, err
	}
	return session, nil
}

// ConfirmPayment verifies the charge with the gateway and, on the first
// confirmation, transitions the job to paid_processing and launches the
// repair as a detached background task. The call returns as soon as the
// transition is persisted; callers poll or await notification.
func (c *Controller) ConfirmPayment(ctx context.Context, jobID, sessionID string) error {
	paid, err := c.gateway.ConfirmPayment(ctx, jobID, sessionID)
	if err != nil {
		return err
	}
	if !paid {
		return fmt.Errorf("%w: payment not confirmed by provider", domain.ErrValidation)
	}

	transitioned := false
	err = c.mutateJob(ctx, jobID, func(j *domain.Job) error {
		if j.Status != domain.StatusAwaitingPayment {
			// Re-confirming a paid job is a no-op, not an error.
			return nil
		}
		j.Status = domain.StatusPaidProcessing
		j.PaymentStatus = domain.PaymentPaid
		j.PaidAt = c.now()
		if sessionID != "" {
			j.PaymentSessionID = sessionID
		}
		transitioned = true
		return nil
	})
	if err != nil {
		return err
	}
	if transitioned {
		c.dispatchRepair(jobID)
	}
	return nil
}

// ManualRefund is the operator override for jobs resolved out-of-band.
func (c *Controller) ManualRefund(ctx context.Context, jobID string) error {
	var job domain.Job
	err := c.mutateJob(ctx, jobID, func(j *domain.Job) error {
		j.Status = domain.StatusManualReview
		j.PaymentStatus = domain.PaymentRefunded
		job = *j
		return nil
	})
	if err != nil {
		return err
	}
	if err := c.notifier.Notify(ctx, &job, domain.TemplateRefund); err != nil {
		c.logger.Error("refund notification failed", "job", jobID, "error", err)
	}
	return nil
}

// RecoverStalled re-dispatches jobs stuck in paid_processing after a crash.
// The ciphertext is still on disk, so resuming the repair is always safe.
func (c *Controller) RecoverStalled(ctx context.Context) (int, error) {
	jobs, err := c.repo.LoadAll(ctx)
	if err != nil {
		return 0, err
	}
	recovered := 0
	for i := range jobs {
		if jobs[i].Status == domain.StatusPaidProcessing {
			c.logger.Info("resuming repair for stalled job", "job", jobs[i].ID)
			c.dispatchRepair(jobs[i].ID)
			recovered++
		}
	}
	return recovered, nil
}

// Wait blocks until all background repairs have finished. Used on shutdown.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// dispatchRepair launches StartRepair detached from the confirming request.
func (c *Controller) dispatchRepair(jobID string) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.StartRepair(context.Background(), jobID); err != nil {
			c.logger.Error("repair task failed", "job", jobID, "error", err)
		}
	}()
}

// StartRepair runs the repair pipeline for one job. Concurrent calls for the
// same job collapse into a single execution, and a completed job is a no-op,
// so at most one repair attempt ever persists a result.
func (c *Controller) StartRepair(ctx context.Context, jobID string) error {
	_, err, _ := c.flight.Do(jobID, func() (any, error) {
		return nil, c.runRepair(ctx, jobID)
	})
	return err
}

func (c *Controller) runRepair(ctx context.Context, jobID string) error {
	job, err := c.repo.Find(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != domain.StatusPaidProcessing {
		return nil
	}

	tempPath := filepath.Join(c.paths.TmpDir, job.TempPlaintextName())
	// The temp plaintext must not outlive the attempt on any exit path.
	defer os.Remove(tempPath)

	if err := c.vault.Decrypt(ctx, job.EncryptedPath, tempPath, job.EncryptionNonce); err != nil {
		c.logger.Error("decrypt for repair failed", "job", jobID, "error", err)
		return c.failRepair(ctx, jobID)
	}

	resultPath := filepath.Join(c.paths.ResultsDir, job.ID+job.Extension)
	outcome, err := c.dispatcher.Repair(ctx, job.Kind(), tempPath, resultPath)
	if err != nil {
		c.logger.Error("repair pipeline failed", "job", jobID, "error", err)
		return c.failRepair(ctx, jobID)
	}

	token, err := newDownloadToken()
	if err != nil {
		return c.failRepair(ctx, jobID)
	}

	var final domain.Job
	err = c.mutateJob(ctx, jobID, func(j *domain.Job) error {
		now := c.now()
		j.ResultPath = outcome.ArtifactPath
		j.ResultStatus = outcome.Status
		j.CompletedAt = now
		j.Grant = &domain.DownloadGrant{Token: token, ExpiresAt: now.Add(c.grantTTL)}
		if outcome.Status == domain.RepairSuccess {
			j.Status = domain.StatusReady
		} else {
			// A manual-review artifact stays downloadable, but the user is
			// refunded because no tool vouched for it.
			j.Status = domain.StatusManualReview
			j.PaymentStatus = domain.PaymentRefunded
		}
		final = *j
		return nil
	})
	if err != nil {
		return err
	}

	template := domain.TemplateReady
	if final.Status != domain.StatusReady {
		template = domain.TemplateRefund
	}
	if err := c.notifier.Notify(ctx, &final, template); err != nil {
		c.logger.Error("status notification failed", "job", jobID, "error", err)
	}
	c.logger.Info("repair finished", "job", jobID, "status", string(final.Status))
	return nil
}

// failRepair is the terminal path for decrypt or pipeline errors: no result
// artifact exists, so no grant is issued, and the payment is refunded.
func (c *Controller) failRepair(ctx context.Context, jobID string) error {
	var job domain.Job
	err := c.mutateJob(ctx, jobID, func(j *domain.Job) error {
		j.Status = domain.StatusManualReview
		j.ResultStatus = domain.RepairManualReview
		j.PaymentStatus = domain.PaymentRefunded
		j.CompletedAt = c.now()
		job = *j
		return nil
	})
	if err != nil {
		return err
	}
	if err := c.notifier.Notify(ctx, &job, domain.TemplateRefund); err != nil {
		c.logger.Error("refund notification failed", "job", jobID, "error", err)
	}
	return nil
}

// mutateJob applies fn to one job inside a repository Update cycle.
func (c *Controller) mutateJob(ctx context.Context, jobID string, fn func(*domain.Job) error) error {
	return c.repo.Update(ctx, func(jobs []domain.Job) ([]domain.Job, error) {
		for i := range jobs {
			if jobs[i].ID == jobID {
				if err := fn(&jobs[i]); err != nil {
					return nil, err
				}
				return jobs, nil
			}
		}
		return nil, domain.ErrNotFound
	})
}

func newDownloadToken() (string, error) {
	buf := make([]byte, downloadTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
