package domain

import (
	"strings"
	"time"
)

// JobStatus represents the lifecycle state of a job.
type JobStatus string

const (
	StatusAwaitingPayment JobStatus = "awaiting_payment"
	StatusPaidProcessing  JobStatus = "paid_processing"
	StatusReady           JobStatus = "ready"
	StatusManualReview    JobStatus = "manual_review"
	StatusExpired         JobStatus = "expired"
)

// PaymentStatus tracks the billing side of a job, independent of JobStatus.
type PaymentStatus string

const (
	PaymentOpen            PaymentStatus = "open"
	PaymentCheckoutStarted PaymentStatus = "checkout_started"
	PaymentPaid            PaymentStatus = "paid"
	PaymentRefunded        PaymentStatus = "refunded"
)

// MediaKind classifies a submission for repair-strategy selection.
type MediaKind string

const (
	KindImage MediaKind = "image"
	KindVideo MediaKind = "video"
)

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".heic": true,
	".gif":  true,
}

var videoExtensions = map[string]bool{
	".mp4": true,
	".mov": true,
	".avi": true,
	".mkv": true,
}

// KindForExtension routes image extensions to the image strategy and
// everything else to the video strategy.
func KindForExtension(ext string) MediaKind {
	if imageExtensions[strings.ToLower(ext)] {
		return KindImage
	}
	return KindVideo
}

// AllowedExtension reports whether the extension is accepted at intake.
func AllowedExtension(ext string) bool {
	ext = strings.ToLower(ext)
	return imageExtensions[ext] || videoExtensions[ext]
}

// RepairStatus is the outcome classification of a repair attempt.
type RepairStatus string

const (
	RepairSuccess      RepairStatus = "success"
	RepairManualReview RepairStatus = "manual_review"
)

// RepairOutcome is the result of running the repair chain for one job.
type RepairOutcome struct {
	Status       RepairStatus
	ArtifactPath string
}

// DownloadGrant authorizes downloading a job's result until ExpiresAt.
type DownloadGrant struct {
	Token     string
	ExpiresAt time.Time
}

// Expired reports whether the grant has passed its expiry.
func (g *DownloadGrant) Expired(now time.Time) bool {
	return now.After(g.ExpiresAt)
}

// Job is one user submission tracked from upload through repair and delivery.
type Job struct {
	ID           string
	Email        string
	OriginalName string
	MimeType     string
	Extension    string
	Size         int64

	Status        JobStatus
	PaymentStatus PaymentStatus

	// EncryptedPath is the ciphertext blob owned by this job; its
	// authentication tag lives in a sidecar file next to it.
	EncryptedPath   string
	EncryptionNonce string

	ResultPath   string
	ResultStatus RepairStatus
	Grant        *DownloadGrant

	PaymentSessionID string

	UploadedAt  time.Time
	PaidAt      time.Time
	CompletedAt time.Time
}

// Kind returns the media kind for the job's extension.
func (j *Job) Kind() MediaKind {
	return KindForExtension(j.Extension)
}

// Downloadable reports whether a result artifact with a live grant exists.
func (j *Job) Downloadable(now time.Time) bool {
	return j.ResultPath != "" && j.Grant != nil && !j.Grant.Expired(now)
}

// ResultName returns the filename presented to the user on download.
func (j *Job) ResultName() string {
	if j.OriginalName != "" {
		return j.OriginalName
	}
	return j.ID + j.Extension
}

// TempPlaintextName returns the scratch filename used while the job's
// ciphertext is decrypted for repair.
func (j *Job) TempPlaintextName() string {
	return j.ID + "-decrypt" + j.Extension
}
