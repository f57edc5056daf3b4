package domain

import "context"

// JobRepository is the driven port for job persistence. ReplaceAll is the only
// mutation primitive: the store is read-modify-write on the whole collection,
// so every mutator must go through Update, which serializes the
// load-mutate-replace cycle behind a single writer lock.
type JobRepository interface {
	LoadAll(ctx context.Context) ([]Job, error)
	ReplaceAll(ctx context.Context, jobs []Job) error
	Find(ctx context.Context, id string) (*Job, error)
	Update(ctx context.Context, fn func(jobs []Job) ([]Job, error)) error
}

// SecureStore is the driven port for at-rest file encryption.
type SecureStore interface {
	// Encrypt consumes sourcePath into an authenticated ciphertext at
	// destPath (tag in a sidecar file) and returns the hex-encoded nonce.
	Encrypt(ctx context.Context, sourcePath, destPath string) (string, error)
	// Decrypt verifies the tag before releasing any plaintext; a mismatch is
	// ErrIntegrity and leaves no output at destPath.
	Decrypt(ctx context.Context, sourcePath, destPath, nonceHex string) error
	// Remove deletes a ciphertext and its tag file.
	Remove(path string) error
}

// RepairDispatcher is the driven port for the repair strategy chain.
type RepairDispatcher interface {
	Repair(ctx context.Context, kind MediaKind, sourcePath, destPath string) (RepairOutcome, error)
}

// NotificationTemplate selects the user-facing message to deliver.
type NotificationTemplate string

const (
	TemplateReady  NotificationTemplate = "ready"
	TemplateRefund NotificationTemplate = "refund"
)

// Notifier delivers user-facing status messages. Delivery failures are logged
// by callers, never retried, and never roll back a state transition.
type Notifier interface {
	Notify(ctx context.Context, job *Job, template NotificationTemplate) error
}

// CheckoutSession is the provider-side handle for a started payment.
type CheckoutSession struct {
	ID       string
	URL      string
	Provider string
}

// PaymentGateway is the driven port for the billing provider.
type PaymentGateway interface {
	StartCheckout(ctx context.Context, job *Job) (CheckoutSession, error)
	// ConfirmPayment reports whether the charge is affirmatively paid. Any
	// non-affirmative answer is a hard rejection of the confirm request.
	ConfirmPayment(ctx context.Context, jobID, sessionID string) (bool, error)
}

// IntakeFile is a validated upload handed over by the intake layer. The
// receiver takes ownership of TempPath and must see to its deletion.
type IntakeFile struct {
	TempPath     string
	OriginalName string
	MimeType     string
	Extension    string
	Size         int64
	Email        string
}
