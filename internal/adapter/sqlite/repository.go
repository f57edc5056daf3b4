// Package sqlite implements domain.JobRepository on a local SQLite file.
//
// The store follows a whole-collection contract: ReplaceAll rewrites every
// row in one transaction and is the only mutation primitive. That gives no
// protection against lost updates between concurrent load/replace cycles, so
// Update serializes all mutators behind a single writer lock.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/roppunt/fixframe/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
    id               TEXT PRIMARY KEY,
    email            TEXT NOT NULL,
    original_name    TEXT NOT NULL,
    mime_type        TEXT NOT NULL,
    extension        TEXT NOT NULL,
    size             INTEGER NOT NULL,
    status           TEXT NOT NULL,
    payment_status   TEXT NOT NULL,
    encrypted_path   TEXT NOT NULL DEFAULT '',
    encryption_nonce TEXT NOT NULL DEFAULT '',
    result_path      TEXT NOT NULL DEFAULT '',
    result_status    TEXT NOT NULL DEFAULT '',
    download_token   TEXT,
    token_expires_at DATETIME,
    payment_session  TEXT NOT NULL DEFAULT '',
    uploaded_at      DATETIME NOT NULL,
    paid_at          DATETIME,
    completed_at     DATETIME
);
`

// Repository implements domain.JobRepository using SQLite.
type Repository struct {
	db     *sql.DB
	mu     sync.Mutex
	logger *slog.Logger
}

// New opens (or creates) the store at dbPath and bootstraps the schema.
func New(dbPath string, logger *slog.Logger) (*Repository, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	return &Repository{db: db, logger: logger}, nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// LoadAll returns every job record. A fresh store loads empty; rows that fail
// to scan are skipped with a warning rather than failing the whole load.
func (r *Repository) LoadAll(ctx context.Context) ([]domain.Job, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, email, original_name, mime_type, extension, size,
		        status, payment_status, encrypted_path, encryption_nonce,
		        result_path, result_status, download_token, token_expires_at,
		        payment_session, uploaded_at, paid_at, completed_at
		 FROM jobs ORDER BY uploaded_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			r.logger.Warn("skipping unreadable job row", "error", err)
			continue
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	return jobs, nil
}

// ReplaceAll atomically replaces the whole collection.
func (r *Repository) ReplaceAll(ctx context.Context, jobs []domain.Job) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM jobs`); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	for i := range jobs {
		if err := insertJob(ctx, tx, &jobs[i]); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrPersistence, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	return nil
}

// Find retrieves one job by id.
func (r *Repository) Find(ctx context.Context, id string) (*domain.Job, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, email, original_name, mime_type, extension, size,
		        status, payment_status, encrypted_path, encryption_nonce,
		        result_path, result_status, download_token, token_expires_at,
		        payment_session, uploaded_at, paid_at, completed_at
		 FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	return job, nil
}

// Update runs one load-mutate-replace cycle under the writer lock. fn gets the
// full collection and returns the collection to persist.
func (r *Repository) Update(ctx context.Context, fn func(jobs []domain.Job) ([]domain.Job, error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	jobs, err := r.LoadAll(ctx)
	if err != nil {
		return err
	}
	jobs, err = fn(jobs)
	if err != nil {
		return err
	}
	return r.ReplaceAll(ctx, jobs)
}

func insertJob(ctx context.Context, tx *sql.Tx, job *domain.Job) error {
	var token sql.NullString
	var tokenExpiry sql.NullTime
	if job.Grant != nil {
		token = sql.NullString{String: job.Grant.Token, Valid: true}
		tokenExpiry = sql.NullTime{Time: job.Grant.ExpiresAt, Valid: true}
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO jobs (id, email, original_name, mime_type, extension, size,
		                   status, payment_status, encrypted_path, encryption_nonce,
		                   result_path, result_status, download_token, token_expires_at,
		                   payment_session, uploaded_at, paid_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Email, job.OriginalName, job.MimeType, job.Extension, job.Size,
		string(job.Status), string(job.PaymentStatus), job.EncryptedPath, job.EncryptionNonce,
		job.ResultPath, string(job.ResultStatus), token, tokenExpiry,
		job.PaymentSessionID, job.UploadedAt, nullTime(job.PaidAt), nullTime(job.CompletedAt),
	)
	return err
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*domain.Job, error) {
	var job domain.Job
	var status, paymentStatus, resultStatus string
	var token sql.NullString
	var tokenExpiry, paidAt, completedAt sql.NullTime
	err := row.Scan(&job.ID, &job.Email, &job.OriginalName, &job.MimeType, &job.Extension, &job.Size,
		&status, &paymentStatus, &job.EncryptedPath, &job.EncryptionNonce,
		&job.ResultPath, &resultStatus, &token, &tokenExpiry,
		&job.PaymentSessionID, &job.UploadedAt, &paidAt, &completedAt)
	if err != nil {
		return nil, err
	}
	job.Status = domain.JobStatus(status)
	job.PaymentStatus = domain.PaymentStatus(paymentStatus)
	job.ResultStatus = domain.RepairStatus(resultStatus)
	if token.Valid {
		job.Grant = &domain.DownloadGrant{Token: token.String, ExpiresAt: tokenExpiry.Time}
	}
	if paidAt.Valid {
		job.PaidAt = paidAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = completedAt.Time
	}
	return &job, nil
}
