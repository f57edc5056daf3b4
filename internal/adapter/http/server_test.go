package http

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roppunt/fixframe/internal/adapter/payment"
	"github.com/roppunt/fixframe/internal/adapter/securestore"
	"github.com/roppunt/fixframe/internal/adapter/sqlite"
	"github.com/roppunt/fixframe/internal/domain"
	"github.com/roppunt/fixframe/internal/download"
	"github.com/roppunt/fixframe/internal/lifecycle"
)

// copyDispatcher fakes a clean tool run by copying the plaintext through.
type copyDispatcher struct{}

func (copyDispatcher) Repair(ctx context.Context, kind domain.MediaKind, src, dst string) (domain.RepairOutcome, error) {
	data, err := os.ReadFile(src)
	if err != nil {
		return domain.RepairOutcome{}, err
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return domain.RepairOutcome{}, err
	}
	return domain.RepairOutcome{Status: domain.RepairSuccess, ArtifactPath: dst}, nil
}

type noopNotifier struct{}

func (noopNotifier) Notify(ctx context.Context, job *domain.Job, template domain.NotificationTemplate) error {
	return nil
}

type testEnv struct {
	server *Server
	ctrl   *lifecycle.Controller
	repo   *sqlite.Repository
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	root := t.TempDir()
	paths := lifecycle.Paths{
		EncryptedDir: filepath.Join(root, "encrypted"),
		ResultsDir:   filepath.Join(root, "results"),
		TmpDir:       filepath.Join(root, "tmp"),
	}
	for _, dir := range []string{paths.EncryptedDir, paths.ResultsDir, paths.TmpDir} {
		require.NoError(t, os.MkdirAll(dir, 0o755))
	}

	repo, err := sqlite.New(filepath.Join(root, "jobs.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	key := make([]byte, 32)
	_, err = rand.Read(key)
	require.NoError(t, err)
	vault, err := securestore.New(hex.EncodeToString(key), true, slog.Default())
	require.NoError(t, err)

	ctrl := lifecycle.New(repo, vault, copyDispatcher{}, noopNotifier{}, &payment.TestGateway{},
		paths, 30*24*time.Hour, slog.Default())

	srv := NewServer(ctrl, download.New(repo), repo, Options{
		Addr:          ":0",
		TmpDir:        paths.TmpDir,
		MaxUploadSize: 64 << 20,
		PriceEUR:      4.95,
		AdminUser:     "admin",
		AdminPass:     "secret",
	}, slog.Default())

	return &testEnv{server: srv, ctrl: ctrl, repo: repo}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) upload(t *testing.T, filename, email string, payload []byte) map[string]any {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(payload)
	require.NoError(t, err)
	if email != "" {
		require.NoError(t, mw.WriteField("email", email))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := e.do(req)
	require.Equal(t, http.StatusCreated, rec.Code, "upload response: %s", rec.Body.String())

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestUploadConfirmDownloadScenario(t *testing.T) {
	env := newTestEnv(t)

	payload := make([]byte, 10<<20)
	_, err := rand.Read(payload)
	require.NoError(t, err)
	resp := env.upload(t, "holiday.png", "user@example.com", payload)

	job := resp["job"].(map[string]any)
	jobID := job["id"].(string)
	require.Equal(t, "awaiting_payment", job["status"])
	require.Equal(t, 4.95, resp["amount"])

	// Confirm payment; the repair runs detached.
	confirm := bytes.NewBufferString(`{"jobId":"` + jobID + `"}`)
	rec := env.do(httptest.NewRequest(http.MethodPost, "/api/payment/confirm", confirm))
	require.Equal(t, http.StatusOK, rec.Code)
	env.ctrl.Wait()

	stored, err := env.repo.Find(context.Background(), jobID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusReady, stored.Status)
	require.Equal(t, domain.PaymentPaid, stored.PaymentStatus)
	require.NotNil(t, stored.Grant)
	require.WithinDuration(t, time.Now().Add(30*24*time.Hour), stored.Grant.ExpiresAt, time.Minute)

	// Correct token downloads the artifact byte-for-byte.
	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/download/"+jobID+"?token="+stored.Grant.Token, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	got, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	require.Equal(t, payload, got)
	require.Contains(t, rec.Header().Get("Content-Disposition"), "holiday.png")

	// Wrong token is unauthorized.
	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/download/"+jobID+"?token=wrong", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// Missing token is a bad request.
	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/download/"+jobID, nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// Force the grant into the past: the same token is gone.
	require.NoError(t, env.repo.Update(context.Background(), func(jobs []domain.Job) ([]domain.Job, error) {
		for i := range jobs {
			if jobs[i].ID == jobID {
				jobs[i].Grant.ExpiresAt = time.Now().Add(-time.Minute)
			}
		}
		return jobs, nil
	}))
	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/download/"+jobID+"?token="+stored.Grant.Token, nil))
	require.Equal(t, http.StatusGone, rec.Code)
}

func TestUploadRejectsMissingEmail(t *testing.T) {
	env := newTestEnv(t)
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "x.png")
	require.NoError(t, err)
	fw.Write([]byte("data"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := env.do(req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadRejectsUnsupportedType(t *testing.T) {
	env := newTestEnv(t)
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "malware.exe")
	require.NoError(t, err)
	fw.Write([]byte("data"))
	require.NoError(t, mw.WriteField("email", "user@example.com"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := env.do(req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPaymentConfirmUnknownJob(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(httptest.NewRequest(http.MethodPost, "/api/payment/confirm",
		bytes.NewBufferString(`{"jobId":"missing"}`)))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDownloadUnknownJob(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/download/missing?token=abc", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminRequiresAuth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/admin/jobs", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/jobs", nil)
	req.SetBasicAuth("admin", "wrong")
	rec = env.do(req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/admin/jobs", nil)
	req.SetBasicAuth("admin", "secret")
	rec = env.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminRefund(t *testing.T) {
	env := newTestEnv(t)
	resp := env.upload(t, "clip.mp4", "user@example.com", []byte("video bytes"))
	jobID := resp["job"].(map[string]any)["id"].(string)

	req := httptest.NewRequest(http.MethodPost, "/api/admin/jobs/"+jobID+"/refund", nil)
	req.SetBasicAuth("admin", "secret")
	rec := env.do(req)
	require.Equal(t, http.StatusOK, rec.Code)

	stored, err := env.repo.Find(context.Background(), jobID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusManualReview, stored.Status)
	require.Equal(t, domain.PaymentRefunded, stored.PaymentStatus)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "ok", resp["status"])
}
