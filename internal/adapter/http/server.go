// Package http is the thin request/response surface over the job pipeline:
// intake, payment confirmation, token-gated downloads, and the basic-auth
// operator endpoints.
package http

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/roppunt/fixframe/internal/domain"
	"github.com/roppunt/fixframe/internal/download"
	"github.com/roppunt/fixframe/internal/lifecycle"
)

// Options carries the request-surface knobs the handlers need.
type Options struct {
	Addr          string
	TmpDir        string
	MaxUploadSize int64
	PriceEUR      float64
	AdminUser     string
	AdminPass     string
}

// Server is the HTTP adapter for the repair service.
type Server struct {
	ctrl       *lifecycle.Controller
	authorizer *download.Authorizer
	repo       domain.JobRepository
	opts       Options
	logger     *slog.Logger
	mux        *http.ServeMux
	server     *http.Server
}

// NewServer wires the routes.
func NewServer(ctrl *lifecycle.Controller, authorizer *download.Authorizer, repo domain.JobRepository, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		ctrl:       ctrl,
		authorizer: authorizer,
		repo:       repo,
		opts:       opts,
		logger:     logger,
		mux:        http.NewServeMux(),
	}
	s.routes()
	s.server = &http.Server{Addr: opts.Addr, Handler: s.mux}
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /api/upload", s.handleUpload)
	s.mux.HandleFunc("POST /api/payment/intent", s.handlePaymentIntent)
	s.mux.HandleFunc("POST /api/payment/confirm", s.handlePaymentConfirm)
	s.mux.HandleFunc("GET /api/download/{jobId}", s.handleDownload)
	s.mux.HandleFunc("HEAD /api/download/{jobId}", s.handleDownload)
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/config", s.handleConfig)
	s.mux.HandleFunc("GET /api/admin/jobs", s.requireAdmin(s.handleAdminJobs))
	s.mux.HandleFunc("POST /api/admin/jobs/{jobId}/refund", s.requireAdmin(s.handleAdminRefund))
}

// jobResponse is the JSON shape for job records.
type jobResponse struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	OriginalName  string `json:"originalName"`
	MimeType      string `json:"mimeType"`
	Extension     string `json:"extension"`
	Size          int64  `json:"size"`
	Status        string `json:"status"`
	PaymentStatus string `json:"paymentStatus"`
	UploadedAt    string `json:"uploadedAt"`
	PaidAt        string `json:"paidAt,omitempty"`
	CompletedAt   string `json:"completedAt,omitempty"`
	Downloadable  bool   `json:"downloadable"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadSize)
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "no file received")
		return
	}
	defer file.Close()

	email := r.FormValue("email")
	if email == "" {
		s.writeError(w, http.StatusBadRequest, "an email address is required")
		return
	}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !domain.AllowedExtension(ext) {
		s.writeError(w, http.StatusBadRequest, "this file type is not supported")
		return
	}

	tempPath, size, err := s.spoolUpload(file, header)
	if err != nil {
		s.logger.Error("upload spool failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "upload failed")
		return
	}

	job, err := s.ctrl.CreateJob(r.Context(), domain.IntakeFile{
		TempPath:     tempPath,
		OriginalName: header.Filename,
		MimeType:     header.Header.Get("Content-Type"),
		Extension:    ext,
		Size:         size,
		Email:        email,
	})
	if err != nil {
		os.Remove(tempPath)
		s.writeDomainError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, map[string]any{
		"message": "Upload received. Complete the payment to start the repair.",
		"job":     jobToResponse(job),
		"amount":  s.opts.PriceEUR,
	})
}

// spoolUpload stores the multipart part in the scratch dir so the controller
// can take ownership of a plain file path.
func (s *Server) spoolUpload(file multipart.File, header *multipart.FileHeader) (string, int64, error) {
	tmp, err := os.CreateTemp(s.opts.TmpDir, fmt.Sprintf("upload-*-%s", filepath.Base(header.Filename)))
	if err != nil {
		return "", 0, err
	}
	size, err := io.Copy(tmp, file)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return "", 0, err
	}
	return tmp.Name(), size, nil
}

type paymentRequest struct {
	JobID     string `json:"jobId"`
	SessionID string `json:"sessionId"`
}

func (s *Server) handlePaymentIntent(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.JobID == "" {
		s.writeError(w, http.StatusBadRequest, "jobId is required")
		return
	}
	session, err := s.ctrl.StartCheckout(r.Context(), req.JobID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"provider":    session.Provider,
		"sessionId":   session.ID,
		"checkoutUrl": session.URL,
	})
}

func (s *Server) handlePaymentConfirm(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.JobID == "" {
		s.writeError(w, http.StatusBadRequest, "jobId is required")
		return
	}
	if err := s.ctrl.ConfirmPayment(r.Context(), req.JobID, req.SessionID); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"message": "Payment confirmed. Repair started.",
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	job, err := s.authorizer.Authorize(r.Context(), r.PathValue("jobId"), r.URL.Query().Get("token"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", job.ResultName()))
	http.ServeFile(w, r, job.ResultPath)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"paymentProvider": "test",
		"price":           s.opts.PriceEUR,
	})
}

func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.opts.AdminUser)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(s.opts.AdminPass)) == 1
		if !ok || !userOK || !passOK {
			w.Header().Set("WWW-Authenticate", `Basic realm="fixframe admin"`)
			s.writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleAdminJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.repo.LoadAll(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	out := make([]jobResponse, 0, len(jobs))
	for i := range jobs {
		out = append(out, jobToResponse(&jobs[i]))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAdminRefund(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.ManualRefund(r.Context(), r.PathValue("jobId")); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"message": "Refund recorded."})
}

// writeDomainError maps the error taxonomy onto HTTP statuses.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		s.writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, domain.ErrGone):
		s.writeError(w, http.StatusGone, err.Error())
	default:
		s.logger.Error("internal error", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

func jobToResponse(job *domain.Job) jobResponse {
	resp := jobResponse{
		ID:            job.ID,
		Email:         job.Email,
		OriginalName:  job.OriginalName,
		MimeType:      job.MimeType,
		Extension:     job.Extension,
		Size:          job.Size,
		Status:        string(job.Status),
		PaymentStatus: string(job.PaymentStatus),
		UploadedAt:    job.UploadedAt.UTC().Format(time.RFC3339),
		Downloadable:  job.Downloadable(time.Now()),
	}
	if !job.PaidAt.IsZero() {
		resp.PaidAt = job.PaidAt.UTC().Format(time.RFC3339)
	}
	if !job.CompletedAt.IsZero() {
		resp.CompletedAt = job.CompletedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// ServeHTTP implements http.Handler for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
