package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andresmejia3/checkmates/internal/faceid"
	"github.com/andresmejia3/checkmates/internal/types"
	"go.uber.org/zap"
)

// maxUploadBytes caps a single uploaded image.
var maxUploadBytes int64 = 32 << 20

var errUploadTooLarge = errors.New("image exceeds upload limit")

// FaceService is the enrollment and verification core.
type FaceService interface {
	Register(ctx context.Context, key string, image []byte) (string, error)
	Check(ctx context.Context, image []byte) (types.Match, error)
}

// Handler serves /register and /check.
type Handler struct {
	svc FaceService
	log *zap.Logger
}

func NewHandler(svc FaceService, log *zap.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readUpload returns the bytes of a multipart file field, or nil if it is absent.
func readUpload(r *http.Request, field string) ([]byte, error) {
	file, _, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxUploadBytes {
		return nil, errUploadTooLarge
	}
	return data, nil
}

// uploadError answers a failed readUpload or ParseMultipartForm.
func uploadError(w http.ResponseWriter, err error) {
	var tooBig *http.MaxBytesError
	if errors.Is(err, errUploadTooLarge) || errors.As(err, &tooBig) {
		respondError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("image must not exceed %d bytes", maxUploadBytes))
		return
	}
	respondError(w, http.StatusBadRequest, "failed to read image")
}

func (h *Handler) parseForm(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			uploadError(w, err)
			return false
		}
		respondError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return false
	}
	return true
}

// Register handles POST /register with form fields "email" and "image".
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	if !h.parseForm(w, r) {
		return
	}
	email := r.FormValue("email")
	image, err := readUpload(r, "image")
	if err != nil {
		uploadError(w, err)
		return
	}
	if email == "" || len(image) == 0 {
		respondError(w, http.StatusBadRequest, "email and image are required")
		return
	}

	ref, err := h.svc.Register(r.Context(), email, image)
	if err != nil {
		h.writeError(w, "register", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"message":   fmt.Sprintf("%s registered", email),
		"image_url": ref,
	})
}

// Check handles POST /check with form field "image".
func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	if !h.parseForm(w, r) {
		return
	}
	image, err := readUpload(r, "image")
	if err != nil {
		uploadError(w, err)
		return
	}
	if len(image) == 0 {
		respondError(w, http.StatusBadRequest, "image is required")
		return
	}

	match, err := h.svc.Check(r.Context(), image)
	if err != nil {
		h.writeError(w, "check", err)
		return
	}
	respondJSON(w, http.StatusOK, match)
}

// statusFor maps the error taxonomy to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, faceid.ErrValidation),
		errors.Is(err, faceid.ErrDecode),
		errors.Is(err, faceid.ErrNoFaceDetected):
		return http.StatusBadRequest
	case errors.Is(err, faceid.ErrNoMatch):
		return http.StatusNotFound
	case errors.Is(err, faceid.ErrStorage):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error(op+" failed", zap.String("error", sanitizeForLog(err.Error())))
		// Do not leak storage or worker internals
		respondError(w, status, http.StatusText(status))
		return
	}
	respondError(w, status, err.Error())
}
