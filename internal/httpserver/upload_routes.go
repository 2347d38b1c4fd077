package httpserver

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"househunter/internal/domain"
)

const maxUploadSize = 10 << 20

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
}

// handleUpload stores one listing image from the multipart field "file"
// and returns the URL it is served under.
func handleUpload(uploadDir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := domain.Authorize(CurrentUser(r), domain.ActionEditListing, nil); err != nil {
			writeError(w, r, err)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
		if err := r.ParseMultipartForm(maxUploadSize); err != nil {
			badRequest(w, "failed to parse multipart form")
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			badRequest(w, "missing file")
			return
		}
		defer file.Close()

		ext := strings.ToLower(filepath.Ext(header.Filename))
		if !imageExtensions[ext] {
			badRequest(w, "file must be a jpg, png, gif or webp image")
			return
		}
		sniff := make([]byte, 512)
		n, _ := io.ReadFull(file, sniff)
		if !strings.HasPrefix(http.DetectContentType(sniff[:n]), "image/") {
			badRequest(w, "file content is not an image")
			return
		}
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			writeError(w, r, fmt.Errorf("rewind upload: %w", err))
			return
		}

		filename := uuid.NewString() + ext
		out, err := os.Create(filepath.Join(uploadDir, filename))
		if err != nil {
			writeError(w, r, fmt.Errorf("create upload: %w", err))
			return
		}
		defer out.Close()

		if _, err := io.Copy(out, file); err != nil {
			writeError(w, r, fmt.Errorf("save upload: %w", err))
			return
		}

		writeJSON(w, http.StatusCreated, map[string]any{
			"url":      "/api/uploads/" + filename,
			"filename": filename,
		})
	}
}

// handleServeUpload serves a stored file from uploadDir.
func handleServeUpload(uploadDir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filename := chi.URLParam(r, "filename")
		if filename == "" {
			badRequest(w, "missing filename")
			return
		}
		// Prevent path traversal by cleaning the path and not allowing separators.
		if filepath.Base(filename) != filename {
			badRequest(w, "invalid filename")
			return
		}
		http.ServeFile(w, r, filepath.Join(uploadDir, filename))
	}
}
