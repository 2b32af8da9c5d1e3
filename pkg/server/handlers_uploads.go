package server

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
)

// handleBatchUpload handles POST /api/batch-upload with one or more "files"
// parts. Each file is stored for a later bulk submission.
func (s *Server) handleBatchUpload(w http.ResponseWriter, r *http.Request) {
	if err := parseMultipart(w, r); err != nil {
		writeError(w, http.StatusBadRequest, "No files uploaded", err)
		return
	}
	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		writeError(w, http.StatusBadRequest, "No files uploaded", nil)
		return
	}

	ids := make([]string, 0, len(headers))
	for _, hdr := range headers {
		data, err := readPart(hdr.Open)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Failed to upload files", err)
			return
		}
		up, err := s.uploads.StoreUpload(hdr.Filename, hdr.Header.Get("Content-Type"), data)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to upload files", err)
			return
		}
		ids = append(ids, up.ID)
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "invoiceIds": ids, "count": len(ids)})
}

// handleBatchInfo handles GET /api/batch-upload?invoiceId=
func (s *Server) handleBatchInfo(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("invoiceId")
	if id == "" {
		writeError(w, http.StatusBadRequest, "Invoice ID is required", nil)
		return
	}
	up, err := s.uploads.LoadUpload(id)
	if err != nil {
		writeError(w, statusFor(err), "Invoice not found", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "invoice": up})
}

// handleBatchDelete handles DELETE /api/batch-upload?invoiceId=
func (s *Server) handleBatchDelete(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("invoiceId")
	if id == "" {
		writeError(w, http.StatusBadRequest, "Invoice ID is required", nil)
		return
	}
	if err := s.uploads.DeleteUpload(id); err != nil {
		writeError(w, statusFor(err), "Invoice not found", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleBatchFile handles GET /api/batch-file?invoiceId=, returning the
// stored receipt itself.
func (s *Server) handleBatchFile(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("invoiceId")
	if id == "" {
		writeError(w, http.StatusBadRequest, "Invoice ID is required", nil)
		return
	}
	up, data, err := s.uploads.ReadUpload(id)
	if err != nil {
		writeError(w, statusFor(err), "Invoice file not found", err)
		return
	}

	contentType := up.FileType
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", up.FileName))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func readPart(open func() (multipart.File, error)) ([]byte, error) {
	f, err := open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return io.ReadAll(f)
}
