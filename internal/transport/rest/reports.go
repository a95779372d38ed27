package rest

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"libcirc/internal/transport/auth"
)

const maxProofUploadSize = 10 << 20 // 10 MB

func (h *Handler) loansReport(w http.ResponseWriter, r *http.Request) {
	if !auth.IsAdmin(r.Context()) {
		ErrorForbidden(w, "admin only")
		return
	}

	var selected []string
	if raw := r.URL.Query().Get("fields"); raw != "" {
		selected = strings.Split(raw, ",")
	}

	data, fileName, err := h.reports.BuildLoansReport(r.Context(), selected)
	if err != nil {
		log.Printf("[HTTP] loans report error: %v", err)
		ErrorInternal(w, "failed to build report")
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fileName))
	_, _ = io.Copy(w, bytes.NewReader(data))
}

func (h *Handler) uploadProof(w http.ResponseWriter, r *http.Request) {
	if _, err := auth.GetUserID(r.Context()); err != nil {
		ErrorUnauthorized(w, "Unauthorized")
		return
	}

	if err := r.ParseMultipartForm(maxProofUploadSize); err != nil {
		ErrorBadRequest(w, "invalid form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		ErrorBadRequest(w, "file required")
		return
	}
	defer file.Close()

	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(file); err != nil {
		ErrorInternal(w, "failed to read file")
		return
	}

	contentType := header.Header.Get("Content-Type")
	ref, err := h.proofs.Save(r.Context(), header.Filename, buf.Bytes(), contentType)
	if err != nil {
		log.Printf("[HTTP] proof save error: %v", err)
		ErrorInternal(w, "failed to save file")
		return
	}

	url, err := h.proofs.URL(r.Context(), ref)
	if err != nil {
		log.Printf("[HTTP] proof URL error: %v", err)
		url = ""
	}

	SuccessCreated(w, "proof uploaded", map[string]interface{}{
		"ref": ref,
		"url": url,
	})
}
