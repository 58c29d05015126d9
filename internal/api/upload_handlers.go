package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/BTreeMap/MedBay/internal/models"
	"github.com/BTreeMap/MedBay/internal/upstream"
	"github.com/BTreeMap/MedBay/internal/xray"
)

type xrayUploadResponse struct {
	Status   string           `json:"status"`
	Filename string           `json:"filename"`
	Findings []models.Finding `json:"analysis_results"`
	Report   string           `json:"medical_report"`
	PDFURL   *string          `json:"pdf_url"`
}

// readUpload reads the "file" part of a multipart request.
func readUpload(r *http.Request) ([]byte, *multipart.FileHeader, error) {
	if err := r.ParseMultipartForm(MaxUploadBytes); err != nil {
		return nil, nil, fmt.Errorf("parse multipart form: %w", err)
	}
	f, header, err := r.FormFile("file")
	if err != nil {
		return nil, nil, fmt.Errorf("missing file: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, MaxUploadBytes+1))
	if err != nil {
		return nil, nil, fmt.Errorf("read file: %w", err)
	}
	if len(data) > MaxUploadBytes {
		return nil, nil, fmt.Errorf("file exceeds %d bytes", MaxUploadBytes)
	}
	return data, header, nil
}

// xrayUploadHandler handles POST /api/xray-upload
func (s *Server) xrayUploadHandler(w http.ResponseWriter, r *http.Request) {
	data, header, err := readUpload(r)
	if err != nil {
		slog.Warn("Server.xrayUploadHandler: bad upload", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("A file upload is required"))
		return
	}
	contentType := header.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("File provided is not an image."))
		return
	}
	if s.Analyzer == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("X-ray analysis is not configured"))
		return
	}

	analysis, err := s.Analyzer.Analyze(r.Context(), header.Filename, contentType, data)
	switch {
	case errors.Is(err, xray.ErrNoFindings):
		analysis.Report = s.Analyzer.Report(r.Context(), analysis.Findings)
	case err != nil:
		slog.Error("Server.xrayUploadHandler: analysis failed", "error", err, "filename", header.Filename)
		writeJSONResponse(w, upstream.HTTPStatus(err), models.Error("X-ray analysis failed: "+err.Error()))
		return
	}

	resp := xrayUploadResponse{
		Status:   "success",
		Filename: header.Filename,
		Findings: analysis.Findings,
		Report:   analysis.Report,
	}
	if s.Reports != nil {
		url, err := s.Reports.Publish(r.Context(), header.Filename, analysis.Report, analysis.Findings)
		if err != nil {
			slog.Error("Server.xrayUploadHandler: report publish failed", "error", err, "filename", header.Filename)
		} else {
			resp.PDFURL = &url
		}
	}
	slog.Info("Server.xrayUploadHandler: analysis complete", "filename", header.Filename, "findings", len(analysis.Findings), "pdf", resp.PDFURL != nil)
	writeJSONResponse(w, http.StatusOK, resp)
}

func isPDF(header *multipart.FileHeader) bool {
	if strings.EqualFold(filepath.Ext(header.Filename), ".pdf") {
		return true
	}
	return header.Header.Get("Content-Type") == "application/pdf"
}

// documentUploadHandler handles POST /api/document/upload/
func (s *Server) documentUploadHandler(w http.ResponseWriter, r *http.Request) {
	data, header, err := readUpload(r)
	if err != nil {
		slog.Warn("Server.documentUploadHandler: bad upload", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("A file upload is required"))
		return
	}
	userID := strings.TrimSpace(r.FormValue("user_id"))
	if userID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("user_id is required"))
		return
	}
	if !isPDF(header) {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Only PDF documents are supported."))
		return
	}
	if s.Documents == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Document service is not configured"))
		return
	}
	resp, err := s.Documents.Upload(r.Context(), userID, header.Filename, "application/pdf", data)
	if err != nil {
		slog.Error("Server.documentUploadHandler: upload failed", "error", err, "user_id", userID)
		writeJSONResponse(w, upstream.HTTPStatus(err), models.Error("Document upload failed: "+err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

// documentQueryHandler handles POST /api/document/query
func (s *Server) documentQueryHandler(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.FormValue("user_id"))
	question := strings.TrimSpace(r.FormValue("question"))
	if userID == "" || question == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("user_id and question are required"))
		return
	}
	if s.Documents == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Document service is not configured"))
		return
	}
	answer, err := s.Documents.Query(r.Context(), userID, question)
	if err != nil {
		slog.Error("Server.documentQueryHandler: query failed", "error", err, "user_id", userID)
		writeJSONResponse(w, upstream.HTTPStatus(err), models.Error("Document query failed: "+err.Error()))
		return
	}
	if len(answer.Raw) > 0 {
		writeJSONResponse(w, http.StatusOK, answer.Raw)
		return
	}
	writeJSONResponse(w, http.StatusOK, answer)
}
