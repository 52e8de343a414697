package receipt

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/zombor/medbill/internal/analysis"
	"github.com/zombor/medbill/internal/scanning"
)

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// writeJSON writes v as a JSON response with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeError writes an {"error": message} body with CORS headers set
func writeError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, map[string]string{"error": message})
}

// analysisErrorStatus maps a failed analysis to an HTTP status code
func analysisErrorStatus(err error) int {
	var (
		parseErr  *analysis.ParseError
		schemaErr *analysis.SchemaError
		reconErr  *analysis.ReconciliationError
	)
	switch {
	case errors.Is(err, ErrUnsupportedImage):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, scanning.ErrUnreadableImage):
		return http.StatusUnprocessableEntity
	case errors.As(err, &parseErr), errors.As(err, &schemaErr), errors.As(err, &reconErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, scanning.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, scanning.ErrUnauthorized):
		return http.StatusBadGateway
	case errors.Is(err, scanning.ErrNetwork):
		return http.StatusGatewayTimeout
	case errors.Is(err, scanning.ErrAPI):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// analysisErrorMessage picks the message a user should see for a failed analysis
func analysisErrorMessage(err error) string {
	var te *scanning.TransportError
	if errors.As(err, &te) {
		return te.Category.Error()
	}
	var stageErr *analysis.StageError
	if errors.As(err, &stageErr) {
		return stageErr.Err.Error()
	}
	if errors.Is(err, ErrUnsupportedImage) {
		return ErrUnsupportedImage.Error()
	}
	if errors.Is(err, scanning.ErrUnreadableImage) {
		return scanning.ErrUnreadableImage.Error()
	}
	return "Failed to analyze bill. Please try again."
}

// handleAnalyzeBill runs the two-phase analysis on an uploaded bill
func (s *Server) handleAnalyzeBill(w http.ResponseWriter, r *http.Request) {
	tooLarge := fmt.Sprintf("File is too large. Maximum size is %dMB. Please compress or resize your image.", s.maxUpload>>20)

	// multipart overhead on top of the file itself
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+(1<<20))
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, tooLarge, http.StatusRequestEntityTooLarge)
			return
		}
		writeError(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		errorMsg := "No file provided"
		if errors.Is(err, http.ErrMissingFile) {
			errorMsg = "No file was selected. Please choose a file to upload."
		}
		writeError(w, errorMsg, http.StatusBadRequest)
		return
	}
	defer f.Close()

	if header.Size > s.maxUpload {
		writeError(w, tooLarge, http.StatusRequestEntityTooLarge)
		return
	}

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, "Error reading file. Please try again.", http.StatusInternalServerError)
		return
	}

	events := make([]analysis.Event, 0, 5)
	progress := func(e analysis.Event) {
		events = append(events, e)
	}

	receipt, err := s.service.AnalyzeBill(
		r.Context(),
		header.Filename,
		data,
		header.Header.Get("Content-Type"),
		r.FormValue("country"),
		r.FormValue("originCountry"),
		progress,
	)
	if err != nil {
		slog.Error("Error analyzing bill", "filename", header.Filename, "error", err)
		writeError(w, analysisErrorMessage(err), analysisErrorStatus(err))
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"receipt": receipt,
		"events":  events,
	})
}

// handleListReceipts returns history, newest first
func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	receipts, err := s.service.ListReceipts()
	if err != nil {
		slog.Error("Error listing receipts", "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, receipts)
}

// handleGetReceipt returns a single receipt
func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, "Receipt ID required", http.StatusBadRequest)
		return
	}
	receipt, err := s.service.GetReceipt(id)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			slog.Error("Error getting receipt", "id", id, "error", err)
		}
		writeError(w, "Receipt not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// handleGetReceiptFile returns the uploaded image for a receipt
func (s *Server) handleGetReceiptFile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, "Receipt ID required", http.StatusBadRequest)
		return
	}
	data, contentType, err := s.service.GetReceiptFile(id)
	if err != nil {
		writeError(w, "File not found", http.StatusNotFound)
		return
	}

	setCORSHeaders(w)
	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleDeleteReceipt deletes a receipt
func (s *Server) handleDeleteReceipt(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, "Receipt ID required", http.StatusBadRequest)
		return
	}
	if err := s.service.DeleteReceipt(id); err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, "Receipt not found", http.StatusNotFound)
			return
		}
		slog.Error("Error deleting receipt", "id", id, "error", err)
		writeError(w, "Error deleting receipt", http.StatusInternalServerError)
		return
	}

	setCORSHeaders(w)
	w.WriteHeader(http.StatusNoContent)
}

// handleClearHistory deletes every receipt
func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := s.service.ClearHistory(); err != nil {
		slog.Error("Error clearing history", "error", err)
		writeError(w, "Error clearing history", http.StatusInternalServerError)
		return
	}

	setCORSHeaders(w)
	w.WriteHeader(http.StatusNoContent)
}

// handleStatistics returns aggregate savings over history
func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.Statistics()
	if err != nil {
		slog.Error("Error computing statistics", "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleExport downloads the whole history as a JSON file
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := s.service.ExportJSON(&buf); err != nil {
		slog.Error("Error exporting history", "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, s.service.ExportFilename()))
	w.Write(buf.Bytes())
}

// handleHealth reports liveness
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
