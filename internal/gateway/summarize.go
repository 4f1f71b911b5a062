// ABOUTME: HTTP endpoint that summarizes pasted chat text or uploaded PDF transcripts
// ABOUTME: Uses the same summarizer and PDF extractor as the bot identity

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/2389/parlor-gateway/internal/llm"
	"github.com/2389/parlor-gateway/internal/pdftext"
)

// Multipart field names accepted by /api/summarize_chat.
const (
	fieldContent      = "content"
	fieldContentPDF   = "content_pdf"
	fieldContextPDF   = "context_pdf"
	fieldCustomPrompt = "custom_prompt"
)

// formMemory is how much of a multipart body is held in memory before
// spilling file parts to disk.
const formMemory = 1 << 20

// SummarizeResponse is the success body of /api/summarize_chat.
type SummarizeResponse struct {
	Summary string `json:"summary"`
}

// handleSummarizeChat handles POST /api/summarize_chat.
//
// The text to summarize comes from content_pdf when uploaded, otherwise from
// the content field. An optional context_pdf is prepended as background and
// custom_prompt replaces the default instruction.
func (g *Gateway) handleSummarizeChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		g.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	// two PDFs at the limit plus the text fields
	r.Body = http.MaxBytesReader(w, r.Body, 2*g.pdf.MaxBytes+formMemory)
	if err := r.ParseMultipartForm(formMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			g.sendJSONError(w, http.StatusBadRequest, fmt.Sprintf("upload exceeds %s", formatMB(g.pdf.MaxBytes)))
			return
		}
		g.sendJSONError(w, http.StatusBadRequest, "expected a multipart form: "+err.Error())
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	content := strings.TrimSpace(r.FormValue(fieldContent))
	pdfContent, err := g.readPDF(r, fieldContentPDF)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if pdfContent != "" {
		content = pdfContent
	}
	if content == "" {
		g.sendJSONError(w, http.StatusBadRequest, "content or content_pdf is required")
		return
	}

	background, err := g.readPDF(r, fieldContextPDF)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	prompt := strings.TrimSpace(r.FormValue(fieldCustomPrompt))
	if prompt == "" {
		prompt = g.botPrompt
	}

	text := content
	if background != "" {
		text = "Background:\n" + background + "\n\nChat record:\n" + content
	}

	if g.summarizer == nil {
		g.sendJSONError(w, http.StatusServiceUnavailable, llm.ErrNotConfigured.Error())
		return
	}

	summary, err := g.summarizer.Summarize(r.Context(), prompt, text)
	if err != nil {
		g.logger.Warn("summarize request failed", "error", err)
		status := http.StatusBadGateway
		if errors.Is(err, llm.ErrNotConfigured) {
			status = http.StatusServiceUnavailable
		}
		g.sendJSONError(w, status, "summarization failed: "+err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(SummarizeResponse{Summary: summary})
}

// readPDF extracts the text of an uploaded PDF field. A missing field yields
// an empty string and no error.
func (g *Gateway) readPDF(r *http.Request, field string) (string, error) {
	file, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", field, err)
	}
	defer func() { _ = file.Close() }()

	if header.Size > g.pdf.MaxBytes {
		return "", fmt.Errorf("%s must not exceed %s", field, formatMB(g.pdf.MaxBytes))
	}

	data, err := io.ReadAll(io.LimitReader(file, g.pdf.MaxBytes+1))
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", field, err)
	}

	text, err := g.pdf.Extract(data)
	switch {
	case errors.Is(err, pdftext.ErrTooLarge):
		return "", fmt.Errorf("%s must not exceed %s", field, formatMB(g.pdf.MaxBytes))
	case err != nil:
		return "", fmt.Errorf("%s: %w", field, err)
	}
	return text, nil
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func formatMB(n int64) string {
	return fmt.Sprintf("%dMB", n>>20)
}
