package document

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// pdfExtractor validates the PDF with pdfcpu and extracts text with
// pdftotext (poppler-utils), which separates pages with form feeds.
type pdfExtractor struct {
	binary string
}

func (e *pdfExtractor) Extract(ctx context.Context, data []byte) (*Document, error) {
	pageCount, err := api.PageCount(bytes.NewReader(data), nil)
	if err != nil {
		return nil, &CorruptDocumentError{Format: FormatPDF, Reason: "read page tree", Err: err}
	}
	if pageCount == 0 {
		return nil, &CorruptDocumentError{Format: FormatPDF, Reason: "document has no pages"}
	}

	out, err := e.pdfToText(ctx, data)
	if err != nil {
		return nil, err
	}

	doc, err := textExtractor{}.Extract(ctx, out)
	if err != nil {
		return nil, &CorruptDocumentError{Format: FormatPDF, Reason: "parse extracted text", Err: err}
	}
	return doc, nil
}

func (e *pdfExtractor) pdfToText(ctx context.Context, data []byte) ([]byte, error) {
	binary := e.binary
	if binary == "" {
		binary = "pdftotext"
	}
	if _, err := exec.LookPath(binary); err != nil {
		return nil, fmt.Errorf("pdf text extraction unavailable: %w", err)
	}

	tmp, err := os.CreateTemp("", "narrator-pdf-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to close temp file: %w", err)
	}

	// -enc UTF-8: output encoding
	// -: write to stdout
	cmd := exec.CommandContext(ctx, binary, "-enc", "UTF-8", tmp.Name(), "-")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, &CorruptDocumentError{Format: FormatPDF, Reason: "pdftotext failed: " + stderr.String(), Err: err}
	}
	return out, nil
}
