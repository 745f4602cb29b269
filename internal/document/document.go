// Package document extracts narratable text and structural hints from input documents.
package document

import (
	"fmt"
	"strings"

	"github.com/jackzampolin/narrator/internal/faults"
)

// Format identifies a supported input document format.
type Format string

const (
	FormatText     Format = "txt"
	FormatMarkdown Format = "md"
	FormatPDF      Format = "pdf"
	FormatDOCX     Format = "docx"
)

// BlockKind classifies a block of extracted text.
type BlockKind string

const (
	BlockParagraph BlockKind = "paragraph"
	BlockHeading   BlockKind = "heading"
	BlockPageBreak BlockKind = "page_break"
)

// Block is one structural unit of a document, in reading order.
type Block struct {
	Kind  BlockKind
	Text  string
	Level int // heading level (1 = top), zero for other kinds
}

// Document is the ordered result of extraction.
type Document struct {
	Format Format
	Title  string
	Blocks []Block
}

// ParagraphSeparator joins text blocks when a document or chapter is flattened.
const ParagraphSeparator = "\n\n"

// Text returns the narratable text of the document: every heading and paragraph
// block joined by ParagraphSeparator. Page breaks carry no text.
func (d *Document) Text() string {
	parts := make([]string, 0, len(d.Blocks))
	for _, b := range d.Blocks {
		if b.Kind == BlockPageBreak || b.Text == "" {
			continue
		}
		parts = append(parts, b.Text)
	}
	return strings.Join(parts, ParagraphSeparator)
}

// HasHeadings reports whether extraction produced explicit heading hints.
func (d *Document) HasHeadings() bool {
	for _, b := range d.Blocks {
		if b.Kind == BlockHeading {
			return true
		}
	}
	return false
}

// UnsupportedFormatError is returned for formats no extractor handles.
type UnsupportedFormatError struct {
	Format string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported document format %q (supported: %s)", e.Format, strings.Join(SupportedFormats(), ", "))
}

// FaultKind classifies the error as an input failure.
func (e *UnsupportedFormatError) FaultKind() faults.Kind { return faults.KindInput }

// CorruptDocumentError is returned when a payload cannot be parsed as its declared format.
type CorruptDocumentError struct {
	Format Format
	Reason string
	Err    error
}

func (e *CorruptDocumentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("corrupt %s document: %s: %v", e.Format, e.Reason, e.Err)
	}
	return fmt.Sprintf("corrupt %s document: %s", e.Format, e.Reason)
}

func (e *CorruptDocumentError) Unwrap() error { return e.Err }

// FaultKind classifies the error as an input failure.
func (e *CorruptDocumentError) FaultKind() faults.Kind { return faults.KindInput }

// SupportedFormats lists the accepted format names.
func SupportedFormats() []string {
	return []string{string(FormatText), string(FormatMarkdown), string(FormatPDF), string(FormatDOCX)}
}

// ParseFormat maps a declared extension or format name to a Format.
func ParseFormat(declared string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(declared), ".")) {
	case "txt", "text":
		return FormatText, nil
	case "md", "markdown":
		return FormatMarkdown, nil
	case "pdf":
		return FormatPDF, nil
	case "docx":
		return FormatDOCX, nil
	default:
		return "", &UnsupportedFormatError{Format: declared}
	}
}
