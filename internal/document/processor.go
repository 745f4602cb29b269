package document

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"unicode"
)

// Extractor converts raw bytes of one format into a Document.
// Implementations must not retain data after returning.
type Extractor interface {
	Extract(ctx context.Context, data []byte) (*Document, error)
}

// ProcessorConfig configures a Processor.
type ProcessorConfig struct {
	Logger *slog.Logger

	// PDFToTextPath overrides the pdftotext binary (default: "pdftotext" from PATH).
	PDFToTextPath string
}

// Processor dispatches extraction by declared format.
type Processor struct {
	logger     *slog.Logger
	extractors map[Format]Extractor
}

// NewProcessor creates a processor with extractors for every supported format.
func NewProcessor(cfg ProcessorConfig) *Processor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		logger: logger.With("component", "document"),
		extractors: map[Format]Extractor{
			FormatText:     textExtractor{},
			FormatMarkdown: markdownExtractor{},
			FormatPDF:      &pdfExtractor{binary: cfg.PDFToTextPath},
			FormatDOCX:     docxExtractor{},
		},
	}
}

// Process extracts a document from raw bytes and a declared format or extension.
func (p *Processor) Process(ctx context.Context, data []byte, declared string) (*Document, error) {
	format, err := ParseFormat(declared)
	if err != nil {
		return nil, err
	}
	ex, ok := p.extractors[format]
	if !ok {
		return nil, &UnsupportedFormatError{Format: declared}
	}
	if len(data) == 0 {
		return nil, &CorruptDocumentError{Format: format, Reason: "empty payload"}
	}

	doc, err := ex.Extract(ctx, data)
	if err != nil {
		return nil, err
	}
	doc.Format = format
	if strings.TrimSpace(doc.Text()) == "" {
		return nil, &CorruptDocumentError{Format: format, Reason: "no extractable text"}
	}

	p.logger.Debug("document extracted",
		"format", format,
		"blocks", len(doc.Blocks),
		"has_headings", doc.HasHeadings(),
		"chars", len(doc.Text()))
	return doc, nil
}

// textExtractor handles plain text. Paragraphs are separated by blank lines;
// hard-wrapped lines inside a paragraph are joined with spaces.
type textExtractor struct{}

func (textExtractor) Extract(_ context.Context, data []byte) (*Document, error) {
	text := cleanText(string(data))
	doc := &Document{}
	for _, page := range strings.Split(text, "\f") {
		if len(doc.Blocks) > 0 {
			doc.Blocks = append(doc.Blocks, Block{Kind: BlockPageBreak})
		}
		doc.Blocks = append(doc.Blocks, paragraphBlocks(page)...)
	}
	return doc, nil
}

var blankLines = regexp.MustCompile(`\n[ \t]*\n+`)

// paragraphBlocks splits text on blank lines. A first line that looks like a
// chapter heading is split into its own paragraph so the segmenter can find it.
func paragraphBlocks(text string) []Block {
	var blocks []Block
	for _, para := range blankLines.Split(text, -1) {
		lines := strings.Split(strings.TrimSpace(para), "\n")
		if len(lines) > 1 && LooksLikeHeading(lines[0]) {
			blocks = append(blocks, Block{Kind: BlockParagraph, Text: collapseSpace(lines[0])})
			lines = lines[1:]
		}
		joined := collapseSpace(strings.Join(lines, " "))
		if joined != "" {
			blocks = append(blocks, Block{Kind: BlockParagraph, Text: joined})
		}
	}
	return blocks
}

// cleanText normalizes line endings and drops control characters other than
// newline, tab and form feed.
func cleanText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.TrimPrefix(text, "\ufeff")
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' || r == '\f' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, text)
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

var headingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^(?i:chapter)\s+(\d+|[IVXLC]+|[A-Za-z-]+)\b([.:]\s*.{0,80})?$`),
	regexp.MustCompile(`^(?i:chapter)\s+\d+\s*[-:]?\s*.{0,80}$`),
	regexp.MustCompile(`^(?i:part|book|section)\s+(\d+|[IVXLC]+)\b([.:]?\s*.{0,80})?$`),
	regexp.MustCompile(`^[IVXLC]+\.\s+\S.{0,80}$`),
	regexp.MustCompile(`^(?i:prologue|epilogue|introduction|preface|afterword)([.:]?\s*[-:]\s*.{0,60})?$`),
}

// LooksLikeHeading reports whether a single line matches a common chapter heading
// pattern ("Chapter 3: Title", "PART II", "IV. Title", an all-caps line).
func LooksLikeHeading(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" || len(line) > 100 || strings.HasSuffix(line, ".") {
		return false
	}
	for _, re := range headingPatterns {
		if re.MatchString(line) {
			return true
		}
	}
	return isAllCapsTitle(line)
}

func isAllCapsTitle(line string) bool {
	letters := 0
	for _, r := range line {
		if unicode.IsLetter(r) {
			if !unicode.IsUpper(r) {
				return false
			}
			letters++
			continue
		}
		if !unicode.IsSpace(r) && !strings.ContainsRune("'-:,&", r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return letters >= 4 && len(strings.Fields(line)) <= 8
}
