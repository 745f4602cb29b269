package document

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"io"
	"strconv"
	"strings"
)

// docxExtractor reads word/document.xml from an Office Open XML package.
// Paragraphs styled Heading1..9 or Title become heading blocks.
type docxExtractor struct{}

const docxBodyPart = "word/document.xml"

func (docxExtractor) Extract(_ context.Context, data []byte) (*Document, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, &CorruptDocumentError{Format: FormatDOCX, Reason: "not a zip package", Err: err}
	}

	var body *zip.File
	for _, f := range zr.File {
		if f.Name == docxBodyPart {
			body = f
			break
		}
	}
	if body == nil {
		return nil, &CorruptDocumentError{Format: FormatDOCX, Reason: "missing " + docxBodyPart}
	}

	rc, err := body.Open()
	if err != nil {
		return nil, &CorruptDocumentError{Format: FormatDOCX, Reason: "open " + docxBodyPart, Err: err}
	}
	defer rc.Close()

	doc, err := parseDocxBody(rc)
	if err != nil {
		return nil, &CorruptDocumentError{Format: FormatDOCX, Reason: "parse " + docxBodyPart, Err: err}
	}
	return doc, nil
}

// wordNS is the WordprocessingML main namespace.
const wordNS = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"

func parseDocxBody(r io.Reader) (*Document, error) {
	dec := xml.NewDecoder(r)
	doc := &Document{}

	var (
		inParagraph bool
		inText      bool
		style       string
		text        strings.Builder
	)

	flush := func() {
		t := collapseSpace(cleanText(text.String()))
		text.Reset()
		if t == "" {
			return
		}
		if level := headingLevel(style); level > 0 {
			doc.Blocks = append(doc.Blocks, Block{Kind: BlockHeading, Text: t, Level: level})
			if doc.Title == "" && level == 1 {
				doc.Title = t
			}
			return
		}
		doc.Blocks = append(doc.Blocks, Block{Kind: BlockParagraph, Text: t})
	}

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch el := tok.(type) {
		case xml.StartElement:
			if el.Name.Space != wordNS {
				continue
			}
			switch el.Name.Local {
			case "p":
				inParagraph = true
				style = ""
			case "pStyle":
				style = attr(el, "val")
			case "t":
				inText = true
			case "tab":
				if inParagraph {
					text.WriteByte(' ')
				}
			case "br":
				if attr(el, "type") == "page" {
					flush()
					doc.Blocks = append(doc.Blocks, Block{Kind: BlockPageBreak})
				} else if inParagraph {
					text.WriteByte(' ')
				}
			}
		case xml.EndElement:
			if el.Name.Space != wordNS {
				continue
			}
			switch el.Name.Local {
			case "t":
				inText = false
			case "p":
				flush()
				inParagraph = false
			}
		case xml.CharData:
			if inText {
				text.Write(el)
			}
		}
	}
	return doc, nil
}

func attr(el xml.StartElement, local string) string {
	for _, a := range el.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

// headingLevel maps a paragraph style id to a heading level, zero if none.
func headingLevel(style string) int {
	s := strings.ToLower(strings.ReplaceAll(style, " ", ""))
	switch {
	case s == "title":
		return 1
	case strings.HasPrefix(s, "heading"):
		n, err := strconv.Atoi(strings.TrimPrefix(s, "heading"))
		if err != nil || n < 1 {
			return 1
		}
		return n
	}
	return 0
}
