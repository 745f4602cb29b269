package document

import (
	"context"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// markdownExtractor parses Markdown with goldmark. ATX and setext headings
// become heading blocks; code and raw HTML are not narrated.
type markdownExtractor struct{}

func (markdownExtractor) Extract(_ context.Context, data []byte) (*Document, error) {
	source := []byte(cleanText(string(data)))
	root := goldmark.New().Parser().Parse(text.NewReader(source))

	doc := &Document{}
	err := ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Heading:
			if t := collapseSpace(inlineText(node, source)); t != "" {
				doc.Blocks = append(doc.Blocks, Block{Kind: BlockHeading, Text: t, Level: node.Level})
				if node.Level == 1 && doc.Title == "" {
					doc.Title = t
				}
			}
			return ast.WalkSkipChildren, nil
		case *ast.Paragraph, *ast.TextBlock:
			if t := collapseSpace(inlineText(node, source)); t != "" {
				doc.Blocks = append(doc.Blocks, Block{Kind: BlockParagraph, Text: t})
			}
			return ast.WalkSkipChildren, nil
		case *ast.ThematicBreak:
			doc.Blocks = append(doc.Blocks, Block{Kind: BlockPageBreak})
		case *ast.FencedCodeBlock, *ast.CodeBlock, *ast.HTMLBlock:
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil, &CorruptDocumentError{Format: FormatMarkdown, Reason: "walk markdown tree", Err: err}
	}
	return doc, nil
}

// inlineText concatenates the text content of a block's inline children.
func inlineText(n ast.Node, source []byte) string {
	var sb strings.Builder
	var walk func(ast.Node)
	walk = func(n ast.Node) {
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			switch node := c.(type) {
			case *ast.Text:
				sb.Write(node.Segment.Value(source))
				if node.SoftLineBreak() || node.HardLineBreak() {
					sb.WriteByte(' ')
				}
			case *ast.String:
				sb.Write(node.Value)
			case *ast.AutoLink:
				sb.Write(node.Label(source))
			case *ast.RawHTML:
				// inline HTML tags are not spoken
			default:
				walk(c)
			}
		}
	}
	walk(n)
	return sb.String()
}
