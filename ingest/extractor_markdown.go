package ingest

import (
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// MarkdownExtractor converts markdown to plain text by walking the parsed
// AST. Formatting marks are dropped, code block contents are kept, and raw
// HTML is ignored.
type MarkdownExtractor struct {
	md goldmark.Markdown
}

func NewMarkdownExtractor() *MarkdownExtractor {
	return &MarkdownExtractor{md: goldmark.New()}
}

func (e *MarkdownExtractor) Extract(content []byte) (string, error) {
	doc := e.md.Parser().Parse(text.NewReader(content))

	var result strings.Builder
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if isBlockNode(n) && result.Len() > 0 {
				result.WriteString("\n\n")
			}
			return ast.WalkContinue, nil
		}

		switch node := n.(type) {
		case *ast.Text:
			result.Write(node.Segment.Value(content))
			if node.SoftLineBreak() || node.HardLineBreak() {
				result.WriteByte('\n')
			}
		case *ast.String:
			result.Write(node.Value)
		case *ast.CodeBlock:
			writeLines(&result, node, content)
			return ast.WalkSkipChildren, nil
		case *ast.FencedCodeBlock:
			writeLines(&result, node, content)
			return ast.WalkSkipChildren, nil
		case *ast.CodeSpan:
			// Children are Text nodes, handled above.
		case *ast.RawHTML, *ast.HTMLBlock:
			return ast.WalkSkipChildren, nil
		case *ast.AutoLink:
			result.Write(node.URL(content))
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return "", fmt.Errorf("ingest: extract markdown: %w", err)
	}

	return collapseWhitespace(result.String()), nil
}

func isBlockNode(n ast.Node) bool {
	switch n.(type) {
	case *ast.Paragraph, *ast.Heading, *ast.ListItem, *ast.Blockquote,
		*ast.CodeBlock, *ast.FencedCodeBlock, *ast.ThematicBreak:
		return true
	}
	return false
}

func writeLines(result *strings.Builder, n ast.Node, source []byte) {
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		result.Write(seg.Value(source))
	}
}
