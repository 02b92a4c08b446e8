package lang

import (
	"errors"
	"regexp"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// ErrEmptyDoc is returned when documentation text is blank.
var ErrEmptyDoc = errors.New("empty documentation text")

var pythonLiteralRe = regexp.MustCompile(`(?i)^[rbuf]{0,2}("""|'''|"|')`)

func init() {
	Languages["python"] = &Language{
		Name:           "python",
		Extensions:     []string{".py"},
		lang:           python.GetLanguage(),
		QualifiedName:  pythonQualifiedName,
		IsDocBlock:     pythonIsDocBlock,
		IsPlaceholder:  pythonIsPlaceholder,
		FormatDocBlock: pythonFormatDocBlock,
		QuoteDocBlock:  pythonQuoteDocBlock,
		Probe:          pythonProbe,
		CommentPrefix:  "#",
	}
}

// pythonQualifiedName joins the names of every enclosing class and function
// with the definition's own name.
func pythonQualifiedName(node *sitter.Node, source []byte) string {
	var parts []string
	for current := node; current != nil; current = current.Parent() {
		switch current.Type() {
		case "function_definition", "class_definition":
			if name := current.ChildByFieldName("name"); name != nil {
				parts = append(parts, NodeText(name, source))
			}
		}
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, ".")
}

// pythonIsDocBlock reports whether stmt is a string literal that Python keeps
// as __doc__. Byte strings and f-strings are plain expressions.
func pythonIsDocBlock(stmt *sitter.Node, source []byte) bool {
	if stmt == nil || stmt.Type() != "expression_statement" || stmt.NamedChildCount() != 1 {
		return false
	}
	expr := stmt.NamedChild(0)
	switch expr.Type() {
	case "string":
		return pythonIsDocString(expr, source)
	case "concatenated_string":
		for i := 0; i < int(expr.NamedChildCount()); i++ {
			if !pythonIsDocString(expr.NamedChild(i), source) {
				return false
			}
		}
		return expr.NamedChildCount() > 0
	}
	return false
}

func pythonIsDocString(node *sitter.Node, source []byte) bool {
	if node == nil || node.Type() != "string" {
		return false
	}
	start := NodeText(node, source)
	if open := node.Child(0); open != nil && open.Type() == "string_start" {
		start = NodeText(open, source)
	}
	prefix := start
	if i := strings.IndexAny(start, `"'`); i >= 0 {
		prefix = start[:i]
	}
	return !strings.ContainsAny(strings.ToLower(prefix), "bf")
}

func pythonIsPlaceholder(stmt *sitter.Node, source []byte) bool {
	if stmt == nil {
		return false
	}
	switch stmt.Type() {
	case "pass_statement":
		return true
	case "expression_statement":
		return stmt.NamedChildCount() == 1 && stmt.NamedChild(0).Type() == "ellipsis"
	}
	return false
}

// pythonFormatDocBlock renders text as a docstring. Text that is already a
// string literal keeps its quoting; anything else is wrapped in triple double
// quotes. Multi-line docstrings close on their own line.
func pythonFormatDocBlock(text, indent, newline string) (string, error) {
	text = normalizeDoc(text)
	if text == "" {
		return "", ErrEmptyDoc
	}
	if pythonLiteralRe.MatchString(text) {
		lines := dedentTail(strings.Split(text, "\n"))
		return joinIndented(lines, indent, newline), nil
	}
	return pythonQuoteDocBlock(text, indent, newline)
}

// pythonQuoteDocBlock wraps text in triple double quotes, escaping what would
// end the literal early.
func pythonQuoteDocBlock(text, indent, newline string) (string, error) {
	text = normalizeDoc(text)
	if text == "" {
		return "", ErrEmptyDoc
	}

	text = strings.ReplaceAll(text, `\`, `\\`)
	text = strings.ReplaceAll(text, `"""`, `\"\"\"`)
	if strings.HasSuffix(text, `"`) {
		text = text[:len(text)-1] + `\"`
	}
	if strings.HasPrefix(text, `"`) {
		text = `\` + text
	}

	lines := dedentTail(strings.Split(text, "\n"))
	if len(lines) == 1 {
		return `"""` + lines[0] + `"""`, nil
	}
	lines[0] = `"""` + lines[0]
	lines = append(lines, `"""`)
	return joinIndented(lines, indent, newline), nil
}

func normalizeDoc(text string) string {
	return strings.TrimSpace(strings.ReplaceAll(text, "\r\n", "\n"))
}

func pythonProbe(block, indent, newline string) []byte {
	return []byte("def _probe():" + newline + indent + block + newline)
}

// dedentTail removes the common leading whitespace of every line after the
// first, ignoring blank lines. Trailing whitespace is dropped.
func dedentTail(lines []string) []string {
	common := -1
	for _, line := range lines[1:] {
		trimmed := strings.TrimLeft(line, " \t")
		if trimmed == "" {
			continue
		}
		n := len(line) - len(trimmed)
		if common < 0 || n < common {
			common = n
		}
	}
	out := make([]string, len(lines))
	for i, line := range lines {
		line = strings.TrimRight(line, " \t")
		if i > 0 && common > 0 && len(line) >= common {
			line = line[common:]
		}
		out[i] = line
	}
	return out
}

func joinIndented(lines []string, indent, newline string) string {
	var b strings.Builder
	for i, line := range lines {
		if i > 0 {
			b.WriteString(newline)
			if line != "" {
				b.WriteString(indent)
			}
		}
		b.WriteString(line)
	}
	return b.String()
}
