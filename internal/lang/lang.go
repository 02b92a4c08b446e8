// Package lang provides a language registry mapping file extensions to
// tree-sitter languages, their embedded query files, and the conventions
// used to recognize and write documentation blocks.
package lang

import (
	"embed"
	"fmt"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
)

//go:embed queries/*.scm
var queryFS embed.FS

// Language holds tree-sitter configuration for a supported language.
type Language struct {
	Name       string
	Extensions []string
	lang       *sitter.Language
	queryOnce  sync.Once
	query      *sitter.Query
	queryErr   error

	// QualifiedName returns the dotted name of a definition node, including
	// enclosing classes and functions (e.g. "Outer.method").
	QualifiedName func(node *sitter.Node, source []byte) string

	// IsDocBlock reports whether a body statement is a documentation block.
	IsDocBlock func(stmt *sitter.Node, source []byte) bool

	// IsPlaceholder reports whether a body statement only stands in for an
	// empty body (e.g. `pass`).
	IsPlaceholder func(stmt *sitter.Node, source []byte) bool

	// FormatDocBlock renders documentation text as a block ready to be placed
	// at indent. Continuation lines are indented; the first line is not.
	FormatDocBlock func(text, indent, newline string) (string, error)

	// QuoteDocBlock is FormatDocBlock without the pass-through for text that
	// already looks like a literal. Optional.
	QuoteDocBlock func(text, indent, newline string) (string, error)

	// Probe wraps a formatted documentation block in the smallest program
	// that holds it as the first statement of a function body.
	Probe func(block, indent, newline string) []byte

	// CommentPrefix starts a line comment.
	CommentPrefix string
}

// GetLanguage returns the tree-sitter Language pointer.
func (l *Language) GetLanguage() *sitter.Language {
	return l.lang
}

// NewParser creates a fresh tree-sitter parser for this language.
// Each goroutine must use its own parser (not thread-safe).
func (l *Language) NewParser() *sitter.Parser {
	p := sitter.NewParser()
	p.SetLanguage(l.lang)
	return p
}

// GetFunctionQuery returns the compiled function-definition query (safe to
// share across goroutines).
func (l *Language) GetFunctionQuery() (*sitter.Query, error) {
	l.queryOnce.Do(func() {
		data, err := queryFS.ReadFile(fmt.Sprintf("queries/%s.scm", l.Name))
		if err != nil {
			l.queryErr = fmt.Errorf("reading query file: %w", err)
			return
		}
		q, err := sitter.NewQuery(data, l.lang)
		if err != nil {
			l.queryErr = fmt.Errorf("compiling query: %w", err)
			return
		}
		l.query = q
	})
	return l.query, l.queryErr
}

// Languages maps language names to their configuration.
// Populated by init() functions in per-language files.
var Languages = map[string]*Language{}

// extensionMap is built lazily after all init() functions have run.
var extensionMap map[string]string
var extensionOnce sync.Once

func getExtensionMap() map[string]string {
	extensionOnce.Do(func() {
		extensionMap = make(map[string]string)
		for _, l := range Languages {
			for _, ext := range l.Extensions {
				extensionMap[ext] = l.Name
			}
		}
	})
	return extensionMap
}

// ForExtension returns the language name for a file extension, or "" if unsupported.
func ForExtension(ext string) string {
	return getExtensionMap()[ext]
}

// NodeText returns the source text of a tree-sitter node.
func NodeText(node *sitter.Node, source []byte) string {
	return string(source[node.StartByte():node.EndByte()])
}

// FirstStatement returns the first named child of body that is not a comment,
// or nil if there is none.
func FirstStatement(body *sitter.Node) *sitter.Node {
	if body == nil {
		return nil
	}
	for i := 0; i < int(body.NamedChildCount()); i++ {
		child := body.NamedChild(i)
		if child.Type() != "comment" {
			return child
		}
	}
	return nil
}

// StatementCount returns the number of non-comment named children of body.
func StatementCount(body *sitter.Node) int {
	n := 0
	for i := 0; i < int(body.NamedChildCount()); i++ {
		if body.NamedChild(i).Type() != "comment" {
			n++
		}
	}
	return n
}
