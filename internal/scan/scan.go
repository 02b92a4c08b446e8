// Package scan parses source files with tree-sitter and finds function
// definitions that lack a documentation block.
package scan

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/autodocstr/internal/lang"
	"github.com/phobologic/autodocstr/internal/model"
)

// ErrParse is returned when a file cannot be parsed as valid source.
var ErrParse = errors.New("parse failure")

// Options controls how sites are classified.
type Options struct {
	// CommentCountsAsDoc treats a line comment between the header and the
	// first body statement as documentation.
	CommentCountsAsDoc bool
}

// File is a parsed source file. Its source and tree are never modified.
type File struct {
	Path     string
	Source   []byte
	Language *lang.Language
	tree     *sitter.Tree
}

// Parse parses source with parser, which must be set up for l.
// A tree containing syntax errors is reported as ErrParse.
func Parse(ctx context.Context, l *lang.Language, parser *sitter.Parser, path string, source []byte) (*File, error) {
	tree, err := parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrParse, path, err)
	}
	root := tree.RootNode()
	if root.HasError() {
		line := firstErrorLine(root)
		tree.Close()
		return nil, fmt.Errorf("%w: %s: syntax error near line %d", ErrParse, path, line)
	}
	return &File{Path: path, Source: source, Language: l, tree: tree}, nil
}

// Close releases the parse tree.
func (f *File) Close() {
	if f.tree != nil {
		f.tree.Close()
		f.tree = nil
	}
}

// Root returns the root node of the parse tree.
func (f *File) Root() *sitter.Node {
	return f.tree.RootNode()
}

// Sites returns every function definition in the file in document order:
// top to bottom, outer definitions before the ones nested inside them.
func (f *File) Sites(opts Options) ([]model.FunctionSite, error) {
	if len(f.Source) == 0 {
		return nil, nil
	}

	query, err := f.Language.GetFunctionQuery()
	if err != nil {
		return nil, err
	}

	qc := sitter.NewQueryCursor()
	defer qc.Close()
	qc.Exec(query, f.Root())

	type found struct {
		def  *sitter.Node
		body *sitter.Node
	}
	var defs []found

	for {
		match, ok := qc.NextMatch()
		if !ok {
			break
		}
		match = qc.FilterPredicates(match, f.Source)

		var def, body *sitter.Node
		for _, c := range match.Captures {
			switch query.CaptureNameForId(c.Index) {
			case "definition.function":
				def = c.Node
			case "body":
				body = c.Node
			}
		}
		if def == nil || body == nil {
			continue
		}
		defs = append(defs, found{def, body})
	}

	sort.SliceStable(defs, func(i, j int) bool {
		return defs[i].def.StartByte() < defs[j].def.StartByte()
	})

	ordinals := make(map[string]int)
	sites := make([]model.FunctionSite, 0, len(defs))
	for _, d := range defs {
		name := f.Language.QualifiedName(d.def, f.Source)
		site, ok := f.site(d.def, d.body, opts)
		if !ok {
			continue
		}
		site.ID = model.SiteID{Name: name, Ordinal: ordinals[name]}
		ordinals[name]++
		sites = append(sites, site)
	}
	return sites, nil
}

// Undocumented returns the sites lacking documentation, in document order.
func (f *File) Undocumented(opts Options) ([]model.FunctionSite, error) {
	sites, err := f.Sites(opts)
	if err != nil {
		return nil, err
	}
	var out []model.FunctionSite
	for _, s := range sites {
		if !s.Documented {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *File) site(def, body *sitter.Node, opts Options) (model.FunctionSite, bool) {
	src := f.Source

	colon := headerColon(def, body)
	if colon == nil {
		return model.FunctionSite{}, false
	}
	stmt := lang.FirstStatement(body)
	if stmt == nil {
		return model.FunctionSite{}, false
	}

	colonEnd := int(colon.EndByte())
	stmtStart := int(stmt.StartByte())
	stmtEnd := int(stmt.EndByte())

	layout := model.Layout{
		ColonEnd:  colonEnd,
		LineAfter: lineAfter(src, colonEnd),
		StmtStart: stmtStart,
		StmtEnd:   stmtEnd,
		Newline:   newlineStyle(src, colonEnd),
		SameLine:  stmt.StartPoint().Row == colon.EndPoint().Row,
	}

	headerIndent := lineIndent(src, int(def.StartByte()))
	if layout.SameLine {
		layout.Indent = headerIndent + indentUnit(headerIndent)
	} else {
		layout.Indent = lineIndent(src, stmtStart)
	}

	between := string(src[colonEnd:stmtStart])
	layout.Placeholder = f.Language.IsPlaceholder(stmt, src) &&
		lang.StatementCount(body) == 1 &&
		strings.TrimSpace(between) == "" &&
		strings.TrimSpace(restOfLine(src, stmtEnd)) == ""

	documented := f.Language.IsDocBlock(stmt, src)
	if !documented && opts.CommentCountsAsDoc && f.Language.CommentPrefix != "" {
		documented = strings.Contains(between, f.Language.CommentPrefix)
	}

	headerStart := def.StartByte()
	if parent := def.Parent(); parent != nil && parent.Type() == "decorated_definition" {
		headerStart = parent.StartByte()
	}

	bodyStart := layout.LineAfter
	if layout.SameLine {
		bodyStart = stmtStart
	}
	bodyEnd := int(body.EndByte())
	if bodyStart > bodyEnd {
		bodyStart = stmtStart
	}

	return model.FunctionSite{
		Line:       int(def.StartPoint().Row) + 1,
		StartByte:  int(def.StartByte()),
		EndByte:    int(def.EndByte()),
		Documented: documented,
		Signature:  string(src[headerStart:colonEnd]),
		Body:       strings.TrimRight(string(src[bodyStart:bodyEnd]), " \t\r\n"),
		Layout:     layout,
	}, true
}

// headerColon returns the ':' token that ends the definition header.
func headerColon(def, body *sitter.Node) *sitter.Node {
	var colon *sitter.Node
	for i := 0; i < int(def.ChildCount()); i++ {
		child := def.Child(i)
		if child.StartByte() >= body.StartByte() {
			break
		}
		if child.Type() == ":" {
			colon = child
		}
	}
	return colon
}

func firstErrorLine(node *sitter.Node) int {
	if node.Type() == "ERROR" || node.IsMissing() {
		return int(node.StartPoint().Row) + 1
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.HasError() {
			return firstErrorLine(child)
		}
	}
	return int(node.StartPoint().Row) + 1
}

// lineAfter returns the offset of the first byte of the line following pos.
func lineAfter(src []byte, pos int) int {
	i := bytes.IndexByte(src[pos:], '\n')
	if i < 0 {
		return len(src)
	}
	return pos + i + 1
}

func restOfLine(src []byte, pos int) string {
	end := bytes.IndexByte(src[pos:], '\n')
	if end < 0 {
		return string(src[pos:])
	}
	return string(src[pos : pos+end])
}

// lineIndent returns the leading whitespace of the line containing pos.
func lineIndent(src []byte, pos int) string {
	start := bytes.LastIndexByte(src[:pos], '\n') + 1
	end := start
	for end < len(src) && (src[end] == ' ' || src[end] == '\t') {
		end++
	}
	return string(src[start:end])
}

func indentUnit(headerIndent string) string {
	if strings.Contains(headerIndent, "\t") {
		return "\t"
	}
	return "    "
}

func newlineStyle(src []byte, pos int) string {
	if i := bytes.IndexByte(src[pos:], '\n'); i > 0 && src[pos+i-1] == '\r' {
		return "\r\n"
	}
	if i := bytes.IndexByte(src[pos:], '\n'); i < 0 && bytes.Contains(src, []byte("\r\n")) {
		return "\r\n"
	}
	return "\n"
}
