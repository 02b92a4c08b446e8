// Package insert splices documentation blocks into source text.
//
// The parse tree is never mutated. Each site yields an offset-based edit
// against the original text; edits are applied from the end of the file
// towards the start so that applying one never shifts the offsets of those
// still pending. The rewritten text is reparsed before it is handed back.
package insert

import (
	"context"
	"errors"
	"fmt"
	"sort"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/autodocstr/internal/lang"
	"github.com/phobologic/autodocstr/internal/model"
	"github.com/phobologic/autodocstr/internal/scan"
)

var (
	// ErrVerification is returned when rewritten text fails to reparse or
	// does not contain the inserted documentation.
	ErrVerification = errors.New("verification failure")

	// ErrOverlap is returned by Apply when two edits touch the same bytes.
	ErrOverlap = errors.New("overlapping edits")

	errNotEmbeddable = errors.New("not a valid documentation block")
)

// Edit replaces Source[Start:End] with Text. Start == End is an insertion.
type Edit struct {
	Site  model.SiteID
	Start int
	End   int
	Text  string
}

// Options controls how documentation blocks are placed.
type Options struct {
	// KeepPlaceholder leaves a lone `pass`/`...` body in place after the
	// docstring instead of replacing it.
	KeepPlaceholder bool
	Scan            scan.Options
}

// Result is the outcome of Rewrite.
type Result struct {
	Source   []byte
	Inserted []model.SiteID
	Skipped  []model.SiteFailure
}

// Changed reports whether any documentation was inserted.
func (r *Result) Changed() bool {
	return len(r.Inserted) > 0
}

// Engine plans, applies and verifies insertions for one language.
// An Engine owns a parser and must not be shared between goroutines.
type Engine struct {
	lang   *lang.Language
	parser *sitter.Parser
}

// NewEngine creates an Engine for l.
func NewEngine(l *lang.Language) *Engine {
	return &Engine{lang: l, parser: l.NewParser()}
}

// Doc is generated documentation for one site. Origin, when set, is the site
// as it was scanned when the text was requested.
type Doc struct {
	Text   string
	Origin *model.FunctionSite
}

// matches reports whether site still has the signature and body that d was
// generated for.
func (d Doc) matches(site *model.FunctionSite) bool {
	return d.Origin == nil ||
		(d.Origin.Signature == site.Signature && d.Origin.Body == site.Body)
}

type siteKey struct {
	name, signature, body string
}

// Plan computes one edit per entry in docs. Entries whose site is already
// documented in f, cannot be found, no longer matches its origin, or whose
// text cannot be embedded are returned as skipped and produce no edit. A doc
// whose site moved to another ordinal follows it there. Edits are in
// document order.
func (e *Engine) Plan(ctx context.Context, f *scan.File, docs map[model.SiteID]Doc, opts Options) ([]Edit, []model.SiteFailure, error) {
	sites, err := f.Sites(opts.Scan)
	if err != nil {
		return nil, nil, err
	}

	byOrigin := make(map[siteKey]model.SiteID)
	for id, d := range docs {
		if d.Origin != nil {
			byOrigin[siteKey{id.Name, d.Origin.Signature, d.Origin.Body}] = id
		}
	}
	current := make(map[siteKey]bool, len(sites))
	for _, s := range sites {
		current[siteKey{s.ID.Name, s.Signature, s.Body}] = true
	}

	var (
		edits   []Edit
		skipped []model.SiteFailure
		seen    = make(map[model.SiteID]bool, len(docs))
	)

	for i := range sites {
		site := &sites[i]
		docID := site.ID
		d, ok := docs[docID]
		if !ok || !d.matches(site) {
			if moved, found := byOrigin[siteKey{site.ID.Name, site.Signature, site.Body}]; found && !seen[moved] {
				docID, d, ok = moved, docs[moved], true
			} else if ok && current[siteKey{docID.Name, d.Origin.Signature, d.Origin.Body}] {
				// The doc's own site is still here under another ordinal.
				ok = false
			}
		}
		if !ok || seen[docID] {
			continue
		}
		seen[docID] = true

		if site.Documented {
			skipped = append(skipped, model.SiteFailure{Site: site.ID, Reason: "already documented"})
			continue
		}
		if !d.matches(site) {
			skipped = append(skipped, model.SiteFailure{Site: site.ID, Reason: "site changed"})
			continue
		}

		block, err := e.docBlock(ctx, d.Text, site.Layout)
		if err != nil {
			skipped = append(skipped, model.SiteFailure{Site: site.ID, Reason: err.Error()})
			continue
		}

		edits = append(edits, placement(site, block, opts.KeepPlaceholder))
	}

	for id := range docs {
		if !seen[id] {
			skipped = append(skipped, model.SiteFailure{Site: id, Reason: "site not found"})
		}
	}
	sort.Slice(skipped, func(i, j int) bool {
		return skipped[i].Site.String() < skipped[j].Site.String()
	})

	return edits, skipped, nil
}

// docBlock formats text for l. When the text reads as a literal but does not
// embed as one, it is quoted as prose instead.
func (e *Engine) docBlock(ctx context.Context, text string, l model.Layout) (string, error) {
	block, err := e.lang.FormatDocBlock(text, l.Indent, l.Newline)
	if err != nil {
		return "", err
	}
	if e.embeddable(ctx, block, l) {
		return block, nil
	}
	if e.lang.QuoteDocBlock != nil {
		quoted, err := e.lang.QuoteDocBlock(text, l.Indent, l.Newline)
		if err == nil && quoted != block && e.embeddable(ctx, quoted, l) {
			return quoted, nil
		}
	}
	return "", errNotEmbeddable
}

// placement returns the edit that makes block the first statement of the
// site's body.
func placement(site *model.FunctionSite, block string, keepPlaceholder bool) Edit {
	l := site.Layout
	e := Edit{Site: site.ID}
	switch {
	case l.Placeholder && !keepPlaceholder && l.SameLine:
		// def f(): pass  ->  def f():\n    """doc"""
		e.Start, e.End = l.ColonEnd, l.StmtEnd
		e.Text = l.Newline + l.Indent + block
	case l.Placeholder && !keepPlaceholder:
		e.Start, e.End = l.StmtStart, l.StmtEnd
		e.Text = block
	case l.SameLine:
		// def f(): return 1  ->  def f():\n    """doc"""\n    return 1
		e.Start, e.End = l.ColonEnd, l.StmtStart
		e.Text = l.Newline + l.Indent + block + l.Newline + l.Indent
	default:
		e.Start, e.End = l.LineAfter, l.LineAfter
		e.Text = l.Indent + block + l.Newline
	}
	return e
}

// embeddable reports whether block parses as a lone documentation block.
func (e *Engine) embeddable(ctx context.Context, block string, l model.Layout) bool {
	if e.lang.Probe == nil {
		return true
	}
	probe := e.lang.Probe(block, l.Indent, l.Newline)
	tree, err := e.parser.ParseCtx(ctx, nil, probe)
	if err != nil {
		return false
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() || root.NamedChildCount() != 1 {
		return false
	}
	body := root.NamedChild(0).ChildByFieldName("body")
	if body == nil || lang.StatementCount(body) != 1 {
		return false
	}
	return e.lang.IsDocBlock(lang.FirstStatement(body), probe)
}

// Apply returns a copy of source with edits applied. Edits may be given in
// any order; they are applied by descending offset so earlier offsets stay
// valid. Overlapping or out-of-range edits are rejected.
func Apply(source []byte, edits []Edit) ([]byte, error) {
	sorted := make([]Edit, len(edits))
	copy(sorted, edits)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Start != sorted[j].Start {
			return sorted[i].Start > sorted[j].Start
		}
		return sorted[i].End > sorted[j].End
	})

	for i, e := range sorted {
		if e.Start < 0 || e.End < e.Start || e.End > len(source) {
			return nil, fmt.Errorf("edit for %s: range [%d,%d) out of bounds", e.Site, e.Start, e.End)
		}
		if i > 0 && e.End > sorted[i-1].Start {
			return nil, fmt.Errorf("%w: %s and %s", ErrOverlap, e.Site, sorted[i-1].Site)
		}
		if i > 0 && e.Start == e.End && e.Start == sorted[i-1].Start {
			return nil, fmt.Errorf("%w: %s and %s", ErrOverlap, e.Site, sorted[i-1].Site)
		}
	}

	out := make([]byte, len(source))
	copy(out, source)
	for _, e := range sorted {
		spliced := make([]byte, 0, len(out)-(e.End-e.Start)+len(e.Text))
		spliced = append(spliced, out[:e.Start]...)
		spliced = append(spliced, e.Text...)
		spliced = append(spliced, out[e.End:]...)
		out = spliced
	}
	return out, nil
}

// Verify reparses rewritten and checks that it still holds the same number of
// functions as f and that every inserted site is now documented.
func (e *Engine) Verify(ctx context.Context, f *scan.File, rewritten []byte, inserted []model.SiteID, opts scan.Options) error {
	before, err := f.Sites(opts)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrVerification, f.Path, err)
	}

	nf, err := scan.Parse(ctx, e.lang, e.parser, f.Path, rewritten)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVerification, err)
	}
	defer nf.Close()

	after, err := nf.Sites(opts)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrVerification, f.Path, err)
	}
	if len(after) != len(before) {
		return fmt.Errorf("%w: %s: %d functions before, %d after", ErrVerification, f.Path, len(before), len(after))
	}

	documented := make(map[model.SiteID]bool, len(after))
	for _, s := range after {
		documented[s.ID] = s.Documented
	}
	for _, id := range inserted {
		if !documented[id] {
			return fmt.Errorf("%w: %s: %s not documented after insertion", ErrVerification, f.Path, id)
		}
	}
	return nil
}

// Rewrite plans, applies and verifies the insertion of docs into f. If no
// edit is planned, the result holds f's source unchanged. If verification
// fails the error wraps ErrVerification and no text is returned.
func (e *Engine) Rewrite(ctx context.Context, f *scan.File, docs map[model.SiteID]Doc, opts Options) (Result, error) {
	edits, skipped, err := e.Plan(ctx, f, docs, opts)
	if err != nil {
		return Result{}, err
	}
	if len(edits) == 0 {
		return Result{Source: f.Source, Skipped: skipped}, nil
	}

	out, err := Apply(f.Source, edits)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s: %v", ErrVerification, f.Path, err)
	}

	inserted := make([]model.SiteID, len(edits))
	for i, ed := range edits {
		inserted[i] = ed.Site
	}

	if err := e.Verify(ctx, f, out, inserted, opts.Scan); err != nil {
		return Result{}, err
	}
	return Result{Source: out, Inserted: inserted, Skipped: skipped}, nil
}
