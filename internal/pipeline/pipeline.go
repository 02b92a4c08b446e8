// Package pipeline drives every discovered file through scanning,
// generation, insertion, verification and writing.
//
// Files are processed by a fixed pool of workers; each worker owns its own
// parsers. Within a file, generation calls fan out up to a concurrency limit
// and are all joined before any text is inserted. A file is only written after
// the rewritten text has been reparsed and checked, and the write replaces
// the file atomically.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	sitter "github.com/smacker/go-tree-sitter"
	"golang.org/x/sync/errgroup"

	"github.com/phobologic/autodocstr/internal/discover"
	"github.com/phobologic/autodocstr/internal/generate"
	"github.com/phobologic/autodocstr/internal/insert"
	"github.com/phobologic/autodocstr/internal/lang"
	"github.com/phobologic/autodocstr/internal/model"
	"github.com/phobologic/autodocstr/internal/scan"
)

// Options controls a run.
type Options struct {
	Jobs        int  // files processed at once; <= 0 means GOMAXPROCS
	Concurrency int  // generation calls in flight per file; < 1 means 1
	DryRun      bool // verify but never write
	Diff        bool // record a unified diff of each change in FileResult.Diff
	MaxFileSize int  // skip larger files; <= 0 disables the check
	Insert      insert.Options
	Logger      *log.Logger
}

type rewriteFunc func(ctx context.Context, e *insert.Engine, f *scan.File, docs map[model.SiteID]insert.Doc, opts insert.Options) (insert.Result, error)

// Runner processes files with a Generator.
type Runner struct {
	gen  generate.Generator
	opts Options
	log  *log.Logger

	rewrite rewriteFunc
}

// New creates a Runner.
func New(gen generate.Generator, opts Options) *Runner {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Runner{
		gen:  gen,
		opts: opts,
		log:  logger,
		rewrite: func(ctx context.Context, e *insert.Engine, f *scan.File, docs map[model.SiteID]insert.Doc, opts insert.Options) (insert.Result, error) {
			return e.Rewrite(ctx, f, docs, opts)
		},
	}
}

// toolset is the per-worker, per-language parsing state.
type toolset struct {
	lang   *lang.Language
	parser *sitter.Parser
	engine *insert.Engine
}

// Run processes files (paths relative to root) and returns the report.
// Results are in the order of files. A failure in one file never affects
// another.
func (r *Runner) Run(ctx context.Context, root string, files []discover.FileEntry) *model.Report {
	report := &model.Report{RunID: uuid.NewString(), Root: root}

	files = r.filterBySize(root, files)
	if len(files) == 0 {
		return report
	}

	type result struct {
		index int
		res   model.FileResult
	}

	numWorkers := r.opts.Jobs
	if numWorkers <= 0 {
		numWorkers = runtime.GOMAXPROCS(0)
	}
	if numWorkers > len(files) {
		numWorkers = len(files)
	}

	work := make(chan int, len(files))
	results := make(chan result, len(files))

	var wg sync.WaitGroup
	for range numWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()

			// Each goroutine gets its own parsers
			tools := make(map[string]*toolset)

			for idx := range work {
				f := files[idx]
				ts, ok := tools[f.Language]
				if !ok {
					l := lang.Languages[f.Language]
					if l == nil {
						results <- result{index: idx, res: model.FileResult{
							Path:  f.Path,
							State: model.ParseFailed,
							Err:   fmt.Errorf("%w: %s: unsupported language %q", scan.ErrParse, f.Path, f.Language),
						}}
						continue
					}
					ts = &toolset{lang: l, parser: l.NewParser(), engine: insert.NewEngine(l)}
					tools[f.Language] = ts
				}
				results <- result{index: idx, res: r.processFile(ctx, ts, root, f)}
			}
		}()
	}

	for i := range files {
		work <- i
	}
	close(work)

	go func() {
		wg.Wait()
		close(results)
	}()

	// Collect results in original order
	report.Files = make([]model.FileResult, len(files))
	for res := range results {
		report.Files[res.index] = res.res
	}
	return report
}

// fileRun tracks one file through the state machine.
type fileRun struct {
	res model.FileResult
	log *log.Logger
}

func (fr *fileRun) advance(next model.FileState) {
	if !fr.res.State.CanAdvance(next) {
		panic(fmt.Sprintf("pipeline: %s: invalid transition %s -> %s", fr.res.Path, fr.res.State, next))
	}
	fr.log.Debug("state", "from", fr.res.State, "to", next)
	fr.res.State = next
}

func (fr *fileRun) fail(state model.FileState, err error) model.FileResult {
	fr.advance(state)
	fr.res.Err = err
	if state == model.Cancelled {
		fr.log.Debug("cancelled", "err", err)
	} else {
		fr.log.Warn("skipping file", "state", state, "err", err)
	}
	return fr.res
}

func (r *Runner) processFile(ctx context.Context, ts *toolset, root string, entry discover.FileEntry) model.FileResult {
	fr := &fileRun{
		res: model.FileResult{Path: entry.Path, State: model.Scanned},
		log: r.log.With("path", entry.Path),
	}
	if err := ctx.Err(); err != nil {
		return fr.fail(model.Cancelled, err)
	}

	absPath := filepath.Join(root, entry.Path)
	source, err := os.ReadFile(absPath)
	if err != nil {
		return fr.fail(model.ParseFailed, fmt.Errorf("%w: reading %s: %v", scan.ErrParse, entry.Path, err))
	}

	f, err := scan.Parse(ctx, ts.lang, ts.parser, entry.Path, source)
	if err != nil {
		if ctx.Err() != nil {
			return fr.fail(model.Cancelled, ctx.Err())
		}
		return fr.fail(model.ParseFailed, err)
	}
	defer func() { f.Close() }()

	sites, err := f.Undocumented(r.opts.Insert.Scan)
	if err != nil {
		return fr.fail(model.ParseFailed, err)
	}
	fr.advance(model.SitesIdentified)
	fr.res.Sites = len(sites)
	if len(sites) == 0 {
		fr.advance(model.Unchanged)
		return fr.res
	}

	fr.advance(model.GenerationPending)
	docs, failures := r.generateAll(ctx, fr.log, sites)
	fr.res.Failures = failures
	if err := ctx.Err(); err != nil {
		return fr.fail(model.Cancelled, err)
	}
	fr.advance(model.GenerationComplete)
	if len(docs) == 0 {
		fr.advance(model.Unchanged)
		return fr.res
	}

	// Generation can take a long time. If the file was edited meanwhile,
	// plan against what is on disk now. The insertion engine skips sites that
	// gained documentation or no longer match what was generated for.
	current, err := os.ReadFile(absPath)
	if err != nil {
		return fr.fail(model.ParseFailed, fmt.Errorf("%w: reading %s: %v", scan.ErrParse, entry.Path, err))
	}
	if !bytes.Equal(current, source) {
		fr.log.Info("file changed during generation, rescanning")
		nf, err := scan.Parse(ctx, ts.lang, ts.parser, entry.Path, current)
		if err != nil {
			if ctx.Err() != nil {
				return fr.fail(model.Cancelled, ctx.Err())
			}
			return fr.fail(model.ParseFailed, err)
		}
		f.Close()
		f = nf
	}

	out, err := r.rewrite(ctx, ts.engine, f, docs, r.opts.Insert)
	if err != nil {
		if ctx.Err() != nil {
			return fr.fail(model.Cancelled, ctx.Err())
		}
		if !errors.Is(err, insert.ErrVerification) {
			err = fmt.Errorf("%w: %v", insert.ErrVerification, err)
		}
		fr.advance(model.Inserted)
		return fr.fail(model.VerificationFailed, err)
	}
	fr.res.Failures = append(fr.res.Failures, out.Skipped...)
	for _, s := range out.Skipped {
		fr.log.Debug("site skipped", "site", s.Site, "reason", s.Reason)
	}
	if !out.Changed() {
		fr.advance(model.Unchanged)
		return fr.res
	}
	fr.advance(model.Inserted)
	fr.advance(model.Verified)
	fr.res.Inserted = out.Inserted

	if r.opts.Diff {
		fr.res.Diff = unifiedDiff(entry.Path, string(f.Source), string(out.Source))
	}
	if r.opts.DryRun {
		return fr.res
	}

	if err := ctx.Err(); err != nil {
		return fr.fail(model.Cancelled, err)
	}
	if err := writeAtomic(absPath, out.Source); err != nil {
		return fr.fail(model.WriteFailed, fmt.Errorf("writing %s: %w", entry.Path, err))
	}
	fr.advance(model.Written)
	fr.log.Debug("wrote file", "inserted", len(out.Inserted))
	return fr.res
}

// generateAll requests text for every site, at most Concurrency at a time,
// and waits for all of them. A failed site is reported and left out of the
// returned map; it does not stop the others.
func (r *Runner) generateAll(ctx context.Context, logger *log.Logger, sites []model.FunctionSite) (map[model.SiteID]insert.Doc, []model.SiteFailure) {
	texts := make([]string, len(sites))
	errs := make([]error, len(sites))

	var g errgroup.Group
	g.SetLimit(r.opts.Concurrency)
	for i := range sites {
		g.Go(func() error {
			texts[i], errs[i] = r.gen.Generate(ctx, sites[i].Signature, sites[i].Body)
			return nil
		})
	}
	_ = g.Wait()

	docs := make(map[model.SiteID]insert.Doc, len(sites))
	var failures []model.SiteFailure
	for i, s := range sites {
		if errs[i] != nil {
			if ctx.Err() == nil {
				logger.Warn("generation failed", "site", s.ID, "err", errs[i])
			}
			failures = append(failures, model.SiteFailure{Site: s.ID, Reason: errs[i].Error()})
			continue
		}
		docs[s.ID] = insert.Doc{Text: texts[i], Origin: &sites[i]}
	}
	return docs, failures
}

func (r *Runner) filterBySize(root string, files []discover.FileEntry) []discover.FileEntry {
	if r.opts.MaxFileSize <= 0 {
		return files
	}
	var kept []discover.FileEntry
	for _, f := range files {
		fi, err := os.Stat(filepath.Join(root, f.Path))
		if err != nil {
			kept = append(kept, f) // keep if can't stat
			continue
		}
		if fi.Size() > int64(r.opts.MaxFileSize) {
			r.log.Warn("skipped: file too large", "path", f.Path, "limit", r.opts.MaxFileSize)
			continue
		}
		kept = append(kept, f)
	}
	return kept
}

// writeAtomic replaces path with data through a temporary file in the same
// directory, keeping the original permissions.
func writeAtomic(path string, data []byte) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".autodocstr-*")
	if err != nil {
		return err
	}
	cleanup := func() { os.Remove(tmp.Name()) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Chmod(info.Mode().Perm()); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		cleanup()
		return err
	}
	return nil
}
