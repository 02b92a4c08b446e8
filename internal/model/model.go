// Package model defines core data structures for autodocstr.
package model

import "fmt"

// SiteID identifies a function site within one file. Ordinal distinguishes
// sites that share a qualified name (e.g. property getter and setter).
type SiteID struct {
	Name    string
	Ordinal int
}

func (id SiteID) String() string {
	if id.Ordinal == 0 {
		return id.Name
	}
	return fmt.Sprintf("%s#%d", id.Name, id.Ordinal)
}

// Layout records where a docstring goes inside a function body.
// All offsets are byte offsets into the file's source.
type Layout struct {
	ColonEnd    int    // end of the ':' that closes the header
	LineAfter   int    // start of the line following the header
	StmtStart   int    // start of the first body statement
	StmtEnd     int    // end of the first body statement
	Indent      string // indentation of the body
	Newline     string // "\n" or "\r\n"
	SameLine    bool   // body begins on the header line
	Placeholder bool   // body is a lone `pass` or `...`
}

// FunctionSite is a function or method definition found in a source file.
type FunctionSite struct {
	ID         SiteID
	Line       int
	StartByte  int
	EndByte    int
	Documented bool
	Signature  string
	Body       string
	Layout     Layout
}

// FileState is a step in the per-file processing state machine.
type FileState int

const (
	Scanned FileState = iota
	SitesIdentified
	GenerationPending
	GenerationComplete
	Inserted
	Verified
	Written

	ParseFailed
	VerificationFailed
	WriteFailed
	Unchanged
	Cancelled
)

var stateNames = map[FileState]string{
	Scanned:            "scanned",
	SitesIdentified:    "sites-identified",
	GenerationPending:  "generation-pending",
	GenerationComplete: "generation-complete",
	Inserted:           "inserted",
	Verified:           "verified",
	Written:            "written",
	ParseFailed:        "parse-failed",
	VerificationFailed: "verification-failed",
	WriteFailed:        "write-failed",
	Unchanged:          "unchanged",
	Cancelled:          "cancelled",
}

func (s FileState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transition is possible from s.
func (s FileState) Terminal() bool {
	switch s {
	case Written, ParseFailed, VerificationFailed, WriteFailed, Unchanged, Cancelled:
		return true
	}
	return false
}

// Failed reports whether s counts against the run's exit status.
func (s FileState) Failed() bool {
	return s == ParseFailed || s == VerificationFailed || s == WriteFailed
}

// CanAdvance reports whether a file in state s may move to next.
// The happy path only moves forward; failure states are reachable from the
// step that can produce them. A file that changed on disk while generation
// was running is parsed again, so ParseFailed is also reachable from
// GenerationComplete.
func (s FileState) CanAdvance(next FileState) bool {
	if s.Terminal() {
		return false
	}
	switch next {
	case ParseFailed:
		return s == Scanned || s == GenerationComplete
	case VerificationFailed:
		return s == Inserted
	case WriteFailed:
		return s == Verified
	case Unchanged:
		return s == SitesIdentified || s == GenerationComplete || s == Verified
	case Cancelled:
		return true
	}
	if next.Terminal() && next != Written {
		return false
	}
	return next == s+1
}

// SiteFailure records a site that could not be documented.
type SiteFailure struct {
	Site   SiteID
	Reason string
}

// FileResult is the outcome of processing a single source file.
type FileResult struct {
	Path     string
	State    FileState
	Sites    int // undocumented sites found by the scan
	Inserted []SiteID
	Failures []SiteFailure
	Diff     string // unified diff of the change, when requested
	Err      error
}

// Report is the outcome of a whole run.
type Report struct {
	RunID string
	Root  string
	Files []FileResult
}

// Failed returns the number of files that failed to parse, verify or write.
func (r *Report) Failed() int {
	n := 0
	for i := range r.Files {
		if r.Files[i].State.Failed() {
			n++
		}
	}
	return n
}

// Count returns the number of files in state s.
func (r *Report) Count(s FileState) int {
	n := 0
	for i := range r.Files {
		if r.Files[i].State == s {
			n++
		}
	}
	return n
}

// Inserted returns the total number of docstrings inserted.
func (r *Report) Inserted() int {
	n := 0
	for i := range r.Files {
		n += len(r.Files[i].Inserted)
	}
	return n
}

// SiteFailures returns the total number of sites left undocumented by
// generation or formatting failures.
func (r *Report) SiteFailures() int {
	n := 0
	for i := range r.Files {
		n += len(r.Files[i].Failures)
	}
	return n
}
