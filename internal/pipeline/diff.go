package pipeline

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

const diffContext = 3

type diffLine struct {
	tag  byte // ' ', '-' or '+'
	text string
}

// unifiedDiff renders the line-level change from oldText to newText in
// unified format. It returns "" when the texts are equal.
func unifiedDiff(path, oldText, newText string) string {
	if oldText == newText {
		return ""
	}

	dmp := diffmatchpatch.New()
	rOld, rNew, lineArray := dmp.DiffLinesToRunes(oldText, newText)
	diffs := dmp.DiffCleanupMerge(dmp.DiffMainRunes(rOld, rNew, false))

	var lines []diffLine
	for _, d := range diffs {
		tag := byte(' ')
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			tag = '-'
		case diffmatchpatch.DiffInsert:
			tag = '+'
		}
		for _, r := range d.Text {
			idx := int(r)
			if idx < 0 || idx >= len(lineArray) {
				continue
			}
			lines = append(lines, diffLine{tag: tag, text: strings.TrimRight(lineArray[idx], "\r\n")})
		}
	}

	// 1-based line numbers in the old and new text at each diff line.
	oldNo := make([]int, len(lines))
	newNo := make([]int, len(lines))
	o, n := 1, 1
	for i, l := range lines {
		oldNo[i], newNo[i] = o, n
		if l.tag != '+' {
			o++
		}
		if l.tag != '-' {
			n++
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "--- a/%s\n+++ b/%s\n", path, path)

	for i := 0; i < len(lines); {
		if lines[i].tag == ' ' {
			i++
			continue
		}

		// Merge changes separated by no more than two contexts' worth of
		// unchanged lines into one hunk.
		start := max(0, i-diffContext)
		last := i
		for j := i; j < len(lines); j++ {
			if lines[j].tag != ' ' {
				last = j
			} else if j-last > 2*diffContext {
				break
			}
		}
		stop := min(len(lines), last+diffContext+1)

		oldCount, newCount := 0, 0
		for _, l := range lines[start:stop] {
			if l.tag != '+' {
				oldCount++
			}
			if l.tag != '-' {
				newCount++
			}
		}
		fmt.Fprintf(&b, "@@ -%d,%d +%d,%d @@\n", oldNo[start], oldCount, newNo[start], newCount)
		for _, l := range lines[start:stop] {
			b.WriteByte(l.tag)
			b.WriteString(l.text)
			b.WriteByte('\n')
		}
		i = stop
	}
	return b.String()
}
