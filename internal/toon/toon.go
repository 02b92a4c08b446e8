// Package toon implements TOON (Token-Oriented Object Notation) encoding.
package toon

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/phobologic/autodocstr/internal/model"
)

var (
	needsQuoting = regexp.MustCompile(`[,:"\\{}\[\]]`)
	looksNumeric = regexp.MustCompile(`^-?(?:0|[1-9]\d*)(?:\.\d+)?$`)
	keywords     = map[string]struct{}{
		"true":  {},
		"false": {},
		"null":  {},
	}
)

// Encode converts a run Report into TOON format.
func Encode(r *model.Report) string {
	var parts []string

	parts = append(parts, fmt.Sprintf("run: %s", encodeValue(r.RunID)))
	parts = append(parts, fmt.Sprintf("root: %s", encodeValue(r.Root)))
	parts = append(parts, fmt.Sprintf("written: %d", r.Count(model.Written)))
	parts = append(parts, fmt.Sprintf("unchanged: %d", r.Count(model.Unchanged)))
	parts = append(parts, fmt.Sprintf("failed: %d", r.Failed()))
	parts = append(parts, fmt.Sprintf("inserted: %d", r.Inserted()))
	parts = append(parts, fmt.Sprintf("skipped: %d", r.SiteFailures()))

	var fileRows [][]string
	for i := range r.Files {
		fr := &r.Files[i]
		fileRows = append(fileRows, []string{
			fr.Path,
			fr.State.String(),
			fmt.Sprintf("%d", fr.Sites),
			fmt.Sprintf("%d", len(fr.Inserted)),
			fmt.Sprintf("%d", len(fr.Failures)),
		})
	}
	parts = append(parts, formatTabular("files", []string{"path", "state", "sites", "inserted", "skipped"}, fileRows))

	var siteRows [][]string
	for i := range r.Files {
		fr := &r.Files[i]
		for j := range fr.Failures {
			sf := &fr.Failures[j]
			siteRows = append(siteRows, []string{fr.Path, sf.Site.String(), sf.Reason})
		}
	}
	parts = append(parts, formatTabular("skipped", []string{"file", "site", "reason"}, siteRows))

	var errRows [][]string
	for i := range r.Files {
		fr := &r.Files[i]
		if fr.Err != nil {
			errRows = append(errRows, []string{fr.Path, fr.Err.Error()})
		}
	}
	if len(errRows) > 0 {
		parts = append(parts, formatTabular("errors", []string{"file", "error"}, errRows))
	}

	return strings.Join(parts, "\n")
}

func formatTabular(name string, columns []string, rows [][]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s[%d]{%s}:", name, len(rows), strings.Join(columns, ","))
	for _, row := range rows {
		encoded := make([]string, len(row))
		for i, cell := range row {
			encoded[i] = encodeValue(cell)
		}
		fmt.Fprintf(&b, "\n  %s", strings.Join(encoded, ","))
	}
	return b.String()
}

func encodeValue(value string) string {
	if value == "" {
		return `""`
	}

	if value != strings.TrimSpace(value) {
		return quote(value)
	}

	if strings.ContainsAny(value, "\n\r\t") {
		return quote(value)
	}

	if _, ok := keywords[strings.ToLower(value)]; ok {
		return quote(value)
	}

	if looksNumeric.MatchString(value) {
		return value
	}

	if needsQuoting.MatchString(value) {
		return quote(value)
	}

	if strings.HasPrefix(value, "-") {
		return quote(value)
	}

	return value
}

func quote(value string) string {
	escaped := strings.ReplaceAll(value, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	escaped = strings.ReplaceAll(escaped, "\n", `\n`)
	escaped = strings.ReplaceAll(escaped, "\r", `\r`)
	escaped = strings.ReplaceAll(escaped, "\t", `\t`)
	return `"` + escaped + `"`
}
