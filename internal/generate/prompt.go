package generate

import (
	"regexp"
	"strings"
)

// stopMarker ends a docstring in completions that follow the prompt format.
const stopMarker = "<|docstr|>"

var systemPrompt = strings.Join([]string{
	"You write Python docstrings.",
	"A docstring MUST give enough information to write a call to the function without reading its code.",
	`A docstring MUST be imperative-style ("""Fetch rows from a Bigtable.""").`,
	"Describe the calling syntax and semantics, not implementation details.",
	"Start with at least one short descriptive sentence.",
	"Use Google's documentation style:",
	"  Args: list each parameter by name.",
	"  Returns or Yields: the return value; omit when the function only returns None.",
	"  Raises: the exceptions that are relevant to the interface.",
	"Reply with the docstring only, as a valid Python string literal, followed by " + stopMarker + ".",
}, "\n")

func userPrompt(signature, body string) string {
	var b strings.Builder
	b.WriteString("Write the docstring for this function:\n\n")
	b.WriteString(signature)
	b.WriteString("\n")
	b.WriteString(body)
	b.WriteString("\n")
	return b.String()
}

var fenceRe = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*\\n(.*?)\\n?```$")

// cleanCompletion strips the decoration models tend to wrap around a
// docstring: code fences, the stop marker and surrounding blank lines.
func cleanCompletion(text string) string {
	if i := strings.Index(text, stopMarker); i >= 0 {
		text = text[:i]
	}
	text = strings.TrimSpace(text)
	if m := fenceRe.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}
	return text
}
