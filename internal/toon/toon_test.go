package toon

import (
	"errors"
	"strings"
	"testing"

	"github.com/phobologic/autodocstr/internal/model"
)

func TestEncodeValue(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", `""`},
		{"simple", "hello", "hello"},
		{"leading space", " hello", `" hello"`},
		{"trailing space", "hello ", `"hello "`},
		{"newline", "a\nb", `"a\nb"`},
		{"tab", "a\tb", `"a\tb"`},
		{"carriage return", "a\rb", `"a\rb"`},
		{"true keyword", "true", `"true"`},
		{"True keyword", "True", `"True"`},
		{"false keyword", "false", `"false"`},
		{"null keyword", "null", `"null"`},
		{"integer", "42", "42"},
		{"negative integer", "-1", "-1"},
		{"float", "3.14", "3.14"},
		{"zero", "0", "0"},
		{"leading zero invalid", "01", "01"},
		{"comma", "a,b", `"a,b"`},
		{"colon", "a:b", `"a:b"`},
		{"quote", `a"b`, `"a\"b"`},
		{"backslash", `a\b`, `"a\\b"`},
		{"bracket", "a[b", `"a[b"`},
		{"brace", "a{b", `"a{b"`},
		{"dash prefix", "-foo", `"-foo"`},
		{"path", "src/main.py", "src/main.py"},
		{"dotted name", "Foo.__init__", "Foo.__init__"},
		{"site with ordinal", "Foo.value#1", "Foo.value#1"},
		{"state name", "parse-failed", "parse-failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := encodeValue(tt.in)
			if got != tt.want {
				t.Errorf("encodeValue(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestEncode(t *testing.T) {
	t.Parallel()

	r := &model.Report{
		RunID: "3f0c",
		Root:  "proj",
		Files: []model.FileResult{
			{
				Path:     "pkg/a.py",
				State:    model.Written,
				Sites:    3,
				Inserted: []model.SiteID{{Name: "f"}, {Name: "Foo.value", Ordinal: 1}},
				Failures: []model.SiteFailure{{Site: model.SiteID{Name: "g"}, Reason: "generate request: status 500: boom"}},
			},
			{
				Path:  "pkg/b.py",
				State: model.ParseFailed,
				Err:   errors.New("parse failure: pkg/b.py: syntax error near line 2"),
			},
			{
				Path:  "pkg/c.py",
				State: model.Unchanged,
			},
		},
	}

	got := Encode(r)
	want := []string{
		"run: 3f0c",
		"root: proj",
		"written: 1",
		"unchanged: 1",
		"failed: 1",
		"inserted: 2",
		"skipped: 1",
		"files[3]{path,state,sites,inserted,skipped}:",
		"  pkg/a.py,written,3,2,1",
		"  pkg/b.py,parse-failed,0,0,0",
		"  pkg/c.py,unchanged,0,0,0",
		"skipped[1]{file,site,reason}:",
		`  pkg/a.py,g,"generate request: status 500: boom"`,
		"errors[1]{file,error}:",
		`  pkg/b.py,"parse failure: pkg/b.py: syntax error near line 2"`,
	}

	lines := strings.Split(got, "\n")
	if len(lines) != len(want) {
		t.Fatalf("got %d lines, want %d:\n%s", len(lines), len(want), got)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d: got %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestEncodeEmpty(t *testing.T) {
	t.Parallel()

	got := Encode(&model.Report{RunID: "x", Root: "empty"})
	if !strings.Contains(got, "files[0]{path,state,sites,inserted,skipped}:") {
		t.Errorf("expected empty files section, got:\n%s", got)
	}
	if !strings.Contains(got, "skipped[0]{file,site,reason}:") {
		t.Errorf("expected empty skipped section, got:\n%s", got)
	}
	if strings.Contains(got, "errors[") {
		t.Errorf("errors section should be omitted when empty, got:\n%s", got)
	}
}
