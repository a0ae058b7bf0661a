// Command sqllint fails when a Go string constant that looks like SQL does
// not begin with a `--sql <uuid>` marker line, or reuses another constant's
// marker. The marker is what infra.SQLRunner logs, so it must be unique.
//
//	go run ./internal/tools/sqllint ./internal/sqlinline
package main

import (
	"flag"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	sqlKeyword    = regexp.MustCompile(`(?i)\b(select|insert|update|delete|with)\b`)
	validMarkerRe = regexp.MustCompile(`^--sql [0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
)

type violation struct {
	file    string
	line    int
	name    string
	message string
}

func (v violation) String() string {
	return fmt.Sprintf("%s:%d %s (%s)", v.file, v.line, v.message, v.name)
}

// linter accumulates markers across every file of one run.
type linter struct {
	owners     map[string]string
	violations []violation
}

func newLinter() *linter {
	return &linter{owners: map[string]string{}}
}

func main() {
	flag.Parse()
	os.Exit(run(flag.Args(), os.Stderr))
}

func run(targets []string, stderr io.Writer) int {
	if len(targets) == 0 {
		targets = []string{"."}
	}
	l := newLinter()
	for _, target := range targets {
		if err := l.lintPath(target); err != nil {
			fmt.Fprintf(stderr, "sqllint: %v\n", err)
			return 2
		}
	}
	if len(l.violations) == 0 {
		return 0
	}
	fmt.Fprintf(stderr, "sqllint: %d SQL marker violation(s)\n", len(l.violations))
	for _, v := range l.violations {
		fmt.Fprintf(stderr, "  %s\n", v)
	}
	return 1
}

func (l *linter) lintPath(target string) error {
	info, err := os.Stat(target)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		if filepath.Ext(target) != ".go" {
			return nil
		}
		return l.lintFile(target)
	}

	var files []string
	err = filepath.WalkDir(target, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if path != target && (strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") || name == "vendor" || name == "testdata") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(path, ".go") && !strings.HasSuffix(path, "_test.go") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return err
	}
	sort.Strings(files)
	for _, f := range files {
		if err := l.lintFile(f); err != nil {
			return err
		}
	}
	return nil
}

func (l *linter) lintFile(path string) error {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, nil, 0)
	if err != nil {
		return err
	}
	ast.Inspect(file, func(n ast.Node) bool {
		spec, ok := n.(*ast.ValueSpec)
		if !ok {
			return true
		}
		for _, value := range spec.Values {
			lit := leftmostLiteral(value)
			if lit == nil || lit.Kind != token.STRING {
				continue
			}
			text, err := literalText(lit.Value)
			if err != nil || !sqlKeyword.MatchString(text) {
				continue
			}
			l.check(path, fset.Position(lit.Pos()).Line, names(spec.Names), firstLine(text))
		}
		return true
	})
	return nil
}

func (l *linter) check(path string, line int, name, marker string) {
	switch owner, dup := l.owners[marker]; {
	case !validMarkerRe.MatchString(marker):
		l.report(path, line, name, "missing or invalid --sql <uuid> marker")
	case dup:
		l.report(path, line, name, "marker already used by "+owner)
	default:
		l.owners[marker] = name
	}
}

func (l *linter) report(path string, line int, name, msg string) {
	l.violations = append(l.violations, violation{file: path, line: line, name: name, message: msg})
}

// leftmostLiteral returns the first string literal of a `"..." + x + "..."`
// chain, which is where the marker line lives.
func leftmostLiteral(expr ast.Expr) *ast.BasicLit {
	for {
		switch e := expr.(type) {
		case *ast.BasicLit:
			return e
		case *ast.BinaryExpr:
			if e.Op != token.ADD {
				return nil
			}
			expr = e.X
		case *ast.ParenExpr:
			expr = e.X
		default:
			return nil
		}
	}
}

func firstLine(s string) string {
	s = strings.TrimLeft(s, "\n\r \t")
	line, _, _ := strings.Cut(s, "\n")
	return strings.TrimSpace(line)
}

func literalText(v string) (string, error) {
	if strings.HasPrefix(v, "`") {
		return strings.Trim(v, "`"), nil
	}
	return strconv.Unquote(v)
}

func names(idents []*ast.Ident) string {
	out := make([]string, 0, len(idents))
	for _, id := range idents {
		out = append(out, id.Name)
	}
	return strings.Join(out, ",")
}
