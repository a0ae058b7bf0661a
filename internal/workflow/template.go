// Package workflow renders named generation workflow templates.
//
// A template is an arbitrary JSON document. Placeholders of the form
// {{name}} may appear anywhere a JSON string is legal. A name is any run of
// characters other than braces, double quotes and backslashes; surrounding
// whitespace is ignored, inner whitespace and non-ASCII letters are kept.
// Rendering is textual: the document is serialized, placeholders are
// rewritten and the result is parsed again.
package workflow

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
)

// Variables maps placeholder names to scalar values.
type Variables map[string]any

const placeholderName = `\{\{\s*([^{}"\\\s](?:[^{}"\\]*[^{}"\\\s])?)\s*\}\}`

var (
	// A placeholder that is the whole JSON string, optionally followed by the
	// ':' that makes it an object key.
	wholeStringPattern = regexp.MustCompile(`"` + placeholderName + `"(\s*:)?`)
	placeholderPattern = regexp.MustCompile(placeholderName)
)

// ErrInvalidTemplate is returned when the template itself is not valid JSON.
var ErrInvalidTemplate = errors.New("workflow: template is not valid JSON")

// Render substitutes vars into template and returns the new document.
//
// A placeholder that makes up an entire JSON string value is replaced by the
// literal for numbers and booleans, so "{{width}}" with width=1024 becomes 1024.
// Any other occurrence is replaced by the escaped string form of the value.
// Names missing from vars resolve to the empty string.
func Render(template json.RawMessage, vars Variables) (json.RawMessage, error) {
	var compact bytes.Buffer
	if err := json.Compact(&compact, template); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
	}

	text := replaceWholeStrings(compact.Bytes(), vars)
	text = placeholderPattern.ReplaceAllFunc(text, func(match []byte) []byte {
		name := string(placeholderPattern.FindSubmatch(match)[1])
		q := quote(stringify(vars[name]))
		return q[1 : len(q)-1]
	})

	if !json.Valid(text) {
		// Unreachable for a valid template: every substitution above yields valid JSON.
		return nil, fmt.Errorf("workflow: rendered document is not valid JSON")
	}
	return json.RawMessage(text), nil
}

// RenderValue is Render for an already decoded document.
func RenderValue(template any, vars Variables) (any, error) {
	raw, err := json.Marshal(template)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
	}
	out, err := Render(raw, vars)
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(out, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func replaceWholeStrings(src []byte, vars Variables) []byte {
	var out bytes.Buffer
	last := 0
	for _, m := range wholeStringPattern.FindAllSubmatchIndex(src, -1) {
		start, end := m[0], m[1]
		if escaped(src, start) {
			continue
		}
		out.Write(src[last:start])
		name := string(src[m[2]:m[3]])
		switch lit, ok := literal(vars[name]); {
		case m[4] >= 0:
			out.Write(quote(stringify(vars[name])))
			out.Write(src[m[4]:m[5]])
		case ok:
			out.WriteString(lit)
		default:
			out.Write(quote(stringify(vars[name])))
		}
		last = end
	}
	out.Write(src[last:])
	return out.Bytes()
}

// escaped reports whether the quote at i is preceded by an odd number of backslashes.
func escaped(src []byte, i int) bool {
	n := 0
	for j := i - 1; j >= 0 && src[j] == '\\'; j-- {
		n++
	}
	return n%2 == 1
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case *string:
		if t == nil {
			return ""
		}
		return *t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// literal returns the bare JSON literal for numeric and boolean values.
func literal(v any) (string, bool) {
	switch t := v.(type) {
	case bool:
		return strconv.FormatBool(t), true
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(t), true
	case float32:
		return finite(float64(t), 32)
	case float64:
		return finite(t, 64)
	case json.Number:
		if _, err := t.Float64(); err == nil {
			return t.String(), true
		}
	}
	return "", false
}

func finite(f float64, bits int) (string, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", false
	}
	return strconv.FormatFloat(f, 'f', -1, bits), true
}

func quote(s string) []byte {
	b, _ := json.Marshal(s)
	return b
}
