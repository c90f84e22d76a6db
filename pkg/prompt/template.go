package prompt

import (
	"regexp"

	"github.com/stapel-ai/stapel/pkg/api"
)

// placeholderPattern matches a double-brace placeholder. The inner match is
// non-greedy so "{{a}} and {{b}}" yields two placeholders, not one.
var placeholderPattern = regexp.MustCompile(`\{\{(.*?)\}\}`)

// Template is a compiled prompt template: an alternating sequence of
// literal text and named placeholders. Immutable once compiled.
//
// Literals always has exactly len(Fields)+1 entries: the text before the
// first placeholder, the text between each consecutive pair, and the text
// after the last. Filling interleaves them as
//
//	Literals[0] + value(Fields[0]) + Literals[1] + ... + Literals[len(Fields)]
type Template struct {
	// Source is the original template string.
	Source string

	// Fields lists placeholder names in order of appearance, with
	// duplicates preserved so a field can be used more than once.
	Fields []string

	// Literals holds the literal segments surrounding the placeholders.
	Literals []string

	// fieldSet is the deduplicated view of Fields, in first-appearance
	// order. Used for empty-row detection.
	fieldSet []string
}

// Compile parses a template string into a Template. A template must bind
// at least one field; a string without any {{name}} placeholder fails
// with a template_error.
func Compile(source string) (*Template, error) {
	matches := placeholderPattern.FindAllStringSubmatchIndex(source, -1)
	if len(matches) == 0 {
		return nil, api.NewTemplateError("no placeholders found in the prompt template, expected at least one {{field}}")
	}

	t := &Template{Source: source}

	seen := make(map[string]bool)
	prevEnd := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		field := source[m[2]:m[3]]

		t.Literals = append(t.Literals, source[prevEnd:start])
		t.Fields = append(t.Fields, field)
		if !seen[field] {
			seen[field] = true
			t.fieldSet = append(t.fieldSet, field)
		}
		prevEnd = end
	}
	t.Literals = append(t.Literals, source[prevEnd:])

	return t, nil
}

// FieldSet returns the deduplicated placeholder names in first-appearance
// order. A row is empty only when every one of these fields is null.
func (t *Template) FieldSet() []string {
	return t.fieldSet
}
