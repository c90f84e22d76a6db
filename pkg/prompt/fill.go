package prompt

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/stapel-ai/stapel/pkg/api"
)

// FillResult holds the outcome of filling a template against a batch.
type FillResult struct {
	// Prompts is aligned to the batch by row index. Rows flagged as
	// empty hold the empty string and must not be dispatched.
	Prompts []string

	// EmptyRows lists the indices of rows where every placeholder field
	// was null, in ascending order.
	EmptyRows []int
}

// IsEmpty reports whether the given row index was flagged as empty.
func (r *FillResult) IsEmpty(row int) bool {
	for _, e := range r.EmptyRows {
		if e == row {
			return true
		}
	}
	return false
}

// Fill renders the compiled template once per record. A row is empty only
// when ALL of the template's placeholder fields are simultaneously null or
// absent; a row with any usable field is filled, with null fields
// substituting as the empty string.
//
// Filling is deterministic: literal segments are reproduced byte-exact and
// substitutions land at the original placeholder positions.
func Fill(t *Template, batch api.Batch) *FillResult {
	result := &FillResult{
		Prompts: make([]string, len(batch)),
	}

	for row, rec := range batch {
		if allNull(rec, t.fieldSet) {
			result.EmptyRows = append(result.EmptyRows, row)
			continue
		}

		var b strings.Builder
		for i, field := range t.Fields {
			b.WriteString(t.Literals[i])
			b.WriteString(coerceString(rec[field]))
		}
		b.WriteString(t.Literals[len(t.Fields)])
		result.Prompts[row] = b.String()
	}

	return result
}

// allNull reports whether every listed field is null or absent in the record.
func allNull(rec api.Record, fields []string) bool {
	for _, f := range fields {
		if !rec.IsNull(f) {
			return false
		}
	}
	return true
}

// coerceString renders a record value for substitution. Null becomes the
// empty string; everything else is coerced to text.
func coerceString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		// JSON numbers decode as float64. Render integral values without
		// a trailing ".0".
		if x == float64(int64(x)) {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}
