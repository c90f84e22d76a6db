package prompt

import (
	"reflect"
	"testing"

	"github.com/stapel-ai/stapel/pkg/api"
)

func mustCompile(t *testing.T, source string) *Template {
	t.Helper()
	tmpl, err := Compile(source)
	if err != nil {
		t.Fatalf("Compile(%q): %v", source, err)
	}
	return tmpl
}

func TestFill_RoundTrip(t *testing.T) {
	// Fully-specified rows must reproduce every literal segment verbatim
	// with substitutions at the exact placeholder positions.
	tmpl := mustCompile(t, "Q: {{question}} Context: {{context}} A:")

	batch := api.Batch{
		{"question": "why", "context": "because"},
		{"question": "2+2", "context": "math"},
	}

	result := Fill(tmpl, batch)

	want := []string{
		"Q: why Context: because A:",
		"Q: 2+2 Context: math A:",
	}
	if !reflect.DeepEqual(result.Prompts, want) {
		t.Errorf("Prompts = %v, want %v", result.Prompts, want)
	}
	if len(result.EmptyRows) != 0 {
		t.Errorf("EmptyRows = %v, want none", result.EmptyRows)
	}
}

func TestFill_EmptyRowRequiresAllFieldsNull(t *testing.T) {
	tmpl := mustCompile(t, "{{a}} / {{b}}")

	batch := api.Batch{
		{"a": "x", "b": "y"},   // full
		{"a": nil, "b": "y"},   // partial: filled, null becomes ""
		{"a": nil, "b": nil},   // empty: all fields null
		{},                     // empty: all fields absent
		{"a": "x"},             // partial: b absent but a usable
	}

	result := Fill(tmpl, batch)

	if !reflect.DeepEqual(result.EmptyRows, []int{2, 3}) {
		t.Fatalf("EmptyRows = %v, want [2 3]", result.EmptyRows)
	}

	want := []string{"x / y", " / y", "", "", "x / "}
	if !reflect.DeepEqual(result.Prompts, want) {
		t.Errorf("Prompts = %v, want %v", result.Prompts, want)
	}
}

func TestFill_RepeatedField(t *testing.T) {
	tmpl := mustCompile(t, "{{name}} meets {{name}}")

	result := Fill(tmpl, api.Batch{{"name": "echo"}})

	if result.Prompts[0] != "echo meets echo" {
		t.Errorf("got %q", result.Prompts[0])
	}
}

func TestFill_ValueCoercion(t *testing.T) {
	tmpl := mustCompile(t, "v={{v}}")

	tests := []struct {
		value any
		want  string
	}{
		{"s", "v=s"},
		{float64(42), "v=42"},
		{42.5, "v=42.5"},
		{int(7), "v=7"},
		{int64(8), "v=8"},
		{true, "v=true"},
	}

	for _, tt := range tests {
		result := Fill(tmpl, api.Batch{{"v": tt.value}})
		if result.Prompts[0] != tt.want {
			t.Errorf("Fill with %v = %q, want %q", tt.value, result.Prompts[0], tt.want)
		}
	}
}

func TestFill_Deterministic(t *testing.T) {
	tmpl := mustCompile(t, "{{a}}|{{b}}|{{a}}")
	batch := api.Batch{{"a": "1", "b": "2"}}

	first := Fill(tmpl, batch).Prompts[0]
	for i := 0; i < 10; i++ {
		if got := Fill(tmpl, batch).Prompts[0]; got != first {
			t.Fatalf("non-deterministic fill: %q vs %q", got, first)
		}
	}
	if first != "1|2|1" {
		t.Errorf("got %q, want %q", first, "1|2|1")
	}
}

func TestFillResult_IsEmpty(t *testing.T) {
	r := &FillResult{EmptyRows: []int{1, 3}}

	for row, want := range map[int]bool{0: false, 1: true, 2: false, 3: true} {
		if got := r.IsEmpty(row); got != want {
			t.Errorf("IsEmpty(%d) = %v, want %v", row, got, want)
		}
	}
}
