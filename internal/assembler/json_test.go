package assembler

import (
	"strings"
	"testing"
	"time"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
		ok    bool
	}{
		{"plain", `{"city":"Paris"}`, `{"city":"Paris"}`, true},
		{"fenced", "```json\n{\"city\": \"Paris\"}\n```", `{"city": "Paris"}`, true},
		{"fence without language", "```\n{\"a\":1}\n```", `{"a":1}`, true},
		{"prose around", `The answer is {"city":"Paris","country":{"name":"France"}} as requested.`, `{"city":"Paris","country":{"name":"France"}}`, true},
		{"brace inside string", `{"note":"use } carefully","n":1}`, `{"note":"use } carefully","n":1}`, true},
		{"escaped quote", `{"q":"say \"hi\" {now}"}`, `{"q":"say \"hi\" {now}"}`, true},
		{"invalid first, valid second", `{not json} then {"ok":true}`, `{"ok":true}`, true},
		{"no object", "Paris is the capital of France.", "", false},
		{"unbalanced", `{"city":"Paris"`, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractJSON(tt.input)
			if ok != tt.ok || got != tt.want {
				t.Errorf("ExtractJSON(%q) = %q, %v; want %q, %v", tt.input, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestExtractJSONUnbalancedInputIsBounded(t *testing.T) {
	inputs := map[string]string{
		"open braces":          strings.Repeat("{", 1<<20),
		"open braces in prose": strings.Repeat("see {note ", 200000),
	}
	for name, input := range inputs {
		t.Run(name, func(t *testing.T) {
			start := time.Now()
			if got, ok := ExtractJSON(input); ok {
				t.Errorf("ExtractJSON = %q, want no object", got)
			}
			if d := time.Since(start); d > 2*time.Second {
				t.Errorf("ExtractJSON took %s", d)
			}
		})
	}
}

func TestExtractJSONAfterStrayBraces(t *testing.T) {
	input := strings.Repeat("{ ", 10) + `"x" } then {"ok":true}`
	got, ok := ExtractJSON(input)
	if !ok || got != `{"ok":true}` {
		t.Errorf("ExtractJSON = %q, %v", got, ok)
	}
}
