package genai

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    string
		wantErr bool
	}{
		{"bare object", `{"new_intent": "None"}`, `{"new_intent": "None"}`, false},
		{"prose around", "Sure! Here you go:\n{\"tool_needed\": \"find_hospitals\", \"argument\": \"Chennai\"}\nLet me know.", `{"tool_needed": "find_hospitals", "argument": "Chennai"}`, false},
		{"markdown fence", "```json\n{\"new_intent\": \"symptom_checker\"}\n```", `{"new_intent": "symptom_checker"}`, false},
		{"nested object", `x {"a": {"b": 1}} y`, `{"a": {"b": 1}}`, false},
		{"brace inside string", `{"argument": "use } and { freely"}`, `{"argument": "use } and { freely"}`, false},
		{"escaped quote", `{"argument": "say \"hi\" {"}`, `{"argument": "say \"hi\" {"}`, false},
		{"first invalid then valid", `{not json} then {"ok": true}`, `{"ok": true}`, false},
		{"first of two objects", `{"a": 1} and {"b": 2}`, `{"a": 1}`, false},
		{"unbalanced prefix", `{ " {"a":1}`, `{"a":1}`, false},
		{"no object", "I could not find a location.", "", true},
		{"unterminated", `{"a": 1`, "", true},
		{"unclosed outer", `{{"a":1}`, `{"a":1}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSONObject(tt.text)
			if tt.wantErr {
				if !errors.Is(err, ErrNoJSONFound) {
					t.Fatalf("expected ErrNoJSONFound, got %q, %v", got, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestExtractJSONObjectBoundsWork(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"unbalanced openers", strings.Repeat("{", 1<<20)},
		{"nested invalid", strings.Repeat("{", 1<<19) + strings.Repeat("}", 1<<19)},
		{"quoted openers", strings.Repeat(`{"`, 1<<19)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := time.Now()
			if _, err := ExtractJSONObject(tt.text); !errors.Is(err, ErrNoJSONFound) {
				t.Errorf("expected ErrNoJSONFound, got %v", err)
			}
			if d := time.Since(start); d > 2*time.Second {
				t.Errorf("extraction took %v", d)
			}
		})
	}

	late := strings.Repeat("{", MaxCandidates) + ` {"a":1}`
	if _, err := ExtractJSONObject(late); !errors.Is(err, ErrNoJSONFound) {
		t.Errorf("expected the search to stop after %d openings, got %v", MaxCandidates, err)
	}
	past := strings.Repeat(" ", MaxScanBytes) + `{"a":1}`
	if _, err := ExtractJSONObject(past); !errors.Is(err, ErrNoJSONFound) {
		t.Errorf("expected text past %d bytes to be ignored, got %v", MaxScanBytes, err)
	}
}

func TestExtractJSONArray(t *testing.T) {
	text := "Here is your quiz:\n[{\"question\": \"Q [1]?\", \"options\": {\"A\": \"a\"}, \"correct\": \"A\"}]\nGood luck!"
	got, err := ExtractJSONArray(text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `[{"question": "Q [1]?", "options": {"A": "a"}, "correct": "A"}]`
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}

	if _, err := ExtractJSONArray(`{"not": "an array"}`); !errors.Is(err, ErrNoJSONFound) {
		t.Errorf("expected ErrNoJSONFound for object-only text, got %v", err)
	}
}

func TestDecodeJSONObject(t *testing.T) {
	var decision struct {
		NewIntent string `json:"new_intent"`
	}
	if err := DecodeJSONObject(`The answer is {"new_intent": "myth_buster"}.`, &decision); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.NewIntent != "myth_buster" {
		t.Errorf("expected myth_buster, got %q", decision.NewIntent)
	}

	var wrongShape struct {
		NewIntent int `json:"new_intent"`
	}
	if err := DecodeJSONObject(`{"new_intent": "x"}`, &wrongShape); err == nil {
		t.Error("expected type mismatch error")
	}
}

func TestDecodeJSONArray(t *testing.T) {
	var items []map[string]string
	if err := DecodeJSONArray(`prefix [{"k": "v"}, {"k": "w"}] suffix`, &items); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 2 || items[1]["k"] != "w" {
		t.Errorf("unexpected decode result: %v", items)
	}
}
