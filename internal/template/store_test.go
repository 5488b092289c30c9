// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package template

import (
	"sort"
	"testing"
)

// TestParseTemplatesJSON_ModernFormat verifies {name: {subject, body}} parsing.
func TestParseTemplatesJSON_ModernFormat(t *testing.T) {
	data := []byte(`{
		"welcome": {"subject": "Hello {name}", "body": "Dear {name},"},
		"empty":   {"subject": "", "body": ""}
	}`)

	defs, err := ParseTemplatesJSON(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(defs) != 2 {
		t.Fatalf("len(defs) = %d, want 2", len(defs))
	}

	byName := map[string]Definition{}
	for _, d := range defs {
		byName[d.Name] = d
	}
	if got := byName["welcome"]; got.Subject != "Hello {name}" || got.Body != "Dear {name}," {
		t.Errorf("welcome = %+v", got)
	}
	if got := byName["empty"]; got.Subject != "" || got.Body != "" {
		t.Errorf("empty = %+v, want empty subject/body", got)
	}
}

// TestParseTemplatesJSON_LegacyFormat verifies {name: body} values are
// accepted with an empty subject.
func TestParseTemplatesJSON_LegacyFormat(t *testing.T) {
	data := []byte(`{"old": "plain body text", "new": {"subject": "s", "body": "b"}}`)

	defs, err := ParseTemplatesJSON(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var names []string
	for _, d := range defs {
		names = append(names, d.Name)
		if d.Name == "old" && (d.Subject != "" || d.Body != "plain body text") {
			t.Errorf("legacy template = %+v", d)
		}
	}
	sort.Strings(names)
	if len(names) != 2 || names[0] != "new" || names[1] != "old" {
		t.Errorf("names = %v, want [new old]", names)
	}
}

// TestParseTemplatesJSON_Invalid covers rejection cases.
func TestParseTemplatesJSON_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "not json", data: "nope"},
		{name: "array value", data: `{"t": [1, 2]}`},
		{name: "number value", data: `{"t": 42}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseTemplatesJSON([]byte(tt.data)); err == nil {
				t.Error("expected error, got none")
			}
		})
	}
}

// TestNotFoundError_Message verifies the error names the template.
func TestNotFoundError_Message(t *testing.T) {
	err := &NotFoundError{Name: "ghost"}
	if got := err.Error(); got != `template "ghost" not found` {
		t.Errorf("Error() = %q", got)
	}
}
