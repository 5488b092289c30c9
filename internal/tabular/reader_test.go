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

package tabular

import (
	"errors"
	"testing"

	"github.com/xuri/excelize/v2"
)

// buildWorkbook creates xlsx bytes with the given header and data rows.
func buildWorkbook(t *testing.T, rows [][]any) []byte {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()

	for i, cells := range rows {
		for j, v := range cells {
			cell, err := excelize.CoordinatesToCellName(j+1, i+1)
			if err != nil {
				t.Fatalf("cell name: %v", err)
			}
			if err := f.SetCellValue("Sheet1", cell, v); err != nil {
				t.Fatalf("set cell: %v", err)
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	return buf.Bytes()
}

// TestParse_NormalizesColumns verifies header trimming and lowercasing.
func TestParse_NormalizesColumns(t *testing.T) {
	data := buildWorkbook(t, [][]any{
		{"  Email ", "CompanyName", "Score"},
		{"a@x.com", "Acme", 95},
		{"b@x.com", "Globex", 88},
	})

	table, err := Parse(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if table.EmailColumn != "email" {
		t.Errorf("EmailColumn = %q, want email", table.EmailColumn)
	}
	if !table.HasCompany {
		t.Error("HasCompany = false, want true")
	}
	if len(table.Rows) != 2 {
		t.Fatalf("len(Rows) = %d, want 2", len(table.Rows))
	}
	if got := table.Rows[0].Get("email"); got != "a@x.com" {
		t.Errorf("row 0 email = %q, want a@x.com", got)
	}
	if got := table.Rows[1].Get("score"); got != "88" {
		t.Errorf("row 1 score = %q, want 88", got)
	}
}

// TestParse_EmailAliasPriority verifies the fixed alias order.
func TestParse_EmailAliasPriority(t *testing.T) {
	tests := []struct {
		name    string
		header  []any
		want    string
		wantErr bool
	}{
		{name: "email wins over mail", header: []any{"mail", "email"}, want: "email"},
		{name: "e-mail alias", header: []any{"name", "E-Mail"}, want: "e-mail"},
		{name: "mail alias", header: []any{"Mail", "name"}, want: "mail"},
		{name: "no alias", header: []any{"name", "address"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := buildWorkbook(t, [][]any{tt.header})
			table, err := Parse(data)
			if tt.wantErr {
				var ive *InputValidationError
				if !errors.As(err, &ive) {
					t.Fatalf("error = %v, want *InputValidationError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if table.EmailColumn != tt.want {
				t.Errorf("EmailColumn = %q, want %q", table.EmailColumn, tt.want)
			}
		})
	}
}

// TestParse_EmptySheetIsValid verifies zero data rows yield an empty sequence.
func TestParse_EmptySheetIsValid(t *testing.T) {
	data := buildWorkbook(t, [][]any{{"email"}})

	table, err := Parse(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(table.Rows) != 0 {
		t.Errorf("len(Rows) = %d, want 0", len(table.Rows))
	}
}

// TestParse_PadsShortRows verifies rows shorter than the header get empty values.
func TestParse_PadsShortRows(t *testing.T) {
	data := buildWorkbook(t, [][]any{
		{"email", "companyname", "note"},
		{"a@x.com"},
	})

	table, err := Parse(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(table.Rows) != 1 {
		t.Fatalf("len(Rows) = %d, want 1", len(table.Rows))
	}
	if got := table.Rows[0].Get("note"); got != "" {
		t.Errorf("note = %q, want empty", got)
	}
}

// TestParse_GarbageBytes verifies unparseable input is a validation error.
func TestParse_GarbageBytes(t *testing.T) {
	_, err := Parse([]byte("not a workbook"))

	var ive *InputValidationError
	if !errors.As(err, &ive) {
		t.Fatalf("error = %v, want *InputValidationError", err)
	}
}

// TestCCAddresses verifies semicolon splitting and whitespace handling.
func TestCCAddresses(t *testing.T) {
	got := CCAddresses(" a@x.com ; ;b@x.com")
	if len(got) != 2 || got[0] != "a@x.com" || got[1] != "b@x.com" {
		t.Errorf("CCAddresses = %v, want [a@x.com b@x.com]", got)
	}
	if out := CCAddresses(""); out != nil {
		t.Errorf("CCAddresses(\"\") = %v, want nil", out)
	}
}
