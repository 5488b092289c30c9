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

// Package tabular parses an uploaded spreadsheet into an ordered sequence of
// recipient rows. Column names are normalized (trimmed + lowercased) up
// front, and the mandatory email column is located among a fixed set of
// aliases. Parsing is pure: no side effects, and an empty sheet is valid.
package tabular

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// emailAliases are the accepted email column names, in priority order.
var emailAliases = []string{"email", "e-mail", "mail"}

const (
	// CompanyColumn is the normalized name of the optional company column.
	CompanyColumn = "companyname"

	// CCColumn is the normalized name of the optional CC column. Its value
	// is a semicolon-separated address list.
	CCColumn = "cc"
)

// InputValidationError reports malformed or missing required input. It is
// fatal for the whole batch: no rows are processed when it is returned.
type InputValidationError struct {
	Reason string
}

func (e *InputValidationError) Error() string { return e.Reason }

// Row is one spreadsheet record: an ordered mapping from normalized column
// name to its cell value. Rows are immutable after parsing.
type Row struct {
	Columns []string
	Values  map[string]string
}

// Get returns the value for a normalized column name, or "" when absent.
func (r Row) Get(col string) string {
	return r.Values[col]
}

// Table is the parsed first sheet of an uploaded workbook.
type Table struct {
	Columns     []string
	Rows        []Row
	EmailColumn string
	// HasCompany reports whether the optional company column is present.
	// When it is absent, the pipeline attaches the entire pool to every row.
	HasCompany bool
	HasCC      bool
}

// Parse reads workbook bytes and returns the first sheet as a Table.
// It returns *InputValidationError when the workbook cannot be parsed or
// when no email column is present under any accepted alias.
func Parse(data []byte) (*Table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, &InputValidationError{Reason: fmt.Sprintf("unreadable spreadsheet: %v", err)}
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, &InputValidationError{Reason: "spreadsheet has no sheets"}
	}

	raw, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, &InputValidationError{Reason: fmt.Sprintf("read sheet %q: %v", sheets[0], err)}
	}
	if len(raw) == 0 {
		return nil, &InputValidationError{Reason: "spreadsheet has no header row"}
	}

	t := &Table{}
	for _, cell := range raw[0] {
		name := NormalizeColumn(cell)
		if name == "" {
			// Unnamed header cells carry no addressable data.
			t.Columns = append(t.Columns, "")
			continue
		}
		t.Columns = append(t.Columns, name)
	}

	for _, alias := range emailAliases {
		if containsColumn(t.Columns, alias) {
			t.EmailColumn = alias
			break
		}
	}
	if t.EmailColumn == "" {
		return nil, &InputValidationError{Reason: "spreadsheet must contain an 'email' column"}
	}
	t.HasCompany = containsColumn(t.Columns, CompanyColumn)
	t.HasCC = containsColumn(t.Columns, CCColumn)

	for _, cells := range raw[1:] {
		if allEmpty(cells) {
			continue
		}
		row := Row{Values: make(map[string]string, len(t.Columns))}
		for i, col := range t.Columns {
			if col == "" {
				continue
			}
			row.Columns = append(row.Columns, col)
			if i < len(cells) {
				row.Values[col] = cells[i]
			} else {
				row.Values[col] = ""
			}
		}
		t.Rows = append(t.Rows, row)
	}

	return t, nil
}

// NormalizeColumn trims and lowercases a header cell.
func NormalizeColumn(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// CCAddresses splits a row's CC cell into individual addresses.
func CCAddresses(cell string) []string {
	var out []string
	for _, part := range strings.Split(cell, ";") {
		if addr := strings.TrimSpace(part); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}

func containsColumn(cols []string, name string) bool {
	for _, c := range cols {
		if c == name {
			return true
		}
	}
	return false
}

func allEmpty(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
