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

// Package report renders a run's outcome records as an xlsx workbook.
package report

import (
	"fmt"
	"os"
	"strconv"

	"github.com/xuri/excelize/v2"

	"github.com/bcem/mailmerge/internal/models"
)

// SheetName is the worksheet holding the outcome rows.
const SheetName = "Mail Results"

// Columns is the fixed report column order.
var Columns = []string{
	"email",
	"company_name",
	"matched_files",
	"sent_with_attachments",
	"status",
	"error_detail",
}

// GenerationError reports that no workbook could be produced.
type GenerationError struct {
	Reason string
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("report generation failed: %s", e.Reason)
}

// Build renders the records as workbook bytes. An empty record list is a
// *GenerationError: there is nothing meaningful to report.
func Build(records []models.OutcomeRecord) ([]byte, error) {
	f, err := build(records)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, &GenerationError{Reason: err.Error()}
	}
	return buf.Bytes(), nil
}

// WriteFile renders the records to a file at path. It writes the exact
// bytes Build produces, so both paths yield identical workbook content.
func WriteFile(path string, records []models.OutcomeRecord) error {
	data, err := Build(records)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return &GenerationError{Reason: err.Error()}
	}
	return nil
}

// build assembles the workbook shared by Build and WriteFile.
func build(records []models.OutcomeRecord) (*excelize.File, error) {
	if len(records) == 0 {
		return nil, &GenerationError{Reason: "no outcome records"}
	}

	f := excelize.NewFile()
	index, err := f.NewSheet(SheetName)
	if err != nil {
		f.Close()
		return nil, &GenerationError{Reason: err.Error()}
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		f.Close()
		return nil, &GenerationError{Reason: err.Error()}
	}

	if err := writeRow(f, 1, headerCells()); err != nil {
		f.Close()
		return nil, err
	}
	for i, rec := range records {
		if err := writeRow(f, i+2, recordCells(rec)); err != nil {
			f.Close()
			return nil, err
		}
	}
	return f, nil
}

func headerCells() []any {
	cells := make([]any, len(Columns))
	for i, c := range Columns {
		cells[i] = c
	}
	return cells
}

func recordCells(rec models.OutcomeRecord) []any {
	return []any{
		rec.Email,
		rec.CompanyName,
		rec.MatchedFiles,
		strconv.FormatBool(rec.SentWithAttachments),
		rec.Status,
		rec.ErrorDetail,
	}
}

func writeRow(f *excelize.File, row int, cells []any) error {
	for col, v := range cells {
		name, err := excelize.CoordinatesToCellName(col+1, row)
		if err != nil {
			return &GenerationError{Reason: err.Error()}
		}
		if err := f.SetCellValue(SheetName, name, v); err != nil {
			return &GenerationError{Reason: err.Error()}
		}
	}
	return nil
}
