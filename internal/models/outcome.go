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

// Package models defines the data structures shared across the mail-merge service.
package models

// Send statuses recorded per recipient.
const (
	StatusOK    = "OK"
	StatusError = "ERROR"
)

// OutcomeRecord captures the result of processing a single recipient row.
// Exactly one record is produced per input row, in input order.
type OutcomeRecord struct {
	Email               string `json:"email"`
	CompanyName         string `json:"company_name"`
	MatchedFiles        string `json:"matched_files"`
	SentWithAttachments bool   `json:"sent_with_attachments"`
	Status              string `json:"status"`
	ErrorDetail         string `json:"error_detail"`
}

// RunSummary aggregates a finished pipeline run for retention and download.
type RunSummary struct {
	RunID              string          `json:"run_id"`
	User               string          `json:"user"`
	Template           string          `json:"template"`
	DryRun             bool            `json:"dry_run"`
	TotalRows          int             `json:"total_rows"`
	WithAttachments    int             `json:"with_attachments"`
	WithoutAttachments int             `json:"without_attachments"`
	Logs               []string        `json:"logs"`
	Records            []OutcomeRecord `json:"records"`
	FinishedAt         string          `json:"finished_at,omitempty"`
}
