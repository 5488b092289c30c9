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

// Package pipeline orchestrates a mail-merge run: parse the recipient sheet,
// render the template per row, select attachments, and either log what would
// be sent (dry run) or invoke the mail sender once per row. Rows are
// processed sequentially in input order, and every row yields exactly one
// outcome record. One row's failure never stops the rest; only input
// validation and invalid credentials abort a run outright.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bcem/mailmerge/internal/attachpool"
	"github.com/bcem/mailmerge/internal/graph"
	"github.com/bcem/mailmerge/internal/match"
	"github.com/bcem/mailmerge/internal/models"
	"github.com/bcem/mailmerge/internal/render"
	"github.com/bcem/mailmerge/internal/tabular"
	"github.com/bcem/mailmerge/internal/template"
)

// PreviewRows is how many leading rows the preview renders.
const PreviewRows = 5

// Sender is the per-row mail-send capability.
type Sender interface {
	Ready(ctx context.Context) error
	Send(ctx context.Context, msg graph.Message) error
}

// Request carries everything one run needs. The pool may be nil when no
// attachments were uploaded.
type Request struct {
	User          string
	Source        []byte
	Template      template.Definition
	Pool          *attachpool.Pool
	DryRun        bool
	MaxFileSizeMB int
}

// PreviewRow is one rendered sample row for display before sending.
type PreviewRow struct {
	Email       string   `json:"email"`
	CompanyName string   `json:"company_name"`
	Subject     string   `json:"subject"`
	Body        string   `json:"body"`
	Attachments []string `json:"attachments"`
}

// Result is a completed run: the preview plus the summary handed to the
// report builder and run store.
type Result struct {
	Preview []PreviewRow       `json:"preview"`
	Summary *models.RunSummary `json:"summary"`
}

// Pipeline executes mail-merge runs. A nil guard disables the
// duplicate-submission check.
type Pipeline struct {
	sender Sender
	guard  *Guard
}

// New creates a pipeline around a sender and an optional duplicate guard.
func New(sender Sender, guard *Guard) *Pipeline {
	return &Pipeline{sender: sender, guard: guard}
}

// Run executes one merge-match-send run to completion. Fatal errors
// (*tabular.InputValidationError, ErrDuplicateRun, graph.ErrAuthRequired)
// are returned before any row is processed; after that the run always
// finishes and per-row failures land in the outcome records.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	if req.Template.Name == "" {
		return nil, &tabular.InputValidationError{Reason: "no template selected"}
	}

	table, err := tabular.Parse(req.Source)
	if err != nil {
		return nil, err
	}

	var pool []attachpool.FileDescriptor
	if req.Pool != nil {
		pool = req.Pool.Files
	}

	if !req.DryRun {
		if p.guard != nil {
			fp := Fingerprint(req.Template.Name, req.Template.Subject, req.DryRun, len(table.Rows), req.Source)
			if err := p.guard.Acquire(ctx, fp); err != nil {
				return nil, err
			}
		}
		// Credentials are probed before the first row so an expired sign-in
		// aborts with zero sends.
		if err := p.sender.Ready(ctx); err != nil {
			return nil, fmt.Errorf("mail sender not ready: %w", err)
		}
	}

	runID := uuid.NewString()
	summary := &models.RunSummary{
		RunID:     runID,
		User:      req.User,
		Template:  req.Template.Name,
		DryRun:    req.DryRun,
		TotalRows: len(table.Rows),
	}

	slog.Info("pipeline run started",
		"run_id", runID,
		"user", req.User,
		"template", req.Template.Name,
		"dry_run", req.DryRun,
		"rows", len(table.Rows),
		"pool_files", len(pool))

	result := &Result{Summary: summary}
	if req.Pool != nil {
		summary.Logs = append(summary.Logs, req.Pool.Warnings...)
	}

	aborted := false
	for i, row := range table.Rows {
		email := strings.TrimSpace(row.Get(table.EmailColumn))
		company := ""
		if table.HasCompany {
			company = strings.TrimSpace(row.Get(tabular.CompanyColumn))
		}

		files, warnings := p.selectAttachments(table, row, pool, req.MaxFileSizeMB)
		summary.Logs = append(summary.Logs, warnings...)
		names := fileNames(files)

		if i < PreviewRows {
			// Rendered exactly as sendRow renders, so the preview shows
			// what would be delivered.
			result.Preview = append(result.Preview, PreviewRow{
				Email:       email,
				CompanyName: company,
				Subject:     render.Text(req.Template.Subject, row),
				Body:        render.HTMLBody(req.Template.Body, row),
				Attachments: names,
			})
		}

		rec := models.OutcomeRecord{
			Email:        email,
			CompanyName:  company,
			MatchedFiles: strings.Join(names, "; "),
			Status:       models.StatusOK,
		}

		switch {
		case aborted:
			rec.Status = models.StatusError
			rec.ErrorDetail = "not attempted: authentication required"

		case email == "":
			rec.Status = models.StatusError
			rec.ErrorDetail = "missing email address"

		case req.DryRun:
			rec.SentWithAttachments = len(files) > 0
			summary.Logs = append(summary.Logs, dryLogLine(email, names))

		default:
			if err := p.sendRow(ctx, req, table, row, email, files); err != nil {
				rec.Status = models.StatusError
				rec.ErrorDetail = err.Error()
				summary.Logs = append(summary.Logs, fmt.Sprintf("[ERROR] %s: %v", email, err))
				// Once credentials are known invalid, remaining rows are
				// not attempted.
				if errors.Is(err, graph.ErrAuthRequired) {
					aborted = true
				}
			} else {
				rec.SentWithAttachments = len(files) > 0
				summary.Logs = append(summary.Logs, sentLogLine(email, names))
			}
		}

		if rec.SentWithAttachments {
			summary.WithAttachments++
		} else {
			summary.WithoutAttachments++
		}
		summary.Records = append(summary.Records, rec)
	}

	if req.DryRun {
		summary.Logs = append(summary.Logs, fmt.Sprintf(
			"[SUMMARY] %d emails will have attachments, %d will have no attachments",
			summary.WithAttachments, summary.WithoutAttachments))
	}

	summary.FinishedAt = time.Now().UTC().Format(time.RFC3339)
	slog.Info("pipeline run finished",
		"run_id", runID,
		"rows", summary.TotalRows,
		"with_attachments", summary.WithAttachments,
		"without_attachments", summary.WithoutAttachments)
	return result, nil
}

// selectAttachments applies the attachment rule: with a company column, the
// size-filtered matches for that row's company value; without one, the
// entire (size-filtered) pool.
func (p *Pipeline) selectAttachments(t *tabular.Table, row tabular.Row, pool []attachpool.FileDescriptor, maxMB int) ([]attachpool.FileDescriptor, []string) {
	if len(pool) == 0 {
		return nil, nil
	}
	var res match.Result
	if t.HasCompany {
		res = match.Match(row.Get(tabular.CompanyColumn), pool, maxMB)
	} else {
		res = match.FilterSize(pool, maxMB)
	}
	return res.Files, res.Warnings
}

// sendRow renders and delivers one message. A render never fails; attachment
// read errors and sender errors are per-row failures.
func (p *Pipeline) sendRow(ctx context.Context, req Request, t *tabular.Table, row tabular.Row, email string, files []attachpool.FileDescriptor) error {
	subject := render.Text(req.Template.Subject, row)
	body := render.HTMLBody(req.Template.Body, row)

	msg := graph.Message{
		To:       email,
		Subject:  subject,
		HTMLBody: body,
	}
	if t.HasCC {
		msg.CC = tabular.CCAddresses(row.Get(tabular.CCColumn))
	}
	for _, fd := range files {
		att, err := graph.FileAttachment(fd)
		if err != nil {
			return err
		}
		msg.Attachments = append(msg.Attachments, att)
	}

	return p.sender.Send(ctx, msg)
}

func dryLogLine(email string, names []string) string {
	if len(names) == 0 {
		return fmt.Sprintf("[DRY] %s (no attachment)", email)
	}
	return fmt.Sprintf("[DRY] %s (attachments: %s)", email, strings.Join(names, "; "))
}

func sentLogLine(email string, names []string) string {
	if len(names) == 0 {
		return fmt.Sprintf("[SENT] %s (no attachment)", email)
	}
	return fmt.Sprintf("[SENT] %s (attachments: %s)", email, strings.Join(names, "; "))
}

func fileNames(files []attachpool.FileDescriptor) []string {
	var names []string
	for _, f := range files {
		names = append(names, f.Name)
	}
	return names
}
