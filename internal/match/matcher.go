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

// Package match selects attachment-pool entries for a recipient by
// case-insensitive substring search on the filename. Comparison uses Unicode
// case folding rather than simple lowercasing so non-ASCII letters (Turkish
// dotted/dotless I and friends) compare correctly.
package match

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"

	"github.com/bcem/mailmerge/internal/attachpool"
)

// DefaultMaxFileSizeMB is the per-file attachment size cap.
const DefaultMaxFileSizeMB = 20

var folder = cases.Fold()

// Result is the per-row output of the matcher. Matched entries are a subset
// of the pool in pool iteration order; oversized entries never appear in
// Files but always produce a warning.
type Result struct {
	Files    []attachpool.FileDescriptor
	Warnings []string
}

// Names returns the matched filenames in order.
func (r Result) Names() []string {
	var names []string
	for _, f := range r.Files {
		names = append(names, f.Name)
	}
	return names
}

// Match returns every pool entry whose normalized filename contains the
// normalized company name. An empty or blank company name matches nothing.
// All matches are attached regardless of extension.
func Match(companyName string, pool []attachpool.FileDescriptor, maxFileSizeMB int) Result {
	var res Result

	needle := Normalize(companyName)
	if needle == "" {
		return res
	}
	if maxFileSizeMB <= 0 {
		maxFileSizeMB = DefaultMaxFileSizeMB
	}
	maxBytes := int64(maxFileSizeMB) * 1024 * 1024

	for _, f := range pool {
		if !strings.Contains(Normalize(f.Name), needle) {
			continue
		}
		if f.Size > maxBytes {
			res.Warnings = append(res.Warnings, oversizeWarning(maxFileSizeMB, f.Name))
			continue
		}
		res.Files = append(res.Files, f)
	}
	return res
}

// FilterSize returns the whole pool minus oversized entries, with a warning
// per exclusion. Used when no company column exists and every row gets the
// full pool.
func FilterSize(pool []attachpool.FileDescriptor, maxFileSizeMB int) Result {
	if maxFileSizeMB <= 0 {
		maxFileSizeMB = DefaultMaxFileSizeMB
	}
	maxBytes := int64(maxFileSizeMB) * 1024 * 1024

	var res Result
	for _, f := range pool {
		if f.Size > maxBytes {
			res.Warnings = append(res.Warnings, oversizeWarning(maxFileSizeMB, f.Name))
			continue
		}
		res.Files = append(res.Files, f)
	}
	return res
}

func oversizeWarning(maxFileSizeMB int, name string) string {
	return fmt.Sprintf("skipped large file >%dMB: %s", maxFileSizeMB, name)
}

// Normalize trims surrounding whitespace and applies Unicode case folding.
func Normalize(s string) string {
	return folder.String(strings.TrimSpace(s))
}
