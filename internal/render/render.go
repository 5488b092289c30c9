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

// Package render substitutes {field} placeholders in subject/body templates
// using a recipient row's values. Lookup tries the exact key first, then a
// normalized (trimmed, lowercased) key; a placeholder that resolves to
// neither is left in the output verbatim. Rendering never fails: a malformed
// or incomplete row degrades gracefully instead of aborting the batch.
package render

import (
	"regexp"
	"strings"

	"github.com/bcem/mailmerge/internal/tabular"
)

var placeholderRe = regexp.MustCompile(`\{([^{}]+)\}`)

// Text renders a single template string against a row.
func Text(tpl string, row tabular.Row) string {
	if tpl == "" {
		return ""
	}
	return placeholderRe.ReplaceAllStringFunc(tpl, func(token string) string {
		key := token[1 : len(token)-1]
		if v, ok := lookup(row, key); ok {
			return v
		}
		return token
	})
}

// SubjectBody renders both template strings against the same row context.
// Calls are deterministic: no state is shared or mutated between them.
func SubjectBody(subjectTpl, bodyTpl string, row tabular.Row) (subject, body string) {
	return Text(subjectTpl, row), Text(bodyTpl, row)
}

// HTMLBody renders the body template and converts newlines to <br> tags.
// Line endings are normalized to a single form first so CRLF input does not
// produce doubled breaks. Applied uniformly to every row, never per row.
func HTMLBody(bodyTpl string, row tabular.Row) string {
	body := Text(bodyTpl, row)
	body = strings.ReplaceAll(body, "\r\n", "\n")
	body = strings.ReplaceAll(body, "\r", "\n")
	return strings.ReplaceAll(body, "\n", "<br>")
}

// lookup resolves a placeholder key against the row: exact key first, then
// the normalized form. Missing values render as empty string, never as a
// literal null token.
func lookup(row tabular.Row, key string) (string, bool) {
	if v, ok := row.Values[key]; ok {
		return v, true
	}
	if v, ok := row.Values[tabular.NormalizeColumn(key)]; ok {
		return v, true
	}
	return "", false
}
