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

package match

import (
	"strings"
	"testing"

	"github.com/bcem/mailmerge/internal/attachpool"
)

func fd(name string, size int64) attachpool.FileDescriptor {
	return attachpool.FileDescriptor{Name: name, Size: size}
}

// TestMatch_CaseInsensitive verifies case-folded substring matching.
func TestMatch_CaseInsensitive(t *testing.T) {
	pool := []attachpool.FileDescriptor{
		fd("ACME_invoice.pdf", 100),
		fd("globex_report.xlsx", 100),
		fd("acme-contract.docx", 100),
	}

	res := Match("Acme", pool, 20)

	names := res.Names()
	if len(names) != 2 || names[0] != "ACME_invoice.pdf" || names[1] != "acme-contract.docx" {
		t.Errorf("Names() = %v, want [ACME_invoice.pdf acme-contract.docx]", names)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("Warnings = %v, want none", res.Warnings)
	}
}

// TestMatch_TurkishCasefold verifies locale-safe folding for dotted/dotless I.
func TestMatch_TurkishCasefold(t *testing.T) {
	pool := []attachpool.FileDescriptor{
		fd("İSTANBUL_fatura.pdf", 100),
	}

	// Fold maps U+0130 to "i" + combining dot, matching the folded needle.
	res := Match("İstanbul", pool, 20)
	if len(res.Files) != 1 {
		t.Errorf("İstanbul needle matched %d files, want 1", len(res.Files))
	}
}

// TestMatch_EmptyCompanyMatchesNothing covers blank and whitespace needles.
func TestMatch_EmptyCompanyMatchesNothing(t *testing.T) {
	pool := []attachpool.FileDescriptor{fd("anything.pdf", 100)}

	for _, needle := range []string{"", "   ", "\t"} {
		if res := Match(needle, pool, 20); len(res.Files) != 0 {
			t.Errorf("Match(%q) matched %d files, want 0", needle, len(res.Files))
		}
	}
}

// TestMatch_SizeLimitExclusion verifies oversized entries are excluded with
// exactly one warning naming the file.
func TestMatch_SizeLimitExclusion(t *testing.T) {
	pool := []attachpool.FileDescriptor{
		fd("acme_big.zip", 21*1024*1024),
		fd("acme_small.pdf", 1024),
	}

	res := Match("acme", pool, 20)

	if len(res.Files) != 1 || res.Files[0].Name != "acme_small.pdf" {
		t.Errorf("Files = %v, want only acme_small.pdf", res.Names())
	}
	if len(res.Warnings) != 1 {
		t.Fatalf("Warnings = %v, want exactly one", res.Warnings)
	}
	if !strings.Contains(res.Warnings[0], "acme_big.zip") {
		t.Errorf("warning %q does not reference the filename", res.Warnings[0])
	}
}

// TestMatch_AllExtensionsIncluded verifies there is no file-type filter.
func TestMatch_AllExtensionsIncluded(t *testing.T) {
	pool := []attachpool.FileDescriptor{
		fd("acme.pdf", 1),
		fd("acme.exe", 1),
		fd("acme", 1),
	}

	res := Match("acme", pool, 20)
	if len(res.Files) != 3 {
		t.Errorf("matched %d files, want 3 (no extension filter)", len(res.Files))
	}
}

// TestMatch_WhitespaceTrimmed verifies surrounding whitespace is stripped
// before comparison.
func TestMatch_WhitespaceTrimmed(t *testing.T) {
	pool := []attachpool.FileDescriptor{fd("acme_invoice.pdf", 1)}

	if res := Match("  acme  ", pool, 20); len(res.Files) != 1 {
		t.Errorf("trimmed needle matched %d files, want 1", len(res.Files))
	}
}

// TestFilterSize verifies the whole-pool path keeps order and warns once
// per oversized entry.
func TestFilterSize(t *testing.T) {
	pool := []attachpool.FileDescriptor{
		fd("a.pdf", 1),
		fd("big.iso", 21*1024*1024),
		fd("b.pdf", 1),
	}

	res := FilterSize(pool, 20)
	if len(res.Files) != 2 || res.Files[0].Name != "a.pdf" || res.Files[1].Name != "b.pdf" {
		t.Errorf("Files = %v", res.Names())
	}
	if len(res.Warnings) != 1 || res.Warnings[0] != "skipped large file >20MB: big.iso" {
		t.Errorf("Warnings = %v", res.Warnings)
	}
}
