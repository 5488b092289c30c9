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

// Package attachpool builds the candidate attachment pool for a pipeline run.
// A single uploaded archive is expanded flat into a request-scoped temporary
// directory; loose files are streamed in verbatim. Entry names are reduced to
// their final path component so crafted archive entries cannot escape the
// pool directory.
package attachpool

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

// DefaultContentType is the fallback when no type can be guessed from the
// file extension.
const DefaultContentType = "application/octet-stream"

// archiveExts lists extensions treated as archives when a single blob is
// uploaded. Whether each one is actually supported depends on the extractors
// registered with the builder.
var archiveExts = map[string]bool{
	".zip": true,
	".rar": true,
}

// UnsupportedFormatError reports an archive upload whose format has no
// registered extractor in this runtime.
type UnsupportedFormatError struct {
	Ext string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported archive format %q — no extractor available", e.Ext)
}

// ArchiveCorruptError reports an archive that could not be read. It aborts
// the whole attachment step: the archive is a single atomic source.
type ArchiveCorruptError struct {
	Name string
	Err  error
}

func (e *ArchiveCorruptError) Error() string {
	return fmt.Sprintf("corrupt archive %s: %v", e.Name, e.Err)
}

func (e *ArchiveCorruptError) Unwrap() error { return e.Err }

// FileDescriptor is one candidate attachment in the pool.
type FileDescriptor struct {
	// Name is the base filename with no path components.
	Name string
	// Path is the on-disk location inside the pool directory.
	Path string
	// Size is the actual on-disk size in bytes.
	Size int64
	// ContentType is a best-effort guess from the filename extension.
	ContentType string
}

// Upload is one uploaded blob handed to the builder.
type Upload struct {
	Name    string
	Content io.Reader
}

// Pool is the expanded attachment set for a single run. The directory is
// exclusively owned by the run that created it and must be cleaned up on
// every exit path.
type Pool struct {
	Files    []FileDescriptor
	Dir      string
	Warnings []string
}

// Cleanup removes the pool directory. It is idempotent and tolerates a
// directory that is already gone.
func (p *Pool) Cleanup() error {
	if p == nil || p.Dir == "" {
		return nil
	}
	if err := os.RemoveAll(p.Dir); err != nil {
		return fmt.Errorf("remove pool dir %s: %w", p.Dir, err)
	}
	return nil
}

// Extractor expands one archive format into a flat directory, returning the
// extracted file paths.
type Extractor interface {
	Extract(archivePath, destDir string) ([]string, error)
}

// Builder creates request-scoped attachment pools under a base directory.
type Builder struct {
	baseDir    string
	extractors map[string]Extractor
}

// NewBuilder creates a pool builder. ZIP extraction is always available;
// further formats are opt-in via RegisterExtractor.
func NewBuilder(baseDir string) *Builder {
	return &Builder{
		baseDir: baseDir,
		extractors: map[string]Extractor{
			".zip": zipExtractor{},
		},
	}
}

// RegisterExtractor enables an additional archive format (e.g. ".rar").
func (b *Builder) RegisterExtractor(ext string, ex Extractor) {
	b.extractors[strings.ToLower(ext)] = ex
}

// Supports reports whether an extractor is registered for the extension.
func (b *Builder) Supports(ext string) bool {
	_, ok := b.extractors[strings.ToLower(ext)]
	return ok
}

// Build expands the uploads into a fresh pool directory.
//
// A single upload with an archive extension is extracted flat; anything else
// is copied verbatim, streamed in chunks. A corrupt archive aborts the whole
// build (partial extraction removed); a failing loose file is skipped with a
// warning and the rest of the batch continues.
func (b *Builder) Build(ctx context.Context, uploads []Upload) (*Pool, error) {
	if err := os.MkdirAll(b.baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create base temp dir: %w", err)
	}
	dir, err := os.MkdirTemp(b.baseDir, "attachments_")
	if err != nil {
		return nil, fmt.Errorf("create pool dir: %w", err)
	}
	pool := &Pool{Dir: dir}

	if len(uploads) == 1 {
		if ext := strings.ToLower(filepath.Ext(uploads[0].Name)); archiveExts[ext] {
			if err := b.extractArchive(ctx, pool, uploads[0], ext); err != nil {
				pool.Cleanup()
				return nil, err
			}
			slog.Info("attachment pool built from archive",
				"archive", uploads[0].Name,
				"files", len(pool.Files),
			)
			return pool, nil
		}
	}

	for _, up := range uploads {
		if err := ctx.Err(); err != nil {
			pool.Cleanup()
			return nil, err
		}
		name := SafeBaseName(up.Name)
		if name == "" {
			pool.Warnings = append(pool.Warnings, fmt.Sprintf("file skipped: unusable name %q", up.Name))
			continue
		}
		dst := filepath.Join(dir, name)
		if err := copyStream(dst, up.Content); err != nil {
			slog.Warn("loose file copy failed, skipping",
				"file", name,
				"error", err,
			)
			pool.Warnings = append(pool.Warnings, fmt.Sprintf("file skipped: %s: %v", name, err))
			continue
		}
		pool.add(dst)
	}

	slog.Info("attachment pool built", "files", len(pool.Files), "warnings", len(pool.Warnings))
	return pool, nil
}

// extractArchive stages the archive on disk, runs the registered extractor,
// and records descriptors for every extracted entry.
func (b *Builder) extractArchive(ctx context.Context, pool *Pool, up Upload, ext string) error {
	ex, ok := b.extractors[ext]
	if !ok {
		return &UnsupportedFormatError{Ext: ext}
	}

	// Staged next to the pool dir, not inside it, so an entry that happens
	// to share the staging name cannot collide with the open archive.
	archivePath := pool.Dir + ".upload" + ext
	if err := copyStream(archivePath, up.Content); err != nil {
		return fmt.Errorf("stage archive %s: %w", up.Name, err)
	}
	defer os.Remove(archivePath)

	if err := ctx.Err(); err != nil {
		return err
	}

	paths, err := ex.Extract(archivePath, pool.Dir)
	if err != nil {
		return &ArchiveCorruptError{Name: up.Name, Err: err}
	}
	for _, p := range paths {
		pool.add(p)
	}
	return nil
}

// add records a descriptor for an on-disk file, using its actual size.
func (p *Pool) add(path string) {
	info, err := os.Stat(path)
	if err != nil {
		p.Warnings = append(p.Warnings, fmt.Sprintf("file skipped: %s: %v", filepath.Base(path), err))
		return
	}
	p.Files = append(p.Files, FileDescriptor{
		Name:        filepath.Base(path),
		Path:        path,
		Size:        info.Size(),
		ContentType: GuessContentType(path),
	})
}

// SafeBaseName reduces a declared filename to its final path component.
// Directory separators (both kinds) and parent-directory segments are
// stripped; directory-like names (trailing separator) and other unusable
// results collapse to "".
func SafeBaseName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	if strings.HasSuffix(name, "/") {
		return ""
	}
	base := filepath.Base(name)
	if base == "." || base == ".." || base == "/" || base == "" {
		return ""
	}
	return base
}

// GuessContentType guesses a MIME type from the filename extension.
func GuessContentType(name string) string {
	ctype := mime.TypeByExtension(filepath.Ext(name))
	if ctype == "" {
		return DefaultContentType
	}
	// TypeByExtension may append parameters (e.g. "; charset=utf-8").
	if i := strings.Index(ctype, ";"); i >= 0 {
		ctype = strings.TrimSpace(ctype[:i])
	}
	return ctype
}

// copyStream writes a reader to disk in fixed-size chunks.
func copyStream(dst string, src io.Reader) error {
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	buf := make([]byte, 32*1024)
	if _, err := io.CopyBuffer(f, src, buf); err != nil {
		f.Close()
		os.Remove(dst)
		return err
	}
	return f.Close()
}
