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

package attachpool

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"

	"github.com/nwaples/rardecode"
)

// zipExtractor expands ZIP archives using the standard library.
type zipExtractor struct{}

func (zipExtractor) Extract(archivePath, destDir string) ([]string, error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	var out []string
	for _, member := range zr.File {
		if member.FileInfo().IsDir() {
			continue
		}
		name := SafeBaseName(member.Name)
		if name == "" {
			continue
		}
		src, err := member.Open()
		if err != nil {
			return nil, err
		}
		dst := filepath.Join(destDir, name)
		if err := writeEntry(dst, src); err != nil {
			src.Close()
			return nil, err
		}
		src.Close()
		out = append(out, dst)
	}
	return out, nil
}

// RarExtractor expands RAR archives via rardecode. It is registered only
// when the deployment opts in, so the builder degrades to a clear
// UnsupportedFormatError rather than failing at startup.
type RarExtractor struct{}

func (RarExtractor) Extract(archivePath, destDir string) ([]string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rr, err := rardecode.NewReader(f, "")
	if err != nil {
		return nil, err
	}

	var out []string
	for {
		hdr, err := rr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if hdr.IsDir {
			continue
		}
		name := SafeBaseName(hdr.Name)
		if name == "" {
			continue
		}
		dst := filepath.Join(destDir, name)
		if err := writeEntry(dst, rr); err != nil {
			return nil, err
		}
		out = append(out, dst)
	}
	return out, nil
}

func writeEntry(dst string, src io.Reader) error {
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
