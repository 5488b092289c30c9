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
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Janitor removes stale pool directories left behind by interrupted requests
// (a crash between build and cleanup, or a request timing out mid-run).
// Normal runs delete their own pool; this is a periodic safety net.
type Janitor struct {
	baseDir  string
	maxAge   time.Duration
	interval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewJanitor creates a janitor sweeping baseDir at the given interval,
// removing pool directories older than maxAge.
func NewJanitor(baseDir string, maxAge, interval time.Duration) *Janitor {
	return &Janitor{
		baseDir:  baseDir,
		maxAge:   maxAge,
		interval: interval,
	}
}

// Start runs the sweep loop until the context is cancelled or Stop is called.
func (j *Janitor) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	j.cancel = cancel
	j.wg.Add(1)

	go func() {
		defer j.wg.Done()

		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				if removed := j.Sweep(); removed > 0 {
					slog.Info("swept stale attachment pools", "removed", removed)
				}
			}
		}
	}()

	slog.Info("attachment pool janitor started",
		"base_dir", j.baseDir,
		"max_age", j.maxAge,
		"interval", j.interval,
	)
}

// Stop shuts down the sweep loop.
func (j *Janitor) Stop() {
	if j.cancel != nil {
		j.cancel()
	}
	j.wg.Wait()
}

// Sweep removes stale pool directories and returns how many were deleted.
func (j *Janitor) Sweep() int {
	entries, err := os.ReadDir(j.baseDir)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("janitor sweep failed", "base_dir", j.baseDir, "error", err)
		}
		return 0
	}

	cutoff := time.Now().Add(-j.maxAge)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), "attachments_") {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(j.baseDir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			slog.Warn("failed to remove stale pool", "dir", path, "error", err)
			continue
		}
		removed++
	}
	return removed
}
