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

package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// guardTTL is how long an identical resubmission is refused. This guards
	// against double form submission, not against legitimately re-sending
	// the same data later.
	guardTTL = 2 * time.Minute

	// fingerprintPrefixBytes bounds how much of the spreadsheet feeds the
	// fingerprint.
	fingerprintPrefixBytes = 4096

	guardKeyPrefix = "mailmerge:run:"
)

// ErrDuplicateRun is returned when a sending run with an identical
// fingerprint was submitted moments ago.
var ErrDuplicateRun = errors.New("duplicate submission: an identical sending run was just executed")

// Guard refuses back-to-back resubmission of the same sending run using a
// Redis key with TTL.
type Guard struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewGuard creates a duplicate-submission guard backed by Redis.
func NewGuard(rdb *redis.Client) *Guard {
	return &Guard{rdb: rdb, ttl: guardTTL}
}

// Fingerprint hashes the run parameters that identify a submission: template
// name, rendered-subject template, dry-run flag, row count, and a prefix of
// the spreadsheet bytes.
func Fingerprint(templateName, subject string, dryRun bool, rowCount int, source []byte) string {
	prefix := source
	if len(prefix) > fingerprintPrefixBytes {
		prefix = prefix[:fingerprintPrefixBytes]
	}

	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%t\x00%d\x00", templateName, subject, dryRun, rowCount)
	h.Write(prefix)
	return hex.EncodeToString(h.Sum(nil))
}

// Acquire marks the fingerprint as in flight. Returns ErrDuplicateRun when
// the same fingerprint was acquired within the TTL.
func (g *Guard) Acquire(ctx context.Context, fingerprint string) error {
	set, err := g.rdb.SetNX(ctx, guardKeyPrefix+fingerprint, 1, g.ttl).Result()
	if err != nil {
		return fmt.Errorf("run guard SETNX: %w", err)
	}
	if !set {
		return ErrDuplicateRun
	}
	return nil
}
